package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"auth0session-go/internal/auth"
)

const DefaultCallbackTimeout = 5 * time.Minute

// System drives the user's default browser. Loopback redirect URIs are
// served by a short-lived local HTTP listener; any other redirect URI is
// left to the deep-link path and the session reports a dismiss.
type System struct {
	open       func(string) error
	available  func() bool
	dispatcher *Dispatcher
	timeout    time.Duration
	log        logrus.FieldLogger

	mu     sync.Mutex
	active *callbackServer
}

var _ auth.Browser = (*System)(nil)

type SystemOption func(*System)

// WithOpener replaces the function used to open URLs.
func WithOpener(fn func(string) error) SystemOption {
	return func(s *System) {
		if fn != nil {
			s.open = fn
		}
	}
}

// WithAvailability replaces the availability check.
func WithAvailability(fn func() bool) SystemOption {
	return func(s *System) {
		if fn != nil {
			s.available = fn
		}
	}
}

// WithDispatcher publishes received redirects on d instead of returning
// them from OpenAuth.
func WithDispatcher(d *Dispatcher) SystemOption {
	return func(s *System) { s.dispatcher = d }
}

func WithCallbackTimeout(d time.Duration) SystemOption {
	return func(s *System) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) SystemOption {
	return func(s *System) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSystem returns a browser backed by the operating system.
func NewSystem(opts ...SystemOption) *System {
	s := &System{
		open:      OpenURL,
		available: IsAvailable,
		timeout:   DefaultCallbackTimeout,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *System) IsAvailable(context.Context) bool {
	return s.available()
}

// OpenAuth opens authURL and waits for the browser to reach
// returnURLPrefix.
func (s *System) OpenAuth(ctx context.Context, authURL, returnURLPrefix string, opts auth.BrowserOptions) (auth.BrowserResult, error) {
	redirect, err := url.Parse(returnURLPrefix)
	if err != nil {
		return auth.BrowserResult{}, fmt.Errorf("invalid return URL: %w", err)
	}
	if opts.EphemeralSession {
		s.log.Debug("ephemeral sessions are not supported by the system browser")
	}

	if !isLoopbackRedirect(redirect) {
		if err := s.open(authURL); err != nil {
			return auth.BrowserResult{}, &auth.Error{Kind: auth.KindBrowserUnavailable, Op: "open_auth", Err: err}
		}
		return auth.BrowserResult{Type: auth.ResultDismiss}, nil
	}

	srv, err := startCallbackServer(redirect)
	if err != nil {
		return auth.BrowserResult{}, &auth.Error{Kind: auth.KindBrowserUnavailable, Op: "open_auth", Err: err}
	}
	defer srv.stop()

	s.mu.Lock()
	if s.active != nil {
		s.active.cancel()
	}
	s.active = srv
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.active == srv {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	if err := s.open(authURL); err != nil {
		return auth.BrowserResult{}, &auth.Error{Kind: auth.KindBrowserUnavailable, Op: "open_auth", Err: err}
	}

	timeout := s.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case u := <-srv.results:
		if s.dispatcher != nil {
			n := s.dispatcher.Dispatch(u)
			s.log.WithField("listeners", n).Debug("redirect dispatched")
			return auth.BrowserResult{Type: auth.ResultDismiss}, nil
		}
		return auth.BrowserResult{Type: auth.ResultSuccess, URL: u}, nil
	case <-srv.closed:
		return auth.BrowserResult{Type: auth.ResultCancel}, nil
	case <-timer.C:
		s.log.WithField("timeout", timeout).Warn("timed out waiting for browser redirect")
		return auth.BrowserResult{Type: auth.ResultDismiss}, nil
	case <-ctx.Done():
		return auth.BrowserResult{Type: auth.ResultCancel}, nil
	}
}

// MayLaunchURL is accepted as a hint; desktop browsers have no warm-up
// API.
func (s *System) MayLaunchURL(url string, extras []string) {
	s.log.WithField("extras", len(extras)).Debug("prefetch hint received")
}

func (s *System) Close() {
	s.CloseAuth()
}

// CloseAuth abandons the pending OpenAuth, if any.
func (s *System) CloseAuth() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.cancel()
	}
}
