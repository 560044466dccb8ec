package session

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"auth0session-go/internal/auth"
)

type options struct {
	httpClient     *http.Client
	httpTimeout    time.Duration
	browser        auth.Browser
	redirects      auth.RedirectSource
	opener         auth.URLOpener
	log            logrus.FieldLogger
	now            func() time.Time
	verifierLength int
	browserOpts    auth.BrowserOptions
	deepLinkGrace  time.Duration
	streamBuffer   int
}

func defaultOptions() options {
	return options{
		httpClient:     http.DefaultClient,
		httpTimeout:    auth.DefaultExchangeTimeout,
		log:            logrus.StandardLogger(),
		now:            time.Now,
		verifierLength: auth.DefaultVerifierLength,
		deepLinkGrace:  auth.DefaultDeepLinkGrace,
		streamBuffer:   1,
	}
}

// Option configures a Session.
type Option func(*options)

// WithHTTPClient sets the client used for token and user-info requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithHTTPTimeout bounds each provider request. Zero disables the bound.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o *options) { o.httpTimeout = d }
}

// WithBrowser sets the interactive browser. Without one, SignIn and SignUp
// fail with auth.ErrBrowserUnavailable.
func WithBrowser(b auth.Browser) Option {
	return func(o *options) { o.browser = b }
}

// WithRedirectSource enables deep-link redirect delivery.
func WithRedirectSource(src auth.RedirectSource) Option {
	return func(o *options) { o.redirects = src }
}

// WithURLOpener sets the non-interactive opener used for remote logout when
// the browser is unavailable.
func WithURLOpener(fn auth.URLOpener) Option {
	return func(o *options) { o.opener = fn }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithVerifierLength(n int) Option {
	return func(o *options) { o.verifierLength = n }
}

func WithBrowserOptions(opts auth.BrowserOptions) Option {
	return func(o *options) { o.browserOpts = opts }
}

// WithDeepLinkGrace sets how long to wait for a deep link after the browser
// reports a cancel.
func WithDeepLinkGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.deepLinkGrace = d
		}
	}
}

// WithStreamBuffer sets each subscriber's channel capacity.
func WithStreamBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.streamBuffer = n
		}
	}
}
