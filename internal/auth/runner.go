package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ResultType is how an interactive browser session ended.
type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultCancel  ResultType = "cancel"
	ResultDismiss ResultType = "dismiss"
)

// BrowserResult is returned by Browser.OpenAuth. URL is set on success.
type BrowserResult struct {
	Type ResultType
	URL  string
}

// BrowserOptions tune an interactive session.
type BrowserOptions struct {
	// EphemeralSession asks the browser not to share cookies with the
	// user's regular profile.
	EphemeralSession bool
	// Timeout bounds how long the browser waits for the redirect. Zero
	// leaves it to the browser implementation.
	Timeout time.Duration
}

// Browser is the interactive surface that renders provider pages.
type Browser interface {
	IsAvailable(ctx context.Context) bool
	// OpenAuth shows authURL and blocks until a URL starting with
	// returnURLPrefix is reached or the user leaves.
	OpenAuth(ctx context.Context, authURL, returnURLPrefix string, opts BrowserOptions) (BrowserResult, error)
	// MayLaunchURL hints that url is likely to be opened soon.
	MayLaunchURL(url string, extras []string)
	Close()
	CloseAuth()
}

// RedirectSource delivers redirect URLs that reach the application out of
// band, e.g. through a registered URL scheme.
type RedirectSource interface {
	// Listen registers fn and returns a function that unregisters it.
	Listen(fn func(url string)) (unregister func())
}

// URLOpener opens a URL without waiting for a result.
type URLOpener func(url string) error

// DefaultDeepLinkGrace is how long Run keeps waiting for an out-of-band
// redirect after the browser reports a cancel or dismiss.
const DefaultDeepLinkGrace = 2 * time.Second

// Runner drives one interactive authorization and returns the code.
type Runner struct {
	browser     Browser
	redirects   RedirectSource
	redirectURI string
	opts        BrowserOptions
	grace       time.Duration
	log         logrus.FieldLogger
}

// NewRunner returns a runner that waits for redirects to redirectURI.
func NewRunner(browser Browser, redirectURI string, log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{
		browser:     browser,
		redirectURI: redirectURI,
		grace:       DefaultDeepLinkGrace,
		log:         log,
	}
}

// WithRedirectSource enables deep-link delivery. grace <= 0 keeps the
// default.
func (r *Runner) WithRedirectSource(src RedirectSource, grace time.Duration) *Runner {
	r.redirects = src
	if grace > 0 {
		r.grace = grace
	}
	return r
}

// WithBrowserOptions sets the options passed to OpenAuth.
func (r *Runner) WithBrowserOptions(opts BrowserOptions) *Runner {
	r.opts = opts
	return r
}

// DeepLink reports whether redirects may arrive out of band.
func (r *Runner) DeepLink() bool { return r.redirects != nil }

type openResult struct {
	res BrowserResult
	err error
}

// Run opens authURL and waits for the redirect, a cancellation, or ctx.
func (r *Runner) Run(ctx context.Context, authURL string) (string, error) {
	if r.browser == nil {
		return "", &Error{Kind: KindBrowserUnavailable, Op: "authorize"}
	}

	// The listener must be armed before the browser opens.
	var deepLink chan string
	if r.redirects != nil {
		deepLink = make(chan string, 1)
		unregister := r.redirects.Listen(func(u string) {
			if !strings.HasPrefix(u, r.redirectURI) {
				return
			}
			select {
			case deepLink <- u:
			default:
			}
		})
		defer unregister()
	}

	if !r.available(ctx) {
		return "", &Error{Kind: KindBrowserUnavailable, Op: "authorize"}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	direct := make(chan openResult, 1)
	go func() {
		res, err := r.browser.OpenAuth(ctx, authURL, r.redirectURI, r.opts)
		direct <- openResult{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		err := ctx.Err()
		r.browser.CloseAuth()
		r.drain(direct)
		return "", &Error{Kind: KindAuthorizationDenied, Op: "authorize", Err: err}

	case u := <-deepLink:
		r.log.Debug("authorization redirect received out of band")
		r.browser.CloseAuth()
		cancel()
		r.drain(direct)
		return ParseRedirect(u)

	case d := <-direct:
		if err := ctx.Err(); err != nil {
			return "", &Error{Kind: KindAuthorizationDenied, Op: "authorize", Err: err}
		}
		if d.err != nil {
			if errors.Is(d.err, ErrBrowserUnavailable) {
				return "", d.err
			}
			return "", &Error{Kind: KindAuthorizationDenied, Op: "authorize", Err: d.err}
		}
		if d.res.Type == ResultSuccess && d.res.URL != "" {
			return ParseRedirect(d.res.URL)
		}
		if deepLink != nil {
			return r.awaitDeepLink(ctx, deepLink, d.res.Type)
		}
		return "", canceled(d.res.Type)
	}
}

// drain waits for an abandoned OpenAuth call to return, so the browser has
// released its resources before the caller starts another session.
func (r *Runner) drain(direct <-chan openResult) {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case <-direct:
	case <-timer.C:
		r.log.Warn("browser session did not close in time")
	}
}

func (r *Runner) available(ctx context.Context) bool {
	if r.browser.IsAvailable(ctx) {
		return true
	}
	if r.redirects == nil {
		return false
	}
	// A stale session left from an earlier attempt can make the browser
	// report itself busy.
	r.browser.Close()
	r.browser.CloseAuth()
	return r.browser.IsAvailable(ctx)
}

func (r *Runner) awaitDeepLink(ctx context.Context, deepLink <-chan string, result ResultType) (string, error) {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case u := <-deepLink:
		return ParseRedirect(u)
	case <-timer.C:
		return "", canceled(result)
	case <-ctx.Done():
		return "", &Error{Kind: KindAuthorizationDenied, Op: "authorize", Err: ctx.Err()}
	}
}

func canceled(result ResultType) error {
	if result == "" {
		result = ResultCancel
	}
	return &Error{
		Kind: KindAuthorizationDenied,
		Op:   "authorize",
		Err:  fmt.Errorf("%w (%s)", ErrUserCanceled, result),
	}
}

// ParseRedirect extracts the authorization code from a redirect URL. A
// provider error in the redirect is returned as KindAuthorizationDenied.
func ParseRedirect(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &Error{Kind: KindAuthorizationDenied, Op: "parse_redirect", Err: err}
	}

	q := u.Query()
	if q.Get("code") == "" && q.Get("error") == "" && u.Fragment != "" {
		if fq, err := url.ParseQuery(u.Fragment); err == nil {
			q = fq
		}
	}

	if code := q.Get("code"); code != "" {
		return code, nil
	}
	if e := q.Get("error"); e != "" {
		return "", &Error{
			Kind:        KindAuthorizationDenied,
			Op:          "authorize",
			URL:         raw,
			Code:        e,
			Description: q.Get("error_description"),
		}
	}
	return "", &Error{Kind: KindAuthorizationDenied, Op: "parse_redirect", URL: raw,
		Err: errors.New("redirect carries no authorization code")}
}
