package session

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/storage"
)

// provider stands in for the Auth0 tenant.
type provider struct {
	*httptest.Server

	tokenCalls    atomic.Int32
	userInfoCalls atomic.Int32
	apiCalls      atomic.Int32

	mu         sync.Mutex
	bodies     []map[string]string
	onToken    func(w http.ResponseWriter, body map[string]string)
	onUserInfo func(w http.ResponseWriter, r *http.Request)
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{}
	p.onToken = func(w http.ResponseWriter, body map[string]string) {
		switch body["grant_type"] {
		case auth.GrantAuthorizationCode:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "AT1", "refresh_token": "RT1", "expires_in": 3600,
			})
		case auth.GrantRefreshToken:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "AT2", "expires_in": 3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	}
	p.onUserInfo = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"sub": "auth0|u1", "token": strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		p.mu.Lock()
		p.bodies = append(p.bodies, body)
		handler := p.onToken
		p.mu.Unlock()
		handler(w, body)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		p.userInfoCalls.Add(1)
		p.mu.Lock()
		handler := p.onUserInfo
		p.mu.Unlock()
		handler(w, r)
	})
	mux.HandleFunc("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		p.apiCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]string{"authorization": r.Header.Get("Authorization")})
	})

	p.Server = httptest.NewTLSServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *provider) setTokenHandler(fn func(w http.ResponseWriter, body map[string]string)) {
	p.mu.Lock()
	p.onToken = fn
	p.mu.Unlock()
}

func (p *provider) setUserInfoHandler(fn func(w http.ResponseWriter, r *http.Request)) {
	p.mu.Lock()
	p.onUserInfo = fn
	p.mu.Unlock()
}

func (p *provider) lastBody() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bodies) == 0 {
		return nil
	}
	return p.bodies[len(p.bodies)-1]
}

func (p *provider) networkCalls() int32 {
	return p.tokenCalls.Load() + p.userInfoCalls.Load()
}

func (p *provider) config() auth.Config {
	return auth.Config{
		ClientID:    "c1",
		Domain:      strings.TrimPrefix(p.URL, "https://"),
		Audience:    "api",
		RedirectURI: "app://cb",
		Scope:       "offline_access openid profile",
	}
}

// tenantClient resolves every host to the provider so tests can use a real
// tenant domain. The test certificate is issued for example.com.
func (p *provider) tenantClient() *http.Client {
	tr := p.Client().Transport.(*http.Transport).Clone()
	tr.TLSClientConfig.ServerName = "example.com"
	addr := p.Listener.Addr().String()
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	tr.DialContext = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}
	return &http.Client{Transport: tr}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeBrowser answers OpenAuth from a callback so each test can script the
// provider pages.
type fakeBrowser struct {
	mu        sync.Mutex
	available bool
	respond   func(ctx context.Context, url string) (auth.BrowserResult, error)
	opened    []string
	prefixes  []string
	prefetch  []string
	logoutErr error
	onLogout  func()
	openedCh  chan string
}

func newFakeBrowser(respond func(ctx context.Context, url string) (auth.BrowserResult, error)) *fakeBrowser {
	return &fakeBrowser{available: true, respond: respond, openedCh: make(chan string, 16)}
}

func successBrowser(redirect string) *fakeBrowser {
	return newFakeBrowser(func(context.Context, string) (auth.BrowserResult, error) {
		return auth.BrowserResult{Type: auth.ResultSuccess, URL: redirect}, nil
	})
}

func (b *fakeBrowser) IsAvailable(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

func (b *fakeBrowser) OpenAuth(ctx context.Context, u, prefix string, _ auth.BrowserOptions) (auth.BrowserResult, error) {
	b.mu.Lock()
	b.opened = append(b.opened, u)
	b.prefixes = append(b.prefixes, prefix)
	respond := b.respond
	logoutErr := b.logoutErr
	onLogout := b.onLogout
	b.mu.Unlock()

	select {
	case b.openedCh <- u:
	default:
	}

	if strings.Contains(u, "/v2/logout") {
		if onLogout != nil {
			onLogout()
		}
		if logoutErr != nil {
			return auth.BrowserResult{}, logoutErr
		}
		return auth.BrowserResult{Type: auth.ResultSuccess, URL: prefix}, nil
	}
	return respond(ctx, u)
}

func (b *fakeBrowser) MayLaunchURL(u string, _ []string) {
	b.mu.Lock()
	b.prefetch = append(b.prefetch, u)
	b.mu.Unlock()
}

func (b *fakeBrowser) Close()     {}
func (b *fakeBrowser) CloseAuth() {}

func (b *fakeBrowser) openedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

// authorizeQuery returns the query of the first /authorize URL opened.
func (b *fakeBrowser) authorizeQuery(t *testing.T) url.Values {
	t.Helper()
	for _, raw := range b.openedURLs() {
		if strings.Contains(raw, "/authorize") {
			u, err := url.Parse(raw)
			require.NoError(t, err)
			return u.Query()
		}
	}
	t.Fatal("no authorize URL opened")
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fixture struct {
	session  *Session
	store    *storage.MemoryStore
	clock    *fakeClock
	provider *provider
}

func newFixture(t *testing.T, browser auth.Browser, opts ...Option) *fixture {
	t.Helper()
	p := newProvider(t)
	return newFixtureWith(t, p, storage.NewMemoryStore(), browser, opts...)
}

func newFixtureWith(t *testing.T, p *provider, store *storage.MemoryStore, browser auth.Browser, opts ...Option) *fixture {
	t.Helper()
	clock := newFakeClock()
	base := []Option{
		WithHTTPClient(p.Client()),
		WithLogger(quietLogger()),
		WithClock(clock.Now),
		WithHTTPTimeout(5 * time.Second),
	}
	if browser != nil {
		base = append(base, WithBrowser(browser))
	}
	s, err := New(p.config(), store, store, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &fixture{session: s, store: store, clock: clock, provider: p}
}

// seed persists a session as if an earlier sign-in had succeeded.
func seed(t *testing.T, store *storage.MemoryStore, access string, expiry time.Time) {
	t.Helper()
	ts := auth.NewTokenStore(store, store)
	require.NoError(t, ts.Save(context.Background(), &auth.TokenSet{
		AccessToken:  access,
		RefreshToken: "RT1",
		Expiry:       expiry,
	}, ts.Generation()))
}

func assertEmptyStore(t *testing.T, store *storage.MemoryStore) {
	t.Helper()
	secrets, settings := store.Len()
	assert.Zero(t, secrets, "secrets left behind")
	assert.Zero(t, settings, "settings left behind")
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no value published")
		return ""
	}
}
