package session

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/storage"
)

func seededForLogout(t *testing.T, browser auth.Browser, opts ...Option) *fixture {
	t.Helper()
	p := newProvider(t)
	store := storage.NewMemoryStore()
	seed(t, store, "AT0", newFakeClock().Now().Add(time.Hour))
	require.NoError(t, store.SetString(context.Background(), auth.KeyUserInfo, `{"sub":"u1"}`))
	return newFixtureWith(t, p, store, browser, opts...)
}

func TestLogOut_ThroughBrowser(t *testing.T) {
	browser := successBrowser("app://cb?code=unused")
	f := seededForLogout(t, browser)

	stream, cancel := f.session.Subscribe()
	defer cancel()

	require.NoError(t, f.session.LogOut(context.Background()))
	assert.Equal(t, Unauthenticated, f.session.State())
	assert.Equal(t, "", receive(t, stream))
	assertEmptyStore(t, f.store)

	opened := browser.openedURLs()
	require.Len(t, opened, 1)
	u, err := url.Parse(opened[0])
	require.NoError(t, err)
	assert.Equal(t, "/v2/logout", u.Path)
	assert.Equal(t, "c1", u.Query().Get("client_id"))
	assert.Equal(t, "app://cb", u.Query().Get("returnTo"))
	assert.Equal(t, []string{"app://cb"}, browser.prefixes)
}

func TestLogOut_RemoteFailureStillClears(t *testing.T) {
	browser := successBrowser("app://cb?code=unused")
	browser.logoutErr = errBrowserCrashed
	f := seededForLogout(t, browser)

	err := f.session.LogOut(context.Background())
	assert.ErrorIs(t, err, ErrRemoteLogout)
	assert.ErrorIs(t, err, errBrowserCrashed)
	assert.Equal(t, Unauthenticated, f.session.State())
	assertEmptyStore(t, f.store)
}

func TestLogOut_FallbackOpener(t *testing.T) {
	browser := successBrowser("app://cb?code=unused")
	browser.available = false

	var mu sync.Mutex
	var openedURL string
	f := seededForLogout(t, browser, WithURLOpener(func(u string) error {
		mu.Lock()
		openedURL = u
		mu.Unlock()
		return nil
	}))

	require.NoError(t, f.session.LogOut(context.Background()))
	assertEmptyStore(t, f.store)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(openedURL, "https://"+f.session.Config().Domain+"/v2/logout?"))
	assert.Empty(t, browser.openedURLs())
}

func TestLogOut_OpenerFailure(t *testing.T) {
	boom := errors.New("no handler for https")
	f := seededForLogout(t, nil, WithURLOpener(func(string) error { return boom }))

	err := f.session.LogOut(context.Background())
	assert.ErrorIs(t, err, ErrRemoteLogout)
	assert.ErrorIs(t, err, boom)
	assertEmptyStore(t, f.store)
}

func TestLogOut_NoBrowserNoOpener(t *testing.T) {
	f := seededForLogout(t, nil)

	err := f.session.LogOut(context.Background())
	assert.ErrorIs(t, err, ErrRemoteLogout)
	assertEmptyStore(t, f.store)
	assert.Equal(t, Unauthenticated, f.session.State())

	token, ok, err := f.session.AccessToken(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestDisconnect(t *testing.T) {
	f := seededForLogout(t, successBrowser("app://cb?code=unused"))

	require.NoError(t, f.session.Disconnect(context.Background()))
	assertEmptyStore(t, f.store)
}

func TestLogOut_CancelsAttempt(t *testing.T) {
	browser := newFakeBrowser(func(ctx context.Context, _ string) (auth.BrowserResult, error) {
		<-ctx.Done()
		return auth.BrowserResult{Type: auth.ResultDismiss}, nil
	})
	f := newFixture(t, browser)

	done := make(chan error, 1)
	go func() { done <- f.session.SignIn(context.Background(), "") }()
	<-browser.openedCh

	require.NoError(t, f.session.LogOut(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, auth.ErrAuthorizationDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("sign-in was not torn down by logout")
	}
	assert.Equal(t, Unauthenticated, f.session.State())
	assertEmptyStore(t, f.store)
}

func TestLogOut_WaitsForAttemptToUnwind(t *testing.T) {
	var attemptReturned atomic.Bool
	browser := newFakeBrowser(func(ctx context.Context, _ string) (auth.BrowserResult, error) {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		attemptReturned.Store(true)
		return auth.BrowserResult{Type: auth.ResultDismiss}, nil
	})
	var sawAttemptRunning atomic.Bool
	browser.onLogout = func() {
		if !attemptReturned.Load() {
			sawAttemptRunning.Store(true)
		}
	}
	f := newFixture(t, browser)

	done := make(chan error, 1)
	go func() { done <- f.session.SignIn(context.Background(), "") }()
	<-browser.openedCh

	require.NoError(t, f.session.LogOut(context.Background()))
	assert.False(t, sawAttemptRunning.Load(), "logout page opened while the sign-in page was still up")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, auth.ErrAuthorizationDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("sign-in did not return")
	}
}

func TestLogOut_BrowserUnavailableFallsBackToOpener(t *testing.T) {
	tests := []struct {
		name      string
		logoutErr error
		opener    bool
		wantErr   error
	}{
		{
			name:      "unavailable with opener",
			logoutErr: &auth.Error{Kind: auth.KindBrowserUnavailable, Op: "open_auth"},
			opener:    true,
		},
		{
			name:      "unavailable without opener",
			logoutErr: &auth.Error{Kind: auth.KindBrowserUnavailable, Op: "open_auth"},
			wantErr:   auth.ErrBrowserUnavailable,
		},
		{
			name:      "other failure skips opener",
			logoutErr: errBrowserCrashed,
			opener:    true,
			wantErr:   errBrowserCrashed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			browser := successBrowser("app://cb?code=unused")
			browser.logoutErr = tt.logoutErr

			var opened atomic.Value
			var opts []Option
			if tt.opener {
				opts = append(opts, WithURLOpener(func(u string) error {
					opened.Store(u)
					return nil
				}))
			}
			f := seededForLogout(t, browser, opts...)

			err := f.session.LogOut(context.Background())
			assertEmptyStore(t, f.store)
			assert.Equal(t, Unauthenticated, f.session.State())

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, ErrRemoteLogout)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, opened.Load())
				return
			}
			require.NoError(t, err)
			u, _ := opened.Load().(string)
			assert.True(t, strings.HasPrefix(u, "https://"+f.session.Config().Domain+"/v2/logout?"), u)
		})
	}
}
