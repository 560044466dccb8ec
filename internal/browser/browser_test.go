package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth0session-go/internal/auth"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func freeRedirect(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "http://" + addr + "/callback"
}

// redirectingOpener simulates a browser that lands on target after the
// provider page.
func redirectingOpener(t *testing.T, target string) func(string) error {
	return func(string) error {
		go func() {
			resp, err := http.Get(target)
			if err != nil {
				t.Errorf("callback request failed: %v", err)
				return
			}
			_ = resp.Body.Close()
		}()
		return nil
	}
}

func TestIsLoopbackRedirect(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{"http://127.0.0.1:8765/callback", true},
		{"http://localhost:8765/cb", true},
		{"http://[::1]:8765/cb", true},
		{"http://localhost/cb", false},
		{"https://127.0.0.1:8765/cb", false},
		{"http://example.com:8765/cb", false},
		{"com.example.app://callback", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, isLoopbackRedirect(u))
		})
	}
}

func TestSystem_OpenAuthReturnsRedirect(t *testing.T) {
	redirect := freeRedirect(t)
	var opened string
	opener := redirectingOpener(t, redirect+"?code=abc&state=xyz")
	s := NewSystem(
		WithLogger(quietLogger()),
		WithOpener(func(u string) error { opened = u; return opener(u) }),
	)

	res, err := s.OpenAuth(context.Background(), "https://tenant.example.com/authorize?x=1", redirect, auth.BrowserOptions{})
	require.NoError(t, err)
	assert.Equal(t, auth.ResultSuccess, res.Type)
	assert.Equal(t, redirect+"?code=abc&state=xyz", res.URL)
	assert.Equal(t, "https://tenant.example.com/authorize?x=1", opened)

	code, err := auth.ParseRedirect(res.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc", code)
}

func TestSystem_OpenAuthTimeoutIsDismiss(t *testing.T) {
	redirect := freeRedirect(t)
	s := NewSystem(
		WithLogger(quietLogger()),
		WithOpener(func(string) error { return nil }),
	)

	res, err := s.OpenAuth(context.Background(), "https://tenant.example.com/authorize", redirect,
		auth.BrowserOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, auth.ResultDismiss, res.Type)
}

func TestSystem_OpenAuthContextCancel(t *testing.T) {
	redirect := freeRedirect(t)
	s := NewSystem(
		WithLogger(quietLogger()),
		WithOpener(func(string) error { return nil }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res, err := s.OpenAuth(ctx, "https://tenant.example.com/authorize", redirect, auth.BrowserOptions{})
	require.NoError(t, err)
	assert.Equal(t, auth.ResultCancel, res.Type)
}

func TestSystem_CloseAuthCancelsPending(t *testing.T) {
	redirect := freeRedirect(t)
	opened := make(chan struct{})
	s := NewSystem(
		WithLogger(quietLogger()),
		WithOpener(func(string) error { close(opened); return nil }),
	)

	go func() {
		<-opened
		s.CloseAuth()
	}()

	res, err := s.OpenAuth(context.Background(), "https://tenant.example.com/authorize", redirect, auth.BrowserOptions{})
	require.NoError(t, err)
	assert.Equal(t, auth.ResultCancel, res.Type)
}

func TestSystem_OpenerFailure(t *testing.T) {
	redirect := freeRedirect(t)
	s := NewSystem(
		WithLogger(quietLogger()),
		WithOpener(func(string) error { return errors.New("no display") }),
	)

	_, err := s.OpenAuth(context.Background(), "https://tenant.example.com/authorize", redirect, auth.BrowserOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrBrowserUnavailable)
}

func TestSystem_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	s := NewSystem(WithLogger(quietLogger()), WithOpener(func(string) error { return nil }))
	_, err = s.OpenAuth(context.Background(), "https://tenant.example.com/authorize",
		fmt.Sprintf("http://%s/callback", l.Addr()), auth.BrowserOptions{})
	assert.ErrorIs(t, err, auth.ErrBrowserUnavailable)
}

func TestSystem_NonLoopbackRedirectDismisses(t *testing.T) {
	var opened string
	s := NewSystem(
		WithLogger(quietLogger()),
		WithOpener(func(u string) error { opened = u; return nil }),
	)

	res, err := s.OpenAuth(context.Background(), "https://tenant.example.com/authorize", "com.example.app://callback", auth.BrowserOptions{})
	require.NoError(t, err)
	assert.Equal(t, auth.ResultDismiss, res.Type)
	assert.Equal(t, "https://tenant.example.com/authorize", opened)
}

func TestSystem_DispatcherReceivesRedirect(t *testing.T) {
	redirect := freeRedirect(t)
	d := NewDispatcher()
	got := make(chan string, 1)
	unregister := d.Listen(func(u string) { got <- u })
	defer unregister()

	s := NewSystem(
		WithLogger(quietLogger()),
		WithDispatcher(d),
		WithOpener(redirectingOpener(t, redirect+"?code=dl")),
	)

	res, err := s.OpenAuth(context.Background(), "https://tenant.example.com/authorize", redirect, auth.BrowserOptions{})
	require.NoError(t, err)
	assert.Equal(t, auth.ResultDismiss, res.Type)

	select {
	case u := <-got:
		assert.Equal(t, redirect+"?code=dl", u)
	case <-time.After(time.Second):
		t.Fatal("redirect was not dispatched")
	}
}

func TestSystem_WithRunner(t *testing.T) {
	redirect := freeRedirect(t)
	d := NewDispatcher()
	s := NewSystem(
		WithLogger(quietLogger()),
		WithAvailability(func() bool { return true }),
		WithDispatcher(d),
		WithOpener(redirectingOpener(t, redirect+"?code=via-runner")),
	)

	r := auth.NewRunner(s, redirect, quietLogger()).WithRedirectSource(d, time.Second)
	code, err := r.Run(context.Background(), "https://tenant.example.com/authorize")
	require.NoError(t, err)
	assert.Equal(t, "via-runner", code)
}

func TestSystem_Availability(t *testing.T) {
	s := NewSystem(WithAvailability(func() bool { return false }))
	assert.False(t, s.IsAvailable(context.Background()))

	s = NewSystem(WithAvailability(func() bool { return true }))
	assert.True(t, s.IsAvailable(context.Background()))
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher()

	var a, b []string
	stopA := d.Listen(func(u string) { a = append(a, u) })
	stopB := d.Listen(func(u string) { b = append(b, u) })

	assert.Equal(t, 2, d.Dispatch("app://cb?code=1"))
	stopA()
	assert.Equal(t, 1, d.Dispatch("app://cb?code=2"))
	stopB()
	assert.Equal(t, 0, d.Dispatch("app://cb?code=3"))

	assert.Equal(t, []string{"app://cb?code=1"}, a)
	assert.Equal(t, []string{"app://cb?code=1", "app://cb?code=2"}, b)
}
