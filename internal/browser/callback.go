package browser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Signed in</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh">
<h1>%s</h1>
<p>You can close this window and return to the application.</p>
</body>
</html>`

// callbackServer receives one redirect on a loopback address.
type callbackServer struct {
	server   *http.Server
	listener net.Listener
	results  chan string
	closed   chan struct{}
	once     sync.Once
}

// isLoopbackRedirect reports whether redirect can be served locally.
func isLoopbackRedirect(u *url.URL) bool {
	if u.Scheme != "http" || u.Port() == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func startCallbackServer(redirect *url.URL) (*callbackServer, error) {
	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	s := &callbackServer{
		listener: listener,
		results:  make(chan string, 1),
		closed:   make(chan struct{}),
	}

	path := redirect.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		full := url.URL{Scheme: redirect.Scheme, Host: redirect.Host, Path: r.URL.Path, RawQuery: r.URL.RawQuery}

		title := "Signed in"
		if r.URL.Query().Get("error") != "" {
			title = "Sign-in failed"
		} else if r.URL.Query().Get("code") == "" {
			title = "Done"
		}

		select {
		case s.results <- full.String():
		default:
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, callbackPage, title)
	})

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() { _ = s.server.Serve(listener) }()
	return s, nil
}

// cancel unblocks a waiter as if the user closed the browser.
func (s *callbackServer) cancel() {
	s.once.Do(func() { close(s.closed) })
}

func (s *callbackServer) stop() {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}
