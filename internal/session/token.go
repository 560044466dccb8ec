package session

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/metrics"
)

// AccessToken returns a usable access token. A stored token that has not
// expired is returned without any network call; otherwise the refresh
// token is exchanged. ok is false with a nil error when there is no
// session. force discards the cached access token first.
//
// A refresh the provider rejects ends the session. A transient failure
// keeps the refresh token so a later call can retry.
func (s *Session) AccessToken(ctx context.Context, force bool) (string, bool, error) {
	if force {
		if err := s.store.DropAccessToken(ctx); err != nil {
			return "", false, err
		}
	}

	snap, err := s.store.Load(ctx)
	if err != nil {
		return "", false, err
	}
	if snap.AccessTokenValid(s.now()) {
		metrics.AccessTokenLookups.WithLabelValues(metrics.LookupHit).Inc()
		s.stream.Publish(snap.AccessToken)
		return snap.AccessToken, true, nil
	}
	if !snap.HasSession() {
		metrics.AccessTokenLookups.WithLabelValues(metrics.LookupAbsent).Inc()
		return "", false, nil
	}

	// The shared exchange outlives any single caller; each caller still
	// stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := s.refreshes.DoChan("refresh", func() (interface{}, error) {
		return s.refresh(shared)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
	if res.Err != nil {
		return "", false, res.Err
	}

	token := res.Val.(string)
	if token == "" {
		metrics.AccessTokenLookups.WithLabelValues(metrics.LookupAbsent).Inc()
		return "", false, nil
	}
	metrics.AccessTokenLookups.WithLabelValues(metrics.LookupRefresh).Inc()
	s.stream.Publish(token)
	return token, true, nil
}

// refresh runs inside the singleflight group so concurrent callers share
// one exchange.
func (s *Session) refresh(ctx context.Context) (string, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if snap.AccessTokenValid(s.now()) {
		return snap.AccessToken, nil
	}
	if !snap.HasSession() {
		return "", nil
	}

	set, err := s.exchanger.Refresh(ctx, snap.RefreshToken)
	if err != nil {
		if auth.IsRejected(err) {
			s.log.WithError(err).Warn("refresh token rejected, ending session")
			if clearErr := s.store.Clear(context.WithoutCancel(ctx)); clearErr != nil {
				s.log.WithError(clearErr).Error("failed to clear rejected session")
			}
			s.endSession()
		}
		return "", err
	}

	if err := s.store.Save(ctx, set, snap.Generation); err != nil {
		if errors.Is(err, auth.ErrStaleGeneration) {
			// Logged out while the exchange was in flight.
			return "", nil
		}
		return "", err
	}

	s.mu.Lock()
	if s.state == Unauthenticated {
		s.mu.Unlock()
		s.setState(Authenticated)
	} else {
		s.mu.Unlock()
	}
	return set.AccessToken, nil
}

// endSession moves to Unauthenticated and tells subscribers, unless an
// interactive attempt owns the state.
func (s *Session) endSession() {
	s.mu.Lock()
	authorizing := s.state.Authorizing()
	s.mu.Unlock()
	if !authorizing {
		s.setState(Unauthenticated)
	}
	s.stream.Publish("")
}

type tokenSource struct {
	ctx     context.Context
	session *Session
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	token, ok, err := ts.session.AccessToken(ts.ctx, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &auth.Error{Kind: auth.KindNoActiveSession, Op: "token_source"}
	}

	set := &auth.TokenSet{AccessToken: token}
	if snap, err := ts.session.store.Load(ts.ctx); err == nil && snap.AccessToken == token && snap.HasExpiry {
		set.Expiry = snap.Expiry
	}
	return set.OAuth2(), nil
}

// TokenSource adapts the session to oauth2.TokenSource. Each call goes
// through AccessToken, so logout takes effect immediately.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, session: s}
}

// Client returns an HTTP client that sends the session's access token as a
// bearer credential, for calls to the configured audience.
func (s *Session) Client(ctx context.Context) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{Source: s.TokenSource(ctx), Base: s.httpClient.Transport},
		Timeout:   s.httpClient.Timeout,
	}
}
