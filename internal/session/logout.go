package session

import (
	"context"
	"errors"
	"fmt"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/metrics"
)

// LogOut ends the session. An in-flight authorization is canceled and
// allowed to unwind. Local tokens and cached user info are then removed
// unconditionally, and the provider session is ended in the browser. A
// failure of the remote step is returned wrapped in ErrRemoteLogout; local
// state stays cleared.
func (s *Session) LogOut(ctx context.Context) error {
	s.mu.Lock()
	cancelAttempt, attemptDone := s.cancelAttempt, s.attemptDone
	s.mu.Unlock()
	if cancelAttempt != nil {
		cancelAttempt()
		select {
		case <-attemptDone:
		case <-ctx.Done():
		}
	}

	clearErr := s.store.Clear(context.WithoutCancel(ctx))
	if clearErr != nil {
		s.log.WithError(clearErr).Error("failed to clear local session")
	}
	s.setState(Unauthenticated)
	s.stream.Publish("")

	remoteErr := s.remoteLogout(ctx)
	if remoteErr != nil {
		metrics.Logouts.WithLabelValues("failed").Inc()
		s.log.WithError(remoteErr).Warn("remote logout failed")
	} else {
		metrics.Logouts.WithLabelValues("ok").Inc()
		s.log.Info("logged out")
	}

	return errors.Join(clearErr, remoteErr)
}

// Disconnect is LogOut.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.LogOut(ctx)
}

func (s *Session) remoteLogout(ctx context.Context) error {
	logoutURL := s.cfg.LogoutURL(s.cfg.RedirectURI)

	if s.browser != nil && s.browser.IsAvailable(ctx) {
		res, err := s.browser.OpenAuth(ctx, logoutURL, s.cfg.RedirectURI, s.browserOpts)
		if err == nil {
			s.log.WithField("result", string(res.Type)).Debug("logout page closed")
			return nil
		}
		if !errors.Is(err, auth.ErrBrowserUnavailable) || s.opener == nil {
			return fmt.Errorf("%w: %w", ErrRemoteLogout, err)
		}
		s.log.WithError(err).Debug("browser could not show the logout page, opening it directly")
	}

	if s.opener == nil {
		return fmt.Errorf("%w: no browser or URL opener available", ErrRemoteLogout)
	}
	if err := s.opener(logoutURL); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteLogout, err)
	}
	return nil
}
