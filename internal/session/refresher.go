package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultRefreshInterval = time.Minute
	DefaultRefreshSkew     = 5 * time.Minute
)

// Refresher keeps the access token warm by refreshing it shortly before it
// expires.
type Refresher struct {
	session  *Session
	interval time.Duration
	skew     time.Duration
	log      logrus.FieldLogger
}

// NewRefresher returns a refresher that checks every interval and refreshes
// once the token expires within skew.
func NewRefresher(s *Session, interval, skew time.Duration) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if skew < 0 {
		skew = DefaultRefreshSkew
	}
	return &Refresher{
		session:  s,
		interval: interval,
		skew:     skew,
		log:      s.log.WithField("component", "refresher"),
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RefreshIfNeeded(ctx); err != nil {
			r.log.WithError(err).Warn("background refresh failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RefreshIfNeeded refreshes when a session exists and its access token is
// missing or expires within the skew window. It reports whether a refresh
// was attempted.
func (r *Refresher) RefreshIfNeeded(ctx context.Context) (bool, error) {
	snap, err := r.session.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if !snap.HasSession() {
		return false, nil
	}

	if snap.AccessToken != "" && snap.HasExpiry && snap.Expiry.After(r.session.now().Add(r.skew)) {
		return false, nil
	}

	if _, _, err := r.session.AccessToken(ctx, true); err != nil {
		return true, err
	}
	r.log.Debug("access token refreshed ahead of expiry")
	return true, nil
}
