package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"

	LookupHit     = "hit"
	LookupRefresh = "refresh"
	LookupAbsent  = "absent"
)

var (
	// AuthorizationAttempts counts interactive sign-in and sign-up attempts.
	AuthorizationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth0session_authorization_attempts_total",
			Help: "The total number of interactive authorization attempts.",
		},
		[]string{"intent", "outcome"},
	)

	// TokenExchanges counts requests to the token endpoint.
	TokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth0session_token_exchanges_total",
			Help: "The total number of token endpoint exchanges.",
		},
		[]string{"grant_type", "outcome"},
	)

	// TokenExchangeDuration is a histogram of token endpoint latency.
	TokenExchangeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auth0session_token_exchange_duration_seconds",
			Help:    "A histogram of token endpoint round-trip duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"grant_type"},
	)

	// AccessTokenLookups counts AccessToken resolutions by how they were served.
	AccessTokenLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth0session_access_token_lookups_total",
			Help: "The total number of access token lookups by result.",
		},
		[]string{"result"},
	)

	// Logouts counts logouts by remote step outcome.
	Logouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth0session_logouts_total",
			Help: "The total number of logouts.",
		},
		[]string{"remote"},
	)

	// UserInfoRequests counts user-info lookups.
	UserInfoRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth0session_userinfo_requests_total",
			Help: "The total number of user-info lookups by result.",
		},
		[]string{"result"},
	)

	// SessionActive is 1 while a refresh token is held.
	SessionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth0session_session_active",
			Help: "Whether a session is currently held.",
		},
	)
)
