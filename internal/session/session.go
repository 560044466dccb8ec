package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/metrics"
	"auth0session-go/internal/storage"
)

var (
	// ErrAttemptInProgress is returned when SignIn or SignUp is called while
	// another interactive attempt is still running.
	ErrAttemptInProgress = errors.New("an authorization attempt is already in progress")
	// ErrRemoteLogout wraps failures of the provider-side logout step. Local
	// state has already been cleared when it is returned.
	ErrRemoteLogout = errors.New("remote logout failed")
	// ErrVerifierLost is returned when a deep-link redirect arrives but the
	// parked verifier for the attempt is gone.
	ErrVerifierLost = errors.New("pending code verifier not found")
)

// Session owns one user's Auth0 session: interactive sign-in, token
// persistence, silent refresh and logout.
type Session struct {
	cfg        auth.Config
	store      *auth.TokenStore
	exchanger  *auth.Exchanger
	runner     *auth.Runner
	browser    auth.Browser
	opener     auth.URLOpener
	httpClient *http.Client
	timeout    time.Duration
	log        logrus.FieldLogger
	now        func() time.Time

	verifierLength int
	browserOpts    auth.BrowserOptions

	mu            sync.Mutex
	state         State
	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}

	refreshes singleflight.Group
	stream    *Broadcaster
}

// New validates cfg and restores any persisted session from the stores.
func New(cfg auth.Config, secure storage.SecureStore, settings storage.SettingsStore, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if secure == nil || settings == nil {
		return nil, &auth.Error{Kind: auth.KindInvalidConfiguration, Op: "new_session",
			Err: errors.New("secure and settings stores are required")}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log.WithField("client_id", cfg.ClientID)

	s := &Session{
		cfg:            cfg,
		store:          auth.NewTokenStore(secure, settings),
		exchanger:      auth.NewExchanger(cfg, o.httpClient, log).WithTimeout(o.httpTimeout).WithClock(o.now),
		browser:        o.browser,
		opener:         o.opener,
		httpClient:     o.httpClient,
		timeout:        o.httpTimeout,
		log:            log,
		now:            o.now,
		verifierLength: o.verifierLength,
		browserOpts:    o.browserOpts,
		stream:         NewBroadcaster(o.streamBuffer),
	}

	s.runner = auth.NewRunner(o.browser, cfg.RedirectURI, log).WithBrowserOptions(o.browserOpts)
	if o.redirects != nil {
		s.runner.WithRedirectSource(o.redirects, o.deepLinkGrace)
	}

	snap, err := s.store.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if snap.HasSession() {
		s.setState(Authenticated)
	} else {
		s.setState(Unauthenticated)
	}

	return s, nil
}

// Config returns the configuration the session was built with.
func (s *Session) Config() auth.Config { return s.cfg }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if st == Authenticated {
		metrics.SessionActive.Set(1)
	} else if st == Unauthenticated {
		metrics.SessionActive.Set(0)
	}
}

// Subscribe returns the access-token stream. An empty string signals that
// the session ended.
func (s *Session) Subscribe() (<-chan string, func()) {
	return s.stream.Subscribe()
}

// Connect signs in without a login hint.
func (s *Session) Connect(ctx context.Context) error {
	return s.SignIn(ctx, "")
}

// SignIn runs an interactive sign-in. On failure all persisted state is
// cleared and the typed error is returned.
func (s *Session) SignIn(ctx context.Context, loginHint string) error {
	return s.authorize(ctx, auth.IntentSignIn, loginHint)
}

// SignUp is SignIn with the provider's sign-up screen shown first.
func (s *Session) SignUp(ctx context.Context, loginHint string) error {
	return s.authorize(ctx, auth.IntentSignUp, loginHint)
}

func (s *Session) authorize(ctx context.Context, intent auth.Intent, loginHint string) error {
	s.mu.Lock()
	if s.state.Authorizing() {
		s.mu.Unlock()
		return ErrAttemptInProgress
	}
	if intent == auth.IntentSignUp {
		s.state = AuthorizingSignUp
	} else {
		s.state = AuthorizingSignIn
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancelAttempt = cancel
	s.attemptDone = done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelAttempt = nil
		s.attemptDone = nil
		s.mu.Unlock()
		close(done)
	}()

	attemptID := uuid.NewString()
	log := s.log.WithFields(logrus.Fields{"attempt": attemptID, "intent": intent.String()})
	log.Info("authorization started")

	token, err := s.runAttempt(ctx, log, attemptID, intent, loginHint)
	if err != nil {
		outcome := metrics.OutcomeFailure
		if errors.Is(err, auth.ErrAuthorizationDenied) {
			outcome = metrics.OutcomeDenied
		}
		metrics.AuthorizationAttempts.WithLabelValues(intent.String(), outcome).Inc()

		if clearErr := s.store.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			log.WithError(clearErr).Error("failed to clear tokens after failed authorization")
		}
		s.setState(Unauthenticated)
		s.stream.Publish("")
		log.WithError(err).Warn("authorization failed")
		return err
	}

	metrics.AuthorizationAttempts.WithLabelValues(intent.String(), metrics.OutcomeSuccess).Inc()
	s.setState(Authenticated)
	s.stream.Publish(token)
	log.Info("authorization succeeded")
	return nil
}

func (s *Session) runAttempt(ctx context.Context, log logrus.FieldLogger, attemptID string, intent auth.Intent, loginHint string) (string, error) {
	generation := s.store.Generation()

	pair, err := auth.NewPKCEPair(s.verifierLength)
	if err != nil {
		return "", err
	}

	authURL, err := auth.BuildAuthorizeURL(s.cfg, pair.Challenge, intent, loginHint)
	if err != nil {
		return "", err
	}

	verifier := pair.Verifier
	if s.runner.DeepLink() {
		if err := s.store.SetPendingVerifier(ctx, attemptID, verifier); err != nil {
			return "", fmt.Errorf("failed to park code verifier: %w", err)
		}
		verifier = ""
	}

	code, err := s.runner.Run(ctx, authURL)
	if err != nil {
		return "", err
	}

	if s.runner.DeepLink() {
		v, ok, err := s.store.TakePendingVerifier(ctx, attemptID)
		if err != nil {
			return "", fmt.Errorf("failed to read code verifier: %w", err)
		}
		if !ok {
			return "", &auth.Error{Kind: auth.KindAuthorizationDenied, Op: "authorize", Err: ErrVerifierLost}
		}
		verifier = v
	}

	log.Debug("authorization code received")

	set, err := s.exchanger.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return "", err
	}

	if err := s.store.InvalidateUserInfo(ctx); err != nil {
		return "", fmt.Errorf("failed to reset user info: %w", err)
	}
	if err := s.store.Save(ctx, set, generation); err != nil {
		return "", err
	}
	return set.AccessToken, nil
}

// Prefetch hints the browser that the sign-in page is about to be opened.
// The PKCE pair it uses is thrown away.
func (s *Session) Prefetch() {
	if s.browser == nil {
		return
	}
	pair, err := auth.NewPKCEPair(s.verifierLength)
	if err != nil {
		s.log.WithError(err).Debug("prefetch skipped")
		return
	}
	authURL, err := auth.BuildAuthorizeURL(s.cfg, pair.Challenge, auth.IntentSignIn, "")
	if err != nil {
		s.log.WithError(err).Debug("prefetch skipped")
		return
	}
	s.browser.MayLaunchURL(authURL, nil)
}

// Close ends every access-token subscription.
func (s *Session) Close() {
	s.stream.Close()
}
