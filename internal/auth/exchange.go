package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"auth0session-go/internal/metrics"
)

const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"

	DefaultExchangeTimeout = 30 * time.Second

	maxResponseBody = 1 << 20
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Exchanger talks to the provider token endpoint. It does not persist
// anything; callers save the returned TokenSet.
type Exchanger struct {
	cfg     Config
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewExchanger returns an exchanger for cfg. A nil client uses
// http.DefaultClient and a nil logger uses the standard logrus logger.
func NewExchanger(cfg Config, client *http.Client, log logrus.FieldLogger) *Exchanger {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Exchanger{
		cfg:     cfg,
		client:  client,
		timeout: DefaultExchangeTimeout,
		now:     time.Now,
		log:     log,
	}
}

// WithTimeout sets the per-request deadline. Zero or negative disables it.
func (e *Exchanger) WithTimeout(d time.Duration) *Exchanger {
	e.timeout = d
	return e
}

// WithClock sets the time source used to compute Expiry.
func (e *Exchanger) WithClock(now func() time.Time) *Exchanger {
	if now != nil {
		e.now = now
	}
	return e
}

// ExchangeCode redeems an authorization code. The response must carry a
// refresh token.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, verifier string) (*TokenSet, error) {
	if code == "" || verifier == "" {
		return nil, &Error{Kind: KindTokenExchangeFailed, Op: "exchange_code",
			Err: fmt.Errorf("authorization code and verifier are required")}
	}

	body := map[string]string{
		"grant_type":    GrantAuthorizationCode,
		"client_id":     e.cfg.ClientID,
		"code":          code,
		"code_verifier": verifier,
		"audience":      e.cfg.Audience,
		"redirect_uri":  e.cfg.RedirectURI,
	}

	set, err := e.post(ctx, "exchange_code", GrantAuthorizationCode, body)
	if err != nil {
		return nil, err
	}
	if set.RefreshToken == "" {
		metrics.TokenExchanges.WithLabelValues(GrantAuthorizationCode, metrics.OutcomeFailure).Inc()
		return nil, &Error{Kind: KindTokenExchangeFailed, Op: "exchange_code",
			URL: e.cfg.TokenEndpoint(), StatusCode: http.StatusOK, Err: ErrMissingRefreshToken}
	}

	metrics.TokenExchanges.WithLabelValues(GrantAuthorizationCode, metrics.OutcomeSuccess).Inc()
	return set, nil
}

// Refresh mints a new access token. The returned RefreshToken is empty
// unless the provider rotated it.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, &Error{Kind: KindNoActiveSession, Op: "refresh"}
	}

	body := map[string]string{
		"grant_type":    GrantRefreshToken,
		"client_id":     e.cfg.ClientID,
		"refresh_token": refreshToken,
		"audience":      e.cfg.Audience,
	}

	set, err := e.post(ctx, "refresh", GrantRefreshToken, body)
	if err != nil {
		return nil, err
	}

	metrics.TokenExchanges.WithLabelValues(GrantRefreshToken, metrics.OutcomeSuccess).Inc()
	return set, nil
}

func (e *Exchanger) post(ctx context.Context, op, grant string, body map[string]string) (*TokenSet, error) {
	endpoint := e.cfg.TokenEndpoint()
	fail := func(err *Error) (*TokenSet, error) {
		outcome := metrics.OutcomeFailure
		if err.Rejected() {
			outcome = metrics.OutcomeDenied
		}
		metrics.TokenExchanges.WithLabelValues(grant, outcome).Inc()
		e.log.WithFields(logrus.Fields{
			"grant_type": grant,
			"status":     err.StatusCode,
			"error":      err.Code,
		}).Warn("token exchange failed")
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fail(&Error{Kind: KindTokenExchangeFailed, Op: op, URL: endpoint, Err: err})
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fail(&Error{Kind: KindTokenExchangeFailed, Op: op, URL: endpoint, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.TokenExchangeDuration.WithLabelValues(grant).Observe(time.Since(start).Seconds())
	if err != nil {
		return fail(&Error{Kind: KindTokenExchangeFailed, Op: op, URL: endpoint,
			Err: fmt.Errorf("token request failed: %w", err)})
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fail(&Error{Kind: KindTokenExchangeFailed, Op: op, URL: endpoint,
			StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(&Error{
			Kind:        KindTokenExchangeFailed,
			Op:          op,
			URL:         endpoint,
			StatusCode:  resp.StatusCode,
			Body:        string(raw),
			Code:        gjson.GetBytes(raw, "error").String(),
			Description: gjson.GetBytes(raw, "error_description").String(),
		})
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fail(&Error{Kind: KindTokenExchangeFailed, Op: op, URL: endpoint,
			StatusCode: resp.StatusCode, Body: string(raw), Err: fmt.Errorf("failed to parse token response: %w", err)})
	}
	if tr.AccessToken == "" {
		return fail(&Error{Kind: KindTokenExchangeFailed, Op: op, URL: endpoint,
			StatusCode: resp.StatusCode, Err: ErrMissingAccessToken})
	}

	e.log.WithFields(logrus.Fields{
		"grant_type": grant,
		"expires_in": tr.ExpiresIn,
		"rotated":    tr.RefreshToken != "",
	}).Debug("token exchange succeeded")

	return &TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		ExpiresIn:    tr.ExpiresIn,
		Expiry:       e.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
