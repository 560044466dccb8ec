package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"auth0session-go/internal/auth"
	"auth0session-go/internal/metrics"
)

const maxUserInfoBody = 1 << 20

// UserInfo returns the provider's profile document for the signed-in user.
// The cached copy is returned unless force is set.
func (s *Session) UserInfo(ctx context.Context, force bool) (json.RawMessage, error) {
	if !force {
		info, ok, err := s.store.UserInfo(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			metrics.UserInfoRequests.WithLabelValues("cached").Inc()
			return json.RawMessage(info), nil
		}
	}

	generation := s.store.Generation()

	token, ok, err := s.AccessToken(ctx, false)
	if err != nil {
		metrics.UserInfoRequests.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}
	if !ok {
		metrics.UserInfoRequests.WithLabelValues(metrics.LookupAbsent).Inc()
		return nil, &auth.Error{Kind: auth.KindNoActiveSession, Op: "userinfo"}
	}

	body, err := s.fetchUserInfo(ctx, token)
	if err != nil {
		metrics.UserInfoRequests.WithLabelValues(metrics.OutcomeFailure).Inc()
		return nil, err
	}

	if err := s.store.SetUserInfo(ctx, string(body), generation); err != nil {
		if errors.Is(err, auth.ErrStaleGeneration) {
			return nil, &auth.Error{Kind: auth.KindNoActiveSession, Op: "userinfo", Err: err}
		}
		s.log.WithError(err).Warn("failed to cache user info")
	}

	metrics.UserInfoRequests.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return json.RawMessage(body), nil
}

func (s *Session) fetchUserInfo(ctx context.Context, token string) ([]byte, error) {
	endpoint := s.cfg.UserInfoEndpoint()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &auth.Error{Kind: auth.KindUserInfoFetchFailed, Op: "userinfo", URL: endpoint, Err: err}
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &auth.Error{Kind: auth.KindUserInfoFetchFailed, Op: "userinfo", URL: endpoint,
			Err: fmt.Errorf("userinfo request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBody))
	if err != nil {
		return nil, &auth.Error{Kind: auth.KindUserInfoFetchFailed, Op: "userinfo", URL: endpoint,
			StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &auth.Error{
			Kind:        auth.KindUserInfoFetchFailed,
			Op:          "userinfo",
			URL:         endpoint,
			StatusCode:  resp.StatusCode,
			Body:        string(body),
			Code:        gjson.GetBytes(body, "error").String(),
			Description: gjson.GetBytes(body, "error_description").String(),
		}
	}

	if !gjson.ValidBytes(body) {
		return nil, &auth.Error{Kind: auth.KindUserInfoFetchFailed, Op: "userinfo", URL: endpoint,
			StatusCode: resp.StatusCode, Body: string(body), Err: errors.New("response is not JSON")}
	}
	return body, nil
}
