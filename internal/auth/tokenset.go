package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// TokenSet is the result of one token endpoint exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string // empty when the provider did not issue or rotate one
	IDToken      string
	TokenType    string
	Scope        string
	ExpiresIn    int64
	Expiry       time.Time
}

// Expired reports whether the access token is no longer usable at now.
// A token is still valid at the exact expiry instant.
func (t *TokenSet) Expired(now time.Time) bool {
	return now.After(t.Expiry)
}

// OAuth2 converts the set into an oauth2.Token. The id_token and scope are
// available through Extra.
func (t *TokenSet) OAuth2() *oauth2.Token {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    tokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
	extra := map[string]interface{}{}
	if t.IDToken != "" {
		extra["id_token"] = t.IDToken
	}
	if t.Scope != "" {
		extra["scope"] = t.Scope
	}
	if len(extra) == 0 {
		return tok
	}
	return tok.WithExtra(extra)
}
