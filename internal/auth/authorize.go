package auth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Intent selects the provider screen shown first.
type Intent int

const (
	IntentSignIn Intent = iota
	IntentSignUp
)

func (i Intent) String() string {
	if i == IntentSignUp {
		return "signup"
	}
	return "signin"
}

// DefaultScope is requested when the config leaves Scope empty.
const DefaultScope = "offline_access openid profile"

// BuildAuthorizeURL composes the /authorize URL for one attempt. The
// challenge method is always S256.
func BuildAuthorizeURL(cfg Config, challenge string, intent Intent, loginHint string) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if challenge == "" {
		return "", &Error{Kind: KindInvalidConfiguration, Op: "build_authorize_url",
			Err: fmt.Errorf("code challenge cannot be empty")}
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("audience", cfg.Audience),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethod),
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	if intent == IntentSignUp {
		opts = append(opts, oauth2.SetAuthURLParam("screen_hint", "signup"))
	}

	// PKCE binds the code to this attempt; no state parameter is sent.
	return cfg.OAuth2Config().AuthCodeURL("", opts...), nil
}

// ensureOfflineAccess returns scope with offline_access present, or the
// default scope when empty.
func ensureOfflineAccess(scope string) string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return DefaultScope
	}
	for _, f := range fields {
		if f == "offline_access" {
			return strings.Join(fields, " ")
		}
	}
	return strings.Join(append([]string{"offline_access"}, fields...), " ")
}
