package auth

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testConfig() Config {
	return Config{
		ClientID:    "c1",
		Domain:      "t.example.com",
		Audience:    "api",
		RedirectURI: "app://cb",
		Scope:       "offline_access openid profile",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "empty scope allowed", modify: func(c *Config) { c.Scope = "" }},
		{name: "single letter label", modify: func(c *Config) { c.Domain = "a.auth0.com" }},
		{name: "regional tenant", modify: func(c *Config) { c.Domain = "dev-abc.us.auth0.com" }},
		{name: "domain with port", modify: func(c *Config) { c.Domain = "127.0.0.1:8443" }},
		{name: "loopback redirect", modify: func(c *Config) { c.RedirectURI = "http://127.0.0.1:8765/callback" }},
		{name: "missing client id", modify: func(c *Config) { c.ClientID = "" }, wantErr: true},
		{name: "missing domain", modify: func(c *Config) { c.Domain = "" }, wantErr: true},
		{name: "domain with scheme", modify: func(c *Config) { c.Domain = "https://t.example.com" }, wantErr: true},
		{name: "domain with path", modify: func(c *Config) { c.Domain = "t.example.com/tenant" }, wantErr: true},
		{name: "missing audience", modify: func(c *Config) { c.Audience = "" }, wantErr: true},
		{name: "missing redirect", modify: func(c *Config) { c.RedirectURI = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				assert.Equal(t, KindInvalidConfiguration, KindOf(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Endpoints(t *testing.T) {
	cfg := testConfig()

	assert.Equal(t, "https://t.example.com/authorize", cfg.AuthorizeEndpoint())
	assert.Equal(t, "https://t.example.com/oauth/token", cfg.TokenEndpoint())
	assert.Equal(t, "https://t.example.com/userinfo", cfg.UserInfoEndpoint())

	u, err := url.Parse(cfg.LogoutURL("app://cb"))
	require.NoError(t, err)
	assert.Equal(t, "/v2/logout", u.Path)
	assert.Equal(t, "c1", u.Query().Get("client_id"))
	assert.Equal(t, "app://cb", u.Query().Get("returnTo"))

	u, err = url.Parse(cfg.LogoutURL(""))
	require.NoError(t, err)
	assert.False(t, u.Query().Has("returnTo"))
}

func TestConfig_OAuth2Config(t *testing.T) {
	cfg := testConfig()
	cfg.Scope = "openid email"

	oc := cfg.OAuth2Config()
	assert.Equal(t, "c1", oc.ClientID)
	assert.Empty(t, oc.ClientSecret)
	assert.Equal(t, "app://cb", oc.RedirectURL)
	assert.Equal(t, []string{"offline_access", "openid", "email"}, oc.Scopes)
	assert.Equal(t, "https://t.example.com/authorize", oc.Endpoint.AuthURL)
	assert.Equal(t, "https://t.example.com/oauth/token", oc.Endpoint.TokenURL)
	assert.Equal(t, oauth2.AuthStyleInParams, oc.Endpoint.AuthStyle)
}
