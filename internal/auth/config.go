package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"
)

// Config identifies one Auth0 application. It is copied by value into the
// session controller and never mutated afterwards.
type Config struct {
	ClientID    string `json:"client_id" yaml:"client_id" validate:"required"`
	Domain      string `json:"domain" yaml:"domain" validate:"required,hostname_port|hostname_rfc1123"`
	Audience    string `json:"audience" yaml:"audience" validate:"required"`
	RedirectURI string `json:"redirect_uri" yaml:"redirect_uri" validate:"required,uri"`
	Scope       string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

var validate = validator.New()

// Validate reports a KindInvalidConfiguration error naming every bad field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
		}
		return &Error{
			Kind: KindInvalidConfiguration,
			Op:   "validate_config",
			Err:  fmt.Errorf("invalid fields: %s", strings.Join(fields, ", ")),
		}
	}
	return nil
}

func (c Config) endpoint(path string) string {
	return (&url.URL{Scheme: "https", Host: c.Domain, Path: path}).String()
}

func (c Config) AuthorizeEndpoint() string { return c.endpoint("/authorize") }
func (c Config) TokenEndpoint() string     { return c.endpoint("/oauth/token") }
func (c Config) UserInfoEndpoint() string  { return c.endpoint("/userinfo") }

// OAuth2Config returns the client as an oauth2.Config. Auth0 native
// clients are public, so there is no secret and the client id travels in
// the request parameters.
func (c Config) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.ClientID,
		RedirectURL: c.RedirectURI,
		Scopes:      strings.Fields(ensureOfflineAccess(c.Scope)),
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthorizeEndpoint(),
			TokenURL:  c.TokenEndpoint(),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// LogoutURL returns the provider logout endpoint for this client. returnTo
// is included when non-empty.
func (c Config) LogoutURL(returnTo string) string {
	q := url.Values{}
	q.Set("client_id", c.ClientID)
	if returnTo != "" {
		q.Set("returnTo", returnTo)
	}
	return c.endpoint("/v2/logout") + "?" + q.Encode()
}
