package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"auth0session-go/internal/auth"
)

const (
	BrowserModeDirect   = "direct"
	BrowserModeDeepLink = "deeplink"
)

// Config holds all configuration for the application.
type Config struct {
	Auth0 auth.Config `json:"auth0" yaml:"auth0"`

	Browser struct {
		Mode             string   `json:"mode" yaml:"mode" validate:"oneof=direct deeplink"`
		CallbackTimeout  Duration `json:"callback_timeout" yaml:"callback_timeout" validate:"min=1s"`
		DeepLinkGrace    Duration `json:"deeplink_grace" yaml:"deeplink_grace" validate:"min=0"`
		EphemeralSession bool     `json:"ephemeral_session" yaml:"ephemeral_session"`
		VerifierLength   int      `json:"verifier_length" yaml:"verifier_length" validate:"omitempty,min=43,max=128"`
	} `json:"browser" yaml:"browser"`

	HTTP struct {
		Timeout Duration `json:"timeout" yaml:"timeout" validate:"min=1s"`
	} `json:"http" yaml:"http"`

	Storage struct {
		Path          string `json:"path" yaml:"path"`
		EncryptionKey string `json:"encryption_key" yaml:"encryption_key"`
		Ephemeral     bool   `json:"ephemeral" yaml:"ephemeral"`
	} `json:"storage" yaml:"storage"`

	Logging struct {
		Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
		File  string `json:"file" yaml:"file"`
	} `json:"logging" yaml:"logging"`

	Metrics struct {
		Addr string `json:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
	} `json:"metrics" yaml:"metrics"`

	Refresh struct {
		Interval Duration `json:"interval" yaml:"interval" validate:"min=0"`
		Skew     Duration `json:"skew" yaml:"skew" validate:"min=0"`
	} `json:"refresh" yaml:"refresh"`
}

// Duration is a wrapper around time.Duration that implements JSON and YAML
// marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("invalid duration")
	}
	if value.ShortTag() == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}
	var err error
	d.Duration, err = time.ParseDuration(value.Value)
	return err
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	var cfg Config
	cfg.Auth0.Scope = auth.DefaultScope
	cfg.Browser.Mode = BrowserModeDirect
	cfg.Browser.CallbackTimeout = Duration{5 * time.Minute}
	cfg.Browser.DeepLinkGrace = Duration{auth.DefaultDeepLinkGrace}
	cfg.HTTP.Timeout = Duration{auth.DefaultExchangeTimeout}
	cfg.Storage.Path = defaultStoragePath()
	cfg.Logging.Level = "info"
	cfg.Refresh.Interval = Duration{time.Minute}
	cfg.Refresh.Skew = Duration{5 * time.Minute}
	return &cfg
}

func defaultStoragePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "auth0session.db"
	}
	return filepath.Join(dir, "auth0session", "session.db")
}

// LoadEnv loads dotenv files into the process environment. Files that do
// not exist are skipped; ~ expands to the home directory.
func LoadEnv(files ...string) error {
	for _, file := range files {
		if strings.HasPrefix(file, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			file = strings.Replace(file, "~", home, 1)
		}
		if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}

// Load reads configuration from a file and overrides with environment
// variables. An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, cfg)
		default:
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"AUTH0_CLIENT_ID":        &c.Auth0.ClientID,
		"AUTH0_DOMAIN":           &c.Auth0.Domain,
		"AUTH0_AUDIENCE":         &c.Auth0.Audience,
		"AUTH0_REDIRECT_URI":     &c.Auth0.RedirectURI,
		"AUTH0_SCOPE":            &c.Auth0.Scope,
		"BROWSER_MODE":           &c.Browser.Mode,
		"STORAGE_PATH":           &c.Storage.Path,
		"STORAGE_ENCRYPTION_KEY": &c.Storage.EncryptionKey,
		"LOG_LEVEL":              &c.Logging.Level,
		"LOG_FILE":               &c.Logging.File,
		"METRICS_ADDR":           &c.Metrics.Addr,
	}
	for env, field := range strs {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	durations := map[string]*Duration{
		"HTTP_TIMEOUT":     &c.HTTP.Timeout,
		"REFRESH_INTERVAL": &c.Refresh.Interval,
	}
	for env, field := range durations {
		if v := os.Getenv(env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", env, err)
			}
			*field = Duration{d}
		}
	}

	if v := os.Getenv("STORAGE_EPHEMERAL"); v != "" {
		c.Storage.Ephemeral = v == "1" || strings.EqualFold(v, "true")
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !c.Storage.Ephemeral {
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required unless storage is ephemeral")
		}
		if len(c.Storage.EncryptionKey) != 32 {
			return fmt.Errorf("storage encryption key must be exactly 32 bytes")
		}
	}

	return nil
}

// Auth0Config returns the client configuration for the session.
func (c *Config) Auth0Config() auth.Config {
	return c.Auth0
}
