package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

type Config interface {
	EnvConfig
	CorsConfig
	OAuthConfig
	SecurityConfig
	StoreConfig
	SeedConfig
	TelemetryConfig
}

// Settings is the file representation of the server configuration. Every section
// is optional; missing values fall back to the defaults applied by Load.
type Settings struct {
	Server    ServerSettings    `yaml:"server"`
	Cors      CorsSettings      `yaml:"cors"`
	OAuth     OAuthSettings     `yaml:"oauth"`
	Security  SecuritySettings  `yaml:"security"`
	Store     StoreSettings     `yaml:"store"`
	Seed      SeedSettings      `yaml:"seed"`
	Telemetry TelemetrySettings `yaml:"telemetry"`
}

type ServerSettings struct {
	Port    string `yaml:"port"`
	AppName string `yaml:"app_name"`
	BaseURL string `yaml:"base_url"`
	Env     string `yaml:"env"`
}

var _ Config = (*Settings)(nil)

// Default returns the settings used when no configuration file is supplied.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// Load reads a YAML configuration file, applies defaults and then environment overrides.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "[config.Load] reading %s", path)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, errors.Wrapf(err, "[config.Load] parsing %s", path)
		}
	}
	s.applyDefaults()
	s.applyEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.Server.Port == "" {
		s.Server.Port = "8080"
	}
	if s.Server.AppName == "" {
		s.Server.AppName = "Go OAuth Engine"
	}
	if s.Server.BaseURL == "" {
		s.Server.BaseURL = "http://localhost:8080"
	}
	if s.Server.Env == "" {
		s.Server.Env = "DEV"
	}
	if len(s.Cors.AllowedOrigins) == 0 {
		s.Cors.AllowedOrigins = []string{"*"}
	}
	if s.OAuth.AuthCodeLength == 0 {
		s.OAuth.AuthCodeLength = 50
	}
	if s.OAuth.AccessTokenLength == 0 {
		s.OAuth.AccessTokenLength = 100
	}
	if s.OAuth.RefreshTokenLength == 0 {
		s.OAuth.RefreshTokenLength = 50
	}
	if s.OAuth.ClientSecretLength == 0 {
		s.OAuth.ClientSecretLength = 40
	}
	if s.OAuth.AuthCodeTTL == 0 {
		s.OAuth.AuthCodeTTL = 120 * time.Second
	}
	if s.OAuth.AccessTokenTTL == 0 {
		s.OAuth.AccessTokenTTL = 180 * time.Second
	}
	if s.OAuth.RefreshTokenTTL == 0 {
		s.OAuth.RefreshTokenTTL = 14 * 24 * time.Hour
	}
	if s.Security.MaxTransactionAge == 0 {
		s.Security.MaxTransactionAge = 10 * time.Minute
	}
	if s.Security.TokenRateLimit == 0 {
		s.Security.TokenRateLimit = 20
	}
	if s.Security.TokenRateBurst == 0 {
		s.Security.TokenRateBurst = 40
	}
	if s.Store.Type == "" {
		s.Store.Type = StoreMemory
	}
	if s.Store.ReapInterval == 0 {
		s.Store.ReapInterval = time.Minute
	}
	if s.Telemetry.ServiceName == "" {
		s.Telemetry.ServiceName = "go-oauth-engine"
	}
	if s.Telemetry.MetricsPath == "" {
		s.Telemetry.MetricsPath = "/metrics"
	}
}

func (s *Settings) applyEnv() {
	s.Server.Port = GetEnv(portEnvVar, s.Server.Port)
	s.Server.AppName = GetEnv(appNameVar, s.Server.AppName)
	s.Server.BaseURL = GetEnv(baseURLVar, s.Server.BaseURL)
	s.Server.Env = GetEnv(envVar, s.Server.Env)
	s.Store.Type = StoreType(GetEnv(storeTypeVar, string(s.Store.Type)))
	s.Store.DSN = GetEnv(storeDSNVar, s.Store.DSN)
}

// Validate reports every configuration problem found, not just the first.
func (s *Settings) Validate() error {
	var result *multierror.Error

	for name, length := range map[string]int{
		"oauth.auth_code_length":     s.OAuth.AuthCodeLength,
		"oauth.access_token_length":  s.OAuth.AccessTokenLength,
		"oauth.refresh_token_length": s.OAuth.RefreshTokenLength,
		"oauth.client_secret_length": s.OAuth.ClientSecretLength,
	} {
		if length < minCredentialLength {
			result = multierror.Append(result, fmt.Errorf("%s must be at least %d, got %d", name, minCredentialLength, length))
		}
	}
	if s.OAuth.AuthCodeTTL < 0 || s.OAuth.AccessTokenTTL < 0 || s.OAuth.RefreshTokenTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("oauth ttl values must be positive"))
	}
	if s.Security.TokenRateLimit < 0 || s.Security.TokenRateBurst < 0 {
		result = multierror.Append(result, fmt.Errorf("security rate limit values must be positive"))
	}
	if s.Security.MaxTransactionAge <= 0 {
		result = multierror.Append(result, fmt.Errorf("security.max_transaction_age must be positive, got %s", s.Security.MaxTransactionAge))
	}
	if s.Store.ReapInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("store.reap_interval must be positive, got %s", s.Store.ReapInterval))
	}
	if s.Telemetry.Enabled && (!strings.HasPrefix(s.Telemetry.MetricsPath, "/") || strings.HasPrefix(s.Telemetry.MetricsPath, "/oauth")) {
		result = multierror.Append(result, fmt.Errorf("telemetry.metrics_path must start with / and sit outside /oauth, got %q", s.Telemetry.MetricsPath))
	}

	switch s.Store.Type {
	case StoreMemory:
	case StoreBolt:
		if s.Store.Path == "" {
			result = multierror.Append(result, fmt.Errorf("store.path is required for the bolt store"))
		}
	case StoreSQLite, StorePostgres, StoreMySQL:
		if s.Store.DSN == "" {
			result = multierror.Append(result, fmt.Errorf("store.dsn is required for the %s store", s.Store.Type))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store type %q", s.Store.Type))
	}

	seen := make(map[string]struct{}, len(s.Seed.Clients))
	for i, c := range s.Seed.Clients {
		if c.ID == "" {
			result = multierror.Append(result, fmt.Errorf("seed.clients[%d].id is required", i))
			continue
		}
		if _, dup := seen[c.ID]; dup {
			result = multierror.Append(result, fmt.Errorf("seed.clients[%d].id %q is duplicated", i, c.ID))
		}
		seen[c.ID] = struct{}{}
	}
	for i, u := range s.Seed.Users {
		if u.Email == "" {
			result = multierror.Append(result, fmt.Errorf("seed.users[%d].email is required", i))
		}
	}

	return result.ErrorOrNil()
}
