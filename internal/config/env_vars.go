package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	portEnvVar   = "PORT"
	appNameVar   = "APP_NAME"
	baseURLVar   = "BASE_URL"
	envVar       = "ENV"
	storeTypeVar = "STORE_TYPE"
	storeDSNVar  = "STORE_DSN"
)

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
}

func (s *Settings) GetPort() string {
	port := s.Server.Port
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (s *Settings) GetAppName() string {
	return s.Server.AppName
}

// GetBaseURL returns the base URL for the OAuth server (e.g., "https://auth.example.com")
func (s *Settings) GetBaseURL() string {
	return strings.TrimSuffix(s.Server.BaseURL, "/")
}

func (s *Settings) GetEnv() string {
	return strings.ToUpper(s.Server.Env)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
