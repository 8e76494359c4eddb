package config

import "time"

const minCredentialLength = 16

type OAuthConfig interface {
	GetAuthCodeLength() int
	GetAccessTokenLength() int
	GetRefreshTokenLength() int
	GetClientSecretLength() int
	GetAuthCodeTTL() time.Duration
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
}

type OAuthSettings struct {
	AuthCodeLength     int           `yaml:"auth_code_length"`
	AccessTokenLength  int           `yaml:"access_token_length"`
	RefreshTokenLength int           `yaml:"refresh_token_length"`
	ClientSecretLength int           `yaml:"client_secret_length"`
	AuthCodeTTL        time.Duration `yaml:"auth_code_ttl"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
}

func (s *Settings) GetAuthCodeLength() int {
	return s.OAuth.AuthCodeLength
}

func (s *Settings) GetAccessTokenLength() int {
	return s.OAuth.AccessTokenLength
}

func (s *Settings) GetRefreshTokenLength() int {
	return s.OAuth.RefreshTokenLength
}

func (s *Settings) GetClientSecretLength() int {
	return s.OAuth.ClientSecretLength
}

func (s *Settings) GetAuthCodeTTL() time.Duration {
	return s.OAuth.AuthCodeTTL
}

func (s *Settings) GetAccessTokenTTL() time.Duration {
	return s.OAuth.AccessTokenTTL
}

// GetRefreshTokenTTL is independent of the access token TTL so a refresh token
// outlives the access token it was issued with.
func (s *Settings) GetRefreshTokenTTL() time.Duration {
	return s.OAuth.RefreshTokenTTL
}
