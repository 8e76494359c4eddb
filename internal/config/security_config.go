package config

import "time"

type SecurityConfig interface {
	GetMaxTransactionAge() time.Duration
	GetTokenRateLimit() (requestsPerSecond float64, burst int)
}

type SecuritySettings struct {
	MaxTransactionAge time.Duration `yaml:"max_transaction_age"`
	TokenRateLimit    float64       `yaml:"token_rate_limit"`
	TokenRateBurst    int           `yaml:"token_rate_burst"`
}

// GetMaxTransactionAge bounds how long a pending consent transaction survives in the session store.
func (s *Settings) GetMaxTransactionAge() time.Duration {
	return s.Security.MaxTransactionAge
}

func (s *Settings) GetTokenRateLimit() (float64, int) {
	return s.Security.TokenRateLimit, s.Security.TokenRateBurst
}
