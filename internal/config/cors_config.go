package config

type CorsConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
}

type CorsSettings struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

func (s *Settings) GetAllowedOrigins() []string {
	return s.Cors.AllowedOrigins
}

func (s *Settings) GetAllowedMethods() []string {
	return []string{"GET", "POST", "OPTIONS"}
}

func (s *Settings) GetAllowedHeaders() []string {
	return []string{"Content-Type", "Authorization"}
}
