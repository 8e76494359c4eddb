package config

type TelemetryConfig interface {
	GetTelemetryEnabled() bool
	GetServiceName() string
	GetMetricsPath() string
}

type TelemetrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	MetricsPath string `yaml:"metrics_path"`
}

// GetTelemetryEnabled reports whether metrics are collected and served for scraping.
func (s *Settings) GetTelemetryEnabled() bool {
	return s.Telemetry.Enabled
}

func (s *Settings) GetServiceName() string {
	return s.Telemetry.ServiceName
}

func (s *Settings) GetMetricsPath() string {
	return s.Telemetry.MetricsPath
}
