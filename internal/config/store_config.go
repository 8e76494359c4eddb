package config

import "time"

type StoreType string

const (
	StoreMemory   StoreType = "memory"
	StoreBolt     StoreType = "bolt"
	StoreSQLite   StoreType = "sqlite"
	StorePostgres StoreType = "postgres"
	StoreMySQL    StoreType = "mysql"
)

type StoreConfig interface {
	GetStoreType() StoreType
	GetStoreDSN() string
	GetStorePath() string
	GetReapInterval() time.Duration
}

type StoreSettings struct {
	Type         StoreType     `yaml:"type"`
	DSN          string        `yaml:"dsn"`
	Path         string        `yaml:"path"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

func (s *Settings) GetStoreType() StoreType {
	return s.Store.Type
}

func (s *Settings) GetStoreDSN() string {
	return s.Store.DSN
}

// GetStorePath is the bolt database file.
func (s *Settings) GetStorePath() string {
	return s.Store.Path
}

func (s *Settings) GetReapInterval() time.Duration {
	return s.Store.ReapInterval
}
