package config

// SeedClient registers a client at start-up. Secret may be a bcrypt hash or a plain value.
type SeedClient struct {
	ID           string   `yaml:"id"`
	Secret       string   `yaml:"secret"`
	Description  string   `yaml:"description"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
}

// SeedUser registers a user at start-up. Password is hashed before it is stored.
type SeedUser struct {
	ID       string `yaml:"id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type SeedSettings struct {
	Clients []SeedClient `yaml:"clients"`
	Users   []SeedUser   `yaml:"users"`
}

type SeedConfig interface {
	GetSeedClients() []SeedClient
	GetSeedUsers() []SeedUser
}

func (s *Settings) GetSeedClients() []SeedClient {
	return s.Seed.Clients
}

func (s *Settings) GetSeedUsers() []SeedUser {
	return s.Seed.Users
}
