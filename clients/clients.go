package clients

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Client is a confidential client: every grant authenticates it with its secret.
type Client struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Secret       string   `json:"secret"` // bcrypt hash or opaque value
	RedirectURIs []string `json:"redirectURIs"`
	Scopes       []string `json:"scopes"` // Allowed scopes for this client
}

// HasRedirectURI reports whether uri exactly matches one of the registered redirect URIs.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// VerifySecret checks secret against the stored value. Stored bcrypt hashes are compared
// with bcrypt; anything else is compared in constant time.
func (c *Client) VerifySecret(secret string) bool {
	if c.Secret == "" || secret == "" {
		return false
	}
	if isBcryptHash(c.Secret) {
		return bcrypt.CompareHashAndPassword([]byte(c.Secret), []byte(secret)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// HashSecret returns the bcrypt hash stored in place of a plain client secret. A secret
// that is already a bcrypt hash is returned unchanged.
func HashSecret(secret string) (string, error) {
	if isBcryptHash(secret) {
		return secret, nil
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}
