package token

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jrsteele09/go-oauth-engine/internal/config"
)

// Kind identifies the credential a value is generated for. Each kind has its own length.
type Kind int

const (
	KindAuthorizationCode Kind = iota
	KindAccessToken
	KindRefreshToken
	KindClientSecret
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationCode:
		return "authorization_code"
	case KindAccessToken:
		return "access_token"
	case KindRefreshToken:
		return "refresh_token"
	case KindClientSecret:
		return "client_secret"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxByte is the largest multiple of len(alphabet) that fits in a byte. Bytes at or
// above it are discarded so every character is equally likely.
const maxByte = 256 - (256 % len(alphabet))

// Generator produces opaque credential values from a cryptographically secure source.
type Generator struct {
	lengths map[Kind]int
	reader  io.Reader
}

type GeneratorOption func(*Generator)

// WithReader replaces the random source. Tests use it to force failures.
func WithReader(r io.Reader) GeneratorOption {
	return func(g *Generator) {
		g.reader = r
	}
}

func WithLength(kind Kind, length int) GeneratorOption {
	return func(g *Generator) {
		g.lengths[kind] = length
	}
}

func NewGenerator(cfg config.OAuthConfig, opts ...GeneratorOption) *Generator {
	g := &Generator{
		lengths: map[Kind]int{
			KindAuthorizationCode: cfg.GetAuthCodeLength(),
			KindAccessToken:       cfg.GetAccessTokenLength(),
			KindRefreshToken:      cfg.GetRefreshTokenLength(),
			KindClientSecret:      cfg.GetClientSecretLength(),
		},
		reader: rand.Reader,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Length returns the number of characters generated for kind.
func (g *Generator) Length(kind Kind) int {
	return g.lengths[kind]
}

// Generate returns a random value for kind drawn from [A-Za-z0-9].
// A failing random source leaves the server unable to issue safe credentials, so it panics.
func (g *Generator) Generate(kind Kind) string {
	value, err := g.generate(g.lengths[kind])
	if err != nil {
		panic(fmt.Sprintf("token: generating %s: %v", kind, err))
	}
	return value
}

func (g *Generator) generate(length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := io.ReadFull(g.reader, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
