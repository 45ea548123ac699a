// Package secret generates temporary credentials for new accounts.
package secret

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lower  = "abcdefghijklmnopqrstuvwxyz"
	digits = "0123456789"

	// Alphabet is every character a generated secret may contain. The
	// identity provider accepts all of them.
	Alphabet = upper + lower + digits

	// MinLength is the minimum number of random body characters.
	MinLength = 8
)

// Generator produces secrets of Length random alphanumerics followed by one
// uppercase letter, one lowercase letter and one digit. Output depends only
// on the bytes read from Source.
type Generator struct {
	source io.Reader
	length int
}

// Option customizes a Generator.
type Option func(*Generator)

// WithSource replaces crypto/rand as the randomness source.
func WithSource(r io.Reader) Option {
	return func(g *Generator) {
		if r != nil {
			g.source = r
		}
	}
}

// WithLength sets the body length; values below MinLength are raised to it.
func WithLength(n int) Option {
	return func(g *Generator) { g.length = max(n, MinLength) }
}

// New returns a Generator reading from crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{source: rand.Reader, length: MinLength}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate returns a fresh secret.
func (g *Generator) Generate() (string, error) {
	out := make([]byte, 0, g.length+3)
	for i := 0; i < g.length; i++ {
		c, err := g.pick(Alphabet)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for _, set := range []string{upper, lower, digits} {
		c, err := g.pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	return string(out), nil
}

// pick draws one character uniformly from set by rejecting bytes that
// would bias the modulo.
func (g *Generator) pick(set string) (byte, error) {
	n := len(set)
	limit := 256 - 256%n
	var b [1]byte
	for {
		if _, err := io.ReadFull(g.source, b[:]); err != nil {
			return 0, fmt.Errorf("secret: read random: %w", err)
		}
		if int(b[0]) < limit {
			return set[int(b[0])%n], nil
		}
	}
}
