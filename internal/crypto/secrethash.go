// Package crypto implements server-side credential hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	scheme  = "argon2id"
	saltLen = 16
	keyLen  = 32
)

// Params are the Argon2id cost parameters.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultParams are tuned for server-side hashing.
var DefaultParams = Params{Time: 3, Memory: 64 * 1024, Threads: 1}

// ErrMalformedHash is returned for encoded hashes that do not parse.
var ErrMalformedHash = errors.New("malformed secret hash")

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashSecret returns a self-describing encoded hash:
// argon2id$t=3,m=65536,p=1$<salt>$<key>.
func HashSecret(secret string, p Params) (string, error) {
	salt, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, keyLen)
	enc := base64.RawStdEncoding
	return fmt.Sprintf("%s$t=%d,m=%d,p=%d$%s$%s",
		scheme, p.Time, p.Memory, p.Threads, enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifySecret checks secret against an encoded hash in constant time.
func VerifySecret(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != scheme {
		return false, ErrMalformedHash
	}
	var p Params
	if _, err := fmt.Sscanf(parts[1], "t=%d,m=%d,p=%d", &p.Time, &p.Memory, &p.Threads); err != nil {
		return false, ErrMalformedHash
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[2])
	if err != nil {
		return false, ErrMalformedHash
	}
	want, err := enc.DecodeString(parts[3])
	if err != nil {
		return false, ErrMalformedHash
	}
	got := argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
