package telegram

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const (
	secretAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	secretLength     = 32
	minNormalizedLen = 8
	maxSecretLen     = 256
)

var (
	secretPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	secretStripper = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// IsValidSecret reports whether Telegram accepts s as a webhook secret token.
func IsValidSecret(s string) bool {
	return len(s) >= 1 && len(s) <= maxSecretLen && secretPattern.MatchString(s)
}

// NormalizeSecret maps base64 characters to the allowed set and drops the rest.
func NormalizeSecret(s string) string {
	s = strings.ReplaceAll(s, "+", "P")
	s = strings.ReplaceAll(s, "/", "S")
	s = strings.ReplaceAll(s, "=", "")
	return secretStripper.ReplaceAllString(s, "")
}

// GenerateSecret returns a random 32 character secret.
func GenerateSecret() string {
	b := make([]byte, secretLength)
	limit := big.NewInt(int64(len(secretAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(err)
		}
		b[i] = secretAlphabet[n.Int64()]
	}
	return string(b)
}

// ValidSecret keeps a usable secret, repairs one that normalizes to at
// least 8 characters, and otherwise generates a new one.
func ValidSecret(current string) string {
	if current == "" {
		return GenerateSecret()
	}
	if IsValidSecret(current) {
		return current
	}
	if n := NormalizeSecret(current); len(n) >= minNormalizedLen {
		if len(n) > maxSecretLen {
			n = n[:maxSecretLen]
		}
		return n
	}
	return GenerateSecret()
}
