package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// refreshTokenBytes gives 256 bits of entropy (43 chars base64url).
const refreshTokenBytes = 32

// GenerateRefreshToken returns a random opaque refresh token.
func GenerateRefreshToken() (string, error) {
	return randomToken(refreshTokenBytes)
}

// RandomSecret returns a random URL-safe secret of n bytes. Used for guest passwords.
func RandomSecret(n int) (string, error) {
	return randomToken(n)
}

func randomToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Fingerprinter derives the stored form of refresh tokens.
// The raw token never reaches the store.
type Fingerprinter struct {
	key []byte
}

// NewFingerprinter keys the HMAC with secret.
func NewFingerprinter(secret string) *Fingerprinter {
	return &Fingerprinter{key: []byte(secret)}
}

// Fingerprint returns the hex HMAC-SHA256 of token (64 chars).
func (f *Fingerprinter) Fingerprint(token string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
