package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// RefreshSecretBytes is the entropy of a refresh token secret.
const RefreshSecretBytes = 64

// NewRefreshSecret returns a hex-encoded secret from crypto/rand. It is handed
// to the client once and only its digest hash is stored.
func NewRefreshSecret() (string, error) {
	b := make([]byte, RefreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DigestRefreshSecret returns the hex SHA-256 of secret. The 64-character
// digest fits bcrypt's 72-byte input limit; the digest is what gets hashed.
func DigestRefreshSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// CodesEqual compares two OTP codes in constant time. Codes of different
// length never match.
func CodesEqual(submitted, stored string) bool {
	if len(submitted) != len(stored) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}
