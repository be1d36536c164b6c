package domain

import "time"

// RefreshToken is the stored form of a refresh token. TokenHash is a bcrypt
// hash of the secret's digest; the raw secret is never stored.
type RefreshToken struct {
	ID                int64
	AccountID         int64
	DeviceFingerprint string
	TokenHash         string
	ExpiresAt         time.Time
	Revoked           bool
	RevokedAt         *time.Time
	CreatedAt         time.Time
}

// Active reports whether the token is neither revoked nor expired at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
