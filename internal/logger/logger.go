// Package logger builds the zap logger and masks PII before it reaches log fields.
package logger

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger when env is "production" and a console
// development logger otherwise.
func New(env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

var (
	emailRe = regexp.MustCompile(`^([^@]{1,3})[^@]*(@.+)$`)
	phoneRe = regexp.MustCompile(`^(\+?\d{1,3})(\d{4,})(\d{4})$`)
)

// MaskEmail keeps the first three characters and the domain.
// john.doe@example.com -> joh***@example.com
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}
	if m := emailRe.FindStringSubmatch(email); len(m) == 3 {
		return m[1] + "***" + m[2]
	}
	if parts := strings.SplitN(email, "@", 2); len(parts) == 2 {
		return "***@" + parts[1]
	}
	return "***"
}

// MaskPhone keeps the country code and the last four digits.
// +1234567890 -> +12***7890
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if m := phoneRe.FindStringSubmatch(phone); len(m) == 4 {
		return m[1] + "***" + m[3]
	}
	if len(phone) > 4 {
		return "***" + phone[len(phone)-4:]
	}
	return "***"
}

// MaskTarget masks an OTP target that is either an email or a phone number.
func MaskTarget(address string) string {
	if strings.Contains(address, "@") {
		return MaskEmail(address)
	}
	return MaskPhone(address)
}

// MaskFingerprint keeps a short prefix of a device fingerprint.
func MaskFingerprint(fp string) string {
	if len(fp) <= 6 {
		return fp
	}
	return fp[:6] + "…"
}
