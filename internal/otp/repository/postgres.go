package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"credential-lifecycle/internal/db"
	"credential-lifecycle/internal/otp/domain"
)

const challengeColumns = `id, channel, address, code, action, status, attempts, device_fingerprint,
	expires_at, created_at, blocked_at, verified_at`

// PostgresRepository stores challenges in otp_challenges.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a challenge repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create inserts c as issued and sets its ID.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	err := r.db.QueryRow(ctx, `INSERT INTO otp_challenges
		(channel, address, code, action, status, attempts, device_fingerprint, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		string(c.Target.Channel), c.Target.Address, c.Code, string(c.Action), string(c.Status), c.Attempts,
		nullString(c.DeviceFingerprint), c.ExpiresAt, c.CreatedAt,
	).Scan(&c.ID)
	return oops.Code("OTP_CREATE_FAILED").Wrap(err)
}

// FindActive returns the newest pending, unexpired challenge for the address or device.
func (r *PostgresRepository) FindActive(ctx context.Context, target domain.Target, fingerprint string, now time.Time) (*domain.Challenge, error) {
	row := r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM otp_challenges
		WHERE status = 'pending' AND expires_at > $3
		  AND (address = $1 OR ($2 <> '' AND device_fingerprint = $2))
		ORDER BY created_at DESC, id DESC LIMIT 1`, target.Address, fingerprint, now)
	return r.one(row, "OTP_ACTIVE_LOOKUP_FAILED")
}

// Latest returns the newest challenge for the target regardless of status.
func (r *PostgresRepository) Latest(ctx context.Context, target domain.Target) (*domain.Challenge, error) {
	row := r.db.QueryRow(ctx, `SELECT `+challengeColumns+` FROM otp_challenges
		WHERE channel = $1 AND address = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`, string(target.Channel), target.Address)
	return r.one(row, "OTP_LOOKUP_FAILED")
}

// CountIssuedSince counts challenges issued since the window start for the email, phone or device.
func (r *PostgresRepository) CountIssuedSince(ctx context.Context, email, phone, fingerprint string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM otp_challenges
		WHERE created_at >= $4
		  AND (($1 <> '' AND address = $1) OR ($2 <> '' AND address = $2) OR ($3 <> '' AND device_fingerprint = $3))`,
		email, phone, fingerprint, since).Scan(&n)
	if err != nil {
		return 0, oops.Code("OTP_COUNT_FAILED").Wrap(err)
	}
	return n, nil
}

// ReserveAttempt bumps the attempt counter of a pending challenge still below
// max and returns the new count. When no row qualifies, the current status
// decides between ErrAttemptsExhausted and ErrNotPending.
func (r *PostgresRepository) ReserveAttempt(ctx context.Context, id int64, max int) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `UPDATE otp_challenges SET attempts = attempts + 1
		WHERE id = $1 AND status = 'pending' AND attempts < $2 RETURNING attempts`, id, max).Scan(&attempts)
	if err == nil {
		return attempts, nil
	}
	if !db.IsNoRows(err) {
		return 0, oops.Code("OTP_ATTEMPT_FAILED").With("challenge_id", id).Wrap(err)
	}
	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM otp_challenges WHERE id = $1`, id).Scan(&status)
	switch {
	case db.IsNoRows(err):
		return 0, ErrNotPending
	case err != nil:
		return 0, oops.Code("OTP_ATTEMPT_FAILED").With("challenge_id", id).Wrap(err)
	case domain.Status(status) == domain.StatusPending || domain.Status(status) == domain.StatusBlocked:
		return 0, ErrAttemptsExhausted
	}
	return 0, ErrNotPending
}

// Transition moves a pending challenge to a terminal status, stamping blocked_at or verified_at.
func (r *PostgresRepository) Transition(ctx context.Context, id int64, to domain.Status, at time.Time) (bool, error) {
	if !to.Terminal() {
		return false, errors.New("otp: transition target must be terminal")
	}
	tag, err := r.db.Exec(ctx, `UPDATE otp_challenges SET status = $2,
		blocked_at = CASE WHEN $2 = 'blocked' THEN $3 ELSE blocked_at END,
		verified_at = CASE WHEN $2 = 'verified' THEN $3 ELSE verified_at END
		WHERE id = $1 AND status = 'pending'`, id, string(to), at)
	if err != nil {
		return false, oops.Code("OTP_TRANSITION_FAILED").With("challenge_id", id).With("to", to).Wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStale marks pending challenges past their expiry as expired.
func (r *PostgresRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE otp_challenges SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("OTP_SWEEP_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) one(row pgx.Row, code string) (*domain.Challenge, error) {
	var c domain.Challenge
	var channel, action, status string
	var fingerprint *string
	err := row.Scan(&c.ID, &channel, &c.Target.Address, &c.Code, &action, &status, &c.Attempts, &fingerprint,
		&c.ExpiresAt, &c.CreatedAt, &c.BlockedAt, &c.VerifiedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, oops.Code(code).Wrap(err)
	}
	c.Target.Channel = domain.Channel(channel)
	c.Action = domain.Action(action)
	c.Status = domain.Status(status)
	if fingerprint != nil {
		c.DeviceFingerprint = *fingerprint
	}
	return &c, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
