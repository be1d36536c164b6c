package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"credential-lifecycle/internal/db"
	"credential-lifecycle/internal/token/domain"
)

// PostgresRepository stores refresh tokens in refresh_tokens.
type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository returns a refresh token repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Rotate revokes the pair's active tokens and inserts t in one transaction. The
// partial unique index refresh_tokens_one_active_idx turns a lost race into ErrActiveTokenExists.
func (r *PostgresRepository) Rotate(ctx context.Context, t *domain.RefreshToken, at time.Time) error {
	err := db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3
			WHERE account_id = $1 AND device_fingerprint = $2 AND NOT revoked`,
			t.AccountID, t.DeviceFingerprint, at); err != nil {
			return oops.Code("REFRESH_REVOKE_FAILED").Wrap(err)
		}
		err := tx.QueryRow(ctx, `INSERT INTO refresh_tokens (account_id, device_fingerprint, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			t.AccountID, t.DeviceFingerprint, t.TokenHash, t.ExpiresAt, t.CreatedAt).Scan(&t.ID)
		if db.IsUniqueViolation(err, "refresh_tokens_one_active_idx") {
			return ErrActiveTokenExists
		}
		return oops.Code("REFRESH_INSERT_FAILED").Wrap(err)
	})
	if err != nil {
		return err
	}
	t.Revoked = false
	t.RevokedAt = nil
	return nil
}

// ListByDevice returns the device's tokens with the given revoked flag, newest first.
func (r *PostgresRepository) ListByDevice(ctx context.Context, fingerprint string, revoked bool, limit int) ([]*domain.RefreshToken, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, device_fingerprint, token_hash, expires_at, revoked, revoked_at, created_at
		FROM refresh_tokens WHERE device_fingerprint = $1 AND revoked = $2
		ORDER BY created_at DESC, id DESC LIMIT $3`, fingerprint, revoked, limit)
	if err != nil {
		return nil, oops.Code("REFRESH_LIST_FAILED").Wrap(err)
	}
	defer rows.Close()
	var out []*domain.RefreshToken
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(&t.ID, &t.AccountID, &t.DeviceFingerprint, &t.TokenHash, &t.ExpiresAt,
			&t.Revoked, &t.RevokedAt, &t.CreatedAt); err != nil {
			return nil, oops.Code("REFRESH_LIST_FAILED").Wrap(err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("REFRESH_LIST_FAILED").Wrap(err)
	}
	return out, nil
}

// RevokeActive revokes the pair's unrevoked tokens that are still live at at.
func (r *PostgresRepository) RevokeActive(ctx context.Context, accountID int64, fingerprint string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $3
		WHERE account_id = $1 AND device_fingerprint = $2 AND NOT revoked AND expires_at > $3`, accountID, fingerprint, at)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_FAILED").With("account_id", accountID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}
