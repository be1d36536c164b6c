package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"credential-lifecycle/internal/audit/domain"
	"credential-lifecycle/internal/db"
)

// PostgresRepository stores password audits in password_audits.
type PostgresRepository struct {
	pool db.Pool
}

// NewPostgresRepository returns an audit repository backed by pool.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Latest returns the record with the highest change_count for the account.
func (r *PostgresRepository) Latest(ctx context.Context, accountID int64) (*domain.PasswordAudit, error) {
	var a domain.PasswordAudit
	var action string
	var phone *string
	err := r.pool.QueryRow(ctx, `SELECT id, account_id, action, change_count, changed_at, period_end, device_fingerprint,
		email, phone, email_verified, phone_verified, name, birth_date
		FROM password_audits WHERE account_id = $1
		ORDER BY change_count DESC LIMIT 1`, accountID).
		Scan(&a.ID, &a.AccountID, &action, &a.ChangeCount, &a.ChangedAt, &a.PeriodEnd, &a.DeviceFingerprint,
			&a.Email, &phone, &a.EmailVerified, &a.PhoneVerified, &a.Name, &a.BirthDate)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, oops.Code("AUDIT_LOOKUP_FAILED").With("account_id", accountID).Wrap(err)
	}
	a.Action = domain.Action(action)
	if phone != nil {
		a.Phone = *phone
	}
	return &a, nil
}

// ChangePassword updates accounts.password_hash and inserts rec together.
func (r *PostgresRepository) ChangePassword(ctx context.Context, accountID int64, passwordHash string, rec *domain.PasswordAudit) error {
	rec.AccountID = accountID
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			accountID, passwordHash, rec.ChangedAt)
		if err != nil {
			return oops.Code("PASSWORD_UPDATE_FAILED").With("account_id", accountID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.Code("PASSWORD_UPDATE_FAILED").With("account_id", accountID).Wrap(errors.New("account not found"))
		}
		var phone *string
		if rec.Phone != "" {
			phone = &rec.Phone
		}
		err = tx.QueryRow(ctx, `INSERT INTO password_audits
			(account_id, action, change_count, changed_at, period_end, device_fingerprint,
			 email, phone, email_verified, phone_verified, name, birth_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id`,
			accountID, string(rec.Action), rec.ChangeCount, rec.ChangedAt, rec.PeriodEnd, rec.DeviceFingerprint,
			rec.Email, phone, rec.EmailVerified, rec.PhoneVerified, rec.Name, rec.BirthDate,
		).Scan(&rec.ID)
		if db.IsUniqueViolation(err, "password_audits_account_change_key") {
			return ErrChangeConflict
		}
		return oops.Code("AUDIT_INSERT_FAILED").With("account_id", accountID).Wrap(err)
	})
}
