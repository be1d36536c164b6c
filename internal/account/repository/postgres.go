package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"credential-lifecycle/internal/account/domain"
	"credential-lifecycle/internal/db"
)

const accountColumns = `id, public_id::text, email, phone, password_hash, name, birth_date,
	email_verified, phone_verified, blocked_at, blocked_until, block_count, forever_blocked,
	created_at, updated_at`

// PostgresRepository stores accounts in the accounts table.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an account repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

func (r *PostgresRepository) getOne(ctx context.Context, column string, arg any) (*domain.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+column+` = $1`, arg)
	a, err := scanAccount(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").With("column", column).Wrap(err)
	}
	return a, nil
}

// GetByID returns the account with the given internal id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return r.getOne(ctx, "id", id)
}

// GetByPublicID returns the account with the given public id, or nil if not found.
func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*domain.Account, error) {
	return r.getOne(ctx, "public_id::text", publicID)
}

// GetByEmail returns the account with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, "email", email)
}

// GetByPhone returns the account with the given phone, or nil if not found.
func (r *PostgresRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	if phone == "" {
		return nil, nil
	}
	return r.getOne(ctx, "phone", phone)
}

// Create inserts a and sets its ID. Returns ErrEmailTaken or ErrPhoneTaken on conflicts.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	err := r.db.QueryRow(ctx, `INSERT INTO accounts
		(public_id, email, phone, password_hash, name, birth_date, email_verified, phone_verified, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		a.PublicID, a.Email, nullString(a.Phone), a.PasswordHash, a.Name, a.BirthDate,
		a.EmailVerified, a.PhoneVerified, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "accounts_email_key"):
		return ErrEmailTaken
	case db.IsUniqueViolation(err, "accounts_phone_key"):
		return ErrPhoneTaken
	default:
		return oops.Code("ACCOUNT_CREATE_FAILED").Wrap(err)
	}
}

// ApplyTimeBlock blocks the account until the given time and increments block_count in one statement.
func (r *PostgresRepository) ApplyTimeBlock(ctx context.Context, id int64, blockedAt, until time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts
		SET blocked_at = $2, blocked_until = $3, block_count = block_count + 1, updated_at = $2
		WHERE id = $1`, id, blockedAt, until)
	return oops.Code("ACCOUNT_BLOCK_FAILED").With("account_id", id).Wrap(err)
}

// SetForeverBlocked marks the account permanently blocked.
func (r *PostgresRepository) SetForeverBlocked(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts
		SET forever_blocked = TRUE, blocked_at = $2, updated_at = $2
		WHERE id = $1`, id, at)
	return oops.Code("ACCOUNT_BLOCK_FAILED").With("account_id", id).Wrap(err)
}

// ClearTimeBlock removes a time-based block that has lapsed by now. A block
// that still runs past now is left alone. block_count is kept.
func (r *PostgresRepository) ClearTimeBlock(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE accounts SET blocked_at = NULL, blocked_until = NULL
		WHERE id = $1 AND blocked_until IS NOT NULL AND blocked_until <= $2`, id, now)
	return oops.Code("ACCOUNT_UNBLOCK_FAILED").With("account_id", id).Wrap(err)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var phone *string
	err := row.Scan(&a.ID, &a.PublicID, &a.Email, &phone, &a.PasswordHash, &a.Name, &a.BirthDate,
		&a.EmailVerified, &a.PhoneVerified, &a.BlockedAt, &a.BlockedUntil, &a.BlockCount, &a.ForeverBlocked,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		a.Phone = *phone
	}
	return &a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
