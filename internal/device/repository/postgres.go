package repository

import (
	"context"
	"time"

	"github.com/samber/oops"

	"credential-lifecycle/internal/db"
	"credential-lifecycle/internal/device/domain"
)

// PostgresRepository stores devices in devices and links in account_devices.
type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a device repository backed by conn.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// GetByFingerprint returns the device for fingerprint, or nil if it has never been seen.
func (r *PostgresRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Device, error) {
	var d domain.Device
	err := r.db.QueryRow(ctx, `SELECT id, fingerprint, name, blocked_at, blocked_until, block_count, forever_blocked, created_at
		FROM devices WHERE fingerprint = $1`, fingerprint).
		Scan(&d.ID, &d.Fingerprint, &d.Name, &d.BlockedAt, &d.BlockedUntil, &d.BlockCount, &d.ForeverBlocked, &d.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, oops.Code("DEVICE_LOOKUP_FAILED").Wrap(err)
	}
	return &d, nil
}

// Create inserts d and sets its ID. Returns ErrFingerprintTaken if the fingerprint exists.
func (r *PostgresRepository) Create(ctx context.Context, d *domain.Device) error {
	err := r.db.QueryRow(ctx, `INSERT INTO devices (fingerprint, name, created_at) VALUES ($1, $2, $3) RETURNING id`,
		d.Fingerprint, d.Name, d.CreatedAt).Scan(&d.ID)
	if db.IsUniqueViolation(err, "devices_fingerprint_key") {
		return ErrFingerprintTaken
	}
	return oops.Code("DEVICE_CREATE_FAILED").Wrap(err)
}

// GetLink returns the link between the account and device, or nil if they are not linked.
func (r *PostgresRepository) GetLink(ctx context.Context, accountID, deviceID int64) (*domain.Link, error) {
	var l domain.Link
	err := r.db.QueryRow(ctx, `SELECT account_id, device_id, created_at FROM account_devices
		WHERE account_id = $1 AND device_id = $2`, accountID, deviceID).
		Scan(&l.AccountID, &l.DeviceID, &l.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, oops.Code("DEVICE_LINK_LOOKUP_FAILED").Wrap(err)
	}
	return &l, nil
}

// CreateLink links the account to the device; an existing link is left untouched.
func (r *PostgresRepository) CreateLink(ctx context.Context, l *domain.Link) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_devices (account_id, device_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (account_id, device_id) DO NOTHING`, l.AccountID, l.DeviceID, l.CreatedAt)
	return oops.Code("DEVICE_LINK_FAILED").With("account_id", l.AccountID).Wrap(err)
}

// ApplyTimeBlock blocks the device until the given time and increments block_count in one statement.
func (r *PostgresRepository) ApplyTimeBlock(ctx context.Context, id int64, blockedAt, until time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE devices
		SET blocked_at = $2, blocked_until = $3, block_count = block_count + 1
		WHERE id = $1`, id, blockedAt, until)
	return oops.Code("DEVICE_BLOCK_FAILED").With("device_id", id).Wrap(err)
}

// SetForeverBlocked marks the device permanently blocked.
func (r *PostgresRepository) SetForeverBlocked(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE devices SET forever_blocked = TRUE, blocked_at = $2 WHERE id = $1`, id, at)
	return oops.Code("DEVICE_BLOCK_FAILED").With("device_id", id).Wrap(err)
}

// ClearTimeBlock removes a time-based block that has lapsed by now. A block
// that still runs past now is left alone. block_count is kept.
func (r *PostgresRepository) ClearTimeBlock(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE devices SET blocked_at = NULL, blocked_until = NULL
		WHERE id = $1 AND blocked_until IS NOT NULL AND blocked_until <= $2`, id, now)
	return oops.Code("DEVICE_UNBLOCK_FAILED").With("device_id", id).Wrap(err)
}
