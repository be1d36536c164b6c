package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-lifecycle/internal/token/domain"
)

func TestPostgresRepository_Rotate(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newToken := func() *domain.RefreshToken {
		return &domain.RefreshToken{
			AccountID: 7, DeviceFingerprint: "fp-1", TokenHash: "h",
			ExpiresAt: now.Add(14 * 24 * time.Hour), CreatedAt: now,
		}
	}
	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantID    int64
		wantErr   error
	}{
		{
			name: "revokes then inserts",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = \$3\s+WHERE account_id = \$1 AND device_fingerprint = \$2 AND NOT revoked AND expires_at > \$3`).
		WithArgs(int64(7), "fp-1", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectQuery(`INSERT INTO refresh_tokens`).
					WithArgs(int64(7), "fp-1", "h", now.Add(14*24*time.Hour), now).
					WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
				mock.ExpectCommit()
			},
			wantID: 21,
		},
		{
			name: "concurrent rotation",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE refresh_tokens SET revoked = TRUE`).WithArgs(int64(7), "fp-1", now).
					WillReturnResult(pgxmock.NewResult("UPDATE", 0))
				mock.ExpectQuery(`INSERT INTO refresh_tokens`).
					WithArgs(int64(7), "fp-1", "h", now.Add(14*24*time.Hour), now).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "refresh_tokens_one_active_idx"})
				mock.ExpectRollback()
			},
			wantErr: ErrActiveTokenExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMock(mock)

			tok := newToken()
			err = NewPostgresRepository(mock).Rotate(context.Background(), tok, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantID, tok.ID)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_ListByDevice(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"id", "account_id", "device_fingerprint", "token_hash", "expires_at", "revoked", "revoked_at", "created_at"}
	rows := pgxmock.NewRows(cols).
		AddRow(int64(2), int64(7), "fp-1", "h2", now.Add(time.Hour), false, (*time.Time)(nil), now).
		AddRow(int64(1), int64(8), "fp-1", "h1", now.Add(time.Hour), false, (*time.Time)(nil), now.Add(-time.Hour))
	mock.ExpectQuery(`FROM refresh_tokens WHERE device_fingerprint`).WithArgs("fp-1", false, 10).WillReturnRows(rows)

	got, err := NewPostgresRepository(mock).ListByDevice(context.Background(), "fp-1", false, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(8), got[1].AccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RevokeActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked = TRUE`).WithArgs(int64(7), "fp-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := NewPostgresRepository(mock).RevokeActive(context.Background(), 7, "fp-1", now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
