package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"credential_service/internal/models"
	"credential_service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	accountCols = []string{"id", "full_name", "email", "password_hash", "is_verified", "role", "created_at"}
	otpCols     = []string{"id", "account_id", "purpose", "code_hash", "created_at", "expires_at"}
)

func newMock(t *testing.T) (*Storage, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)

	return NewWithPool(mock), mock
}

func TestStorage_SaveAccount(t *testing.T) {
	acc := models.Account{
		ID:        uuid.New(),
		FullName:  "Test User",
		Email:     "a@x.com",
		PassHash:  []byte("hash"),
		Role:      models.RoleOccupant,
		CreatedAt: time.Now().UTC(),
	}

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
		anyErr    bool
	}{
		{
			name: "success",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO accounts`).
					WithArgs(acc.ID, acc.FullName, acc.Email, acc.PassHash, false, "occupant", acc.CreatedAt).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "unique violation",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO accounts`).
					WithArgs(acc.ID, acc.FullName, acc.Email, acc.PassHash, false, "occupant", acc.CreatedAt).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr: storage.ErrUserExists,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO accounts`).
					WithArgs(acc.ID, acc.FullName, acc.Email, acc.PassHash, false, "occupant", acc.CreatedAt).
					WillReturnError(errors.New("connection refused"))
			},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			tt.setupMock(mock)

			err := s.SaveAccount(context.Background(), acc)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				require.Error(t, err)
				assert.NotErrorIs(t, err, storage.ErrUserExists)
			default:
				require.NoError(t, err)
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_AccountByEmail(t *testing.T) {
	id := uuid.New()
	created := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		s, mock := newMock(t)

		rows := pgxmock.NewRows(accountCols).
			AddRow(id.String(), "Test User", "a@x.com", []byte("hash"), true, "admin", created)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE LOWER\(email\) = LOWER\(\$1\)`).
			WithArgs("a@x.com").
			WillReturnRows(rows)

		acc, err := s.AccountByEmail(context.Background(), "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, id, acc.ID)
		assert.Equal(t, models.RoleAdmin, acc.Role)
		assert.True(t, acc.IsVerified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery(`SELECT .+ FROM accounts`).
			WithArgs("nobody@x.com").
			WillReturnRows(pgxmock.NewRows(accountCols))

		_, err := s.AccountByEmail(context.Background(), "nobody@x.com")
		require.ErrorIs(t, err, storage.ErrUserNotFound)
	})
}

func TestStorage_AccountByID_NotFound(t *testing.T) {
	s, mock := newMock(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(accountCols))

	_, err := s.AccountByID(context.Background(), id)
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestStorage_AccountUpdates(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	s, mock := newMock(t)

	mock.ExpectExec(`UPDATE accounts SET is_verified = TRUE`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE accounts SET password_hash`).
		WithArgs(id, []byte("new")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE accounts SET is_verified = TRUE`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SetEmailVerified(ctx, id))
	require.NoError(t, s.UpdatePassword(ctx, id, []byte("new")))
	require.ErrorIs(t, s.SetEmailVerified(ctx, id), storage.ErrUserNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ReplaceOTPIfOlder(t *testing.T) {
	now := time.Now().UTC()
	rec := models.OTPRecord{
		ID:        uuid.New(),
		AccountID: uuid.New(),
		Purpose:   models.PurposeVerifyEmail,
		CodeHash:  []byte("hash"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	notAfter := now.Add(-30 * time.Second)

	t.Run("replaced", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery(`INSERT INTO otp_codes .+ ON CONFLICT .+ WHERE .+ RETURNING id`).
			WithArgs(rec.ID, rec.AccountID, "verify-email", rec.CodeHash, rec.CreatedAt, rec.ExpiresAt, notAfter).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(rec.ID.String()))

		replaced, _, err := s.ReplaceOTPIfOlder(context.Background(), rec, notAfter)
		require.NoError(t, err)
		assert.True(t, replaced)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked by fresh record", func(t *testing.T) {
		s, mock := newMock(t)

		blockingID := uuid.New()
		blockingAt := now.Add(-5 * time.Second)

		mock.ExpectQuery(`INSERT INTO otp_codes`).
			WithArgs(rec.ID, rec.AccountID, "verify-email", rec.CodeHash, rec.CreatedAt, rec.ExpiresAt, notAfter).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))
		mock.ExpectQuery(`SELECT .+ FROM otp_codes WHERE account_id = \$1 AND purpose = \$2`).
			WithArgs(rec.AccountID, "verify-email").
			WillReturnRows(pgxmock.NewRows(otpCols).
				AddRow(blockingID.String(), rec.AccountID.String(), "verify-email", []byte("old"), blockingAt, blockingAt.Add(time.Hour)))

		replaced, current, err := s.ReplaceOTPIfOlder(context.Background(), rec, notAfter)
		require.NoError(t, err)
		assert.False(t, replaced)
		assert.Equal(t, blockingID, current.ID)
		assert.Equal(t, blockingAt, current.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_OTPs(t *testing.T) {
	s, mock := newMock(t)
	accountID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .+ FROM otp_codes WHERE account_id = \$1 AND purpose = ANY\(\$2\)`).
		WithArgs(accountID, []string{"verify-email", "reset-password"}).
		WillReturnRows(pgxmock.NewRows(otpCols).
			AddRow(uuid.NewString(), accountID.String(), "verify-email", []byte("a"), now, now.Add(time.Hour)).
			AddRow(uuid.NewString(), accountID.String(), "reset-password", []byte("b"), now, now.Add(time.Hour)))

	recs, err := s.OTPs(context.Background(), accountID, []models.Purpose{models.PurposeVerifyEmail, models.PurposeResetPassword})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.PurposeResetPassword, recs[1].Purpose)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_DeleteExpiredOTPs(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(`DELETE FROM otp_codes WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := s.DeleteExpiredOTPs(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStorage_DeleteOTP(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"deleted", 1, true},
		{"already gone", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			id := uuid.New()

			mock.ExpectExec(`DELETE FROM otp_codes WHERE id = \$1`).
				WithArgs(id).
				WillReturnResult(pgxmock.NewResult("DELETE", tt.affected))

			deleted, err := s.DeleteOTP(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, deleted)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_SwapSession(t *testing.T) {
	accountID := uuid.New()
	next := models.Session{
		AccountID: accountID,
		TokenHash: []byte("new"),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"digest matches", 1, true},
		{"digest changed", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)

			mock.ExpectExec(`UPDATE sessions .+ WHERE account_id = \$1 AND token_hash = \$2`).
				WithArgs(accountID, []byte("old"), next.TokenHash, next.ExpiresAt, next.UpdatedAt).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			swapped, err := s.SwapSession(context.Background(), accountID, []byte("old"), next)
			require.NoError(t, err)
			assert.Equal(t, tt.want, swapped)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStorage_Session_NotFound(t *testing.T) {
	s, mock := newMock(t)
	accountID := uuid.New()

	mock.ExpectQuery(`SELECT account_id, token_hash, expires_at, updated_at`).
		WithArgs(accountID).
		WillReturnRows(pgxmock.NewRows([]string{"account_id", "token_hash", "expires_at", "updated_at"}))

	_, err := s.Session(context.Background(), accountID)
	require.ErrorIs(t, err, storage.ErrSessionNotFound)
}
