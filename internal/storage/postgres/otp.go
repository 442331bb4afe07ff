package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential_service/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const otpColumns = `id, account_id, purpose, code_hash, created_at, expires_at`

// * SaveOTP вставляет код; существующая запись с тем же назначением перезаписывается
func (s *Storage) SaveOTP(ctx context.Context, rec models.OTPRecord) error {
	const op = "storage.postgres.SaveOTP"

	const query = `
		INSERT INTO otp_codes (id, account_id, purpose, code_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, purpose) DO UPDATE
		SET id = EXCLUDED.id,
		    code_hash = EXCLUDED.code_hash,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
	`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.AccountID,
		string(rec.Purpose),
		rec.CodeHash,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * ReplaceOTPIfOlder - условный upsert: конфликтующая строка обновляется, только если
// она создана не позже notAfter или уже истекла. Иначе RETURNING ничего не вернет.
func (s *Storage) ReplaceOTPIfOlder(ctx context.Context, rec models.OTPRecord, notAfter time.Time) (bool, models.OTPRecord, error) {
	const op = "storage.postgres.ReplaceOTPIfOlder"

	const query = `
		INSERT INTO otp_codes (id, account_id, purpose, code_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, purpose) DO UPDATE
		SET id = EXCLUDED.id,
		    code_hash = EXCLUDED.code_hash,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at
		WHERE otp_codes.created_at <= $7 OR otp_codes.expires_at < $5
		RETURNING id
	`

	var id uuid.UUID

	err := s.pool.QueryRow(ctx, query,
		rec.ID,
		rec.AccountID,
		string(rec.Purpose),
		rec.CodeHash,
		rec.CreatedAt,
		rec.ExpiresAt,
		notAfter,
	).Scan(&id)
	if err == nil {
		return true, models.OTPRecord{}, nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return false, models.OTPRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	selectQuery := `SELECT ` + otpColumns + ` FROM otp_codes WHERE account_id = $1 AND purpose = $2`

	current, err := scanOTP(s.pool.QueryRow(ctx, selectQuery, rec.AccountID, string(rec.Purpose)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// мешающую запись успели удалить; вызывающий получит минимальное ожидание
			return false, models.OTPRecord{}, nil
		}

		return false, models.OTPRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	return false, current, nil
}

func (s *Storage) OTPs(ctx context.Context, accountID uuid.UUID, purposes []models.Purpose) ([]models.OTPRecord, error) {
	const op = "storage.postgres.OTPs"

	names := make([]string, 0, len(purposes))
	for _, p := range purposes {
		names = append(names, string(p))
	}

	query := `SELECT ` + otpColumns + ` FROM otp_codes WHERE account_id = $1 AND purpose = ANY($2)`

	rows, err := s.pool.Query(ctx, query, accountID, names)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var recs []models.OTPRecord

	for rows.Next() {
		rec, err := scanOTP(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

// * DeleteOTP удаляет запись по id. Из двух параллельных удалений строку получает только одно.
func (s *Storage) DeleteOTP(ctx context.Context, id uuid.UUID) (bool, error) {
	const op = "storage.postgres.DeleteOTP"

	tag, err := s.pool.Exec(ctx, `DELETE FROM otp_codes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Storage) DeleteOTPs(ctx context.Context, accountID uuid.UUID, purpose models.Purpose) error {
	const op = "storage.postgres.DeleteOTPs"

	_, err := s.pool.Exec(ctx, `DELETE FROM otp_codes WHERE account_id = $1 AND purpose = $2`, accountID, string(purpose))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.postgres.DeleteExpiredOTPs"

	tag, err := s.pool.Exec(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func scanOTP(row pgx.Row) (models.OTPRecord, error) {
	var (
		rec     models.OTPRecord
		purpose string
	)

	err := row.Scan(
		&rec.ID,
		&rec.AccountID,
		&purpose,
		&rec.CodeHash,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		return models.OTPRecord{}, err
	}

	rec.Purpose = models.Purpose(purpose)

	return rec, nil
}
