package postgres

import (
	"context"
	"errors"
	"fmt"

	"credential_service/internal/models"
	"credential_service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Storage) SaveSession(ctx context.Context, sess models.Session) error {
	const op = "storage.postgres.SaveSession"

	const query = `
		INSERT INTO sessions (account_id, token_hash, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, sess.AccountID, sess.TokenHash, sess.ExpiresAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) Session(ctx context.Context, accountID uuid.UUID) (models.Session, error) {
	const op = "storage.postgres.Session"

	const query = `
		SELECT account_id, token_hash, expires_at, updated_at
		FROM sessions
		WHERE account_id = $1
	`

	var sess models.Session

	err := s.pool.QueryRow(ctx, query, accountID).Scan(
		&sess.AccountID,
		&sess.TokenHash,
		&sess.ExpiresAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, storage.ErrSessionNotFound
		}

		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return sess, nil
}

// * SwapSession - compare-and-set по дайджесту: из двух параллельных ротаций строку обновит только одна
func (s *Storage) SwapSession(ctx context.Context, accountID uuid.UUID, oldHash []byte, next models.Session) (bool, error) {
	const op = "storage.postgres.SwapSession"

	const query = `
		UPDATE sessions
		SET token_hash = $3, expires_at = $4, updated_at = $5
		WHERE account_id = $1 AND token_hash = $2
	`

	tag, err := s.pool.Exec(ctx, query, accountID, oldHash, next.TokenHash, next.ExpiresAt, next.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Storage) DeleteSession(ctx context.Context, accountID uuid.UUID) error {
	const op = "storage.postgres.DeleteSession"

	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
