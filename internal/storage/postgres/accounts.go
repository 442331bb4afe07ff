package postgres

import (
	"context"
	"errors"
	"fmt"

	"credential_service/internal/models"
	"credential_service/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const accountColumns = `id, full_name, email, password_hash, is_verified, role, created_at`

func (s *Storage) SaveAccount(ctx context.Context, acc models.Account) error {
	const op = "storage.postgres.SaveAccount"

	const query = `
		INSERT INTO accounts (id, full_name, email, password_hash, is_verified, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		acc.ID,
		acc.FullName,
		acc.Email,
		acc.PassHash,
		acc.IsVerified,
		string(acc.Role),
		acc.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return storage.ErrUserExists
		}

		return fmt.Errorf("%s: failed to save account: %w", op, err)
	}

	return nil
}

func (s *Storage) AccountByEmail(ctx context.Context, email string) (models.Account, error) {
	const op = "storage.postgres.AccountByEmail"

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(email) = LOWER($1)`

	acc, err := scanAccount(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, storage.ErrUserNotFound
		}

		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

func (s *Storage) AccountByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const op = "storage.postgres.AccountByID"

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, storage.ErrUserNotFound
		}

		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	return acc, nil
}

func (s *Storage) SetEmailVerified(ctx context.Context, id uuid.UUID) error {
	const op = "storage.postgres.SetEmailVerified"

	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET is_verified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (s *Storage) UpdatePassword(ctx context.Context, id uuid.UUID, passHash []byte) error {
	const op = "storage.postgres.UpdatePassword"

	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, id, passHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var (
		acc  models.Account
		role string
	)

	err := row.Scan(
		&acc.ID,
		&acc.FullName,
		&acc.Email,
		&acc.PassHash,
		&acc.IsVerified,
		&role,
		&acc.CreatedAt,
	)
	if err != nil {
		return models.Account{}, err
	}

	acc.Role = models.Role(role)

	return acc, nil
}
