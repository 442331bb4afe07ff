package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	sl "credential_service/internal/lib/logger"
	"credential_service/internal/metrics"
	"credential_service/internal/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("otp not found")
	ErrExpired        = errors.New("otp expired")
	ErrMismatch       = errors.New("otp mismatch")
	ErrRateLimited    = errors.New("otp requested too often")
	ErrInvalidPurpose = errors.New("invalid otp purpose")
)

// RateLimitError сообщает, через сколько можно запросить новый код.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited, e.RetryAfterSeconds())
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// * RetryAfterSeconds округляет ожидание вверх, минимум 1 секунда
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}

	return secs
}

type Store interface {
	// SaveOTP заменяет запись с тем же (account, purpose), если она есть.
	SaveOTP(ctx context.Context, rec models.OTPRecord) error
	// ReplaceOTPIfOlder заменяет запись, только если существующая создана не позже notAfter
	// или уже истекла. Если замена не прошла, возвращает мешающую запись.
	ReplaceOTPIfOlder(ctx context.Context, rec models.OTPRecord, notAfter time.Time) (replaced bool, current models.OTPRecord, err error)
	// OTPs возвращает записи аккаунта по указанным назначениям, не больше одной на назначение.
	OTPs(ctx context.Context, accountID uuid.UUID, purposes []models.Purpose) ([]models.OTPRecord, error)
	// DeleteOTP удаляет запись по id. false значит, что записи уже нет.
	DeleteOTP(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteOTPs(ctx context.Context, accountID uuid.UUID, purpose models.Purpose) error
	DeleteExpiredOTPs(ctx context.Context, now time.Time) (int64, error)
}

type Hasher interface {
	Hash(secret string) ([]byte, error)
	Verify(secret string, digest []byte) bool
}

type Generator interface {
	Generate() (string, error)
}

type Manager struct {
	log    *slog.Logger
	store  Store
	hasher Hasher
	gen    Generator
	now    func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(log *slog.Logger, store Store, hasher Hasher, gen Generator, opts ...Option) *Manager {
	m := &Manager{
		log:    log,
		store:  store,
		hasher: hasher,
		gen:    gen,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// * Create генерирует код, сохраняет его хеш и возвращает код в открытом виде для доставки
func (m *Manager) Create(ctx context.Context, accountID uuid.UUID, purpose models.Purpose, ttl time.Duration) (string, error) {
	const op = "otp.Create"

	code, rec, err := m.newRecord(accountID, purpose, ttl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if err := m.store.SaveOTP(ctx, rec); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	metrics.OTPIssued(string(purpose))

	return code, nil
}

// * Reissue атомарно выполняет CheckRate, InvalidateAll и Create одной условной записью
func (m *Manager) Reissue(
	ctx context.Context,
	accountID uuid.UUID,
	purpose models.Purpose,
	ttl, minInterval time.Duration,
) (string, error) {
	const op = "otp.Reissue"

	code, rec, err := m.newRecord(accountID, purpose, ttl)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	replaced, current, err := m.store.ReplaceOTPIfOlder(ctx, rec, rec.CreatedAt.Add(-minInterval))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !replaced {
		metrics.OTPRateLimited(string(purpose))

		return "", fmt.Errorf("%s: %w", op, m.rateLimitError(current, minInterval))
	}

	metrics.OTPIssued(string(purpose))

	return code, nil
}

// * Verify ищет живую запись среди разрешенных назначений и сверяет код. Запись не удаляется.
func (m *Manager) Verify(
	ctx context.Context,
	accountID uuid.UUID,
	code string,
	purposes ...models.Purpose,
) (models.OTPRecord, error) {
	const op = "otp.Verify"

	log := m.log.With(
		slog.String("op", op),
		slog.String("account_id", accountID.String()),
	)

	recs, err := m.store.OTPs(ctx, accountID, purposes)
	if err != nil {
		log.Error("failed to load otp", sl.Err(err))

		return models.OTPRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	if len(recs) == 0 {
		metrics.OTPVerified("not_found")

		return models.OTPRecord{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	now := m.now().UTC()

	var live []models.OTPRecord
	for _, rec := range recs {
		if !rec.IsExpired(now) {
			live = append(live, rec)
		}
	}

	if len(live) == 0 {
		metrics.OTPVerified("expired")
		log.Info("otp expired")

		return models.OTPRecord{}, fmt.Errorf("%s: %w", op, ErrExpired)
	}

	for _, rec := range live {
		if m.hasher.Verify(code, rec.CodeHash) {
			metrics.OTPVerified("ok")

			return rec, nil
		}
	}

	metrics.OTPVerified("mismatch")
	log.Info("otp mismatch")

	return models.OTPRecord{}, fmt.Errorf("%s: %w", op, ErrMismatch)
}

// * Delete удаляет запись после того, как вызывающий завершил действие. Повторный вызов безопасен.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "otp.Delete"

	if _, err := m.store.DeleteOTP(ctx, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Consume забирает проверенный код. Из конкурирующих вызовов успех получает только один,
// остальные получают ErrNotFound.
func (m *Manager) Consume(ctx context.Context, id uuid.UUID) error {
	const op = "otp.Consume"

	deleted, err := m.store.DeleteOTP(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !deleted {
		metrics.OTPVerified("already_used")

		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return nil
}

// * Restore возвращает забранный код, если действие после Consume не удалось.
// Более новый код того же назначения не перезаписывается.
func (m *Manager) Restore(ctx context.Context, rec models.OTPRecord) error {
	const op = "otp.Restore"

	if _, _, err := m.store.ReplaceOTPIfOlder(ctx, rec, rec.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Manager) InvalidateAll(ctx context.Context, accountID uuid.UUID, purpose models.Purpose) error {
	const op = "otp.InvalidateAll"

	if err := m.store.DeleteOTPs(ctx, accountID, purpose); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * CheckRate только проверяет интервал, ничего не создает и не удаляет
func (m *Manager) CheckRate(ctx context.Context, accountID uuid.UUID, purpose models.Purpose, minInterval time.Duration) error {
	const op = "otp.CheckRate"

	recs, err := m.store.OTPs(ctx, accountID, []models.Purpose{purpose})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if len(recs) == 0 {
		return nil
	}

	rec := recs[0]

	now := m.now().UTC()
	if rec.IsExpired(now) || !now.Before(rec.CreatedAt.Add(minInterval)) {
		return nil
	}

	metrics.OTPRateLimited(string(purpose))

	return fmt.Errorf("%s: %w", op, m.rateLimitError(rec, minInterval))
}

// * PurgeExpired удаляет истекшие записи; на проверку кода не влияет
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	const op = "otp.PurgeExpired"

	n, err := m.store.DeleteExpiredOTPs(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func (m *Manager) newRecord(accountID uuid.UUID, purpose models.Purpose, ttl time.Duration) (string, models.OTPRecord, error) {
	if !purpose.Valid() {
		return "", models.OTPRecord{}, ErrInvalidPurpose
	}

	code, err := m.gen.Generate()
	if err != nil {
		return "", models.OTPRecord{}, err
	}

	hash, err := m.hasher.Hash(code)
	if err != nil {
		return "", models.OTPRecord{}, err
	}

	now := m.now().UTC()

	return code, models.OTPRecord{
		ID:        uuid.New(),
		AccountID: accountID,
		Purpose:   purpose,
		CodeHash:  hash,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func (m *Manager) rateLimitError(current models.OTPRecord, minInterval time.Duration) *RateLimitError {
	return &RateLimitError{
		RetryAfter: current.CreatedAt.Add(minInterval).Sub(m.now().UTC()),
	}
}
