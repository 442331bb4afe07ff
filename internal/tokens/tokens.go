package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"credential_service/internal/lib/hasher"
	"credential_service/internal/lib/jwt"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/metrics"
	"credential_service/internal/models"
	"credential_service/internal/storage"

	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	refreshSecretBytes = 32
)

var (
	ErrInvalidCredential = errors.New("invalid refresh credential")
	ErrReuseDetected     = fmt.Errorf("%w: reuse detected", ErrInvalidCredential)
	ErrExpired           = jwt.ErrTokenExpired
	ErrInvalidSignature  = jwt.ErrInvalidSignature
)

type SessionStore interface {
	// SaveSession перезаписывает сессию аккаунта: активной остается только последняя.
	SaveSession(ctx context.Context, s models.Session) error
	Session(ctx context.Context, accountID uuid.UUID) (models.Session, error)
	// SwapSession заменяет сессию, только если сохраненный дайджест все еще равен oldHash.
	SwapSession(ctx context.Context, accountID uuid.UUID, oldHash []byte, next models.Session) (bool, error)
	DeleteSession(ctx context.Context, accountID uuid.UUID) error
}

type AccountProvider interface {
	AccountByID(ctx context.Context, id uuid.UUID) (models.Account, error)
}

type Issuer struct {
	log        *slog.Logger
	sessions   SessionStore
	accounts   AccountProvider
	keys       jwt.KeyProvider
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*Issuer)

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

func New(
	log *slog.Logger,
	sessions SessionStore,
	accounts AccountProvider,
	keys jwt.KeyProvider,
	opts ...Option,
) *Issuer {
	i := &Issuer{
		log:        log,
		sessions:   sessions,
		accounts:   accounts,
		keys:       keys,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// * Issue выдает новую пару токенов и перезаписывает сессию аккаунта
func (i *Issuer) Issue(ctx context.Context, account models.Account) (models.TokenPair, error) {
	const op = "tokens.Issue"

	pair, session, err := i.mint(account)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := i.sessions.SaveSession(ctx, session); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// * Rotate обменивает refresh токен на новую пару. Старый токен после этого недействителен.
// Несовпадение дайджеста считается признаком утечки и завершает сессию.
func (i *Issuer) Rotate(ctx context.Context, presented string) (models.TokenPair, error) {
	const op = "tokens.Rotate"

	log := i.log.With(slog.String("op", op))

	accountID, err := ParseRefresh(presented)
	if err != nil {
		metrics.TokenRotated("malformed")

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredential)
	}

	log = log.With(slog.String("account_id", accountID.String()))

	current, err := i.sessions.Session(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			metrics.TokenRotated("no_session")

			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredential)
		}

		log.Error("failed to load session", sl.Err(err))

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	presentedHash := hasher.Digest(presented)

	if !hasher.Equal(current.TokenHash, presentedHash) {
		log.Warn("refresh token reuse detected, revoking session")

		metrics.TokenRotated("reuse")
		i.revoke(ctx, log, accountID, "reuse")

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrReuseDetected)
	}

	if current.IsExpired(i.now().UTC()) {
		metrics.TokenRotated("expired")
		i.revoke(ctx, log, accountID, "expired")

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredential)
	}

	account, err := i.accounts.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			i.revoke(ctx, log, accountID, "account_gone")

			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredential)
		}

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, next, err := i.mint(account)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	swapped, err := i.sessions.SwapSession(ctx, accountID, presentedHash, next)
	if err != nil {
		log.Error("failed to swap session", sl.Err(err))

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if !swapped {
		log.Warn("refresh token used concurrently, revoking session")

		metrics.TokenRotated("reuse")
		i.revoke(ctx, log, accountID, "reuse")

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrReuseDetected)
	}

	metrics.TokenRotated("ok")

	return pair, nil
}

// * VerifyAccess проверяет access токен без обращения к хранилищу
func (i *Issuer) VerifyAccess(token string) (*jwt.Claims, error) {
	return jwt.ParseToken(i.keys, token, i.now)
}

// * Revoke безусловно завершает сессию аккаунта
func (i *Issuer) Revoke(ctx context.Context, accountID uuid.UUID) error {
	const op = "tokens.Revoke"

	if err := i.sessions.DeleteSession(ctx, accountID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.SessionRevoked("logout")

	return nil
}

// * RevokeCredential завершает сессию, если предъявленный токен совпадает с текущим.
// Чужой или устаревший токен ничего не меняет.
func (i *Issuer) RevokeCredential(ctx context.Context, presented string) (bool, error) {
	const op = "tokens.RevokeCredential"

	accountID, err := ParseRefresh(presented)
	if err != nil {
		return false, nil
	}

	current, err := i.sessions.Session(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("%s: %w", op, err)
	}

	if !hasher.Equal(current.TokenHash, hasher.Digest(presented)) {
		return false, nil
	}

	if err := i.Revoke(ctx, accountID); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

func (i *Issuer) mint(account models.Account) (models.TokenPair, models.Session, error) {
	now := i.now().UTC()

	access, err := jwt.NewToken(i.keys, account, now, i.accessTTL)
	if err != nil {
		return models.TokenPair{}, models.Session{}, err
	}

	refresh, err := NewRefreshToken(account.ID)
	if err != nil {
		return models.TokenPair{}, models.Session{}, err
	}

	return models.TokenPair{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    now.Add(i.accessTTL),
		}, models.Session{
			AccountID: account.ID,
			TokenHash: hasher.Digest(refresh),
			ExpiresAt: now.Add(i.refreshTTL),
			UpdatedAt: now,
		}, nil
}

func (i *Issuer) revoke(ctx context.Context, log *slog.Logger, accountID uuid.UUID, reason string) {
	if err := i.sessions.DeleteSession(ctx, accountID); err != nil {
		log.Error("failed to revoke session", slog.String("reason", reason), sl.Err(err))

		return
	}

	metrics.SessionRevoked(reason)
}

// * NewRefreshToken формирует непрозрачный токен "<account id>.<256 бит случайных данных>"
func NewRefreshToken(accountID uuid.UUID) (string, error) {
	const op = "tokens.NewRefreshToken"

	b := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return accountID.String() + "." + base64.RawURLEncoding.EncodeToString(b), nil
}

// * ParseRefresh достает идентификатор аккаунта из refresh токена
func ParseRefresh(raw string) (uuid.UUID, error) {
	idPart, secret, ok := strings.Cut(raw, ".")
	if !ok || secret == "" {
		return uuid.Nil, ErrInvalidCredential
	}

	decoded, err := base64.RawURLEncoding.DecodeString(secret)
	if err != nil || len(decoded) != refreshSecretBytes {
		return uuid.Nil, ErrInvalidCredential
	}

	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, ErrInvalidCredential
	}

	return id, nil
}
