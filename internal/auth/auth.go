package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"credential_service/internal/lib/jwt"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/lib/otpgen"
	"credential_service/internal/models"
	"credential_service/internal/storage"

	"github.com/google/uuid"
)

const (
	DefaultOTPTTL         = 60 * time.Minute
	DefaultResendInterval = 30 * time.Second

	MinPasswordLen = 8

	notifyTimeout = 10 * time.Second
	// dummyPassword хешируется один раз; сверка с ним выравнивает время ответа для несуществующих email.
	dummyPassword = "timing-equalisation-placeholder"
)

// AccountRepository - внешнее хранилище аккаунтов.
type AccountRepository interface {
	SaveAccount(ctx context.Context, acc models.Account) error
	AccountByEmail(ctx context.Context, email string) (models.Account, error)
	AccountByID(ctx context.Context, id uuid.UUID) (models.Account, error)
	SetEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passHash []byte) error
}

// Notifier доставляет письма. Ошибки доставки не откатывают уже сохраненное состояние.
type Notifier interface {
	Notify(ctx context.Context, msg models.Message) error
}

type OTPManager interface {
	Create(ctx context.Context, accountID uuid.UUID, purpose models.Purpose, ttl time.Duration) (string, error)
	Reissue(ctx context.Context, accountID uuid.UUID, purpose models.Purpose, ttl, minInterval time.Duration) (string, error)
	Verify(ctx context.Context, accountID uuid.UUID, code string, purposes ...models.Purpose) (models.OTPRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Consume(ctx context.Context, id uuid.UUID) error
	Restore(ctx context.Context, rec models.OTPRecord) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, account models.Account) (models.TokenPair, error)
	Rotate(ctx context.Context, presented string) (models.TokenPair, error)
	VerifyAccess(token string) (*jwt.Claims, error)
	Revoke(ctx context.Context, accountID uuid.UUID) error
	RevokeCredential(ctx context.Context, presented string) (bool, error)
}

type Hasher interface {
	Hash(secret string) ([]byte, error)
	Verify(secret string, digest []byte) bool
}

type Settings struct {
	OTPTTL         time.Duration
	ResendInterval time.Duration
}

type Auth struct {
	log      *slog.Logger
	accounts AccountRepository
	otps     OTPManager
	tokens   TokenIssuer
	hasher   Hasher
	notifier Notifier
	settings Settings

	dummyOnce sync.Once
	dummyHash []byte

	notifications sync.WaitGroup
}

type RegisterInput struct {
	FullName string
	Email    string
	Password string
}

type LoginResult struct {
	Tokens  models.TokenPair
	Account models.Account
}

func New(
	log *slog.Logger,
	accounts AccountRepository,
	otps OTPManager,
	tokens TokenIssuer,
	hasher Hasher,
	notifier Notifier,
	settings Settings,
) *Auth {
	if settings.OTPTTL <= 0 {
		settings.OTPTTL = DefaultOTPTTL
	}
	if settings.ResendInterval <= 0 {
		settings.ResendInterval = DefaultResendInterval
	}

	return &Auth{
		log:      log,
		accounts: accounts,
		otps:     otps,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		settings: settings,
	}
}

// * RegisterNewUser создает неподтвержденный аккаунт и отправляет код подтверждения.
// Ошибка отправки письма не откатывает регистрацию: код можно запросить повторно.
func (a *Auth) RegisterNewUser(ctx context.Context, in RegisterInput) (models.Account, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(slog.String("op", op))

	email := normalizeEmail(in.Email)

	if err := validatePassword(in.Password); err != nil {
		return models.Account{}, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := a.accounts.AccountByEmail(ctx, email); err == nil {
		log.Warn("user already exists")

		return models.Account{}, fmt.Errorf("%s: %w", op, ErrUserExists)
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		log.Error("failed to check email", sl.Err(err))

		return models.Account{}, fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	passHash, err := a.hasher.Hash(in.Password)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))

		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	acc := models.Account{
		ID:        uuid.New(),
		FullName:  strings.TrimSpace(in.FullName),
		Email:     email,
		PassHash:  passHash,
		Role:      models.RoleOccupant,
		CreatedAt: time.Now().UTC(),
	}

	if err := a.accounts.SaveAccount(ctx, acc); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")

			return models.Account{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return models.Account{}, fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	log = log.With(slog.String("account_id", acc.ID.String()))

	code, err := a.otps.Create(ctx, acc.ID, models.PurposeVerifyEmail, a.settings.OTPTTL)
	if err != nil {
		log.Error("failed to create verification code", sl.Err(err))

		return models.Account{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	a.notify(ctx, log, models.Message{
		Email:    acc.Email,
		FullName: acc.FullName,
		Purpose:  models.NotifyVerifyEmail,
		Code:     code,
	})

	log.Info("user registered")

	return acc, nil
}

// * VerifyOTP проверяет код любого назначения. Код подтверждения email помечает аккаунт
// подтвержденным и удаляется только после этого. Код сброса пароля не расходуется.
func (a *Auth) VerifyOTP(ctx context.Context, email, code string) (models.Purpose, error) {
	const op = "auth.VerifyOTP"

	log := a.log.With(slog.String("op", op))

	code = strings.TrimSpace(code)
	if !otpgen.IsCode(code) {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidOTPFormat)
	}

	acc, err := a.accountByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.String("account_id", acc.ID.String()))

	rec, err := a.otps.Verify(ctx, acc.ID, code, models.PurposeVerifyEmail, models.PurposeResetPassword)
	if err != nil {
		log.Info("otp rejected", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, classify(err))
	}

	if rec.Purpose != models.PurposeVerifyEmail {
		log.Info("reset code verified")

		return rec.Purpose, nil
	}

	if err := a.accounts.SetEmailVerified(ctx, acc.ID); err != nil {
		log.Error("failed to mark email verified", sl.Err(err))

		return "", fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	if err := a.otps.Delete(ctx, rec.ID); err != nil {
		log.Error("failed to delete used otp", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, classify(err))
	}

	log.Info("email verified")

	return rec.Purpose, nil
}

// * ResendOTP выдает новый код вместо старого не чаще, чем раз в ResendInterval
func (a *Auth) ResendOTP(ctx context.Context, email string, purpose models.Purpose) error {
	const op = "auth.ResendOTP"

	log := a.log.With(
		slog.String("op", op),
		slog.String("purpose", string(purpose)),
	)

	if !purpose.Valid() {
		return fmt.Errorf("%s: %w", op, ErrInvalidPurpose)
	}

	acc, err := a.accountByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if purpose == models.PurposeVerifyEmail && acc.IsVerified {
		return fmt.Errorf("%s: %w", op, ErrAlreadyVerified)
	}

	log = log.With(slog.String("account_id", acc.ID.String()))

	code, err := a.otps.Reissue(ctx, acc.ID, purpose, a.settings.OTPTTL, a.settings.ResendInterval)
	if err != nil {
		log.Info("otp not reissued", sl.Err(err))

		return fmt.Errorf("%s: %w", op, classify(err))
	}

	a.notify(ctx, log, models.Message{
		Email:    acc.Email,
		FullName: acc.FullName,
		Purpose:  models.NotifyResendOTP,
		Code:     code,
	})

	log.Info("otp reissued")

	return nil
}

// * RequestPasswordReset всегда завершается успешно, чтобы не раскрывать существование email
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accounts.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			log.Error("failed to load user", sl.Err(err))
		}

		return
	}

	log = log.With(slog.String("account_id", acc.ID.String()))

	code, err := a.otps.Reissue(ctx, acc.ID, models.PurposeResetPassword, a.settings.OTPTTL, a.settings.ResendInterval)
	if err != nil {
		log.Info("reset code not issued", sl.Err(err))

		return
	}

	a.notify(ctx, log, models.Message{
		Email:    acc.Email,
		FullName: acc.FullName,
		Purpose:  models.NotifyResetPassword,
		Code:     code,
	})

	log.Info("reset code issued")
}

// * ResetPassword меняет пароль по коду сброса и завершает текущую сессию
func (a *Auth) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	code = strings.TrimSpace(code)
	if !otpgen.IsCode(code) {
		return fmt.Errorf("%s: %w", op, ErrInvalidOTPFormat)
	}

	if err := validatePassword(newPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	acc, err := a.accounts.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// неизвестный email неотличим от отсутствующего кода
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}

		log.Error("failed to load user", sl.Err(err))

		return fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	log = log.With(slog.String("account_id", acc.ID.String()))

	rec, err := a.otps.Verify(ctx, acc.ID, code, models.PurposeResetPassword)
	if err != nil {
		log.Info("reset code rejected", sl.Err(err))

		return fmt.Errorf("%s: %w", op, classify(err))
	}

	if a.hasher.Verify(newPassword, acc.PassHash) {
		return fmt.Errorf("%s: %w", op, ErrSamePassword)
	}

	passHash, err := a.hasher.Hash(newPassword)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))

		return fmt.Errorf("%s: %w", op, classify(err))
	}

	// код забирается до смены пароля: из параллельных запросов пароль меняет только один
	if err := a.otps.Consume(ctx, rec.ID); err != nil {
		log.Info("reset code already used", sl.Err(err))

		return fmt.Errorf("%s: %w", op, classify(err))
	}

	if err := a.accounts.UpdatePassword(ctx, acc.ID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))

		if rerr := a.otps.Restore(context.WithoutCancel(ctx), rec); rerr != nil {
			log.Error("failed to restore reset code", sl.Err(rerr))
		}

		return fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	if err := a.tokens.Revoke(ctx, acc.ID); err != nil {
		log.Error("failed to revoke session after password reset", sl.Err(err))
	}

	a.notify(ctx, log, models.Message{
		Email:    acc.Email,
		FullName: acc.FullName,
		Purpose:  models.NotifyPasswordResetSuccess,
	})

	log.Info("password reset")

	return nil
}

// * Login проверяет учетные данные и выдает пару токенов.
// Неизвестный email и неверный пароль дают одну и ту же ошибку.
func (a *Auth) Login(ctx context.Context, email, password string) (LoginResult, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	acc, err := a.accounts.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.hasher.Verify(password, a.dummy())

			log.Info("invalid credentials")

			return LoginResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		log.Error("failed to get user", sl.Err(err))

		return LoginResult{}, fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	log = log.With(slog.String("account_id", acc.ID.String()))

	if !a.hasher.Verify(password, acc.PassHash) {
		log.Info("invalid credentials")

		return LoginResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !acc.IsVerified {
		return LoginResult{}, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}

	pair, err := a.tokens.Issue(ctx, acc)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))

		return LoginResult{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	log.Info("user logged in successfully")

	return LoginResult{Tokens: pair, Account: acc}, nil
}

func (a *Auth) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	pair, err := a.tokens.Rotate(ctx, refreshToken)
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrUnexpected) {
			a.log.Error("failed to rotate refresh token", slog.String("op", op), sl.Err(err))
		}

		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// * Logout завершает сессию, если токен еще действующий. Для клиента всегда успешен.
func (a *Auth) Logout(ctx context.Context, refreshToken string) {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	revoked, err := a.tokens.RevokeCredential(ctx, refreshToken)
	if err != nil {
		log.Error("failed to revoke session", sl.Err(err))

		return
	}

	log.Info("logout", slog.Bool("revoked", revoked))
}

// * Authenticate проверяет access токен и, если заданы роли, роль владельца
func (a *Auth) Authenticate(token string, roles ...models.Role) (*jwt.Claims, error) {
	const op = "auth.Authenticate"

	claims, err := a.tokens.VerifyAccess(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, classify(err))
	}

	if len(roles) == 0 {
		return claims, nil
	}

	for _, r := range roles {
		if string(r) == claims.Role {
			return claims, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
}

func (a *Auth) Account(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const op = "auth.Account"

	acc, err := a.accounts.AccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.Account{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return models.Account{}, fmt.Errorf("%s: %w: %w", op, ErrUnexpected, err)
	}

	return acc, nil
}

// * Wait дожидается отправки уведомлений, запущенных ранее
func (a *Auth) Wait() {
	a.notifications.Wait()
}

func (a *Auth) accountByEmail(ctx context.Context, email string) (models.Account, error) {
	acc, err := a.accounts.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.Account{}, ErrUserNotFound
		}

		a.log.Error("failed to load user", sl.Err(err))

		return models.Account{}, fmt.Errorf("%w: %w", ErrUnexpected, err)
	}

	return acc, nil
}

// notify отправляет письмо в фоне, вне границы транзакции операции.
func (a *Auth) notify(ctx context.Context, log *slog.Logger, msg models.Message) {
	a.notifications.Add(1)

	go func() {
		defer a.notifications.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := a.notifier.Notify(ctx, msg); err != nil {
			log.Error("failed to send notification", slog.String("purpose", string(msg.Purpose)), sl.Err(err))
		}
	}()
}

func (a *Auth) dummy() []byte {
	a.dummyOnce.Do(func() {
		hash, err := a.hasher.Hash(dummyPassword)
		if err != nil {
			a.log.Error("failed to prepare dummy hash", sl.Err(err))
		}

		a.dummyHash = hash
	})

	return a.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return ErrPasswordTooShort
	}

	return nil
}
