package auth

import (
	"errors"
	"fmt"

	"credential_service/internal/lib/hasher"
	"credential_service/internal/otp"
	"credential_service/internal/tokens"
)

// Категории ошибок, которые видит транспорт.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrMismatch          = errors.New("mismatch")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrRateLimited       = errors.New("rate limited")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrUnexpected        = errors.New("unexpected error")
)

var (
	ErrInvalidCredentials  = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrEmailNotVerified    = fmt.Errorf("%w: email not verified", ErrUnauthorized)
	ErrUserExists          = fmt.Errorf("%w: user already exists", ErrConflict)
	ErrSamePassword        = fmt.Errorf("%w: new password equals the current one", ErrConflict)
	ErrAlreadyVerified     = fmt.Errorf("%w: email already verified", ErrConflict)
	ErrUserNotFound        = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrInvalidOTPFormat    = fmt.Errorf("%w: otp must be 6 digits", ErrValidation)
	ErrInvalidPurpose      = fmt.Errorf("%w: unknown otp purpose", ErrValidation)
	ErrPasswordTooLong     = fmt.Errorf("%w: password is too long", ErrValidation)
	ErrPasswordTooShort    = fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	ErrForbidden           = fmt.Errorf("%w: insufficient role", ErrUnauthorized)
	ErrInvalidAccessToken  = fmt.Errorf("%w: invalid access token", ErrUnauthorized)
	ErrExpiredAccessToken  = fmt.Errorf("%w: access token expired", ErrExpired)
)

// * classify приводит ошибки OTP менеджера и выпуска токенов к категориям.
// Исходная ошибка остается в цепочке, поэтому errors.As(*otp.RateLimitError) работает.
func classify(err error) error {
	var rl *otp.RateLimitError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &rl):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case errors.Is(err, otp.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, otp.ErrExpired):
		return fmt.Errorf("%w: %w", ErrExpired, err)
	case errors.Is(err, otp.ErrMismatch):
		return fmt.Errorf("%w: %w", ErrMismatch, err)
	case errors.Is(err, otp.ErrInvalidPurpose):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, tokens.ErrInvalidCredential):
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	case errors.Is(err, tokens.ErrExpired):
		return ErrExpiredAccessToken
	case errors.Is(err, tokens.ErrInvalidSignature):
		return ErrInvalidAccessToken
	case errors.Is(err, hasher.ErrInputTooLarge):
		return ErrPasswordTooLong
	default:
		return fmt.Errorf("%w: %w", ErrUnexpected, err)
	}
}
