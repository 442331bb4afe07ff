package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"credential_service/internal/auth"
	resp "credential_service/internal/lib/api/response"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/models"
	"credential_service/internal/otp"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	RequestTimeout = 5 * time.Second

	RefreshCookie = "refresh_token"
)

// User - публичная часть аккаунта в ответах.
type User struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
}

func NewUser(acc models.Account) User {
	return User{
		ID:       acc.ID,
		FullName: acc.FullName,
		Email:    acc.Email,
		Role:     string(acc.Role),
	}
}

// * Decode читает JSON тело и валидирует его. При ошибке ответ уже записан.
func Decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, validate *validator.Validate, req any) bool {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		log.Error("Failed to decode request body", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.Error("Failed to decode request"))

		return false
	}

	log.Debug("Request body decoded")

	if err := validate.Struct(req); err != nil {
		var validateErr validator.ValidationErrors
		if !errors.As(err, &validateErr) {
			log.Error("Failed to validate request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Invalid request"))

			return false
		}

		log.Info("Invalid request", sl.Err(err))

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, resp.ValidationError(validateErr))

		return false
	}

	return true
}

type errorMapping struct {
	err    error
	status int
	msg    string
}

// порядок важен: частные ошибки раньше категорий, ErrForbidden раньше ErrUnauthorized
var errorMappings = []errorMapping{
	{auth.ErrUserExists, http.StatusConflict, "User already exists"},
	{auth.ErrSamePassword, http.StatusConflict, "New password must differ from the current one"},
	{auth.ErrAlreadyVerified, http.StatusConflict, "Email already verified"},
	{auth.ErrUserNotFound, http.StatusNotFound, "User not found"},
	{auth.ErrInvalidOTPFormat, http.StatusBadRequest, "OTP must be 6 digits"},
	{auth.ErrInvalidPurpose, http.StatusBadRequest, "Unknown OTP purpose"},
	{auth.ErrPasswordTooLong, http.StatusBadRequest, "Password is too long"},
	{auth.ErrPasswordTooShort, http.StatusBadRequest, "Password must be at least 8 characters"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password"},
	{auth.ErrEmailNotVerified, http.StatusUnauthorized, "Email is not verified"},
	{auth.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{auth.ErrRateLimited, http.StatusTooManyRequests, "Too many requests"},
	{auth.ErrValidation, http.StatusBadRequest, "Invalid request"},
	{auth.ErrNotFound, http.StatusNotFound, "Not found"},
	{auth.ErrExpired, http.StatusGone, "Code expired"},
	{auth.ErrMismatch, http.StatusBadRequest, "Invalid code"},
	{auth.ErrInvalidCredential, http.StatusUnauthorized, "Invalid credentials"},
	{auth.ErrConflict, http.StatusConflict, "Conflict"},
	{auth.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
}

// * RenderError переводит ошибку фасада в HTTP статус. Текст внутренних ошибок наружу не попадает.
func RenderError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}

		if m.status == http.StatusTooManyRequests {
			var rl *otp.RateLimitError
			if errors.As(err, &rl) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
			}
		}

		log.Info("request rejected", slog.Int("status", m.status), sl.Err(err))

		render.Status(r, m.status)
		render.JSON(w, r, resp.Error(m.msg))

		return
	}

	log.Error("request failed", sl.Err(err))

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, resp.Error("Internal error"))
}

// CookieConfig задает параметры cookie с refresh токеном. Secure включается в prod.
type CookieConfig struct {
	MaxAge time.Duration
	Secure bool
}

// * SetRefreshCookie кладет refresh токен в HttpOnly cookie
func SetRefreshCookie(w http.ResponseWriter, token string, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: sameSite(cfg.Secure),
	})
}

func ClearRefreshCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: sameSite(cfg.Secure),
	})
}

// * RefreshToken берет токен из тела запроса, а если его нет, то из cookie
func RefreshToken(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}

	c, err := r.Cookie(RefreshCookie)
	if err != nil {
		return ""
	}

	return c.Value
}

func sameSite(secure bool) http.SameSite {
	if secure {
		return http.SameSiteStrictMode
	}

	return http.SameSiteLaxMode
}
