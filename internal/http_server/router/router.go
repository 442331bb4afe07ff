package router

import (
	"log/slog"
	"net/http"
	"time"

	"credential_service/internal/http_server/handlers"
	"credential_service/internal/http_server/handlers/login"
	"credential_service/internal/http_server/handlers/logout"
	"credential_service/internal/http_server/handlers/me"
	"credential_service/internal/http_server/handlers/refresh"
	"credential_service/internal/http_server/handlers/register"
	requestReset "credential_service/internal/http_server/handlers/request_reset"
	"credential_service/internal/http_server/handlers/resend"
	resetPassword "credential_service/internal/http_server/handlers/reset_password"
	"credential_service/internal/http_server/handlers/verify"
	"credential_service/internal/middleware/authn"
	rateLimit "credential_service/internal/middleware/ratelimit"
	"credential_service/internal/models"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Service - все, что роутер вызывает у фасада auth.
type Service interface {
	register.UserRegistrar
	verify.OTPVerifier
	resend.OTPResender
	requestReset.ResetRequester
	resetPassword.PasswordResetter
	login.Authenticator
	refresh.TokenRefresher
	logout.SessionTerminator
	me.AccountGetter
	authn.Verifier
}

type Options struct {
	Cookie handlers.CookieConfig
	// нулевые значения отключают общий лимит
	RateRequests int
	RateWindow   time.Duration
	// PerRouteLimits включает отдельные лимиты на IP для каждого эндпоинта
	PerRouteLimits bool
}

func New(log *slog.Logger, svc Service, opts Options) *chi.Mux {
	validate := validator.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	limit := func(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
		if !opts.PerRouteLimits {
			return passThrough
		}

		return mw
	}

	r.Route("/auth", func(r chi.Router) {
		if opts.RateRequests > 0 && opts.RateWindow > 0 {
			r.Use(rateLimit.ByIP(opts.RateRequests, opts.RateWindow))
		}

		r.With(limit(rateLimit.Register())).Post("/register", register.New(log, validate, svc))
		r.With(limit(rateLimit.VerifyOTP())).Post("/verify-otp", verify.New(log, validate, svc))
		r.With(limit(rateLimit.ResendOTP())).Post("/resend-otp", resend.New(log, validate, svc))
		r.With(limit(rateLimit.PasswordReset())).Post("/request-password-reset", requestReset.New(log, validate, svc))
		r.With(limit(rateLimit.PasswordReset())).Post("/reset-password", resetPassword.New(log, validate, svc))
		r.With(limit(rateLimit.Login())).Post("/login", login.New(log, validate, svc, opts.Cookie))
		r.With(rateLimit.Refresh()).Post("/refresh-token", refresh.New(log, svc, opts.Cookie))
		r.Post("/logout", logout.New(log, svc, opts.Cookie))

		r.With(
			authn.Authenticate(log, svc),
			authn.RequireRole(models.RoleOccupant, models.RoleAdmin),
		).Get("/me", me.New(log, svc))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func passThrough(next http.Handler) http.Handler {
	return next
}
