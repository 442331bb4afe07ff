package resend

import (
	"context"
	"log/slog"
	"net/http"

	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"
	"credential_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email   string `json:"email" validate:"required,email"`
	Purpose string `json:"purpose" validate:"required,oneof=verify-email reset-password"`
}

type OTPResender interface {
	ResendOTP(ctx context.Context, email string, purpose models.Purpose) error
}

// New godoc
// @Summary      Повторная отправка кода
// @Description  Выдает новый код вместо старого. Не чаще одного раза в 30 секунд, иначе 429 с Retry-After.
// @Tags         auth
// @Router       /auth/resend-otp [post]
func New(
	log *slog.Logger,
	validate *validator.Validate,
	resender OTPResender,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resend.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if !handlers.Decode(w, r, log, validate, &req) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlers.RequestTimeout)
		defer cancel()

		if err := resender.ResendOTP(ctx, req.Email, models.Purpose(req.Purpose)); err != nil {
			handlers.RenderError(w, r, log, err)

			return
		}

		log.Info("OTP resent")

		render.JSON(w, r, resp.OK())
	}
}
