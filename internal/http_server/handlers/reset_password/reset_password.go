package resetPassword

import (
	"context"
	"log/slog"
	"net/http"

	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email           string `json:"email" validate:"required,email"`
	Code            string `json:"code" validate:"required,len=6,numeric"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
}

type PasswordResetter interface {
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	resetter PasswordResetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resetPassword.New"

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

		if err := resetter.ResetPassword(ctx, req.Email, req.Code, req.NewPassword); err != nil {
			handlers.RenderError(w, r, log, err)

			return
		}

		log.Info("Password reset")

		render.JSON(w, r, resp.OK())
	}
}
