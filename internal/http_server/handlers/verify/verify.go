package verify

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
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

type Response struct {
	resp.Response
	Purpose models.Purpose `json:"purpose"`
}

type OTPVerifier interface {
	VerifyOTP(ctx context.Context, email, code string) (models.Purpose, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	verifier OTPVerifier,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verify.New"

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

		purpose, err := verifier.VerifyOTP(ctx, req.Email, req.Code)
		if err != nil {
			handlers.RenderError(w, r, log, err)

			return
		}

		log.Info("OTP verified", slog.String("purpose", string(purpose)))

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Purpose:  purpose,
		})
	}
}
