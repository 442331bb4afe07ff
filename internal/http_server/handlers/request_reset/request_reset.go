package requestReset

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
	Email string `json:"email" validate:"required,email"`
}

type ResetRequester interface {
	RequestPasswordReset(ctx context.Context, email string)
}

// New отвечает 200 независимо от того, существует ли email.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	requester ResetRequester,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.requestReset.New"

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

		requester.RequestPasswordReset(ctx, req.Email)

		render.JSON(w, r, resp.OK())
	}
}
