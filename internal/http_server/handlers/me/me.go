package me

import (
	"context"
	"log/slog"
	"net/http"

	"credential_service/internal/auth"
	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"
	"credential_service/internal/middleware/authn"
	"credential_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

type Response struct {
	resp.Response
	User handlers.User `json:"user"`
}

type AccountGetter interface {
	Account(ctx context.Context, id uuid.UUID) (models.Account, error)
}

// New отдает профиль владельца access токена. Должен стоять за authn.Authenticate.
func New(log *slog.Logger, accounts AccountGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.me.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		claims, ok := authn.ClaimsFromContext(r.Context())
		if !ok {
			handlers.RenderError(w, r, log, auth.ErrInvalidAccessToken)

			return
		}

		id, err := claims.AccountID()
		if err != nil {
			handlers.RenderError(w, r, log, auth.ErrInvalidAccessToken)

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlers.RequestTimeout)
		defer cancel()

		acc, err := accounts.Account(ctx, id)
		if err != nil {
			handlers.RenderError(w, r, log, err)

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     handlers.NewUser(acc),
		})
	}
}
