package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Request struct {
	RefreshToken string `json:"refresh_token"`
}

type Response struct {
	resp.Response
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
}

// New принимает refresh токен из тела или из cookie refresh_token.
func New(
	log *slog.Logger,
	refresher TokenRefresher,
	cookie handlers.CookieConfig,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		token := handlers.RefreshToken(r, req.RefreshToken)
		if token == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("field RefreshToken is a required field"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), handlers.RequestTimeout)
		defer cancel()

		pair, err := refresher.Refresh(ctx, token)
		if err != nil {
			handlers.ClearRefreshCookie(w, cookie)
			handlers.RenderError(w, r, log, err)

			return
		}

		log.Info("Tokens refreshed successfully")

		handlers.SetRefreshCookie(w, pair.RefreshToken, cookie)

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresAt:    pair.ExpiresAt,
		})
	}
}
