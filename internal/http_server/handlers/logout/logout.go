package logout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"
	sl "credential_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Request struct {
	RefreshToken string `json:"refresh_token"`
}

type SessionTerminator interface {
	Logout(ctx context.Context, refreshToken string)
}

// New godoc
// @Summary      Выход
// @Description  Завершает сессию, если refresh токен еще действующий, и очищает cookie.
// @Description  Отвечает 200 даже для уже отозванного или поддельного токена.
// @Tags         auth
// @Router       /auth/logout [post]
func New(
	log *slog.Logger,
	terminator SessionTerminator,
	cookie handlers.CookieConfig,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
			log.Info("Failed to decode request body, falling back to cookie", sl.Err(err))
		}

		if token := handlers.RefreshToken(r, req.RefreshToken); token != "" {
			ctx, cancel := context.WithTimeout(r.Context(), handlers.RequestTimeout)
			defer cancel()

			terminator.Logout(ctx, token)
		}

		handlers.ClearRefreshCookie(w, cookie)

		log.Info("User logged out")

		render.JSON(w, r, resp.OK())
	}
}
