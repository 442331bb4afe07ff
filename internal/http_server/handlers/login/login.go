package login

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"credential_service/internal/auth"
	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresAt    time.Time     `json:"expires_at"`
	User         handlers.User `json:"user"`
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
}

// New godoc
// @Summary      Вход
// @Description  Проверяет почту и пароль, выдает access токен и refresh токен (в теле и в HttpOnly cookie).
// @Description  Неизвестная почта и неверный пароль дают одинаковый ответ 401.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  Response
// @Failure      401  {object}  resp.Response
// @Router       /auth/login [post]
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authenticator Authenticator,
	cookie handlers.CookieConfig,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

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

		res, err := authenticator.Login(ctx, req.Email, req.Password)
		if err != nil {
			handlers.RenderError(w, r, log, err)

			return
		}

		log.Info("User logged in successfully")

		handlers.SetRefreshCookie(w, res.Tokens.RefreshToken, cookie)

		render.JSON(w, r, Response{
			Response:     resp.OK(),
			AccessToken:  res.Tokens.AccessToken,
			RefreshToken: res.Tokens.RefreshToken,
			ExpiresAt:    res.Tokens.ExpiresAt,
			User:         handlers.NewUser(res.Account),
		})
	}
}
