package register

import (
	"context"
	"log/slog"
	"net/http"

	"credential_service/internal/auth"
	"credential_service/internal/http_server/handlers"
	resp "credential_service/internal/lib/api/response"
	"credential_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	FullName string `json:"full_name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type Response struct {
	resp.Response
	User handlers.User `json:"user"`
}

type UserRegistrar interface {
	RegisterNewUser(ctx context.Context, in auth.RegisterInput) (models.Account, error)
}

// New godoc
// @Summary      Регистрация
// @Description  Создает неподтвержденный аккаунт и отправляет код подтверждения на почту.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      201  {object}  Response
// @Failure      400  {object}  resp.Response
// @Failure      409  {object}  resp.Response
// @Router       /auth/register [post]
func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrar UserRegistrar,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		acc, err := registrar.RegisterNewUser(ctx, auth.RegisterInput{
			FullName: req.FullName,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			handlers.RenderError(w, r, log, err)

			return
		}

		log.Info("User registered", slog.String("account_id", acc.ID.String()))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response: resp.OK(),
			User:     handlers.NewUser(acc),
		})
	}
}
