package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"credential_service/internal/auth"
	resp "credential_service/internal/lib/api/response"
	"credential_service/internal/lib/jwt"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type ctxKey struct{}

type Verifier interface {
	Authenticate(token string, roles ...models.Role) (*jwt.Claims, error)
}

// * Authenticate требует заголовок Authorization: Bearer <access token> и кладет claims в контекст.
// Если заданы роли, владелец токена должен иметь одну из них.
func Authenticate(log *slog.Logger, verifier Verifier, roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn.Authenticate"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			token, ok := bearer(r)
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Missing bearer token"))

				return
			}

			claims, err := verifier.Authenticate(token, roles...)
			if err != nil {
				log.Info("access denied", sl.Err(err))

				if errors.Is(err, auth.ErrForbidden) {
					render.Status(r, http.StatusForbidden)
					render.JSON(w, r, resp.Error("Forbidden"))

					return
				}

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Unauthorized"))

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

// * RequireRole пропускает запрос, только если роль из claims входит в roles.
// Ставится после Authenticate.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Unauthorized"))

				return
			}

			for _, role := range roles {
				if string(role) == claims.Role {
					next.ServeHTTP(w, r)

					return
				}
			}

			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, resp.Error("Forbidden"))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*jwt.Claims)

	return claims, ok && claims != nil
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")

	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}
