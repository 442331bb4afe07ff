package rateLimit

import (
	"net/http"
	"time"

	resp "credential_service/internal/lib/api/response"

	httprate "github.com/go-chi/httprate"
	"github.com/go-chi/render"
)

// Лимиты на IP для эндпоинтов, которые шлют письма или проверяют пароль.
// Общий лимит из конфига ставится на всю группу /auth через ByIP.

func Login() func(http.Handler) http.Handler {
	return limitByIP(10, 5*time.Minute)
}

func Register() func(http.Handler) http.Handler {
	return limitByIP(5, time.Hour)
}

const RefreshLimit = 10

// * Refresh включен всегда: повтор старого refresh токена отзывает сессию,
// поэтому перебор токенов чужих аккаунтов с одного IP ограничен жестче остальных.
func Refresh() func(http.Handler) http.Handler {
	return limitByIP(RefreshLimit, 10*time.Minute)
}

func VerifyOTP() func(http.Handler) http.Handler {
	return limitByIP(10, 10*time.Minute)
}

func ResendOTP() func(http.Handler) http.Handler {
	return limitByIP(5, time.Hour)
}

func PasswordReset() func(http.Handler) http.Handler {
	return limitByIP(5, time.Hour)
}

// * ByIP - лимит с параметрами из конфига
func ByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	return limitByIP(requests, window)
}

func limitByIP(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, resp.Error("Too many requests"))
}
