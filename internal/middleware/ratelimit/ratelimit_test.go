package rateLimit_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	resp "credential_service/internal/lib/api/response"
	rateLimit "credential_service/internal/middleware/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/auth/refresh-token", nil)
	r.RemoteAddr = ip + ":4242"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	return w
}

func TestRefresh(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := rateLimit.Refresh()(ok)

	for i := 0; i < rateLimit.RefreshLimit; i++ {
		require.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
	}

	w := serve(h, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body resp.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, resp.StatusError, body.Status)

	// лимит считается отдельно для каждого IP
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2").Code)
}

func TestByIP(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := rateLimit.ByIP(2, time.Minute)(ok)

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.3").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.3").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.3").Code)
}
