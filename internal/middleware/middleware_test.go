package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func request(remote string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/sales", nil)
	r.RemoteAddr = remote
	return r
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, quietLogger())
	h := rl.Handler(okHandler)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, request("10.0.0.1:5000"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, request("10.0.0.1:5001"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "RateLimited", body["kind"])

	// Other clients have their own budget.
	w = httptest.NewRecorder()
	h.ServeHTTP(w, request("10.0.0.2:5000"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, rl.Len())
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, quietLogger())
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Handler(okHandler).ServeHTTP(httptest.NewRecorder(), request("10.0.0.1:1"))
	now = now.Add(10 * time.Minute)
	rl.Handler(okHandler).ServeHTTP(httptest.NewRecorder(), request("10.0.0.2:1"))
	require.Equal(t, 2, rl.Len())

	rl.Cleanup(5 * time.Minute)
	require.Equal(t, 1, rl.Len())
}

func TestClientIP(t *testing.T) {
	require.Equal(t, "192.168.1.9", clientIP(request("192.168.1.9:443")))
	require.Equal(t, "unix", clientIP(request("unix")))
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://rifas.example.com"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/sales", nil)
	r.Header.Set("Origin", "https://rifas.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://rifas.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/availability", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/availability", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	w = httptest.NewRecorder()
	CORS([]string{"*"})(okHandler).ServeHTTP(w, r)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogger(t *testing.T) {
	log, hook := test.NewNullLogger()

	h := chimw.RequestID(RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"kind":"NumberConflict"}`))
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/sales", bytes.NewBufferString("{}")))
	require.Equal(t, http.StatusConflict, w.Code)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Equal(t, http.StatusConflict, entry.Data["status"])
	require.Equal(t, "/sales", entry.Data["path"])
	require.NotEmpty(t, entry.Data["request_id"])
}
