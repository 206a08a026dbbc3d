package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visera/backend/internal/app"
	iauth "github.com/visera/backend/internal/auth"
	"github.com/visera/backend/internal/database/testutil"
	"github.com/visera/backend/internal/middleware"
)

func newTestRouter(t *testing.T, mutate func(*app.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	cfg := &app.Config{
		Environment: "test",
		Server: app.ServerConfig{
			RateLimit: app.RateLimitConfig{Enabled: true, Requests: 100, AuthRequests: 2, Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: "router-test-secret-router-test-secret", Issuer: "test", ExpireMinutes: 15},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		t.Fatalf("jwt service: %v", err)
	}
	sessions, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	if err != nil {
		t.Fatalf("session service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router, err := NewRouter(db, cfg, Dependencies{
		JWT:       jwtSvc,
		Sessions:  sessions,
		RateStore: middleware.NewMemoryRateStore(ctx),
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return router
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	if w := serve(router, http.MethodGet, "/", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Visera API is running") {
		t.Fatalf("expected root message, got %d %s", w.Code, w.Body.String())
	}

	if w := serve(router, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health, got %d", w.Code)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/auth/verify-otp"},
		{http.MethodPost, "/auth/resend-otp"},
		{http.MethodDelete, "/users/me"},
		{http.MethodPost, "/users/me/password"},
		{http.MethodGet, "/users/me/activity"},
	} {
		w := serve(router, tc.method, tc.path, "")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s %s without token, got %d", tc.method, tc.path, w.Code)
		}
		if w.Header().Get("WWW-Authenticate") != "Bearer" {
			t.Fatalf("expected bearer challenge for %s %s", tc.method, tc.path)
		}
	}

	if w := serve(router, http.MethodPost, "/auth/logout", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for anonymous logout, got %d", w.Code)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil)

	w := serve(router, http.MethodGet, "/does-not-exist", "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), `"detail"`) {
		t.Fatalf("expected JSON 404, got %d %s", w.Code, w.Body.String())
	}

	w = serve(router, http.MethodGet, "/auth/login", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET /auth/login, got %d", w.Code)
	}
}

func TestRouter_AuthRateLimit(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{"email":"nobody@example.com","password":"wrong-password"}`
	for i := 0; i < 2; i++ {
		if w := serve(router, http.MethodPost, "/auth/login", body); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, w.Code)
		}
	}

	w := serve(router, http.MethodPost, "/auth/login", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after auth limit, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	if rec := serve(router, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health, got %d", rec.Code)
	}

	metricsRec := serve(router, http.MethodGet, "/metrics", "")
	if metricsRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for /metrics, got %d", metricsRec.Code)
	}

	body := metricsRec.Body.String()
	if !strings.Contains(body, `visera_api_latency_seconds_count{method="GET",path="/health",status="200"}`) {
		t.Fatalf("metrics output missing latency series: %s", body)
	}
}

func TestRouter_MetricsDisabled(t *testing.T) {
	router := newTestRouter(t, func(cfg *app.Config) {
		cfg.Monitoring.Prometheus.Enabled = false
	})

	if rec := serve(router, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when metrics are disabled, got %d", rec.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t, func(cfg *app.Config) {
		cfg.CORS.AllowedOrigins = []string{"https://app.example.com"}
		cfg.CORS.AllowedOriginRegex = `https://.*\.vercel\.app`
	})

	for _, origin := range []string{"https://app.example.com", "https://preview-123.vercel.app"} {
		req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Fatalf("expected origin %s to be allowed, got %q", origin, got)
		}
		if w.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Fatalf("expected credentials to be allowed for %s", origin)
		}
	}
}

func TestNewRouterValidatesDependencies(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	if _, err := NewRouter(nil, &app.Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error for nil database")
	}
	if _, err := NewRouter(db, nil, Dependencies{}); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewRouter(db, &app.Config{}, Dependencies{}); err == nil {
		t.Fatal("expected error for missing jwt service")
	}
}
