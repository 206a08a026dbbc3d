package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/visera/backend/pkg/logger"
	"github.com/visera/backend/pkg/response"
)

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	previous := logger.Logger()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(previous) })

	r := gin.New()
	r.Use(Logger())
	r.GET("/ping", func(c *gin.Context) {
		c.Set(CtxUserIDKey, "user-1")
		c.String(http.StatusOK, "pong")
	})
	r.GET("/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "pong", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "user-1", entries[0].ContextMap()["user_id"])
	require.Equal(t, "http", entries[0].ContextMap()["module"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestLoggerMiddlewareReportsServerErrorCause(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	previous := logger.Logger()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(previous) })

	r := gin.New()
	r.Use(Logger())
	r.GET("/boom", func(c *gin.Context) {
		response.Error(c, errors.New("pq: connection refused"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "connection refused")

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Contains(t, entries[0].ContextMap()["errors"], "pq: connection refused")
}
