package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/visera/backend/internal/database/testutil"
)

func serveHealth(t *testing.T, db *gorm.DB) healthResponse {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/health", Health(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthConnected(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	body := serveHealth(t, db)
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, "connected", body.Database)
	require.Empty(t, body.Error)
}

func TestHealthReportsDatabaseFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	body := serveHealth(t, db)
	require.Equal(t, "unhealthy", body.Status)
	require.Equal(t, "disconnected", body.Database)
	require.Contains(t, body.Error, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", Root())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"message":"Visera API is running"}`, w.Body.String())
}
