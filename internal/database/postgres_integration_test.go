//go:build integration

package database_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/visera/backend/internal/database"
	"github.com/visera/backend/internal/models"
)

var databaseURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "visera_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	databaseURL = fmt.Sprintf("postgres://postgres:password@%s:%s/visera_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func TestPostgresSchema(t *testing.T) {
	db, err := database.Open(database.Config{URL: databaseURL, ConnMaxLifetime: 5 * time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, database.Ping(context.Background(), db))
	require.NoError(t, database.AutoMigrate(db))

	t.Run("partial unique email index", func(t *testing.T) {
		first := &models.User{Email: "grace@example.com", Password: "hash"}
		require.NoError(t, db.Create(first).Error)

		err := db.Create(&models.User{Email: "grace@example.com", Password: "hash"}).Error
		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr), "expected pg error, got %v", err)
		require.Equal(t, "23505", pgErr.Code)

		require.NoError(t, db.Delete(first).Error)
		require.NoError(t, db.Create(&models.User{Email: "grace@example.com", Password: "hash"}).Error)
	})

	t.Run("otp codes cascade with user", func(t *testing.T) {
		user := &models.User{Email: "linus@example.com", Password: "hash"}
		require.NoError(t, db.Create(user).Error)
		require.NoError(t, db.Create(&models.OTPCode{
			UserID:    user.ID,
			Type:      models.OTPTypeEmailVerification,
			CodeHash:  "hash",
			ExpiresAt: time.Now().Add(time.Minute),
		}).Error)

		require.NoError(t, db.Unscoped().Delete(user).Error)

		var remaining int64
		require.NoError(t, db.Model(&models.OTPCode{}).Where("user_id = ?", user.ID).Count(&remaining).Error)
		require.Zero(t, remaining)
	})
}
