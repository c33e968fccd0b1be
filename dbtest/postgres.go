//go:build integration

// Package dbtest starts disposable, migrated Postgres databases for integration tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"newsletter-backend/database"
	"newsletter-backend/models"
)

// New starts a Postgres container, migrates it and returns a connection pool.
// The container is terminated when the test ends.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("newsletter"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, testcontainers.TerminateContainer(container))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// AddSubscriber inserts a subscriber with the given status.
func AddSubscriber(t *testing.T, db *gorm.DB, address, status string) models.Subscriber {
	t.Helper()

	subscriber := models.Subscriber{
		Email:        address,
		Name:         "Subscriber " + address,
		SubscribedAt: time.Now().UTC(),
		Status:       status,
	}
	require.NoError(t, db.Create(&subscriber).Error)
	return subscriber
}

// AddOperator inserts an operator and returns its id.
func AddOperator(t *testing.T, db *gorm.DB, username string) string {
	t.Helper()

	created, err := database.SeedOperator(db, username, "correct horse battery staple")
	require.NoError(t, err)
	require.True(t, created)

	var user models.User
	require.NoError(t, db.Where("username = ?", username).Take(&user).Error)
	return user.Id
}

// CountRows counts the rows of model's table matching the optional condition.
func CountRows(t *testing.T, db *gorm.DB, model any, query ...any) int64 {
	t.Helper()

	q := db.Model(model)
	if len(query) > 0 {
		q = q.Where(query[0], query[1:]...)
	}
	var n int64
	require.NoError(t, q.Count(&n).Error)
	return n
}
