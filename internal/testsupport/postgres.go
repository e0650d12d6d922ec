//go:build integration

// Package testsupport starts disposable infrastructure for integration tests.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/activities/migrations"
)

// StartPostgres launches a Postgres container, applies the embedded
// migrations, and returns a pool that is closed when the test ends.
func StartPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("activities"),
		postgrescontainer.WithUsername("mergington"),
		postgrescontainer.WithPassword("mergington"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = migrations.Apply(ctx, pool)
	require.NoError(t, err)
	return pool
}

// ResetEnrollments clears participants, enrollments and event tables, keeping seeded activities.
func ResetEnrollments(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `TRUNCATE activity_participants, participants, outbox, outbox_dlq, enrollment_event_log RESTART IDENTITY`)
	require.NoError(t, err)
}

// InsertActivity adds an activity with an optional capacity and returns its id.
func InsertActivity(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string, maxParticipants *int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(ctx,
		`INSERT INTO activities (name, description, schedule, max_participants) VALUES ($1, $2, $3, $4) RETURNING id`,
		name, name+" description", "Mondays", maxParticipants,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
