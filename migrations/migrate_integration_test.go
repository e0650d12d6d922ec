//go:build integration

package migrations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/activities/internal/testsupport"
	"example.com/activities/migrations"
)

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	var version int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT MAX(version_id) FROM `+migrations.VersionTable).Scan(&version))
	names, err := migrations.Names()
	require.NoError(t, err)
	require.Equal(t, int64(len(names)), version)

	applied, err := migrations.Apply(ctx, pool)
	require.NoError(t, err)
	require.Empty(t, applied)

	var activities int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities`).Scan(&activities))
	require.Equal(t, 10, activities)
}

func TestConcurrentApplySerializes(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := migrations.Apply(ctx, pool)
			errs <- err
		}()
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, <-errs)
	}

	var activities int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities`).Scan(&activities))
	require.Equal(t, 10, activities)
}
