//go:build integration

package docker

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target/postgres"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/replica"
)

func TestReplica_LaunchAndLoad(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	logger := zaptest.NewLogger(t)
	adapter := postgres.NewAdapter(logger)
	manager := replica.NewManager(NewRuntime(logger), logger)

	r, err := manager.AcquireFor(ctx, adapter, "", 0, "replica-it")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Remove(context.Background()) })

	endpoint, err := r.Launch(ctx)
	require.NoError(t, err)
	_, err = r.Launch(ctx)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRunning)

	rel, err := models.NewRelation("SALES", "PUBLIC", "CUSTOMERS", models.MaterializationTable, []models.Attribute{
		models.NewAttribute("ID", 1, models.DataTypeInteger),
		models.NewAttribute("NAME", 2, models.DataTypeVarchar),
	})
	require.NoError(t, err)
	require.NoError(t, rel.SetSample(&models.RowSet{
		Columns: []string{"ID", "NAME"},
		Rows:    [][]any{{int64(1), "ada"}, {int64(2), "grace"}},
	}))

	require.NoError(t, adapter.Load(ctx, endpoint, []*models.Relation{rel}))

	conn, err := pgx.Connect(ctx, adapter.ConnectionString(endpoint, "SALES"))
	require.NoError(t, err)
	defer conn.Close(ctx)

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT count(*) FROM "PUBLIC"."CUSTOMERS"`).Scan(&count))
	assert.Equal(t, 2, count)

	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.IsRunning())
}
