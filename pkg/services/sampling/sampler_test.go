package sampling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source/sqlite"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/services/workqueue"
)

const shopFixture = `
CREATE TABLE customers (id INTEGER PRIMARY KEY, region TEXT);
CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER);
CREATE TABLE order_items (id INTEGER PRIMARY KEY, order_id INTEGER);
CREATE TABLE employees (id INTEGER PRIMARY KEY, manager_id INTEGER);
CREATE TABLE a (id INTEGER PRIMARY KEY, b_id INTEGER);
CREATE TABLE b (id INTEGER PRIMARY KEY, a_id INTEGER);

WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 200)
INSERT INTO customers SELECT i, CASE i % 2 WHEN 0 THEN 'east' ELSE 'west' END FROM n;
WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 1000)
INSERT INTO orders SELECT i, (i % 200) + 1 FROM n;
WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 3000)
INSERT INTO order_items SELECT i, (i % 1000) + 1 FROM n;
WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 50)
INSERT INTO employees SELECT i, CASE WHEN i = 1 THEN NULL ELSE (i / 2) END FROM n;
WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 100)
INSERT INTO a SELECT i, i FROM n;
WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 100)
INSERT INTO b SELECT i, i FROM n;
`

// recordingConn counts statements and injects failures.
type recordingConn struct {
	source.Connection

	mu         sync.Mutex
	statements []string

	failOn         string
	failDatabase   string
	blockUntilDone bool
}

func (c *recordingConn) record(query string) error {
	c.mu.Lock()
	c.statements = append(c.statements, query)
	c.mu.Unlock()
	if c.failOn != "" && strings.Contains(query, c.failOn) {
		return errors.New("injected failure")
	}
	return nil
}

func (c *recordingConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statements...)
}

func (c *recordingConn) IntrospectDatabase(ctx context.Context, database string) ([]*models.Relation, error) {
	if database == c.failDatabase {
		return nil, &apperrors.CatalogError{Database: database, Err: errors.New("permission denied")}
	}
	return c.Connection.IntrospectDatabase(ctx, database)
}

func (c *recordingConn) SafeExecute(ctx context.Context, query string, maxRowCount int64) (*models.RowSet, error) {
	if err := c.record(query); err != nil {
		return nil, err
	}
	if c.blockUntilDone {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.Connection.SafeExecute(ctx, query, maxRowCount)
}

func (c *recordingConn) Query(ctx context.Context, query string) (*models.RowSet, error) {
	if err := c.record(query); err != nil {
		return nil, err
	}
	return c.Connection.Query(ctx, query)
}

func openShop(t *testing.T) (*sqlite.Adapter, *recordingConn) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(shopFixture)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	adapter := sqlite.NewAdapter(zaptest.NewLogger(t))
	creds := models.Credentials{Profile: "shop", Fields: map[string]string{models.CredentialPath: path}}
	conn, err := source.Open(context.Background(), adapter, creds, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return adapter, &recordingConn{Connection: conn}
}

func shopKey(name string) models.RelationKey {
	return models.RelationKey{Database: "shop", Schema: "main", Name: name}
}

func dependsOn(local, localAttr, remote, remoteAttr string) RelationshipSpec {
	return RelationshipSpec{
		Local: shopKey(local), LocalAttribute: localAttr,
		Remote: shopKey(remote), RemoteAttribute: remoteAttr,
		Kind: models.RelationshipDependsOn,
	}
}

func bernoulli(t *testing.T, p float64) models.SampleType {
	t.Helper()
	s, err := models.NewBernoulliSample(p)
	require.NoError(t, err)
	return s
}

func shopOptions(t *testing.T, p float64) Options {
	return Options{
		Databases: []string{"shop"},
		Defaults:  Settings{Sample: bernoulli(t, p), MaxCount: 100000},
		Relationships: []RelationshipSpec{
			dependsOn("orders", "customer_id", "customers", "id"),
			dependsOn("order_items", "order_id", "orders", "id"),
			dependsOn("employees", "manager_id", "employees", "id"),
			dependsOn("a", "b_id", "b", "id"),
			dependsOn("b", "a_id", "a", "id"),
		},
		Concurrency: 4,
	}
}

func valueSet(t *testing.T, rel *models.Relation, column string) map[string]bool {
	t.Helper()
	require.NotNil(t, rel.Sample(), "%s was not sampled", rel.DotNotation())
	values, err := rel.Sample().Values(column)
	require.NoError(t, err)
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v != nil {
			set[fmt.Sprint(v)] = true
		}
	}
	return set
}

func assertNoOrphans(t *testing.T, catalog *models.Catalog, child, fk, parent, pk string) {
	t.Helper()
	childRel, ok := catalog.Lookup(shopKey(child))
	require.True(t, ok)
	parentRel, ok := catalog.Lookup(shopKey(parent))
	require.True(t, ok)

	parents := valueSet(t, parentRel, pk)
	for v := range valueSet(t, childRel, fk) {
		assert.True(t, parents[v], "%s.%s=%s has no parent in %s", child, fk, v, parent)
	}
}

func reportFor(t *testing.T, report *Report, name string) RelationReport {
	t.Helper()
	for _, rr := range report.Relations {
		if rr.Relation == shopKey(name).String() {
			return rr
		}
	}
	t.Fatalf("no report for %s", name)
	return RelationReport{}
}

func TestSampler_MaterializesWithoutOrphans(t *testing.T) {
	adapter, conn := openShop(t)
	s := New(adapter, conn, shopOptions(t, 30), zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateComplete, s.State())
	assert.False(t, report.Failed())
	assert.Len(t, report.Relations, 6)

	catalog := s.Catalog()
	assertNoOrphans(t, catalog, "orders", "customer_id", "customers", "id")
	assertNoOrphans(t, catalog, "order_items", "order_id", "orders", "id")
	// The cycle is broken at a, so only b is constrained.
	assertNoOrphans(t, catalog, "b", "a_id", "a", "id")

	customers := reportFor(t, report, "customers")
	assert.Greater(t, customers.SampleSize, int64(0))
	assert.Less(t, customers.SampleSize, int64(200))
	assert.Equal(t, int64(-1), customers.PopulationSize)

	assert.NotEmpty(t, reportFor(t, report, "employees").Caveats)
	assert.NotEmpty(t, reportFor(t, report, "a").Caveats)
	assert.Empty(t, reportFor(t, report, "b").Caveats)
}

func TestSampler_PlanOrder(t *testing.T) {
	adapter, conn := openShop(t)
	s := New(adapter, conn, shopOptions(t, 10), zaptest.NewLogger(t))
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, StateLoaded, s.State())
	require.NoError(t, s.BuildGraph())
	assert.Equal(t, StateGraphBuilt, s.State())

	position := make(map[string]int)
	for i, p := range s.Plan().Order {
		position[p.Relation.Name] = i
	}
	assert.Less(t, position["customers"], position["orders"])
	assert.Less(t, position["orders"], position["order_items"])
	assert.Less(t, position["a"], position["b"])
}

func TestSampler_AnalyzeFullProbabilityMatchesPopulation(t *testing.T) {
	adapter, conn := openShop(t)
	opts := shopOptions(t, 100)
	opts.Analyze = true
	s := New(adapter, conn, opts, zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	want := map[string]int64{"customers": 200, "orders": 1000, "order_items": 3000, "employees": 50, "a": 100, "b": 100}
	for name, population := range want {
		rr := reportFor(t, report, name)
		assert.Equal(t, population, rr.PopulationSize, name)
		assert.Equal(t, population, rr.SampleSize, name)
		assert.InDelta(t, 100, rr.Ratio(), 1e-9, name)
	}

	for _, rel := range s.Catalog().Relations() {
		assert.Nil(t, rel.Sample(), "analyze must not materialize %s", rel.Name)
		assert.NotEmpty(t, rel.CoreQuery())
	}
	for _, stmt := range conn.Statements() {
		assert.Contains(t, stmt, "population_size")
	}
}

func TestSampler_UnsupportedSampleIssuesNoSQL(t *testing.T) {
	adapter, conn := openShop(t)
	opts := shopOptions(t, 10)
	system, err := models.NewSystemSample(10)
	require.NoError(t, err)
	opts.Overrides = []RelationOverride{{Key: shopKey("orders"), Settings: Settings{Sample: system, MaxCount: 1000}}}
	s := New(adapter, conn, opts, zaptest.NewLogger(t))

	_, err = s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedSample)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, conn.Statements())
}

func TestSampler_FailurePropagatesToDependents(t *testing.T) {
	adapter, conn := openShop(t)
	conn.failOn = `"main"."orders"`
	s := New(adapter, conn, shopOptions(t, 30), zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, s.State())
	require.NotNil(t, report)
	assert.True(t, report.Failed())

	assert.Equal(t, workqueue.TaskStatusCompleted, reportFor(t, report, "customers").Status)
	assert.Equal(t, workqueue.TaskStatusFailed, reportFor(t, report, "orders").Status)
	items := reportFor(t, report, "order_items")
	assert.Equal(t, workqueue.TaskStatusFailed, items.Status)
	assert.ErrorIs(t, items.Err, apperrors.ErrDependency)

	for _, stmt := range conn.Statements() {
		assert.NotContains(t, stmt, `"main"."order_items"`, "dependent must not be sampled")
	}
}

func TestSampler_RowCountGuard(t *testing.T) {
	adapter, conn := openShop(t)
	opts := shopOptions(t, 100)
	opts.Overrides = []RelationOverride{{Key: shopKey("customers"), Settings: Settings{Sample: bernoulli(t, 100), MaxCount: 10}}}
	s := New(adapter, conn, opts, zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.Error(t, err)
	customers := reportFor(t, report, "customers")
	assert.ErrorIs(t, customers.Err, apperrors.ErrRowCountExceeded)
	assert.ErrorIs(t, reportFor(t, report, "orders").Err, apperrors.ErrDependency)
}

func TestSampler_ZeroMaxCountIsEmptyWithoutSQL(t *testing.T) {
	adapter, conn := openShop(t)
	opts := shopOptions(t, 50)
	opts.Overrides = []RelationOverride{{Key: shopKey("customers"), Settings: Settings{Sample: bernoulli(t, 50), MaxCount: 0}}}
	s := New(adapter, conn, opts, zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), reportFor(t, report, "customers").SampleSize)
	assert.Equal(t, int64(0), reportFor(t, report, "orders").SampleSize)
	for _, stmt := range conn.Statements() {
		assert.NotContains(t, stmt, `"main"."customers"`)
	}
	customers, ok := s.Catalog().Lookup(shopKey("customers"))
	require.True(t, ok)
	assert.Equal(t, []string{"id", "region"}, customers.Sample().Columns)
}

func TestSampler_UnsampledOverride(t *testing.T) {
	adapter, conn := openShop(t)
	opts := shopOptions(t, 5)
	opts.Overrides = []RelationOverride{{Key: shopKey("customers"), Settings: Settings{MaxCount: 1000}}}
	s := New(adapter, conn, opts, zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(200), reportFor(t, report, "customers").SampleSize)
}

func TestSampler_CatalogErrorIsolatesDatabase(t *testing.T) {
	adapter, conn := openShop(t)
	conn.failDatabase = "warehouse"
	opts := shopOptions(t, 30)
	opts.Databases = []string{"shop", "warehouse"}
	opts.Relationships = append(opts.Relationships, RelationshipSpec{
		Local: shopKey("customers"), LocalAttribute: "region",
		Remote:          models.RelationKey{Database: "warehouse", Schema: "main", Name: "regions"},
		RemoteAttribute: "name",
		Kind:            models.RelationshipDependsOn,
	})
	s := New(adapter, conn, opts, zaptest.NewLogger(t))

	report, err := s.Run(context.Background())
	require.Error(t, err)
	require.Len(t, report.DatabaseErrors, 1)
	assert.Equal(t, "warehouse", report.DatabaseErrors[0].Database)
	assert.ErrorIs(t, report.DatabaseErrors[0].Err, apperrors.ErrCatalog)

	assert.ErrorIs(t, reportFor(t, report, "customers").Err, apperrors.ErrDependency)
	assert.ErrorIs(t, reportFor(t, report, "orders").Err, apperrors.ErrDependency)
	assert.Equal(t, workqueue.TaskStatusCompleted, reportFor(t, report, "employees").Status)
}

func TestSampler_AllDatabasesFail(t *testing.T) {
	adapter, conn := openShop(t)
	conn.failDatabase = "shop"
	s := New(adapter, conn, shopOptions(t, 30), zaptest.NewLogger(t))

	err := s.Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrCatalog)
	assert.Equal(t, StateFailed, s.State())
}

func TestSampler_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		spec RelationshipSpec
	}{
		{"unknown local relation", dependsOn("refunds", "order_id", "orders", "id")},
		{"unknown remote relation", dependsOn("orders", "customer_id", "clients", "id")},
		{"unknown attribute", dependsOn("orders", "client_id", "customers", "id")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, conn := openShop(t)
			opts := shopOptions(t, 10)
			opts.Relationships = []RelationshipSpec{tt.spec}
			s := New(adapter, conn, opts, zaptest.NewLogger(t))

			_, err := s.Run(context.Background())
			assert.ErrorIs(t, err, apperrors.ErrConfiguration)
			assert.Equal(t, StateFailed, s.State())
		})
	}
}

func TestSampler_StateOrder(t *testing.T) {
	adapter, conn := openShop(t)
	s := New(adapter, conn, shopOptions(t, 10), zaptest.NewLogger(t))

	assert.Error(t, s.BuildGraph())
	_, err := s.Sample(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateNew, s.State())
}

func TestSampler_Cancellation(t *testing.T) {
	adapter, conn := openShop(t)
	conn.blockUntilDone = true
	s := New(adapter, conn, shopOptions(t, 10), zaptest.NewLogger(t))
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.BuildGraph())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	report, err := s.Sample(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, s.State())
	for _, rr := range report.Relations {
		assert.NotEqual(t, workqueue.TaskStatusCompleted, rr.Status, rr.Relation)
	}
}
