package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
)

const (
	// PostgresImage is the image used for source and replica integration tests.
	PostgresImage = "postgres:16-alpine"

	testDatabase = "sample_source"
	testUser     = "replica"
	testPassword = "test_password"
)

// Fixture is the schema loaded into the shared source database. CHILD rows
// 6 and 7 reference parents that do not exist in a sample of {1,2,3}.
const Fixture = `
CREATE TABLE parent (
    id integer PRIMARY KEY,
    name text NOT NULL
);
CREATE TABLE child (
    id integer PRIMARY KEY,
    parent_id integer REFERENCES parent (id),
    note text
);
INSERT INTO parent (id, name) VALUES (1, 'one'), (2, 'two'), (3, 'three'), (4, 'four'), (5, 'five');
INSERT INTO child (id, parent_id, note) VALUES
    (1, 1, 'a'), (2, 1, 'b'), (3, 2, 'c'), (4, 3, 'd'), (5, 3, NULL), (6, 4, 'e'), (7, 5, 'f');
`

// TestDB holds a shared PostgreSQL container seeded with Fixture.
type TestDB struct {
	Container testcontainers.Container
	Pool      *pgxpool.Pool
	Host      string
	Port      string
	ConnStr   string
}

// Credentials returns a postgres source profile for the container.
func (db *TestDB) Credentials() models.Credentials {
	return models.Credentials{
		Profile: "integration",
		Fields: map[string]string{
			models.CredentialHost:     db.Host,
			models.CredentialPort:     db.Port,
			models.CredentialUser:     testUser,
			models.CredentialPassword: testPassword,
			models.CredentialDatabase: testDatabase,
			models.CredentialSSLMode:  "disable",
		},
	}
}

// Database is the seeded database name.
func (db *TestDB) Database() string {
	return testDatabase
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       testDatabase,
			"POSTGRES_USER":     testUser,
			"POSTGRES_PASSWORD": testPassword,
		},
		// The entrypoint restarts postgres once after init scripts.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		testUser, testPassword, host, port.Port(), testDatabase)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := retry.Do(ctx, retry.StartupConfig(), func() error { return pool.Ping(ctx) }); err != nil {
		return nil, fmt.Errorf("test database never became reachable: %w", err)
	}

	if _, err := pool.Exec(ctx, Fixture); err != nil {
		return nil, fmt.Errorf("failed to load fixture: %w", err)
	}

	return &TestDB{
		Container: container,
		Pool:      pool,
		Host:      host,
		Port:      port.Port(),
		ConnStr:   connStr,
	}, nil
}
