package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/target"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
	"github.com/ekaya-inc/ekaya-replica/pkg/retry"
)

const (
	adapterName     = "postgres"
	defaultImage    = "postgres:16-alpine"
	defaultPort     = 5432
	replicaUser     = "replica"
	replicaPassword = "replica"
	adminDatabase   = "postgres"
)

// columnTypes maps semantic types to replica column types.
var columnTypes = map[models.DataType]string{
	models.DataTypeInteger:     "BIGINT",
	models.DataTypeDouble:      "DOUBLE PRECISION",
	models.DataTypeVarchar:     "TEXT",
	models.DataTypeBoolean:     "BOOLEAN",
	models.DataTypeDate:        "DATE",
	models.DataTypeTimestamp:   "TIMESTAMP",
	models.DataTypeTimestampTZ: "TIMESTAMPTZ",
	models.DataTypeJSON:        "JSONB",
	models.DataTypeObject:      "JSONB",
	models.DataTypeArray:       "JSONB",
	models.DataTypeBinary:      "BYTEA",
}

// Adapter runs the replica in a PostgreSQL container. Durability is turned
// off; a replica is disposable.
type Adapter struct {
	logger   *zap.Logger
	user     string
	password string
	connect  func(ctx context.Context, connString string) (*pgx.Conn, error)
}

// NewAdapter creates the PostgreSQL target.
func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		logger:   logger,
		user:     replicaUser,
		password: replicaPassword,
		connect:  pgx.Connect,
	}
}

// Configure applies a target profile. Only user and password are accepted.
func (a *Adapter) Configure(creds models.Credentials) error {
	for _, field := range creds.Names() {
		value, _ := creds.Get(field)
		switch field {
		case models.CredentialUser:
			a.user = value
		case models.CredentialPassword:
			a.password = value
		default:
			return &apperrors.CredentialError{Adapter: adapterName, Field: field, Reason: "is not allowed"}
		}
		if value == "" {
			return &apperrors.CredentialError{Adapter: adapterName, Field: field, Reason: "must not be empty"}
		}
	}
	return nil
}

func (a *Adapter) Name() string  { return adapterName }
func (a *Adapter) Image() string { return defaultImage }
func (a *Adapter) Port() int     { return defaultPort }

func (a *Adapter) StartCommand() []string {
	return []string{
		"postgres",
		"-c", "fsync=off",
		"-c", "synchronous_commit=off",
		"-c", "full_page_writes=off",
	}
}

func (a *Adapter) EnvVars() map[string]string {
	return map[string]string{
		"POSTGRES_USER":     a.user,
		"POSTGRES_PASSWORD": a.password,
		"POSTGRES_DB":       adminDatabase,
	}
}

// ConnectionString addresses one database on the replica.
func (a *Adapter) ConnectionString(endpoint target.Endpoint, database string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(a.user, a.password),
		Host:     endpoint.Host + ":" + strconv.Itoa(endpoint.Port),
		Path:     "/" + database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Load creates one replica database per source database, one schema per
// source schema, and copies each sample with COPY.
func (a *Adapter) Load(ctx context.Context, endpoint target.Endpoint, relations []*models.Relation) error {
	var databases []string
	byDatabase := make(map[string][]*models.Relation)
	for _, rel := range relations {
		if _, ok := byDatabase[rel.Database]; !ok {
			databases = append(databases, rel.Database)
		}
		byDatabase[rel.Database] = append(byDatabase[rel.Database], rel)
	}

	admin, err := a.dial(ctx, endpoint, adminDatabase)
	if err != nil {
		return err
	}
	defer admin.Close(ctx)

	for _, database := range databases {
		if err := ensureDatabase(ctx, admin, database); err != nil {
			return err
		}
		if err := a.loadDatabase(ctx, endpoint, database, byDatabase[database]); err != nil {
			return err
		}
	}
	return nil
}

// dial connects with the startup retry policy; a freshly started container
// may still be initializing.
func (a *Adapter) dial(ctx context.Context, endpoint target.Endpoint, database string) (*pgx.Conn, error) {
	conn, err := retry.DoWithResult(ctx, retry.StartupConfig(), func() (*pgx.Conn, error) {
		conn, err := a.connect(ctx, a.ConnectionString(endpoint, database))
		if err != nil {
			return nil, err
		}
		if err := conn.Ping(ctx); err != nil {
			conn.Close(ctx)
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to replica database %s: %w", database, err)
	}
	return conn, nil
}

func ensureDatabase(ctx context.Context, admin *pgx.Conn, database string) error {
	var exists bool
	if err := admin.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", database).Scan(&exists); err != nil {
		return fmt.Errorf("check replica database %s: %w", database, err)
	}
	if exists {
		return nil
	}
	if _, err := admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{database}.Sanitize()); err != nil {
		return fmt.Errorf("create replica database %s: %w", database, err)
	}
	return nil
}

func (a *Adapter) loadDatabase(ctx context.Context, endpoint target.Endpoint, database string, relations []*models.Relation) error {
	conn, err := a.dial(ctx, endpoint, database)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	for _, rel := range relations {
		if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{rel.Schema}.Sanitize()); err != nil {
			return fmt.Errorf("create schema %s.%s: %w", rel.Database, rel.Schema, err)
		}
		ddl, err := CreateTableStatement(rel)
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create relation %s: %w", rel.DotNotation(), err)
		}

		columns, rows, err := CopyRows(rel)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		n, err := conn.CopyFrom(ctx, pgx.Identifier{rel.Schema, rel.Name}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy sample into %s: %w", rel.DotNotation(), err)
		}
		a.logger.Info("loaded relation",
			zap.String("relation", rel.DotNotation()),
			zap.Int64("rows", n))
	}
	return nil
}

// CreateTableStatement renders the replica DDL for a relation. Views are
// materialized as tables.
func CreateTableStatement(rel *models.Relation) (string, error) {
	attrs := rel.Attributes()
	if len(attrs) == 0 {
		return "", fmt.Errorf("relation %s has no attributes", rel.DotNotation())
	}
	defs := make([]string, len(attrs))
	for i, attr := range attrs {
		colType, ok := columnTypes[attr.DataType()]
		if !ok {
			return "", fmt.Errorf("relation %s: no replica type for %s", rel.DotNotation(), attr.DataType())
		}
		defs[i] = "    " + pgx.Identifier{attr.Name()}.Sanitize() + " " + colType
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)",
		pgx.Identifier{rel.Schema, rel.Name}.Sanitize(),
		strings.Join(defs, ",\n")), nil
}

// CopyRows lines the sample up with the relation's attributes and coerces
// each value to its replica column type. Columns absent from the sample
// are loaded as NULL.
func CopyRows(rel *models.Relation) ([]string, [][]any, error) {
	attrs := rel.Attributes()
	columns := make([]string, len(attrs))
	for i, attr := range attrs {
		columns[i] = attr.Name()
	}

	sample := rel.Sample()
	if sample.Len() == 0 {
		return columns, nil, nil
	}

	index := make([]int, len(attrs))
	for i, attr := range attrs {
		idx, ok := sample.ColumnIndex(attr.Name())
		if !ok {
			idx = -1
		}
		index[i] = idx
	}

	rows := make([][]any, len(sample.Rows))
	for r, src := range sample.Rows {
		row := make([]any, len(attrs))
		for i, attr := range attrs {
			if index[i] < 0 {
				continue
			}
			v, err := coerceValue(src[index[i]], attr.DataType())
			if err != nil {
				return nil, nil, fmt.Errorf("relation %s row %d column %s: %w", rel.DotNotation(), r, attr.Name(), err)
			}
			row[i] = v
		}
		rows[r] = row
	}
	return columns, rows, nil
}

var (
	_ target.Adapter = (*Adapter)(nil)
	_ target.Loader       = (*Adapter)(nil)
	_ target.Configurable = (*Adapter)(nil)
)
