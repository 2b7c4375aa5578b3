package source

import (
	"context"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// StatementGenerator renders engine-specific SQL for sampling a relation.
// Generation never touches the network.
type StatementGenerator interface {
	// UnsampledStatement selects every row of the relation, fully qualified
	// and quoted for the engine.
	UnsampledStatement(rel *models.Relation) string

	// SampledStatement appends the engine's native sampling clause. A nil
	// sample type returns the unsampled statement unchanged.
	// Returns an UnsupportedSampleError for kinds the adapter does not support.
	SampledStatement(rel *models.Relation, sample models.SampleType) (string, error)

	// DirectionalWrapStatement wraps an arbitrary query in a second-stage
	// sample pass. A nil sample type returns sql unchanged.
	DirectionalWrapStatement(sql string, sample models.SampleType) (string, error)

	// AnalyzeWrapStatement returns a query yielding exactly one row of
	// (sample_size, population_size) for sql drawn from rel.
	AnalyzeWrapStatement(sql string, rel *models.Relation) string

	// PredicateConstraintStatement builds "localAttribute IN (...)" against
	// the parent relation. In analyze mode the set is the parent's core
	// query; otherwise it is the deduplicated literal set of the parent's
	// sampled remoteAttribute values. An empty parent sample yields a
	// constraint that matches no rows.
	PredicateConstraintStatement(parent *models.Relation, analyze bool, localAttribute, remoteAttribute string) (string, error)

	// CountStatement wraps sql in a query returning a single "count" column.
	CountStatement(sql string) string

	// QuoteIdentifier quotes a single identifier for the engine.
	QuoteIdentifier(name string) string
}

// Adapter is the capability contract a source engine implements.
type Adapter interface {
	StatementGenerator

	// Info describes the adapter for listings.
	Info() AdapterInfo

	// RequiredCredentials are the profile fields that must be present.
	RequiredCredentials() []string

	// AllowedCredentials are optional, engine-specific profile fields.
	AllowedCredentials() []string

	// SupportedSampleTypes lists the sample kinds this engine can render.
	SupportedSampleTypes() []models.SampleKind

	// BuildConnection validates the profile and builds a connection handle.
	// Missing required fields fail with a CredentialError before any
	// network call is made.
	BuildConnection(ctx context.Context, creds models.Credentials) (Connection, error)
}

// Connection executes catalog and sampling queries against one source.
// Implementations must be safe for concurrent use; every call checks out its
// own pooled connection.
type Connection interface {
	// Ping verifies the source is reachable with the configured credentials.
	Ping(ctx context.Context) error

	// IntrospectDatabase returns one relation per (schema, name) in the
	// database, excluding system schemas, with attributes in ordinal order.
	IntrospectDatabase(ctx context.Context, database string) ([]*models.Relation, error)

	// SafeExecute counts the rows sql would return and only runs sql when
	// the count is at most maxRowCount. Otherwise it returns a
	// RowCountExceededError without issuing sql.
	SafeExecute(ctx context.Context, sql string, maxRowCount int64) (*models.RowSet, error)

	// Query runs sql without the count guard. Only use it for statements
	// known to return a single row, such as analyze wraps.
	Query(ctx context.Context, sql string) (*models.RowSet, error)

	// Close releases the connection pool.
	Close() error
}

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "snowflake", "postgres", "mssql", "sqlite"
	DisplayName string `json:"display_name"` // "Snowflake", "PostgreSQL"
	Description string `json:"description"`
}

// CatalogRow is one (relation, attribute) pair from a catalog query.
type CatalogRow struct {
	Schema          string
	Relation        string
	Materialization string
	Attribute       string
	Ordinal         int
	DataType        string
}
