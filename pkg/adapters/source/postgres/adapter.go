package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

const adapterType = "postgres"

var (
	requiredCredentials = []string{
		models.CredentialHost,
		models.CredentialUser,
		models.CredentialPassword,
		models.CredentialDatabase,
	}
	allowedCredentials = []string{
		models.CredentialPort,
		models.CredentialSSLMode,
	}
	supportedSampleTypes = []models.SampleKind{
		models.SampleKindBernoulli,
		models.SampleKindSystem,
	}
)

var catalogMapper = source.CatalogMapper{
	DataTypes: map[string]models.DataType{
		"SMALLINT":                    models.DataTypeInteger,
		"INTEGER":                     models.DataTypeInteger,
		"BIGINT":                      models.DataTypeInteger,
		"NUMERIC":                     models.DataTypeDouble,
		"REAL":                        models.DataTypeDouble,
		"DOUBLE PRECISION":            models.DataTypeDouble,
		"CHARACTER VARYING":           models.DataTypeVarchar,
		"CHARACTER":                   models.DataTypeVarchar,
		"TEXT":                        models.DataTypeVarchar,
		"UUID":                        models.DataTypeVarchar,
		"BOOLEAN":                     models.DataTypeBoolean,
		"DATE":                        models.DataTypeDate,
		"TIMESTAMP WITHOUT TIME ZONE": models.DataTypeTimestamp,
		"TIMESTAMP WITH TIME ZONE":    models.DataTypeTimestampTZ,
		"JSON":                        models.DataTypeJSON,
		"JSONB":                       models.DataTypeJSON,
		"ARRAY":                       models.DataTypeArray,
		"BYTEA":                       models.DataTypeBinary,
	},
	Materializations: map[string]models.Materialization{
		"BASE TABLE": models.MaterializationTable,
		"VIEW":       models.MaterializationView,
	},
}

// Adapter is the PostgreSQL source adapter.
type Adapter struct {
	logger *zap.Logger
}

// NewAdapter creates a PostgreSQL adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) Info() source.AdapterInfo {
	return source.AdapterInfo{
		Type:        adapterType,
		DisplayName: "PostgreSQL",
		Description: "Sample from PostgreSQL 12+, Aurora PostgreSQL, Supabase",
	}
}

func (a *Adapter) RequiredCredentials() []string { return requiredCredentials }

func (a *Adapter) AllowedCredentials() []string { return allowedCredentials }

func (a *Adapter) SupportedSampleTypes() []models.SampleKind { return supportedSampleTypes }

// BuildConnection validates creds and creates a pool. pgxpool connects
// lazily, so no network call is made here.
func (a *Adapter) BuildConnection(ctx context.Context, creds models.Credentials) (source.Connection, error) {
	if err := source.ValidateCredentials(adapterType, requiredCredentials, allowedCredentials, creds); err != nil {
		return nil, err
	}
	cfg, err := FromCredentials(creds)
	if err != nil {
		return nil, err
	}

	connStr := cfg.ConnectionString()
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		a.logger.Error("failed to create pool", zap.String("conn", logging.SanitizeConnectionString(connStr)))
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return &Connection{config: cfg, pool: pool, logger: a.logger}, nil
}

// QuoteIdentifier quotes one identifier using pgx's sanitizer.
func (a *Adapter) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// qualifiedName is schema.name; a connection is bound to one database.
func (a *Adapter) qualifiedName(rel *models.Relation) string {
	return pgx.Identifier{rel.Schema, rel.Name}.Sanitize()
}

func (a *Adapter) UnsampledStatement(rel *models.Relation) string {
	return "SELECT * FROM " + a.qualifiedName(rel)
}

func (a *Adapter) SampledStatement(rel *models.Relation, sample models.SampleType) (string, error) {
	if err := source.CheckSampleSupported(adapterType, supportedSampleTypes, sample); err != nil {
		return "", err
	}
	if sample == nil {
		return a.UnsampledStatement(rel), nil
	}

	method := "BERNOULLI"
	if sample.Kind() == models.SampleKindSystem {
		method = "SYSTEM"
	}
	return fmt.Sprintf("%s TABLESAMPLE %s (%s)", a.UnsampledStatement(rel), method, models.FormatProbability(sample)), nil
}

// DirectionalWrapStatement filters with random() because TABLESAMPLE only
// applies to base tables, not derived ones. Both kinds become a row-level pass.
func (a *Adapter) DirectionalWrapStatement(query string, sample models.SampleType) (string, error) {
	if err := source.CheckSampleSupported(adapterType, supportedSampleTypes, sample); err != nil {
		return "", err
	}
	if sample == nil {
		return query, nil
	}
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS __directional_sample\nWHERE random() < %s / 100.0",
		query, models.FormatProbability(sample)), nil
}

func (a *Adapter) AnalyzeWrapStatement(query string, rel *models.Relation) string {
	return source.AnalyzeWrap(a.qualifiedName(rel), query)
}

func (a *Adapter) PredicateConstraintStatement(parent *models.Relation, analyze bool, localAttribute, remoteAttribute string) (string, error) {
	return source.BuildPredicateConstraint(parent, analyze, localAttribute, remoteAttribute, a.QuoteIdentifier, source.FormatLiteral)
}

func (a *Adapter) CountStatement(query string) string {
	return source.CountWrap(query)
}

var _ source.Adapter = (*Adapter)(nil)
