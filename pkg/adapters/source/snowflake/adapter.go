package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

const adapterType = "snowflake"

var (
	requiredCredentials = []string{
		models.CredentialUser,
		models.CredentialPassword,
		models.CredentialAccount,
		models.CredentialDatabase,
	}
	allowedCredentials = []string{
		models.CredentialSchema,
		models.CredentialWarehouse,
		models.CredentialRole,
	}
	supportedSampleTypes = []models.SampleKind{
		models.SampleKindBernoulli,
		models.SampleKindSystem,
	}
)

var catalogMapper = source.CatalogMapper{
	DataTypes: map[string]models.DataType{
		"NUMBER":        models.DataTypeInteger,
		"DECIMAL":       models.DataTypeDouble,
		"FLOAT":         models.DataTypeDouble,
		"TEXT":          models.DataTypeVarchar,
		"BOOLEAN":       models.DataTypeBoolean,
		"DATE":          models.DataTypeDate,
		"TIMESTAMP_NTZ": models.DataTypeTimestamp,
		"TIMESTAMP_LTZ": models.DataTypeTimestampTZ,
		"TIMESTAMP_TZ":  models.DataTypeTimestampTZ,
		"VARIANT":       models.DataTypeJSON,
		"OBJECT":        models.DataTypeObject,
		"ARRAY":         models.DataTypeArray,
		"BINARY":        models.DataTypeBinary,
	},
	Materializations: map[string]models.Materialization{
		"BASE TABLE": models.MaterializationTable,
		"VIEW":       models.MaterializationView,
	},
}

// Adapter is the Snowflake source adapter.
type Adapter struct {
	logger *zap.Logger
	open   func(driverName, dsn string) (*sql.DB, error)
}

// NewAdapter creates a Snowflake adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger, open: sql.Open}
}

func (a *Adapter) Info() source.AdapterInfo {
	return source.AdapterInfo{
		Type:        adapterType,
		DisplayName: "Snowflake",
		Description: "Sample from a Snowflake warehouse",
	}
}

func (a *Adapter) RequiredCredentials() []string { return requiredCredentials }

func (a *Adapter) AllowedCredentials() []string { return allowedCredentials }

func (a *Adapter) SupportedSampleTypes() []models.SampleKind { return supportedSampleTypes }

// BuildConnection validates creds and opens a lazy connection pool. No
// network call is made until the connection is used.
func (a *Adapter) BuildConnection(ctx context.Context, creds models.Credentials) (source.Connection, error) {
	if err := source.ValidateCredentials(adapterType, requiredCredentials, allowedCredentials, creds); err != nil {
		return nil, err
	}

	dsn, err := FromCredentials(creds).DSN()
	if err != nil {
		return nil, err
	}

	db, err := a.open("snowflake", dsn)
	if err != nil {
		a.logger.Error("failed to open snowflake pool", zap.String("dsn", logging.SanitizeConnectionString(dsn)))
		return nil, fmt.Errorf("open snowflake: %w", err)
	}

	return source.NewSQLConnection(db, source.SQLConnectionConfig{
		Adapter:      adapterType,
		Count:        a.CountStatement,
		CatalogQuery: a.catalogQuery,
		Mapper:       catalogMapper,
	}, a.logger), nil
}

// catalogQuery joins table and column metadata for one database.
func (a *Adapter) catalogQuery(database string) sq.Sqlizer {
	db := a.QuoteIdentifier(database)
	return sq.Select(
		"m.table_schema AS schema_name",
		"m.table_name AS relation_name",
		"m.table_type AS materialization",
		"c.column_name AS attribute_name",
		"c.ordinal_position AS ordinal",
		// NUMBER covers every fixed-point column; a scale marks fractional values.
		"IFF(c.data_type = 'NUMBER' AND c.numeric_scale > 0, 'DECIMAL', c.data_type) AS data_type",
	).
		From(db + `."INFORMATION_SCHEMA"."TABLES" m`).
		Join(db + `."INFORMATION_SCHEMA"."COLUMNS" c ON c.table_schema = m.table_schema AND c.table_name = m.table_name`).
		Where(sq.NotEq{"m.table_schema": "INFORMATION_SCHEMA"}).
		OrderBy("m.table_schema", "m.table_name", "c.ordinal_position")
}

// QuoteIdentifier wraps name in double quotes, doubling embedded quotes.
func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *Adapter) qualifiedName(rel *models.Relation) string {
	return a.QuoteIdentifier(rel.Database) + "." + a.QuoteIdentifier(rel.Schema) + "." + a.QuoteIdentifier(rel.Name)
}

func (a *Adapter) UnsampledStatement(rel *models.Relation) string {
	return "SELECT\n    *\nFROM\n    " + a.qualifiedName(rel)
}

func (a *Adapter) SampledStatement(rel *models.Relation, sample models.SampleType) (string, error) {
	if err := source.CheckSampleSupported(adapterType, supportedSampleTypes, sample); err != nil {
		return "", err
	}
	if sample == nil {
		return a.UnsampledStatement(rel), nil
	}
	return a.UnsampledStatement(rel) + "\n" + sampleClause(sample), nil
}

func (a *Adapter) DirectionalWrapStatement(query string, sample models.SampleType) (string, error) {
	if err := source.CheckSampleSupported(adapterType, supportedSampleTypes, sample); err != nil {
		return "", err
	}
	if sample == nil {
		return query, nil
	}
	return fmt.Sprintf(`WITH
    __final_sample AS (
%s
)
,__directional_sample AS (
SELECT
    *
FROM
    __final_sample
%s
)
SELECT
    *
FROM
    __directional_sample`, query, sampleClause(sample)), nil
}

func (a *Adapter) AnalyzeWrapStatement(query string, rel *models.Relation) string {
	return fmt.Sprintf(`WITH
    __count_population AS (
SELECT
    COUNT(*) AS population_size
FROM
    %s
)
,__core_sample AS (
%s
)
,__core_sample_count AS (
SELECT
    COUNT(*) AS sample_size
FROM
    __core_sample
)
SELECT
    s.sample_size AS sample_size
    ,p.population_size AS population_size
FROM
    __core_sample_count s
INNER JOIN
    __count_population p
ON
    1=1
LIMIT 1`, a.qualifiedName(rel), query)
}

func (a *Adapter) PredicateConstraintStatement(parent *models.Relation, analyze bool, localAttribute, remoteAttribute string) (string, error) {
	return source.BuildPredicateConstraint(parent, analyze, localAttribute, remoteAttribute, a.QuoteIdentifier, formatLiteral)
}

func (a *Adapter) CountStatement(query string) string {
	return fmt.Sprintf("WITH __countable AS (\n%s\n)\nSELECT COUNT(*) AS count FROM __countable", query)
}

// formatLiteral doubles backslashes in quoted literals, which Snowflake
// otherwise reads as escape sequences.
func formatLiteral(v any, dataType models.DataType) (string, error) {
	lit, err := source.FormatLiteral(v, dataType)
	if err != nil {
		return "", err
	}
	if dataType.RequiresQuotes() {
		return strings.ReplaceAll(lit, `\`, `\\`), nil
	}
	return lit, nil
}

func sampleClause(sample models.SampleType) string {
	switch sample.(type) {
	case models.BernoulliSample:
		return "SAMPLE BERNOULLI (" + models.FormatProbability(sample) + ")"
	default:
		return "SAMPLE SYSTEM (" + models.FormatProbability(sample) + ")"
	}
}

var _ source.Adapter = (*Adapter)(nil)
