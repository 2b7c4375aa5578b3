package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	mssqldb "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

const adapterType = "mssql"

var (
	requiredCredentials = []string{
		models.CredentialHost,
		models.CredentialUser,
		models.CredentialPassword,
		models.CredentialDatabase,
	}
	allowedCredentials = []string{
		models.CredentialPort,
		models.CredentialEncrypt,
	}
	// SQL Server's TABLESAMPLE is page based only.
	supportedSampleTypes = []models.SampleKind{
		models.SampleKindSystem,
	}
)

var msq = sq.StatementBuilder.PlaceholderFormat(sq.AtP)

var catalogMapper = source.CatalogMapper{
	DataTypes: map[string]models.DataType{
		"TINYINT":          models.DataTypeInteger,
		"SMALLINT":         models.DataTypeInteger,
		"INT":              models.DataTypeInteger,
		"BIGINT":           models.DataTypeInteger,
		"DECIMAL":          models.DataTypeDouble,
		"NUMERIC":          models.DataTypeDouble,
		"MONEY":            models.DataTypeDouble,
		"SMALLMONEY":       models.DataTypeDouble,
		"FLOAT":            models.DataTypeDouble,
		"REAL":             models.DataTypeDouble,
		"CHAR":             models.DataTypeVarchar,
		"NCHAR":            models.DataTypeVarchar,
		"VARCHAR":          models.DataTypeVarchar,
		"NVARCHAR":         models.DataTypeVarchar,
		"TEXT":             models.DataTypeVarchar,
		"NTEXT":            models.DataTypeVarchar,
		"UNIQUEIDENTIFIER": models.DataTypeVarchar,
		"BIT":              models.DataTypeBoolean,
		"DATE":             models.DataTypeDate,
		"DATETIME":         models.DataTypeTimestamp,
		"DATETIME2":        models.DataTypeTimestamp,
		"SMALLDATETIME":    models.DataTypeTimestamp,
		"DATETIMEOFFSET":   models.DataTypeTimestampTZ,
		"BINARY":           models.DataTypeBinary,
		"VARBINARY":        models.DataTypeBinary,
		"IMAGE":            models.DataTypeBinary,
	},
	Materializations: map[string]models.Materialization{
		"BASE TABLE": models.MaterializationTable,
		"VIEW":       models.MaterializationView,
	},
}

// Adapter is the SQL Server source adapter.
type Adapter struct {
	logger *zap.Logger
	open   func(driverName, dsn string) (*sql.DB, error)
}

// NewAdapter creates a SQL Server adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger, open: sql.Open}
}

func (a *Adapter) Info() source.AdapterInfo {
	return source.AdapterInfo{
		Type:        adapterType,
		DisplayName: "Microsoft SQL Server",
		Description: "Sample from SQL Server 2016+ or Azure SQL Database",
	}
}

func (a *Adapter) RequiredCredentials() []string { return requiredCredentials }

func (a *Adapter) AllowedCredentials() []string { return allowedCredentials }

func (a *Adapter) SupportedSampleTypes() []models.SampleKind { return supportedSampleTypes }

// BuildConnection validates creds and opens a lazy pool.
func (a *Adapter) BuildConnection(ctx context.Context, creds models.Credentials) (source.Connection, error) {
	if err := source.ValidateCredentials(adapterType, requiredCredentials, allowedCredentials, creds); err != nil {
		return nil, err
	}
	cfg, err := FromCredentials(creds)
	if err != nil {
		return nil, err
	}

	connStr := cfg.ConnectionString()
	db, err := a.open("sqlserver", connStr)
	if err != nil {
		a.logger.Error("failed to open sql server pool", zap.String("conn", logging.SanitizeConnectionString(connStr)))
		return nil, fmt.Errorf("open SQL auth connection: %w", err)
	}

	return source.NewSQLConnection(db, source.SQLConnectionConfig{
		Adapter:      adapterType,
		Count:        a.CountStatement,
		CatalogQuery: a.catalogQuery,
		Mapper:       catalogMapper,
		Normalize:    normalizeValue,
	}, a.logger), nil
}

func (a *Adapter) catalogQuery(database string) sq.Sqlizer {
	db := a.QuoteIdentifier(database)
	return msq.Select(
		"t.TABLE_SCHEMA",
		"t.TABLE_NAME",
		"t.TABLE_TYPE",
		"c.COLUMN_NAME",
		"c.ORDINAL_POSITION",
		"c.DATA_TYPE",
	).
		From(db + ".INFORMATION_SCHEMA.TABLES t").
		Join(db + ".INFORMATION_SCHEMA.COLUMNS c ON c.TABLE_SCHEMA = t.TABLE_SCHEMA AND c.TABLE_NAME = t.TABLE_NAME").
		Where(sq.Eq{"t.TABLE_CATALOG": database}).
		Where(sq.NotEq{"t.TABLE_SCHEMA": []string{"INFORMATION_SCHEMA", "sys"}}).
		OrderBy("t.TABLE_SCHEMA", "t.TABLE_NAME", "c.ORDINAL_POSITION")
}

// QuoteIdentifier brackets an identifier, escaping ] as ]] like QUOTENAME.
func (a *Adapter) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (a *Adapter) qualifiedName(rel *models.Relation) string {
	return a.QuoteIdentifier(rel.Database) + "." + a.QuoteIdentifier(rel.Schema) + "." + a.QuoteIdentifier(rel.Name)
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
	return fmt.Sprintf("%s TABLESAMPLE SYSTEM (%s PERCENT)", a.UnsampledStatement(rel), models.FormatProbability(sample)), nil
}

// DirectionalWrapStatement keeps each row with probability p using a per-row
// NEWID() checksum; TABLESAMPLE cannot apply to a derived table.
func (a *Adapter) DirectionalWrapStatement(query string, sample models.SampleType) (string, error) {
	if err := source.CheckSampleSupported(adapterType, supportedSampleTypes, sample); err != nil {
		return "", err
	}
	if sample == nil {
		return query, nil
	}
	threshold := strconv.FormatFloat(sample.Probability()*10000, 'f', -1, 64)
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS __directional_sample\nWHERE ABS(CAST(CHECKSUM(NEWID()) AS BIGINT)) %% 1000000 < %s",
		query, threshold), nil
}

func (a *Adapter) AnalyzeWrapStatement(query string, rel *models.Relation) string {
	return source.AnalyzeWrap(a.qualifiedName(rel), query)
}

func (a *Adapter) PredicateConstraintStatement(parent *models.Relation, analyze bool, localAttribute, remoteAttribute string) (string, error) {
	return source.BuildPredicateConstraint(parent, analyze, localAttribute, remoteAttribute, a.QuoteIdentifier, formatLiteral)
}

func (a *Adapter) CountStatement(query string) string {
	return fmt.Sprintf("SELECT COUNT_BIG(*) AS [count] FROM (\n%s\n) AS __countable", query)
}

// formatLiteral renders BIT as 1/0 and strings as N'' unicode literals.
func formatLiteral(v any, dataType models.DataType) (string, error) {
	lit, err := source.FormatLiteral(v, dataType)
	if err != nil {
		return "", err
	}
	switch dataType {
	case models.DataTypeBoolean:
		if lit == "TRUE" {
			return "1", nil
		}
		return "0", nil
	case models.DataTypeVarchar:
		return "N" + lit, nil
	}
	return lit, nil
}

// normalizeValue decodes UNIQUEIDENTIFIER bytes, which the driver returns in
// SQL Server's mixed-endian layout.
func normalizeValue(v any, databaseTypeName string) any {
	b, ok := v.([]byte)
	if ok && strings.EqualFold(databaseTypeName, "UNIQUEIDENTIFIER") {
		var id mssqldb.UniqueIdentifier
		if err := id.Scan(b); err == nil {
			return id.String()
		}
	}
	return source.NormalizeValue(v, databaseTypeName)
}

var _ source.Adapter = (*Adapter)(nil)
