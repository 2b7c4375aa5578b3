package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

const (
	adapterType = "sqlite"
	// SQLite has one schema per attached file; sources are read through main.
	mainSchema = "main"
	memoryPath = ":memory:"
)

var (
	requiredCredentials = []string{models.CredentialPath}
	allowedCredentials  = []string{}
	// No TABLESAMPLE; rows are filtered with random().
	supportedSampleTypes = []models.SampleKind{models.SampleKindBernoulli}
)

var catalogMapper = source.CatalogMapper{
	DataTypes: map[string]models.DataType{
		"INTEGER":          models.DataTypeInteger,
		"INT":              models.DataTypeInteger,
		"BIGINT":           models.DataTypeInteger,
		"SMALLINT":         models.DataTypeInteger,
		"TINYINT":          models.DataTypeInteger,
		"REAL":             models.DataTypeDouble,
		"DOUBLE":           models.DataTypeDouble,
		"DOUBLE PRECISION": models.DataTypeDouble,
		"FLOAT":            models.DataTypeDouble,
		"NUMERIC":          models.DataTypeDouble,
		"DECIMAL":          models.DataTypeDouble,
		"TEXT":             models.DataTypeVarchar,
		"VARCHAR":          models.DataTypeVarchar,
		"CHAR":             models.DataTypeVarchar,
		"NVARCHAR":         models.DataTypeVarchar,
		"CLOB":             models.DataTypeVarchar,
		// Untyped columns, e.g. computed view expressions.
		"":          models.DataTypeVarchar,
		"BOOLEAN":   models.DataTypeBoolean,
		"DATE":      models.DataTypeDate,
		"DATETIME":  models.DataTypeTimestamp,
		"TIMESTAMP": models.DataTypeTimestamp,
		"JSON":      models.DataTypeJSON,
		"BLOB":      models.DataTypeBinary,
	},
	Materializations: map[string]models.Materialization{
		"TABLE": models.MaterializationTable,
		"VIEW":  models.MaterializationView,
	},
	NormalizeType: source.StripTypeModifiers,
}

// Adapter is the SQLite source adapter. Sources are opened read-only.
type Adapter struct {
	logger *zap.Logger
}

// NewAdapter creates a SQLite adapter.
func NewAdapter(logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) Info() source.AdapterInfo {
	return source.AdapterInfo{
		Type:        adapterType,
		DisplayName: "SQLite",
		Description: "Sample from a SQLite database file",
	}
}

func (a *Adapter) RequiredCredentials() []string { return requiredCredentials }

func (a *Adapter) AllowedCredentials() []string { return allowedCredentials }

func (a *Adapter) SupportedSampleTypes() []models.SampleKind { return supportedSampleTypes }

func (a *Adapter) BuildConnection(ctx context.Context, creds models.Credentials) (source.Connection, error) {
	if err := source.ValidateCredentials(adapterType, requiredCredentials, allowedCredentials, creds); err != nil {
		return nil, err
	}
	path, _ := creds.Get(models.CredentialPath)

	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Every connection to :memory: is a different database.
	if path == memoryPath {
		db.SetMaxOpenConns(1)
	}

	return source.NewSQLConnection(db, source.SQLConnectionConfig{
		Adapter:      adapterType,
		Count:        a.CountStatement,
		CatalogQuery: catalogQuery,
		Mapper:       catalogMapper,
	}, a.logger), nil
}

// DSN builds a read-only modernc DSN for a database file.
func DSN(path string) string {
	if path == memoryPath {
		return path
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=query_only(1)"
}

// catalogQuery reads the main schema. The database name only labels the
// resulting relations.
func catalogQuery(string) sq.Sqlizer {
	return sq.Select(
		"'"+mainSchema+"' AS schema_name",
		"m.name",
		"m.type",
		"p.name",
		"p.cid + 1",
		"p.type",
	).
		From("sqlite_master m").
		Join("pragma_table_info(m.name) p").
		Where(sq.Eq{"m.type": []string{"table", "view"}}).
		Where(sq.NotLike{"m.name": "sqlite_%"}).
		OrderBy("m.name", "p.cid")
}

func (a *Adapter) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (a *Adapter) qualifiedName(rel *models.Relation) string {
	schema := rel.Schema
	if schema == "" {
		schema = mainSchema
	}
	return a.QuoteIdentifier(schema) + "." + a.QuoteIdentifier(rel.Name)
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
	return a.UnsampledStatement(rel) + "\nWHERE " + bernoulliFilter(sample), nil
}

func (a *Adapter) DirectionalWrapStatement(query string, sample models.SampleType) (string, error) {
	if err := source.CheckSampleSupported(adapterType, supportedSampleTypes, sample); err != nil {
		return "", err
	}
	if sample == nil {
		return query, nil
	}
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS __directional_sample\nWHERE %s", query, bernoulliFilter(sample)), nil
}

// bernoulliFilter keeps a row when a uniform draw in [0, 1000000) falls under
// p*10000. The double modulo keeps the draw non-negative; abs(random())
// overflows on the minimum integer.
func bernoulliFilter(sample models.SampleType) string {
	threshold := strconv.FormatFloat(sample.Probability()*10000, 'f', -1, 64)
	return "((random() % 1000000) + 1000000) % 1000000 < " + threshold
}

func (a *Adapter) AnalyzeWrapStatement(query string, rel *models.Relation) string {
	return source.AnalyzeWrap(a.qualifiedName(rel), query)
}

func (a *Adapter) PredicateConstraintStatement(parent *models.Relation, analyze bool, localAttribute, remoteAttribute string) (string, error) {
	return source.BuildPredicateConstraint(parent, analyze, localAttribute, remoteAttribute, a.QuoteIdentifier, nil)
}

func (a *Adapter) CountStatement(query string) string {
	return source.CountWrap(query)
}

var _ source.Adapter = (*Adapter)(nil)
