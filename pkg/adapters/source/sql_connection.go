package source

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// SQLConnectionConfig wires an engine's SQL dialect into a SQLConnection.
type SQLConnectionConfig struct {
	// Adapter is the adapter type, used in logs and errors.
	Adapter string
	// Count wraps a statement in a row count query.
	Count func(sql string) string
	// CatalogQuery builds the catalog query for one database. It must select
	// schema, relation, materialization, attribute, ordinal and data type in
	// that order, sorted by relation then ordinal.
	CatalogQuery func(database string) sq.Sqlizer
	// Mapper converts native catalog names.
	Mapper CatalogMapper
	// Normalize converts driver []byte values. Defaults to NormalizeValue.
	Normalize func(v any, databaseTypeName string) any
}

// SQLConnection implements Connection over database/sql for engines whose
// drivers register with it.
type SQLConnection struct {
	db     *sql.DB
	cfg    SQLConnectionConfig
	logger *zap.Logger
}

// NewSQLConnection wraps an open *sql.DB. The connection owns db and closes it.
func NewSQLConnection(db *sql.DB, cfg SQLConnectionConfig, logger *zap.Logger) *SQLConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLConnection{db: db, cfg: cfg, logger: logger}
}

// DB returns the underlying pool.
func (c *SQLConnection) DB() *sql.DB {
	return c.db
}

func (c *SQLConnection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLConnection) IntrospectDatabase(ctx context.Context, database string) ([]*models.Relation, error) {
	query, args, err := c.cfg.CatalogQuery(database).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &apperrors.CatalogError{Database: database, Err: err}
	}
	defer rows.Close()

	var catalog []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.Schema, &r.Relation, &r.Materialization, &r.Attribute, &r.Ordinal, &r.DataType); err != nil {
			return nil, &apperrors.CatalogError{Database: database, Err: fmt.Errorf("scan catalog row: %w", err)}
		}
		catalog = append(catalog, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.CatalogError{Database: database, Err: err}
	}

	relations, err := c.cfg.Mapper.Relations(database, catalog)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("introspected database",
		zap.String("adapter", c.cfg.Adapter),
		zap.String("database", database),
		zap.Int("relations", len(relations)),
	)
	return relations, nil
}

func (c *SQLConnection) SafeExecute(ctx context.Context, query string, maxRowCount int64) (*models.RowSet, error) {
	var count int64
	if err := c.db.QueryRowContext(ctx, c.cfg.Count(query)).Scan(&count); err != nil {
		c.logger.Error("count query failed",
			zap.String("adapter", c.cfg.Adapter),
			zap.String("query", logging.SanitizeQuery(query)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("count rows: %w", err)
	}
	if err := CheckRowCount(count, maxRowCount); err != nil {
		return nil, err
	}
	return c.Query(ctx, query)
}

func (c *SQLConnection) Query(ctx context.Context, query string) (*models.RowSet, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()
	return ScanRowSet(rows, c.cfg.Normalize)
}

func (c *SQLConnection) Close() error {
	return c.db.Close()
}

// CheckRowCount enforces the guard shared by every engine.
func CheckRowCount(count, maxRowCount int64) error {
	if count > maxRowCount {
		return &apperrors.RowCountExceededError{Count: count, Max: maxRowCount}
	}
	return nil
}

// ScanRowSet drains rows into a RowSet. normalize converts []byte values
// given the column's database type name; nil uses NormalizeValue.
func ScanRowSet(rows *sql.Rows, normalize func(any, string) any) (*models.RowSet, error) {
	if normalize == nil {
		normalize = NormalizeValue
	}
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("get columns: %w", err)
	}

	// Column types are only needed to tell text from binary []byte values.
	var columnTypes []*sql.ColumnType
	typeName := func(i int) (string, error) {
		if columnTypes == nil {
			ct, err := rows.ColumnTypes()
			if err != nil {
				return "", fmt.Errorf("get column types: %w", err)
			}
			columnTypes = ct
		}
		return columnTypes[i].DatabaseTypeName(), nil
	}

	result := &models.RowSet{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			if _, ok := v.([]byte); !ok {
				continue
			}
			name, err := typeName(i)
			if err != nil {
				return nil, err
			}
			values[i] = normalize(v, name)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

var _ Connection = (*SQLConnection)(nil)
