package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-replica/pkg/adapters/source"
	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/logging"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var systemSchemas = []string{"pg_catalog", "information_schema", "pg_toast"}

// Connection is a pooled PostgreSQL source connection. pgxpool checks out a
// connection per call so it is safe for concurrent relation queries.
type Connection struct {
	config *Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func (c *Connection) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// catalogQuery selects table and column metadata for the connected database.
func catalogQuery(database string) sq.SelectBuilder {
	// information_schema columns are domain types; cast so pgx scans them directly.
	return psq.Select(
		"t.table_schema::text",
		"t.table_name::text",
		"t.table_type::text",
		"c.column_name::text",
		"c.ordinal_position::int",
		"c.data_type::text",
	).
		From("information_schema.tables t").
		Join("information_schema.columns c ON c.table_schema = t.table_schema AND c.table_name = t.table_name").
		Where(sq.Eq{"t.table_catalog": database}).
		Where(sq.NotEq{"t.table_schema": systemSchemas}).
		OrderBy("t.table_schema", "t.table_name", "c.ordinal_position")
}

func (c *Connection) IntrospectDatabase(ctx context.Context, database string) ([]*models.Relation, error) {
	// A PostgreSQL connection is bound to one database.
	if !strings.EqualFold(database, c.config.Database) {
		return nil, &apperrors.CatalogError{
			Database: database,
			Err:      fmt.Errorf("connection is bound to database %q", c.config.Database),
		}
	}

	query, args, err := catalogQuery(c.config.Database).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &apperrors.CatalogError{Database: database, Err: err}
	}
	defer rows.Close()

	var catalog []source.CatalogRow
	for rows.Next() {
		var r source.CatalogRow
		var ordinal int32
		if err := rows.Scan(&r.Schema, &r.Relation, &r.Materialization, &r.Attribute, &ordinal, &r.DataType); err != nil {
			return nil, &apperrors.CatalogError{Database: database, Err: fmt.Errorf("scan catalog row: %w", err)}
		}
		r.Ordinal = int(ordinal)
		catalog = append(catalog, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.CatalogError{Database: database, Err: err}
	}

	// Relations are keyed by the configured name so constraint lookups match.
	return catalogMapper.Relations(c.config.Database, catalog)
}

func (c *Connection) SafeExecute(ctx context.Context, query string, maxRowCount int64) (*models.RowSet, error) {
	var count int64
	if err := c.pool.QueryRow(ctx, source.CountWrap(query)).Scan(&count); err != nil {
		c.logger.Error("count query failed",
			zap.String("query", logging.SanitizeQuery(query)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("count rows: %w", err)
	}
	if err := source.CheckRowCount(count, maxRowCount); err != nil {
		return nil, err
	}
	return c.Query(ctx, query)
}

func (c *Connection) Query(ctx context.Context, query string) (*models.RowSet, error) {
	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &models.RowSet{Columns: make([]string, len(fields)), Rows: make([][]any, 0)}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		for i, v := range values {
			values[i], err = normalizeValue(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", result.Columns[i], err)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// normalizeValue flattens pgx-specific types so samples are plain Go values.
func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case [16]byte:
		return uuid.UUID(t).String(), nil
	case driver.Valuer:
		return t.Value()
	default:
		return v, nil
	}
}

func (c *Connection) Close() error {
	c.pool.Close()
	return nil
}

var _ source.Connection = (*Connection)(nil)
