package source

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// CatalogMapper turns raw catalog rows into relations using an engine's
// native type and materialization vocabularies.
type CatalogMapper struct {
	// DataTypes maps upper-cased native type names to semantic types.
	DataTypes map[string]models.DataType
	// Materializations maps upper-cased native table types.
	Materializations map[string]models.Materialization
	// NormalizeType, when set, rewrites a native type name before lookup,
	// e.g. to strip a length suffix.
	NormalizeType func(string) string
}

// MapDataType resolves a native type name.
func (m CatalogMapper) MapDataType(native string) (models.DataType, bool) {
	key := native
	if m.NormalizeType != nil {
		key = m.NormalizeType(key)
	}
	dt, ok := m.DataTypes[strings.ToUpper(strings.TrimSpace(key))]
	return dt, ok
}

// MapMaterialization resolves a native table type.
func (m CatalogMapper) MapMaterialization(native string) (models.Materialization, bool) {
	mat, ok := m.Materializations[strings.ToUpper(strings.TrimSpace(native))]
	return mat, ok
}

// Relations groups rows by (schema, relation) in first-seen order. Rows are
// expected sorted by ordinal within each relation. Any native type or
// materialization outside the mapper's vocabulary fails with a CatalogError.
func (m CatalogMapper) Relations(database string, rows []CatalogRow) ([]*models.Relation, error) {
	type group struct {
		schema, name    string
		materialization models.Materialization
		attributes      []models.Attribute
	}

	var order []string
	groups := make(map[string]*group)

	for _, row := range rows {
		key := row.Schema + "\x00" + row.Relation
		g, ok := groups[key]
		if !ok {
			mat, found := m.MapMaterialization(row.Materialization)
			if !found {
				return nil, &apperrors.CatalogError{
					Database: database,
					Relation: row.Schema + "." + row.Relation,
					Err:      fmt.Errorf("unknown materialization %q", row.Materialization),
				}
			}
			g = &group{schema: row.Schema, name: row.Relation, materialization: mat}
			groups[key] = g
			order = append(order, key)
		}

		dt, found := m.MapDataType(row.DataType)
		if !found {
			return nil, &apperrors.CatalogError{
				Database: database,
				Relation: row.Schema + "." + row.Relation,
				Err:      fmt.Errorf("attribute %q has unknown data type %q", row.Attribute, row.DataType),
			}
		}
		g.attributes = append(g.attributes, models.NewAttribute(row.Attribute, row.Ordinal, dt))
	}

	relations := make([]*models.Relation, 0, len(order))
	for _, key := range order {
		g := groups[key]
		rel, err := models.NewRelation(database, g.schema, g.name, g.materialization, g.attributes)
		if err != nil {
			return nil, &apperrors.CatalogError{Database: database, Relation: g.schema + "." + g.name, Err: err}
		}
		relations = append(relations, rel)
	}
	return relations, nil
}

// StripTypeModifiers removes a parenthesized length or precision suffix,
// e.g. "VARCHAR(255)" becomes "VARCHAR".
func StripTypeModifiers(native string) string {
	if i := strings.IndexByte(native, '('); i >= 0 {
		native = native[:i]
	}
	return strings.TrimSpace(native)
}
