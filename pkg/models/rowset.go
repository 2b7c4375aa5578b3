package models

import (
	"fmt"
	"strings"
)

// RowSet is a materialized query result. Rows are positional and line up with Columns.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows.
func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// ColumnIndex finds a column by name. Engines differ in identifier case
// folding, so the match is case-insensitive when no exact match exists.
func (r *RowSet) ColumnIndex(name string) (int, bool) {
	for i, c := range r.Columns {
		if c == name {
			return i, true
		}
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return -1, false
}

// Values returns every value of one column in row order.
func (r *RowSet) Values(column string) ([]any, error) {
	idx, ok := r.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("column %q not in result set", column)
	}
	values := make([]any, len(r.Rows))
	for i, row := range r.Rows {
		values[i] = row[idx]
	}
	return values, nil
}
