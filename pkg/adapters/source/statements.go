package source

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// EmptyConstraint is the predicate used when the parent sample is empty.
// It matches no rows; an empty IN list is not valid SQL in most engines.
const EmptyConstraint = "1 = 0"

// LiteralFormatter renders one value as a SQL literal for the given type.
type LiteralFormatter func(v any, dataType models.DataType) (string, error)

// ValidateCredentials checks a profile against an adapter's required and
// allowed field sets. It makes no network calls.
func ValidateCredentials(adapterType string, required, allowed []string, creds models.Credentials) error {
	for _, field := range required {
		if _, ok := creds.Get(field); !ok {
			return &apperrors.CredentialError{Adapter: adapterType, Field: field, Reason: "is required"}
		}
	}

	accepted := make(map[string]struct{}, len(required)+len(allowed))
	for _, f := range required {
		accepted[f] = struct{}{}
	}
	for _, f := range allowed {
		accepted[f] = struct{}{}
	}
	for _, field := range creds.Names() {
		if _, ok := accepted[field]; !ok {
			return &apperrors.CredentialError{Adapter: adapterType, Field: field, Reason: "is not allowed"}
		}
	}
	return nil
}

// CheckSampleSupported returns an UnsupportedSampleError when sample is not nil
// and its kind is outside supported.
func CheckSampleSupported(adapterType string, supported []models.SampleKind, sample models.SampleType) error {
	if sample == nil {
		return nil
	}
	if !models.SampleKindsContain(supported, sample.Kind()) {
		return &apperrors.UnsupportedSampleError{Adapter: adapterType, Kind: string(sample.Kind())}
	}
	return nil
}

// BuildPredicateConstraint renders the referential constraint shared by every
// engine. quote quotes identifiers; format renders literal values.
func BuildPredicateConstraint(
	parent *models.Relation,
	analyze bool,
	localAttribute, remoteAttribute string,
	quote func(string) string,
	format LiteralFormatter,
) (string, error) {
	remote, ok := parent.LookupAttribute(remoteAttribute)
	if !ok {
		return "", apperrors.Configurationf("attribute %q does not exist on %s", remoteAttribute, parent.DotNotation())
	}
	local := quote(localAttribute)

	if analyze {
		core := parent.CoreQuery()
		if core == "" {
			return "", fmt.Errorf("relation %s has no core query to constrain against", parent.DotNotation())
		}
		return fmt.Sprintf("%s IN (\n    SELECT %s\n    FROM (\n%s\n    ) AS __parent_core\n)",
			local, quote(remote.Name()), core), nil
	}

	sample := parent.Sample()
	if sample == nil {
		return "", fmt.Errorf("relation %s has not been sampled", parent.DotNotation())
	}
	values, err := sample.Values(remote.Name())
	if err != nil {
		return "", fmt.Errorf("constraint from %s: %w", parent.DotNotation(), err)
	}

	literals, err := DistinctLiterals(values, remote.DataType(), format)
	if err != nil {
		return "", fmt.Errorf("constraint from %s.%s: %w", parent.DotNotation(), remote.Name(), err)
	}
	if len(literals) == 0 {
		return EmptyConstraint, nil
	}
	return fmt.Sprintf("%s IN (%s)", local, strings.Join(literals, ", ")), nil
}

// DistinctLiterals renders values as literals, dropping NULLs and duplicates
// while keeping first-seen order.
func DistinctLiterals(values []any, dataType models.DataType, format LiteralFormatter) ([]string, error) {
	if format == nil {
		format = FormatLiteral
	}
	seen := make(map[string]struct{}, len(values))
	literals := make([]string, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		lit, err := format(v, dataType)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[lit]; dup {
			continue
		}
		seen[lit] = struct{}{}
		literals = append(literals, lit)
	}
	return literals, nil
}

// FormatLiteral renders v as an ANSI SQL literal. Types that require quotes
// are single-quoted with embedded quotes doubled; unquoted numeric and boolean
// values are checked so nothing but a number or boolean is ever embedded bare.
func FormatLiteral(v any, dataType models.DataType) (string, error) {
	s, err := literalText(v, dataType)
	if err != nil {
		return "", err
	}
	if dataType.RequiresQuotes() {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
	}

	switch dataType {
	case models.DataTypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return "", fmt.Errorf("value %q is not a boolean", s)
		}
		return strings.ToUpper(strconv.FormatBool(b)), nil
	default:
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", fmt.Errorf("value %q is not numeric", s)
		}
		return s, nil
	}
}

func literalText(v any, dataType models.DataType) (string, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		if inner == nil {
			return "", fmt.Errorf("unexpected NULL value")
		}
		v = inner
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case [16]byte:
		return uuid.UUID(t).String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case time.Time:
		switch dataType {
		case models.DataTypeDate:
			return t.Format("2006-01-02"), nil
		case models.DataTypeTimestampTZ:
			return t.Format("2006-01-02 15:04:05.999999999 -07:00"), nil
		default:
			return t.Format("2006-01-02 15:04:05.999999999"), nil
		}
	default:
		return fmt.Sprint(t), nil
	}
}

// NormalizeValue converts driver-returned values into plain Go values for
// RowSets. Text returned as []byte becomes a string unless the column is binary.
func NormalizeValue(v any, databaseTypeName string) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	upper := strings.ToUpper(databaseTypeName)
	if strings.Contains(upper, "BINARY") || strings.Contains(upper, "BLOB") ||
		strings.Contains(upper, "BYTEA") || upper == "IMAGE" {
		out := make([]byte, len(b))
		copy(out, b)
		return out
	}
	return string(b)
}

// CountWrap wraps query in a derived-table row count.
func CountWrap(query string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS count FROM (\n%s\n) AS __countable", query)
}

// AnalyzeWrap pairs the population count of qualifiedName with the row count
// of query. The result is always exactly one row.
func AnalyzeWrap(qualifiedName, query string) string {
	return fmt.Sprintf(`WITH __count_population AS (
    SELECT COUNT(*) AS population_size FROM %s
),
__core_sample AS (
%s
),
__core_sample_count AS (
    SELECT COUNT(*) AS sample_size FROM __core_sample
)
SELECT s.sample_size AS sample_size, p.population_size AS population_size
FROM __core_sample_count s
CROSS JOIN __count_population p`, qualifiedName, query)
}

// FilterWrap applies predicates to a derived table of query.
func FilterWrap(query string, predicates []string) string {
	if len(predicates) == 0 {
		return query
	}
	return fmt.Sprintf("SELECT * FROM (\n%s\n) AS __constrained\nWHERE %s", query, strings.Join(predicates, "\n  AND "))
}
