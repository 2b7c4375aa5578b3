package source

import (
	"database/sql/driver"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-replica/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

func quoteDouble(name string) string {
	return `"` + name + `"`
}

func newParent(t *testing.T, dataType models.DataType) *models.Relation {
	t.Helper()
	rel, err := models.NewRelation("DB", "PUBLIC", "PARENT", models.MaterializationTable, []models.Attribute{
		models.NewAttribute("ID", 1, dataType),
	})
	require.NoError(t, err)
	return rel
}

func TestValidateCredentials(t *testing.T) {
	required := []string{"user", "password"}
	allowed := []string{"role"}

	t.Run("valid", func(t *testing.T) {
		creds := models.Credentials{Fields: map[string]string{"user": "u", "password": "p", "role": "r"}}
		assert.NoError(t, ValidateCredentials("snowflake", required, allowed, creds))
	})

	t.Run("missing required", func(t *testing.T) {
		creds := models.Credentials{Fields: map[string]string{"user": "u"}}
		err := ValidateCredentials("snowflake", required, allowed, creds)
		var credErr *apperrors.CredentialError
		require.ErrorAs(t, err, &credErr)
		assert.Equal(t, "password", credErr.Field)
		assert.ErrorIs(t, err, apperrors.ErrCredential)
	})

	t.Run("empty required value counts as missing", func(t *testing.T) {
		creds := models.Credentials{Fields: map[string]string{"user": "u", "password": ""}}
		assert.ErrorIs(t, ValidateCredentials("snowflake", required, allowed, creds), apperrors.ErrCredential)
	})

	t.Run("unknown field", func(t *testing.T) {
		creds := models.Credentials{Fields: map[string]string{"user": "u", "password": "p", "colour": "blue"}}
		err := ValidateCredentials("snowflake", required, allowed, creds)
		var credErr *apperrors.CredentialError
		require.ErrorAs(t, err, &credErr)
		assert.Equal(t, "colour", credErr.Field)
	})
}

func TestCheckSampleSupported(t *testing.T) {
	system, err := models.NewSystemSample(10)
	require.NoError(t, err)
	bernoulli, err := models.NewBernoulliSample(10)
	require.NoError(t, err)
	supported := []models.SampleKind{models.SampleKindSystem}

	assert.NoError(t, CheckSampleSupported("mssql", supported, nil))
	assert.NoError(t, CheckSampleSupported("mssql", supported, system))

	err = CheckSampleSupported("mssql", supported, bernoulli)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedSample)
}

func TestFormatLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 30, 15, 0, time.FixedZone("", -5*3600))
	id := uuid.MustParse("6f1c2d7e-3a55-4d8b-9e0f-0123456789ab")

	tests := []struct {
		name     string
		value    any
		dataType models.DataType
		want     string
		wantErr  bool
	}{
		{name: "integer", value: int64(42), dataType: models.DataTypeInteger, want: "42"},
		{name: "integer from string", value: "42", dataType: models.DataTypeInteger, want: "42"},
		{name: "integer from bytes", value: []byte("17"), dataType: models.DataTypeInteger, want: "17"},
		{name: "double", value: 2.5, dataType: models.DataTypeDouble, want: "2.5"},
		{name: "varchar", value: "abc", dataType: models.DataTypeVarchar, want: "'abc'"},
		{name: "varchar escapes quotes", value: "O'Brien", dataType: models.DataTypeVarchar, want: "'O''Brien'"},
		{name: "injection attempt stays quoted", value: "x'); DROP TABLE t; --", dataType: models.DataTypeVarchar, want: "'x''); DROP TABLE t; --'"},
		{name: "boolean", value: true, dataType: models.DataTypeBoolean, want: "TRUE"},
		{name: "date", value: ts, dataType: models.DataTypeDate, want: "'2024-03-05'"},
		{name: "timestamp", value: ts, dataType: models.DataTypeTimestamp, want: "'2024-03-05 14:30:15'"},
		{name: "timestamptz", value: ts, dataType: models.DataTypeTimestampTZ, want: "'2024-03-05 14:30:15 -05:00'"},
		{name: "uuid bytes", value: [16]byte(id), dataType: models.DataTypeVarchar, want: "'6f1c2d7e-3a55-4d8b-9e0f-0123456789ab'"},
		{name: "non-numeric into integer", value: "1 OR 1=1", dataType: models.DataTypeInteger, wantErr: true},
		{name: "non-boolean", value: "maybe", dataType: models.DataTypeBoolean, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatLiteral(tt.value, tt.dataType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingValuer struct{}

func (failingValuer) Value() (driver.Value, error) { return nil, errors.New("boom") }

func TestFormatLiteral_Valuer(t *testing.T) {
	_, err := FormatLiteral(failingValuer{}, models.DataTypeVarchar)
	assert.Error(t, err)

	got, err := FormatLiteral(uuid.MustParse("6f1c2d7e-3a55-4d8b-9e0f-0123456789ab"), models.DataTypeVarchar)
	require.NoError(t, err)
	assert.Equal(t, "'6f1c2d7e-3a55-4d8b-9e0f-0123456789ab'", got)
}

func TestDistinctLiterals(t *testing.T) {
	got, err := DistinctLiterals([]any{int64(3), nil, int64(1), int64(3), int64(2), nil}, models.DataTypeInteger, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2"}, got)

	got, err = DistinctLiterals([]any{nil, nil}, models.DataTypeInteger, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBuildPredicateConstraint_Materialized(t *testing.T) {
	parent := newParent(t, models.DataTypeInteger)
	require.NoError(t, parent.SetSample(&models.RowSet{
		Columns: []string{"ID"},
		Rows:    [][]any{{int64(1)}, {int64(2)}, {int64(1)}, {nil}},
	}))

	got, err := BuildPredicateConstraint(parent, false, "PARENT_ID", "ID", quoteDouble, FormatLiteral)
	require.NoError(t, err)
	assert.Equal(t, `"PARENT_ID" IN (1, 2)`, got)
}

func TestBuildPredicateConstraint_QuotedType(t *testing.T) {
	parent := newParent(t, models.DataTypeVarchar)
	require.NoError(t, parent.SetSample(&models.RowSet{
		Columns: []string{"id"},
		Rows:    [][]any{{"a"}, {"b'c"}},
	}))

	got, err := BuildPredicateConstraint(parent, false, "PARENT_ID", "id", quoteDouble, FormatLiteral)
	require.NoError(t, err)
	assert.Equal(t, `"PARENT_ID" IN ('a', 'b''c')`, got)
}

func TestBuildPredicateConstraint_EmptySample(t *testing.T) {
	parent := newParent(t, models.DataTypeInteger)
	require.NoError(t, parent.SetSample(&models.RowSet{Columns: []string{"ID"}, Rows: [][]any{}}))

	got, err := BuildPredicateConstraint(parent, false, "PARENT_ID", "ID", quoteDouble, FormatLiteral)
	require.NoError(t, err)
	assert.Equal(t, EmptyConstraint, got)
}

func TestBuildPredicateConstraint_Analyze(t *testing.T) {
	parent := newParent(t, models.DataTypeInteger)
	require.NoError(t, parent.SetCoreQuery(`SELECT * FROM "DB"."PUBLIC"."PARENT"`))

	got, err := BuildPredicateConstraint(parent, true, "PARENT_ID", "ID", quoteDouble, FormatLiteral)
	require.NoError(t, err)
	assert.Contains(t, got, `"PARENT_ID" IN (`)
	assert.Contains(t, got, `SELECT "ID"`)
	assert.Contains(t, got, `SELECT * FROM "DB"."PUBLIC"."PARENT"`)
}

func TestBuildPredicateConstraint_Errors(t *testing.T) {
	parent := newParent(t, models.DataTypeInteger)

	_, err := BuildPredicateConstraint(parent, false, "PARENT_ID", "MISSING", quoteDouble, FormatLiteral)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = BuildPredicateConstraint(parent, false, "PARENT_ID", "ID", quoteDouble, FormatLiteral)
	assert.Error(t, err, "parent has no sample yet")

	_, err = BuildPredicateConstraint(parent, true, "PARENT_ID", "ID", quoteDouble, FormatLiteral)
	assert.Error(t, err, "parent has no core query yet")
}

func TestBuildPredicateConstraint_LargeSet(t *testing.T) {
	parent := newParent(t, models.DataTypeInteger)
	rows := make([][]any, 0, 5000)
	for i := 0; i < 5000; i++ {
		rows = append(rows, []any{int64(i)})
	}
	require.NoError(t, parent.SetSample(&models.RowSet{Columns: []string{"ID"}, Rows: rows}))

	got, err := BuildPredicateConstraint(parent, false, "PARENT_ID", "ID", quoteDouble, FormatLiteral)
	require.NoError(t, err)
	assert.Contains(t, got, ", "+strconv.Itoa(4999)+")")
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "abc", NormalizeValue([]byte("abc"), "VARCHAR"))
	assert.Equal(t, []byte{0x01, 0x02}, NormalizeValue([]byte{0x01, 0x02}, "VARBINARY"))
	assert.Equal(t, []byte{0x01}, NormalizeValue([]byte{0x01}, "BLOB"))
	assert.Equal(t, int64(5), NormalizeValue(int64(5), "INTEGER"))
}
