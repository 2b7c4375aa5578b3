package models

// DataType is the engine-independent semantic type of an attribute.
// Source adapters map their native type names onto this set.
type DataType string

const (
	DataTypeInteger     DataType = "INTEGER"
	DataTypeDouble      DataType = "DOUBLE"
	DataTypeVarchar     DataType = "VARCHAR"
	DataTypeBoolean     DataType = "BOOLEAN"
	DataTypeDate        DataType = "DATE"
	DataTypeTimestamp   DataType = "TIMESTAMP"
	DataTypeTimestampTZ DataType = "TIMESTAMPTZ"
	DataTypeJSON        DataType = "JSON"
	DataTypeObject      DataType = "OBJECT"
	DataTypeArray       DataType = "ARRAY"
	DataTypeBinary      DataType = "BINARY"
)

// AllDataTypes lists every semantic data type.
var AllDataTypes = []DataType{
	DataTypeInteger,
	DataTypeDouble,
	DataTypeVarchar,
	DataTypeBoolean,
	DataTypeDate,
	DataTypeTimestamp,
	DataTypeTimestampTZ,
	DataTypeJSON,
	DataTypeObject,
	DataTypeArray,
	DataTypeBinary,
}

// RequiresQuotes reports whether literal values of this type must be quoted
// when embedded in generated SQL.
func (d DataType) RequiresQuotes() bool {
	switch d {
	case DataTypeInteger, DataTypeDouble, DataTypeBoolean:
		return false
	default:
		return true
	}
}

// IsValid reports whether d is one of the known semantic types.
func (d DataType) IsValid() bool {
	for _, known := range AllDataTypes {
		if d == known {
			return true
		}
	}
	return false
}

// Attribute is a typed column of a relation. Immutable once constructed.
type Attribute struct {
	name     string
	ordinal  int
	dataType DataType
}

// NewAttribute creates an attribute at the given catalog ordinal position.
func NewAttribute(name string, ordinal int, dataType DataType) Attribute {
	return Attribute{name: name, ordinal: ordinal, dataType: dataType}
}

func (a Attribute) Name() string       { return a.name }
func (a Attribute) Ordinal() int       { return a.ordinal }
func (a Attribute) DataType() DataType { return a.dataType }
