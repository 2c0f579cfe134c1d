package main

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// DataType is the engine-agnostic name of a Firebird column type.
type DataType string

const (
	TypeBlob      DataType = "BLOB"
	TypeChar      DataType = "CHAR"
	TypeCString   DataType = "CSTRING"
	TypeDFloat    DataType = "D_FLOAT"
	TypeDouble    DataType = "DOUBLE"
	TypeFloat     DataType = "FLOAT"
	TypeInt64     DataType = "INT64"
	TypeInteger   DataType = "INTEGER"
	TypeQuad      DataType = "QUAD"
	TypeSmallint  DataType = "SMALLINT"
	TypeDate      DataType = "DATE"
	TypeTime      DataType = "TIME"
	TypeTimestamp DataType = "TIMESTAMP"
	TypeVarchar   DataType = "VARCHAR"
	TypeUnknown   DataType = "UNKNOWN"
)

// RDB$FIELDS.RDB$FIELD_TYPE codes.
var dataTypeCodes = map[int64]DataType{
	261: TypeBlob,
	14:  TypeChar,
	40:  TypeCString,
	11:  TypeDFloat,
	27:  TypeDouble,
	10:  TypeFloat,
	16:  TypeInt64,
	8:   TypeInteger,
	9:   TypeQuad,
	7:   TypeSmallint,
	12:  TypeDate,
	13:  TypeTime,
	35:  TypeTimestamp,
	37:  TypeVarchar,
}

// DataTypeFromCode decodes a catalog type code. Codes outside the table
// decode to TypeUnknown.
func DataTypeFromCode(code int64) DataType {
	if t, ok := dataTypeCodes[code]; ok {
		return t
	}
	return TypeUnknown
}

// ColumnDescriptor describes one column of one table. Pointer fields are nil
// when the catalog has no value for them.
type ColumnDescriptor struct {
	Name           string   `json:"name"`
	DataType       DataType `json:"data_type"`
	Length         int64    `json:"length"`
	Precision      *int64   `json:"precision"`
	Scale          *int64   `json:"scale"`
	ConstraintType *string  `json:"constraint_type"`
	ConstraintName *string  `json:"constraint_name"`
	Nullable       bool     `json:"nullable"`
	DefaultValue   *string  `json:"default_value"`
}

// Row is one result-set row. It marshals to a JSON object whose keys keep the
// statement's column order.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the first column named col.
func (r Row) Get(col string) (any, bool) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// QueryResult is the outcome of execute_query: a result set (possibly
// empty), an affected-row count, or an error message carried as data.
type QueryResult struct {
	Rows         []Row
	RowsAffected int64
	Truncated    bool
	Err          string

	kind resultKind
}

type resultKind int

const (
	resultRows resultKind = iota
	resultStatus
	resultError
)

// IsError reports whether the statement failed.
func (r *QueryResult) IsError() bool { return r.kind == resultError }

// HasResultSet reports whether the statement produced a described result set.
func (r *QueryResult) HasResultSet() bool { return r.kind == resultRows }

// StatusRecord is the single record returned for statements without a
// result set.
type StatusRecord struct {
	RowsAffected int64 `json:"rows_affected"`
}

// ErrorRecord carries a failed statement's message as data.
type ErrorRecord struct {
	Error string `json:"error"`
}

func (r *QueryResult) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case resultError:
		return json.Marshal(ErrorRecord{Error: r.Err})
	case resultStatus:
		return json.Marshal([]StatusRecord{{RowsAffected: r.RowsAffected}})
	}
	out := make([]any, 0, len(r.Rows)+1)
	for _, row := range r.Rows {
		out = append(out, row)
	}
	if r.Truncated {
		out = append(out, map[string]string{
			"_warning": "result truncated at " + strconv.Itoa(len(r.Rows)) + " rows",
		})
	}
	return json.Marshal(out)
}

func rowsResult(rows []Row, truncated bool) *QueryResult {
	if rows == nil {
		rows = []Row{}
	}
	return &QueryResult{Rows: rows, Truncated: truncated, kind: resultRows}
}

func statusResult(affected int64) *QueryResult {
	return &QueryResult{RowsAffected: affected, kind: resultStatus}
}

func errorResult(msg string) *QueryResult {
	return &QueryResult{Err: msg, kind: resultError}
}
