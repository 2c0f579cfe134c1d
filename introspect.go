package main

import (
	"context"
	"database/sql"
	"slices"
	"strings"
)

// The catalog queries stay within SQL that both Firebird and SQLite accept,
// so tests can run them against an emulated RDB$ catalog.

const listTablesQuery = `
	SELECT RDB$RELATION_NAME
	  FROM RDB$RELATIONS
	 WHERE RDB$VIEW_BLR IS NULL
	   AND (RDB$SYSTEM_FLAG IS NULL OR RDB$SYSTEM_FLAG = 0)
	 ORDER BY RDB$RELATION_NAME`

// describeTableQuery yields one row per physical column. Index segments,
// indices and constraints are reduced to a single MIN per (relation, field)
// inside the derived table, so several matching indices never fan out.
const describeTableQuery = `
	SELECT TRIM(r.RDB$FIELD_NAME) AS FIELD_NAME,
	       f.RDB$FIELD_TYPE AS FIELD_TYPE,
	       f.RDB$FIELD_LENGTH AS FIELD_LENGTH,
	       f.RDB$FIELD_PRECISION AS FIELD_PRECISION,
	       f.RDB$FIELD_SCALE AS FIELD_SCALE,
	       k.CONSTRAINT_TYPE,
	       k.CONSTRAINT_NAME,
	       CASE WHEN r.RDB$NULL_FLAG = 1 THEN 1 ELSE 0 END AS NOT_NULL,
	       r.RDB$DEFAULT_SOURCE AS DFLT_VALUE
	  FROM RDB$RELATION_FIELDS r
	  JOIN RDB$RELATIONS rel
	    ON rel.RDB$RELATION_NAME = r.RDB$RELATION_NAME
	   AND rel.RDB$VIEW_BLR IS NULL
	   AND (rel.RDB$SYSTEM_FLAG IS NULL OR rel.RDB$SYSTEM_FLAG = 0)
	  LEFT JOIN RDB$FIELDS f
	    ON f.RDB$FIELD_NAME = r.RDB$FIELD_SOURCE
	  LEFT JOIN (
	        SELECT s.RDB$FIELD_NAME AS FIELD_NAME,
	               MIN(rc.RDB$CONSTRAINT_TYPE) AS CONSTRAINT_TYPE,
	               MIN(rc.RDB$INDEX_NAME) AS CONSTRAINT_NAME
	          FROM RDB$INDEX_SEGMENTS s
	          JOIN RDB$INDICES i
	            ON i.RDB$INDEX_NAME = s.RDB$INDEX_NAME
	          JOIN RDB$RELATION_CONSTRAINTS rc
	            ON rc.RDB$INDEX_NAME = i.RDB$INDEX_NAME
	           AND rc.RDB$RELATION_NAME = i.RDB$RELATION_NAME
	         WHERE i.RDB$RELATION_NAME = ?
	         GROUP BY s.RDB$FIELD_NAME
	       ) k
	    ON k.FIELD_NAME = r.RDB$FIELD_NAME
	 WHERE (r.RDB$SYSTEM_FLAG IS NULL OR r.RDB$SYSTEM_FLAG = 0)
	   AND r.RDB$RELATION_NAME = ?
	 ORDER BY r.RDB$FIELD_POSITION`

// SchemaIntrospector translates the Firebird system catalog into table name
// lists and ColumnDescriptors. It holds no state besides the connection.
type SchemaIntrospector struct {
	conns *ConnectionManager
}

// NewSchemaIntrospector returns an introspector reading through conns.
func NewSchemaIntrospector(conns *ConnectionManager) *SchemaIntrospector {
	return &SchemaIntrospector{conns: conns}
}

// ListTables returns the user tables, trimmed and sorted. Views and system
// relations are excluded.
func (si *SchemaIntrospector) ListTables(ctx context.Context) ([]string, error) {
	tables := []string{}
	err := si.conns.withConn(func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, listTablesQuery)
		if err != nil {
			return &QueryError{Query: listTablesQuery, Cause: err}
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return &QueryError{Query: listTablesQuery, Cause: err}
			}
			tables = append(tables, strings.TrimSpace(name))
		}
		if err := rows.Err(); err != nil {
			return &QueryError{Query: listTablesQuery, Cause: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Padding can reorder names relative to the engine's collation.
	slices.Sort(tables)
	return slices.Compact(tables), nil
}

// DescribeTable returns one descriptor per column of the named table, in
// field-position order. The name is matched exactly as stored; an unknown
// table yields an empty slice.
func (si *SchemaIntrospector) DescribeTable(ctx context.Context, name string) ([]ColumnDescriptor, error) {
	columns := []ColumnDescriptor{}
	err := si.conns.withConn(func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, describeTableQuery, name, name)
		if err != nil {
			return &QueryError{Query: describeTableQuery, Cause: err}
		}
		defer rows.Close()

		for rows.Next() {
			col, err := scanColumn(rows)
			if err != nil {
				return &QueryError{Query: describeTableQuery, Cause: err}
			}
			columns = append(columns, col)
		}
		if err := rows.Err(); err != nil {
			return &QueryError{Query: describeTableQuery, Cause: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return columns, nil
}

func scanColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	var (
		name           string
		fieldType      sql.NullInt64
		length         sql.NullInt64
		precision      sql.NullInt64
		scale          sql.NullInt64
		constraintType sql.NullString
		constraintName sql.NullString
		notNull        int64
		dflt           sql.NullString
	)
	if err := rows.Scan(&name, &fieldType, &length, &precision, &scale,
		&constraintType, &constraintName, &notNull, &dflt); err != nil {
		return ColumnDescriptor{}, err
	}

	col := ColumnDescriptor{
		Name:     strings.TrimSpace(name),
		DataType: TypeUnknown,
		Length:   length.Int64,
		Nullable: notNull != 1,
	}
	if fieldType.Valid {
		col.DataType = DataTypeFromCode(fieldType.Int64)
	}
	if precision.Valid {
		col.Precision = &precision.Int64
	}
	if scale.Valid {
		// Firebird stores the scale as a non-positive exponent.
		s := scale.Int64
		if s < 0 {
			s = -s
		}
		col.Scale = &s
	}
	if constraintType.Valid {
		ct := strings.TrimSpace(constraintType.String)
		col.ConstraintType = &ct
		if constraintName.Valid {
			cn := strings.TrimSpace(constraintName.String)
			col.ConstraintName = &cn
		}
	}
	if dflt.Valid {
		col.DefaultValue = &dflt.String
	}
	return col, nil
}
