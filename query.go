package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const probeSavepoint = "MCP_PROBE"

// QueryExecutor runs arbitrary SQL for the execute_query tool. Failures are
// returned inside the QueryResult, never as Go errors, so the agent always
// receives a structured answer.
type QueryExecutor struct {
	conns *ConnectionManager

	// Timeout bounds a single statement; zero disables it.
	Timeout time.Duration
	// MaxRows caps the rows returned; zero means unlimited.
	MaxRows int
	// ReadOnly rejects statements that could modify the database.
	ReadOnly bool
}

// NewQueryExecutor returns an executor with no timeout, row cap or guard.
func NewQueryExecutor(conns *ConnectionManager) *QueryExecutor {
	return &QueryExecutor{conns: conns}
}

// Execute runs sqlText verbatim inside its own transaction.
//
// database/sql only reveals whether a statement has a result set after it
// has run, so the statement is first run as a query behind a savepoint. If
// the driver describes no columns, the savepoint is rolled back and the
// statement is run again as an exec to learn the affected-row count. Either
// way the transaction is committed.
func (e *QueryExecutor) Execute(ctx context.Context, sqlText string) *QueryResult {
	if e.ReadOnly {
		if err := validateReadOnlyQuery(sqlText); err != nil {
			return errorResult(fmt.Sprintf("query rejected: %v", err))
		}
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var result *QueryResult
	err := e.conns.withConn(func(conn *sql.Conn) error {
		// Cancellation applies to the statements only. A transaction whose
		// context ends is rolled back by database/sql, which can discard the
		// single connection.
		tx, err := conn.BeginTx(context.WithoutCancel(ctx), nil)
		if err != nil {
			return err
		}
		result, err = e.run(ctx, tx, sqlText)
		if err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return errorResult(err.Error())
	}
	return result
}

func (e *QueryExecutor) run(ctx context.Context, tx *sql.Tx, sqlText string) (*QueryResult, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+probeSavepoint); err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	if len(columns) > 0 {
		defer rows.Close()
		return e.fetch(rows, uniqueColumns(columns))
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+probeSavepoint); err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	return statusResult(affected), nil
}

func (e *QueryExecutor) fetch(rows *sql.Rows, columns []string) (*QueryResult, error) {
	var result []Row
	truncated := false
	for rows.Next() {
		if e.MaxRows > 0 && len(result) >= e.MaxRows {
			truncated = true
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(result)+1, err)
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		result = append(result, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rowsResult(result, truncated), nil
}

// uniqueColumns renames repeated column names so each row maps to a JSON
// object without duplicate keys: A, A becomes A, A_2.
func uniqueColumns(columns []string) []string {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}

	out := make([]string, len(columns))
	used := make(map[string]bool, len(columns))
	for i, c := range columns {
		// A generated name never takes one a later column really has.
		name := c
		for n := 2; used[name] || (name != c && seen[name]); n++ {
			name = c + "_" + strconv.Itoa(n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// normalizeValue converts driver values into JSON-friendly forms.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case decimal.Decimal:
		return val.String()
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return val.String()
	}
	return v
}
