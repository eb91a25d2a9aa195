package store

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Result is the outcome of Execute. Reads fill Columns and Rows, writes
// fill RowsAffected.
type Result struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         []Row    `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

// Execute validates stmt and params and runs the statement against the open
// store. The whole call is rejected before touching storage if any check
// fails.
func (g *Gateway) Execute(ctx context.Context, stmt string, params ...any) (Result, error) {
	if err := ValidateStatement(stmt); err != nil {
		return Result{}, err
	}
	if err := ValidateParams(params); err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return Result{}, ErrNotOpen
	}

	g.log.Debug("Executing statement", zap.String("stmt", stmt), zap.Int("params", len(params)))

	if isRead(stmt) {
		rows, err := g.db.QueryContext(ctx, stmt, params...)
		if err != nil {
			return Result{}, fault.Storage(err, "query failed")
		}
		defer rows.Close()
		return scanRows(rows)
	}

	res, err := g.db.ExecContext(ctx, stmt, params...)
	if err != nil {
		return Result{}, fault.Storage(err, "statement failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, fault.Storage(err, "reading affected rows")
	}
	return Result{RowsAffected: n}, nil
}

func isRead(stmt string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(stmt)), "select")
}

func scanRows(rows *sql.Rows) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fault.Storage(err, "reading columns")
	}

	result := Result{Columns: columns, Rows: []Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fault.Storage(err, "scanning row")
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fault.Storage(err, "iterating rows")
	}
	return result, nil
}
