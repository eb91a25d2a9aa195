package store

import (
	"context"
	"fmt"
	"strings"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/logging"
)

// InspectLogLimit is the number of recent log entries included by Inspect.
const InspectLogLimit = 50

// Diagnostics is a dump of the open store's state.
type Diagnostics struct {
	User          string           `json:"user"`
	Path          string           `json:"path"`
	SQLiteVersion string           `json:"sqlite_version"`
	SchemaVersion int              `json:"schema_version"`
	Tables        map[string]int64 `json:"tables"`
	Schema        []string         `json:"schema"`
	Logs          []logging.Entry  `json:"logs,omitempty"`
}

// Inspect reports the engine version, schema and row counts of the open
// store, together with recent log entries when a log buffer is attached.
func (g *Gateway) Inspect(ctx context.Context) (Diagnostics, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return Diagnostics{}, ErrNotOpen
	}

	d := Diagnostics{
		User:   g.userID,
		Path:   g.path,
		Tables: map[string]int64{},
	}

	if err := g.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&d.SQLiteVersion); err != nil {
		return Diagnostics{}, fault.Storage(err, "reading engine version")
	}
	if err := g.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&d.SchemaVersion); err != nil {
		return Diagnostics{}, fault.Storage(err, "reading schema version")
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT type, name, sql FROM sqlite_master
		 WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' ORDER BY type DESC, name`)
	if err != nil {
		return Diagnostics{}, fault.Storage(err, "reading schema")
	}
	var tables []string
	for rows.Next() {
		var typ, name, sql string
		if err := rows.Scan(&typ, &name, &sql); err != nil {
			rows.Close()
			return Diagnostics{}, fault.Storage(err, "scanning schema")
		}
		d.Schema = append(d.Schema, sql)
		if typ == "table" {
			tables = append(tables, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Diagnostics{}, fault.Storage(err, "reading schema")
	}

	for _, table := range tables {
		var n int64
		query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, strings.ReplaceAll(table, `"`, `""`))
		if err := g.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
			return Diagnostics{}, fault.Storage(err, "counting rows")
		}
		d.Tables[table] = n
	}

	if g.buffer != nil {
		d.Logs = g.buffer.Query(logging.QueryOpts{Limit: InspectLogLimit})
	}
	return d, nil
}
