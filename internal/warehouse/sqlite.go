package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"sheetload/internal/retry"
	"sheetload/internal/schema"
	logx "sheetload/pkg/logx"
)

// SQLite stores tables in a local database file. Loads are synchronous, so
// the returned Job is already finished.
type SQLite struct {
	db  *sql.DB
	log logx.Logger

	jobs atomic.Uint64
}

func OpenSQLite(cfg StoreConfig, log logx.Logger) (*SQLite, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, log: log}, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) DeleteTable(ctx context.Context, table string) error {
	cols, err := s.columns(ctx, s.db, table)
	if err != nil {
		return classifySQLite(err)
	}
	if cols == nil {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table))
	return classifySQLite(err)
}

func (s *SQLite) StartLoad(ctx context.Context, req LoadRequest) (Job, error) {
	id := fmt.Sprintf("sqlite-%d", s.jobs.Add(1))
	return doneJob{id: id, err: s.load(ctx, req)}, nil
}

func (s *SQLite) load(ctx context.Context, req LoadRequest) error {
	if len(req.Data.Columns) == 0 {
		return retry.Permanent(errors.New("load without columns"))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.ensureTable(ctx, tx, req); err != nil {
		return err
	}

	names := req.Data.ColumnNames()
	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(req.Table), strings.Join(quoted, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return classifySQLite(err)
	}
	defer stmt.Close()

	args := make([]any, len(names))
	for _, row := range req.Data.Rows {
		for i := range args {
			args[i] = nil
			if i < len(row) {
				args[i] = sqlValue(req.Data.Columns[i], row[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return classifySQLite(err)
		}
	}
	return classifySQLite(tx.Commit())
}

// ensureTable creates the table, or adds columns it lacks when field
// addition is allowed.
func (s *SQLite) ensureTable(ctx context.Context, tx *sql.Tx, req LoadRequest) error {
	types := sqliteTypes(req.Data.Columns, req.Hints)
	existing, err := s.columns(ctx, tx, req.Table)
	if err != nil {
		return classifySQLite(err)
	}
	if existing == nil {
		defs := make([]string, len(req.Data.Columns))
		for i, c := range req.Data.Columns {
			defs[i] = quoteIdent(c.Name) + " " + types[i]
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(req.Table), strings.Join(defs, ", ")))
		return classifySQLite(err)
	}
	for i, c := range req.Data.Columns {
		if existing[c.Name] {
			continue
		}
		if !req.AllowFieldAddition {
			return retry.Permanent(fmt.Errorf("table %s has no column %q", req.Table, c.Name))
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			quoteIdent(req.Table), quoteIdent(c.Name), types[i])); err != nil {
			return classifySQLite(err)
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// columns returns the table's column set, or nil when the table does not exist.
func (s *SQLite) columns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out map[string]bool
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[string]bool)
		}
		out[name] = true
	}
	return out, rows.Err()
}

func sqliteTypes(cols []schema.Column, hints []schema.Field) []string {
	hinted := make(map[string]bool, len(hints))
	for _, h := range hints {
		hinted[h.Name] = true
	}
	out := make([]string, len(cols))
	for i, c := range cols {
		switch {
		case hinted[c.Name] || c.Type == schema.String:
			out[i] = "TEXT"
		case c.Type == schema.Numeric && c.Integral:
			out[i] = "INTEGER"
		case c.Type == schema.Numeric:
			out[i] = "REAL"
		default:
			out[i] = "TEXT"
		}
	}
	return out
}

// sqlValue stores DATE columns as text: a date, or an RFC3339 UTC
// timestamp when the column has times of day.
func sqlValue(c schema.Column, v any) any {
	if tv, ok := v.(time.Time); ok {
		if c.Clock {
			return tv.UTC().Format(time.RFC3339Nano)
		}
		return tv.UTC().Format(time.DateOnly)
	}
	return v
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return retry.Transient(err)
		}
	}
	return err
}
