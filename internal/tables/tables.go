// Package tables manages the sqlite shadow tables materialized from
// visualizable result files.
package tables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const registrySchemaSQL = `
CREATE TABLE IF NOT EXISTS shadow_tables (
	name       TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL DEFAULT '',
	rows       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

var namePattern = regexp.MustCompile(`^data_(dropbox|\d+)_\d+$`)

// DropboxName is the shadow table of dropbox record id.
func DropboxName(id string) string {
	return "data_dropbox_" + id
}

// JobName is the shadow table of record id in job job.
func JobName(job int, id string) string {
	return "data_" + strconv.Itoa(job) + "_" + id
}

// DB wraps a sql.DB holding shadow tables and their registry.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("tables: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tables: ping: %w", err)
	}
	if _, err := conn.Exec(registrySchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tables: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func checkName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("tables: invalid table name %q", name)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Drop removes a shadow table. A table that does not exist is not an error.
func (db *DB) Drop(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tables: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return fmt.Errorf("tables: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shadow_tables WHERE name = ?`, name); err != nil {
		return fmt.Errorf("tables: unregister %s: %w", name, err)
	}
	return tx.Commit()
}

// DropAll drops every registered shadow table.
func (db *DB) DropAll(ctx context.Context) error {
	names, err := db.Names(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, n := range names {
		if err := db.Drop(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names lists the registered shadow tables.
func (db *DB) Names(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM shadow_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("tables: list: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Exists reports whether the table is present in the database.
func (db *DB) Exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("tables: exists %s: %w", name, err)
	}
	return n > 0, nil
}

// Checksum returns the checksum of the file the table was built from, or ""
// when the table is not registered.
func (db *DB) Checksum(ctx context.Context, name string) (string, error) {
	var cs string
	err := db.conn.QueryRowContext(ctx, `SELECT checksum FROM shadow_tables WHERE name = ?`, name).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("tables: checksum %s: %w", name, err)
	}
	return cs, nil
}

// Columns turns a TSV header into usable column names. Names are trimmed
// and lowercased with spaces and dashes folded to underscores. A blank name
// becomes column_<n> and a repeated one gets a _2, _3... suffix.
func Columns(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		c := strings.ToLower(strings.TrimSpace(h))
		c = strings.NewReplacer(" ", "_", "-", "_").Replace(c)
		if c == "" {
			c = "column_" + strconv.Itoa(i+1)
		}
		base := c
		for n := 2; used[c]; n++ {
			c = base + "_" + strconv.Itoa(n)
		}
		used[c] = true
		out[i] = c
	}
	return out
}

// Materialize replaces the table with header and rows. Column names pass
// through Columns. Columns use NUMERIC affinity so numeric cells read back
// as numbers.
func (db *DB) Materialize(ctx context.Context, name, checksum string, header []string, rows [][]string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if len(header) == 0 {
		return fmt.Errorf("tables: materialize %s: empty header", name)
	}
	header = Columns(header)
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tables: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cols := make([]string, len(header))
	marks := make([]string, len(header))
	for i, h := range header {
		cols[i] = quoteIdent(h) + " NUMERIC"
		marks[i] = "?"
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(name)); err != nil {
		return fmt.Errorf("tables: drop %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE `+quoteIdent(name)+` (`+strings.Join(cols, ", ")+`)`); err != nil {
		return fmt.Errorf("tables: create %s: %w", name, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+quoteIdent(name)+` VALUES (`+strings.Join(marks, ", ")+`)`)
	if err != nil {
		return fmt.Errorf("tables: prepare insert: %w", err)
	}
	defer stmt.Close()
	args := make([]any, len(header))
	for _, row := range rows {
		for i := range args {
			if i < len(row) {
				args[i] = row[i]
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("tables: insert into %s: %w", name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shadow_tables (name, checksum, rows) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			checksum   = excluded.checksum,
			rows       = excluded.rows,
			created_at = CURRENT_TIMESTAMP
	`, name, checksum, len(rows))
	if err != nil {
		return fmt.Errorf("tables: register %s: %w", name, err)
	}
	return tx.Commit()
}

// Rows returns every row of the table keyed by column name, in insert order.
func (db *DB) Rows(ctx context.Context, name string) ([]map[string]any, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	rows, err := db.conn.QueryContext(ctx, `SELECT * FROM `+quoteIdent(name)+` ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("tables: select %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("tables: scan %s: %w", name, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
