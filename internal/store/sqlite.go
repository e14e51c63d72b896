package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
// Each range is a sequence of rows ordered by insertion.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes writers, so appends to the same range never interleave.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string. ulid.Make is monotonic within a
// millisecond, so rows inserted in one transaction keep distinct ids.
func newULID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetRange returns every row of the named range in append order.
// A range that was never written is empty, not an error.
func (s *SQLiteStore) GetRange(ctx context.Context, name string) ([][]string, error) {
	if name == "" {
		return nil, ErrInvalidRange
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cells FROM range_rows WHERE range_name = ? ORDER BY seq`, name)
	if err != nil {
		return nil, fmt.Errorf("get range %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	var out [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan range %s: %w", name, err)
		}
		var cells []string
		if err := json.Unmarshal([]byte(raw), &cells); err != nil {
			return nil, fmt.Errorf("decode range %s: %w", name, err)
		}
		out = append(out, cells)
	}
	return out, rows.Err()
}

// AppendRows appends rows to the named range in a single transaction.
func (s *SQLiteStore) AppendRows(ctx context.Context, name string, rows [][]string) error {
	if name == "" {
		return ErrInvalidRange
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRows(ctx, tx, name, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append %s: %w", name, err)
	}
	return nil
}

// BatchUpdate replaces the contents of each listed range. All updates commit together.
func (s *SQLiteStore) BatchUpdate(ctx context.Context, updates []RangeUpdate) error {
	for _, u := range updates {
		if u.Range == "" {
			return ErrInvalidRange
		}
	}
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, "DELETE FROM range_rows WHERE range_name = ?", u.Range); err != nil {
			return fmt.Errorf("clear range %s: %w", u.Range, err)
		}
		if err := insertRows(ctx, tx, u.Range, u.Values); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch update: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, name string, rows [][]string) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO range_rows (id, range_name, cells, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert %s: %w", name, err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, r := range rows {
		cells := r
		if cells == nil {
			cells = []string{}
		}
		data, err := json.Marshal(cells)
		if err != nil {
			return fmt.Errorf("encode row for %s: %w", name, err)
		}
		if _, err := stmt.ExecContext(ctx, newULID(), name, string(data), now); err != nil {
			return fmt.Errorf("insert row into %s: %w", name, err)
		}
	}
	return nil
}
