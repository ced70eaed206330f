package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	_ "modernc.org/sqlite"

	"genflow/internal/config"
	"genflow/internal/generation"
)

// Store manages generation history persistence backed by SQLite.
type Store struct {
	db           *sql.DB
	path         string
	persistLimit int
}

// Open initializes or connects to the history database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryDatabasePath(), cfg.History.PersistLimit)
}

// OpenPath opens the database at path. A positive persistLimit bounds the
// number of rows kept by OnRecord.
func OpenPath(path string, persistLimit int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, persistLimit: persistLimit}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts rec. A record whose id is already stored is ignored and
// reported as false.
func (s *Store) Append(ctx context.Context, rec generation.Record) (bool, error) {
	args, err := recordArgs(rec)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO generation_records (`+insertColumns+`) VALUES (`+makePlaceholders(len(args))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Get fetches a record by id. A missing id returns nil without error.
func (s *Store) Get(ctx context.Context, id string) (*generation.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM generation_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &rec, nil
}

// LoadRecent returns up to limit of the newest records in insertion order,
// oldest first, ready for seeding the engine. limit <= 0 loads everything.
func (s *Store) LoadRecent(ctx context.Context, limit int) ([]generation.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM generation_records ORDER BY position DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	var records []generation.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	slices.Reverse(records)
	return records, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM generation_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// Prune deletes all but the keep newest records and returns how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM generation_records WHERE position NOT IN (
            SELECT position FROM generation_records ORDER BY position DESC LIMIT ?
        )`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune records: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

// OnRecord appends rec and prunes to the persist limit. It lets the store be
// registered directly as an engine record listener.
func (s *Store) OnRecord(ctx context.Context, rec generation.Record) error {
	if _, err := s.Append(ctx, rec); err != nil {
		return err
	}
	if s.persistLimit > 0 {
		if _, err := s.Prune(ctx, s.persistLimit); err != nil {
			return err
		}
	}
	return nil
}
