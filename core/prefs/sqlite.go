package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"relay-client/core/errs"
	"relay-client/internal/debuglog"
)

// SQLiteStore persists preferences in a SQLite database. Every write is a committed
// statement with synchronous=FULL, so it is durable when the call returns.
type SQLiteStore struct {
	db *sql.DB
}

// dsnWithPragmas appends connection pragmas to a file path or file: DSN.
func dsnWithPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
}

// OpenSQLite opens (or creates) the database at dsn and applies pending migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsnWithPragmas(dsn))
	if err != nil {
		return nil, errs.Persistence("prefs.OpenSQLite", err)
	}
	// One writer keeps SetIfAbsent free of lock contention.
	db.SetMaxOpenConns(1)

	migrator := NewMigrator(db)
	for _, m := range preferenceMigrations() {
		migrator.AddMigration(m)
	}
	if err := migrator.Run(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Persistence("prefs.OpenSQLite", err)
	}
	debuglog.DebugLog("OpenSQLite: preference store ready at %s", dsn)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Persistence("prefs.Get", fmt.Errorf("%s: %w", key, err))
	}
	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return errs.Persistence("prefs.Set", fmt.Errorf("%s: %w", key, err))
	}
	return nil
}

func (s *SQLiteStore) SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	res, err := s.db.ExecContext(ctx, "INSERT INTO preferences (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING", key, value)
	if err != nil {
		return nil, false, errs.Persistence("prefs.SetIfAbsent", fmt.Errorf("%s: %w", key, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, errs.Persistence("prefs.SetIfAbsent", fmt.Errorf("%s: %w", key, err))
	}
	if n == 1 {
		return value, true, nil
	}
	existing, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, errs.Persistence("prefs.SetIfAbsent", fmt.Errorf("%s: value vanished after conflict", key))
	}
	return existing, false, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key); err != nil {
		return errs.Persistence("prefs.Delete", fmt.Errorf("%s: %w", key, err))
	}
	return nil
}

func (s *SQLiteStore) Apply(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Persistence("prefs.Apply", err)
	}
	defer func() { _ = tx.Rollback() }()
	for key, value := range b {
		if value == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, key, value)
		}
		if err != nil {
			return errs.Persistence("prefs.Apply", fmt.Errorf("%s: %w", key, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Persistence("prefs.Apply", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
