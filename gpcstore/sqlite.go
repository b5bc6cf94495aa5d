package gpcstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultStateKey is the row key used when SQLiteConfig.Key is empty.
const DefaultStateKey = "gpc_server"

// SQLiteConfig is the configuration for a [SQLiteStore].
type SQLiteConfig struct {
	// Data source name passed to the sqlite driver,
	// for example "file:/var/lib/gpc/state.db".
	DSN string

	// Row key for the blob,
	// so that several servers can share one database.
	Key string
}

// SQLiteStore is a [gpchost.Storage] keeping the blob in an SQLite table.
type SQLiteStore struct {
	log *slog.Logger

	db  *sql.DB
	key string
}

// OpenSQLiteStore opens the database and creates the state table if needed.
// The caller must Close the store.
func OpenSQLiteStore(ctx context.Context, log *slog.Logger, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("SQLiteConfig.DSN must not be empty")
	}
	if cfg.Key == "" {
		cfg.Key = DefaultStateKey
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One writer at a time; the server only saves from one goroutine anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS gpc_state(
		key TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}

	return &SQLiteStore{
		log: log,
		db:  db,
		key: cfg.Key,
	}, nil
}

// Load implements [gpchost.Storage].
func (s *SQLiteStore) Load(ctx context.Context) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(
		ctx, `SELECT blob FROM gpc_state WHERE key = ?`, s.key,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state row %q: %w", s.key, err)
	}
	return blob, nil
}

// Save implements [gpchost.Storage].
func (s *SQLiteStore) Save(ctx context.Context, blob []byte) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO gpc_state(key, blob, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		s.key, blob, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to save state row %q: %w", s.key, err)
	}

	s.log.Debug("Saved state", "key", s.key, "size", len(blob))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
