package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/boliseva-loan-ledger/internal/config"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// LocalDB is the on-device SQLite file backing the offline cache, key-value store and sync queue
type LocalDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// RunLocalMigrations applies the embedded goose migrations to db
func RunLocalMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(sqliteMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations/sqlite"); err != nil {
		return fmt.Errorf("failed to apply local migrations: %w", err)
	}
	return nil
}

// OpenLocalDB opens (or creates) the SQLite file at cfg.Path and migrates it
func OpenLocalDB(ctx context.Context, logger *slog.Logger, cfg *config.LocalStoreConfig) (*LocalDB, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY between goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure local store: %w", err)
	}

	if err := RunLocalMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Opened local store", "path", cfg.Path)

	return &LocalDB{
		db:     db,
		logger: logger,
	}, nil
}

func (l *LocalDB) DB() *sql.DB {
	return l.db
}

func (l *LocalDB) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close local store: %w", err)
	}
	l.logger.Info("Closed local store")
	return nil
}
