package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// withTx runs fn inside a transaction, committing on success and rolling back otherwise
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin local transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit local transaction: %w", err)
	}
	return nil
}

// queryPayloads reads every payload column of query before returning, so the single
// SQLite connection is free again for follow-up statements
func queryPayloads(ctx context.Context, db *sql.DB, query string, args ...any) ([][]byte, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payloads := make([][]byte, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, rows.Err()
}
