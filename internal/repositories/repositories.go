package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store bundles the repositories over one database handle.
type Store struct {
	db       *sql.DB
	Settings *SettingsRepository
	History  *HistoryRepository
}

// NewStore wires every repository to db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, Settings: NewSettingsRepository(db), History: NewHistoryRepository(db)}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// affected returns [ErrNotFound] when res touched no rows.
func affected(res sql.Result, what, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
