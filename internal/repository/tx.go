package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/marketplace-api/internal/model"
)

// WithTx runs fn inside a transaction.  The transaction is committed only
// when fn returns nil; any error, panic or context cancellation rolls it
// back.  fn's error is returned unchanged so callers can errors.Is it.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", model.ErrStorageUnavailable, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("commit tx: %w", err)
		}
		return fmt.Errorf("commit tx: %w: %w", model.ErrStorageUnavailable, err)
	}
	committed = true
	return nil
}

// CommitThen is a WithTx variant for units of work that must persist their
// writes even when they end in a domain outcome.  fn returns (keep, err):
// keep=true commits whatever fn wrote and then returns err.
func CommitThen(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (bool, error)) error {
	var outcome error
	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		keep, err := fn(tx)
		if err != nil && !keep {
			return err
		}
		outcome = err
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}
