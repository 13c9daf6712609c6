package storage

import (
	"context"
	"fmt"
)

// RowError is a statement failure that was undone by rolling back to a
// savepoint. The run transaction is still usable after a RowError.
type RowError struct {
	Err error
}

func (e *RowError) Error() string { return "row: " + e.Err.Error() }

func (e *RowError) Unwrap() error { return e.Err }

// Attempt runs fn between a savepoint and its release.
//
// Classification:
//   - fn succeeds: the savepoint is released and Attempt returns nil.
//   - fn fails and the savepoint is restored: Attempt returns a *RowError and
//     the caller may continue with the next row.
//   - the context is done, or the savepoint cannot be set or restored: the
//     error is returned as-is and must abort the run.
func Attempt(ctx context.Context, tx Tx, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Savepoint(ctx, name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if rbErr := tx.RollbackTo(ctx, name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %w (after %v)", name, rbErr, err)
		}
		return &RowError{Err: err}
	}

	if err := tx.Release(ctx, name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
