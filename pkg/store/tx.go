package store

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/studyengine/ent"
)

// WithTx runs fn inside an ent transaction, committing on success and
// rolling back (folding any rollback error into the original) on failure or
// panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *ent.Tx) error) error {
	tx, err := c.Client.Tx(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
