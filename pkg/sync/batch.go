package sync

import (
	"context"

	"github.com/scmtools/revmirror/pkg/store"
)

// batchCommitter bounds transaction size on long catch-up runs: every
// size logical steps it commits the open transaction and opens a fresh
// one. Crash recovery needs no cursor bookkeeping — the engine re-derives
// its start position from what is durably recorded.
type batchCommitter struct {
	store store.Store
	size  int

	tx    store.Tx
	steps int
}

func newBatchCommitter(s store.Store, size int) *batchCommitter {
	return &batchCommitter{store: s, size: size}
}

// Tx returns the currently open transaction, opening one if needed.
func (b *batchCommitter) Tx(ctx context.Context) (store.Tx, error) {
	if b.tx == nil {
		tx, err := b.store.Begin(ctx)
		if err != nil {
			return nil, err
		}

		b.tx = tx
	}

	return b.tx, nil
}

// Step records one completed logical operation and commits at the batch
// boundary. The committed transaction is durable regardless of what
// happens to later batches.
func (b *batchCommitter) Step(ctx context.Context) (committed bool, err error) {
	b.steps++

	if b.tx == nil || b.steps%b.size != 0 {
		return false, nil
	}

	if err := b.tx.Commit(); err != nil {
		b.tx = nil

		return false, err
	}

	b.tx = nil

	return true, nil
}

// Commit flushes the final partial batch.
func (b *batchCommitter) Commit() error {
	if b.tx == nil {
		return nil
	}

	err := b.tx.Commit()
	b.tx = nil

	return err
}

// Rollback discards the open transaction, if any. Already-committed
// batches stay durable.
func (b *batchCommitter) Rollback() {
	if b.tx == nil {
		return
	}

	_ = b.tx.Rollback()
	b.tx = nil
}
