package store

import (
	"context"
	"fmt"

	"github.com/joeycumines/go-microbatch"
)

// appendJob carries one pending Append through the batcher; result/err are
// filled in by the BatchProcessor and read back after JobResult.Wait.
type appendJob struct {
	record Record
	result int64
	err    error
}

// BatchedStore wraps a Store, coalescing concurrent Append calls into small
// batches to cut round trips against the underlying database — the same
// motivation the batcher's own doc comment states. Patch, Delete, Today and
// OnDay pass straight through: only the hot Append path benefits from
// coalescing, since kiosk traffic is bursty face-scan intake, not steady
// patch/read load.
type BatchedStore struct {
	Store
	batcher *microbatch.Batcher[*appendJob]
}

// NewBatchedStore wraps next, batching Append calls per config (nil for the
// batcher's defaults: up to 16 jobs or a 50ms flush interval, whichever
// comes first).
func NewBatchedStore(next Store, config *microbatch.BatcherConfig) *BatchedStore {
	b := &BatchedStore{Store: next}
	b.batcher = microbatch.NewBatcher(config, b.processBatch)
	return b
}

func (b *BatchedStore) processBatch(ctx context.Context, jobs []*appendJob) error {
	for _, j := range jobs {
		j.result, j.err = b.Store.Append(ctx, j.record)
	}
	return nil
}

// Append submits r to the batcher and waits for its turn to be flushed.
func (b *BatchedStore) Append(ctx context.Context, r Record) (int64, error) {
	job := &appendJob{record: r}
	jobResult, err := b.batcher.Submit(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("store: submit append: %w", err)
	}
	if err := jobResult.Wait(ctx); err != nil {
		return 0, fmt.Errorf("store: wait append: %w", err)
	}
	return job.result, job.err
}

// Close stops accepting new Append calls and waits for in-flight batches.
func (b *BatchedStore) Close() error {
	return b.batcher.Close()
}
