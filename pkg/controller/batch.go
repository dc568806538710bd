package controller

import (
	"context"

	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// OpenNewBatch increments the batch counter and opens the new batch
// as current. Owner-only. Batch ids are never reused.
func (c *Controller) OpenNewBatch(
	ctx context.Context,
	caller types.Principal,
) (types.BatchID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return 0, err
	}

	c.currentBatch++
	id := c.currentBatch
	c.batches[id] = &batchRecord{}

	c.recorder.Record(ctx, events.TypeBatchOpened,
		map[string]string{
			"batchId": formatBatchID(id),
		})
	return id, nil
}

// CloseBatch marks a batch closed. Owner-only. Closing is a one-way
// transition and is not restricted to the current batch: any open
// batch with id <= the current counter may be closed.
func (c *Controller) CloseBatch(
	ctx context.Context,
	caller types.Principal,
	id types.BatchID,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}

	if id == 0 || id > c.currentBatch {
		return ErrInvalidBatch
	}
	rec := c.batches[id]
	if rec == nil || rec.closed {
		return ErrInvalidBatch
	}

	rec.closed = true
	c.recorder.Record(ctx, events.TypeBatchClosed,
		map[string]string{
			"batchId": formatBatchID(id),
		})
	return nil
}

// Submit stores an encrypted value into the current batch's slot,
// overwriting any previous submission to that batch. Provider-only;
// rejected while paused, while the caller's submission cooldown is
// active, or once the current batch is closed.
func (c *Controller) Submit(
	ctx context.Context,
	caller types.Principal,
	ciphertext types.Ciphertext,
) (types.BatchID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireProvider(caller); err != nil {
		return 0, err
	}
	if c.paused {
		return 0, ErrPaused
	}

	now := c.clock.Now()
	if last, ok := c.lastSubmission[caller]; ok {
		if now.Before(last.Add(c.cooldown)) {
			return 0, ErrCooldownActive
		}
	}

	id := c.currentBatch
	rec := c.batches[id]
	if rec.closed {
		return 0, ErrBatchClosed
	}

	c.lastSubmission[caller] = now
	rec.ciphertext = ciphertext.Clone()
	rec.hasData = true

	c.recorder.Record(ctx, events.TypeDataSubmitted,
		map[string]string{
			"provider": caller.String(),
			"batchId":  formatBatchID(id),
			"value":    rec.ciphertext.Hex(),
		})
	return id, nil
}
