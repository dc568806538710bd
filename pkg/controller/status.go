package controller

import (
	"time"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// BatchStatus describes one batch for observers.
type BatchStatus struct {
	ID      types.BatchID
	Closed  bool
	HasData bool
}

// RequestStatus describes one decryption request for observers.
type RequestStatus struct {
	BatchID   types.BatchID
	StateHash string
	Requester types.Principal
	IssuedAt  time.Time
	Processed bool
}

// Owner returns the current owner principal.
func (c *Controller) Owner() types.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// IsProvider reports whether p holds the provider role.
func (c *Controller) IsProvider(p types.Principal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.providers[p]
	return ok
}

// Paused reports whether the controller is paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Cooldown returns the current throttle window.
func (c *Controller) Cooldown() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldown
}

// CurrentBatch returns the id of the current (highest-numbered)
// batch.
func (c *Controller) CurrentBatch() types.BatchID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBatch
}

// BatchStatus returns the status of a batch, or ErrInvalidBatch if it
// does not exist.
func (c *Controller) BatchStatus(
	id types.BatchID,
) (BatchStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec := c.batches[id]
	if id == 0 || id > c.currentBatch || rec == nil {
		return BatchStatus{}, ErrInvalidBatch
	}
	return BatchStatus{
		ID:      id,
		Closed:  rec.closed,
		HasData: rec.hasData,
	}, nil
}

// RequestStatus returns the status of a decryption request, or
// ErrUnknownRequest if the id was never issued.
func (c *Controller) RequestStatus(
	id types.RequestID,
) (RequestStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[id]
	if !ok {
		return RequestStatus{}, ErrUnknownRequest
	}
	return RequestStatus{
		BatchID:   req.batchID,
		StateHash: req.stateHash.String(),
		Requester: req.requester,
		IssuedAt:  req.issuedAt,
		Processed: req.processed,
	}, nil
}
