package controller

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/statehash"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// RequestDecryption issues an asynchronous decryption request for a
// closed batch. Provider-only; rejected while paused, against open or
// nonexistent batches, or while the caller's request cooldown is
// active.
//
// The batch's ciphertext slot is snapshotted as a state hash bound to
// the controller identity. The callback later recomputes the hash and
// rejects the result if the slot changed in the meantime. The call
// returns as soon as the transport has registered the request; there
// is no way to cancel an issued request and no expiry, so a request
// the oracle never answers stays pending forever.
func (c *Controller) RequestDecryption(
	ctx context.Context,
	caller types.Principal,
	batchID types.BatchID,
) (types.RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireProvider(caller); err != nil {
		return types.RequestID{}, err
	}
	if c.paused {
		return types.RequestID{}, ErrPaused
	}

	if batchID == 0 || batchID > c.currentBatch {
		return types.RequestID{}, ErrInvalidBatch
	}
	rec := c.batches[batchID]
	if rec == nil || !rec.closed {
		// An open batch cannot be decrypted; its slot is still
		// writable.
		return types.RequestID{}, ErrInvalidBatch
	}

	now := c.clock.Now()
	if last, ok := c.lastRequest[caller]; ok {
		if now.Before(last.Add(c.cooldown)) {
			return types.RequestID{}, ErrCooldownActive
		}
	}

	stateHash := statehash.Compute(
		c.identity, batchID, rec.ciphertext,
	)

	requestID, err := c.transport.IssueRequest(
		ctx, batchID,
		[]types.Ciphertext{rec.ciphertext.Clone()},
	)
	if err != nil {
		return types.RequestID{}, fmt.Errorf(
			"oracle: issue request: %w", err,
		)
	}
	if requestID.IsZero() {
		return types.RequestID{}, fmt.Errorf(
			"oracle: transport returned zero request id",
		)
	}
	if _, exists := c.requests[requestID]; exists {
		return types.RequestID{}, fmt.Errorf(
			"oracle: transport returned duplicate request id %s",
			requestID,
		)
	}

	c.lastRequest[caller] = now
	c.requests[requestID] = &requestRecord{
		batchID:   batchID,
		stateHash: stateHash,
		requester: caller,
		issuedAt:  now,
	}

	c.recorder.Record(ctx, events.TypeDecryptionRequested,
		map[string]string{
			"requestId": requestID.String(),
			"batchId":   formatBatchID(batchID),
			"provider":  caller.String(),
			"stateHash": stateHash.String(),
		})
	return requestID, nil
}

// OnDecrypted is the callback entry point invoked by the oracle's
// relay once a request has been decrypted. It is callable by anyone;
// authorization is enforced by proof verification, not caller
// identity.
//
// The checks run in a fixed order before any mutation: replay first
// (unknown or already-processed request ids are rejected regardless
// of proof validity), then the state-hash comparison against the
// snapshot captured at request time, then proof verification.
func (c *Controller) OnDecrypted(
	ctx context.Context,
	requestID types.RequestID,
	cleartext []byte,
	proof []byte,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[requestID]
	if !ok || req.processed {
		return ErrReplayAttempt
	}

	rec := c.batches[req.batchID]
	current := statehash.Compute(
		c.identity, req.batchID, rec.ciphertext,
	)
	if current != req.stateHash {
		return ErrStateMismatch
	}

	if err := c.verifier.Verify(
		requestID, req.batchID, cleartext, proof,
	); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidProof, err)
	}

	req.processed = true

	fields := map[string]string{
		"requestId": requestID.String(),
		"batchId":   formatBatchID(req.batchID),
	}
	if utf8.Valid(cleartext) {
		fields["value"] = string(cleartext)
	} else {
		fields["valueHex"] = fmt.Sprintf("%x", cleartext)
	}
	c.recorder.Record(ctx, events.TypeDecryptionCompleted, fields)
	return nil
}
