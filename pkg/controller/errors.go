package controller

import "errors"

// Precondition failures surfaced by controller operations. Every
// rejected operation leaves the controller state unchanged; callers
// decide whether to retry.
var (
	// ErrNotAuthorized is returned when the caller lacks the role an
	// operation requires.
	ErrNotAuthorized = errors.New("oracle: caller not authorized")

	// ErrAlreadyPaused is returned by Pause when the controller is
	// already paused.
	ErrAlreadyPaused = errors.New("oracle: already paused")

	// ErrNotPaused is returned by Unpause when the controller is not
	// paused.
	ErrNotPaused = errors.New("oracle: not paused")

	// ErrPaused is returned by submission and request paths while the
	// controller is paused.
	ErrPaused = errors.New("oracle: controller is paused")

	// ErrCooldownActive is returned when a throttled operation is
	// attempted before the caller's cooldown window has elapsed.
	ErrCooldownActive = errors.New("oracle: cooldown active")

	// ErrBatchClosed is returned by Submit when the current batch has
	// already been closed.
	ErrBatchClosed = errors.New("oracle: batch closed")

	// ErrInvalidBatch is returned for batch ids that do not exist,
	// double closes, and decryption requests against open batches.
	ErrInvalidBatch = errors.New("oracle: invalid batch")

	// ErrReplayAttempt is returned by the callback for unknown or
	// already-processed request ids.
	ErrReplayAttempt = errors.New("oracle: replay attempt")

	// ErrStateMismatch is returned by the callback when the batch
	// ciphertext changed after the request was issued.
	ErrStateMismatch = errors.New("oracle: state mismatch")

	// ErrUnknownRequest is returned by status queries for request ids
	// that were never issued. The callback path deliberately folds
	// unknown ids into ErrReplayAttempt instead.
	ErrUnknownRequest = errors.New("oracle: unknown request")

	// ErrInvalidProof is returned by the callback when proof
	// verification fails.
	ErrInvalidProof = errors.New("oracle: invalid proof")
)
