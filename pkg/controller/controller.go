// Package controller implements the batch oracle controller: role and
// lifecycle administration, batch sequencing, throttled ciphertext
// submission, and the asynchronous decrypt-request/callback state
// machine with replay protection and state-hash staleness detection.
//
// Every operation takes the caller identity as an explicit parameter
// and is atomic with respect to all others: one mutex serializes all
// state mutation, so no partial update is ever observable.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"

	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// Transport issues decryption requests to the external oracle.
//
// IssueRequest is a fire-and-forget registration: it must return
// promptly with the oracle-assigned request id. The decryption itself
// runs asynchronously on the oracle side and resolves via the
// controller's OnDecrypted entry point after an unbounded delay.
type Transport interface {
	IssueRequest(
		ctx context.Context,
		batchID types.BatchID,
		handles []types.Ciphertext,
	) (types.RequestID, error)
}

// ProofVerifier validates the proof attached to a decryption
// callback. It is the sole authorization gate on the callback path.
type ProofVerifier interface {
	Verify(
		requestID types.RequestID,
		batchID types.BatchID,
		cleartext []byte,
		proof []byte,
	) error
}

// Recorder receives audit events. *events.Ledger satisfies it.
type Recorder interface {
	Record(
		ctx context.Context,
		eventType events.Type,
		fields map[string]string,
	) events.Event
}

type noopRecorder struct{}

func (noopRecorder) Record(
	_ context.Context,
	_ events.Type,
	_ map[string]string,
) events.Event {
	return events.Event{}
}

// Config configures a Controller.
type Config struct {
	// Owner is the initial owner principal. Required.
	Owner types.Principal
	// Identity is the controller's own identity bytes, mixed into
	// every state hash to prevent cross-deployment replay. Required.
	Identity []byte
	// Cooldown is the initial per-principal throttle window for
	// submissions and decryption requests.
	Cooldown time.Duration
	// Transport issues requests to the external oracle. Required.
	Transport Transport
	// Verifier checks callback proofs. Required.
	Verifier ProofVerifier
	// Recorder receives audit events. Optional.
	Recorder Recorder
	// Clock is an optional time source. Defaults to the wall clock.
	Clock Clock
	// Logger is an optional structured logger.
	Logger *slog.Logger
}

type batchRecord struct {
	ciphertext types.Ciphertext
	hasData    bool
	closed     bool
}

type requestRecord struct {
	batchID   types.BatchID
	stateHash hash.Hash
	requester types.Principal
	issuedAt  time.Time
	processed bool
}

// Controller is the batch oracle controller. All exported methods are
// safe for concurrent use.
type Controller struct {
	log       *slog.Logger
	clock     Clock
	transport Transport
	verifier  ProofVerifier
	recorder  Recorder
	identity  []byte

	mu             sync.Mutex
	owner          types.Principal
	providers      map[types.Principal]struct{}
	paused         bool
	cooldown       time.Duration
	currentBatch   types.BatchID
	batches        map[types.BatchID]*batchRecord
	lastSubmission map[types.Principal]time.Time
	lastRequest    map[types.Principal]time.Time
	requests       map[types.RequestID]*requestRecord
}

// New creates a Controller and opens batch 1.
func New(cfg Config) (*Controller, error) {
	if cfg.Owner.IsZero() {
		return nil, errors.New(
			"oracle: owner must not be zero",
		)
	}
	if len(cfg.Identity) == 0 {
		return nil, errors.New(
			"oracle: identity must not be empty",
		)
	}
	if cfg.Transport == nil {
		return nil, errors.New(
			"oracle: transport must not be nil",
		)
	}
	if cfg.Verifier == nil {
		return nil, errors.New(
			"oracle: verifier must not be nil",
		)
	}
	if cfg.Cooldown < 0 {
		return nil, errors.New(
			"oracle: cooldown must not be negative",
		)
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		log:            cfg.Logger,
		clock:          cfg.Clock,
		transport:      cfg.Transport,
		verifier:       cfg.Verifier,
		recorder:       cfg.Recorder,
		identity:       append([]byte(nil), cfg.Identity...),
		owner:          cfg.Owner,
		providers:      make(map[types.Principal]struct{}),
		cooldown:       cfg.Cooldown,
		batches:        make(map[types.BatchID]*batchRecord),
		lastSubmission: make(map[types.Principal]time.Time),
		lastRequest:    make(map[types.Principal]time.Time),
		requests:       make(map[types.RequestID]*requestRecord),
	}

	// Batch 1 is open from construction.
	c.currentBatch = 1
	c.batches[1] = &batchRecord{}
	c.recorder.Record(
		context.Background(),
		events.TypeBatchOpened,
		map[string]string{
			"batchId": "1",
		},
	)

	return c, nil
}

// requireOwner must be called with mu held.
func (c *Controller) requireOwner(
	caller types.Principal,
) error {
	if caller != c.owner {
		return ErrNotAuthorized
	}
	return nil
}

// requireProvider must be called with mu held.
func (c *Controller) requireProvider(
	caller types.Principal,
) error {
	if _, ok := c.providers[caller]; !ok {
		return ErrNotAuthorized
	}
	return nil
}

// TransferOwnership assigns a new owner. Owner-only.
func (c *Controller) TransferOwnership(
	ctx context.Context,
	caller types.Principal,
	newOwner types.Principal,
) error {
	if newOwner.IsZero() {
		return errors.New(
			"oracle: new owner must not be zero",
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}

	old := c.owner
	c.owner = newOwner
	c.recorder.Record(ctx, events.TypeOwnershipTransferred,
		map[string]string{
			"old": old.String(),
			"new": newOwner.String(),
		})
	return nil
}

// AddProvider grants the provider role. Owner-only. Re-adding an
// existing provider is a no-op and emits no event.
func (c *Controller) AddProvider(
	ctx context.Context,
	caller types.Principal,
	p types.Principal,
) error {
	if p.IsZero() {
		return errors.New(
			"oracle: provider must not be zero",
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}

	if _, ok := c.providers[p]; ok {
		return nil
	}
	c.providers[p] = struct{}{}
	c.recorder.Record(ctx, events.TypeProviderAdded,
		map[string]string{
			"provider": p.String(),
		})
	return nil
}

// RemoveProvider revokes the provider role. Owner-only. Removing a
// non-provider is a no-op and emits no event.
func (c *Controller) RemoveProvider(
	ctx context.Context,
	caller types.Principal,
	p types.Principal,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}

	if _, ok := c.providers[p]; !ok {
		return nil
	}
	delete(c.providers, p)
	c.recorder.Record(ctx, events.TypeProviderRemoved,
		map[string]string{
			"provider": p.String(),
		})
	return nil
}

// Pause halts submissions and decryption requests. Owner-only.
func (c *Controller) Pause(
	ctx context.Context,
	caller types.Principal,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if c.paused {
		return ErrAlreadyPaused
	}

	c.paused = true
	c.recorder.Record(ctx, events.TypePaused,
		map[string]string{
			"old": "false",
			"new": "true",
		})
	return nil
}

// Unpause resumes submissions and decryption requests. Owner-only.
func (c *Controller) Unpause(
	ctx context.Context,
	caller types.Principal,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}
	if !c.paused {
		return ErrNotPaused
	}

	c.paused = false
	c.recorder.Record(ctx, events.TypeUnpaused,
		map[string]string{
			"old": "true",
			"new": "false",
		})
	return nil
}

// SetCooldown changes the per-principal throttle window. Owner-only.
func (c *Controller) SetCooldown(
	ctx context.Context,
	caller types.Principal,
	cooldown time.Duration,
) error {
	if cooldown < 0 {
		return errors.New(
			"oracle: cooldown must not be negative",
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireOwner(caller); err != nil {
		return err
	}

	old := c.cooldown
	c.cooldown = cooldown
	c.recorder.Record(ctx, events.TypeCooldownChanged,
		map[string]string{
			"oldSeconds": formatSeconds(old),
			"newSeconds": formatSeconds(cooldown),
		})
	return nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(d/time.Second), 10)
}

func formatBatchID(id types.BatchID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseBatchID(s string) (types.BatchID, error) {
	raw, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse batch id: %w", err)
	}
	return types.BatchID(raw), nil
}
