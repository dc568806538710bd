package controller

import (
	"fmt"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// State is the serializable form of the controller's full state,
// used to persist it into the key-value store and recover it after a
// restart. Principals, hashes, and request ids are hex strings;
// ciphertext handles are raw bytes (base64 in JSON).
type State struct {
	Owner           string                  `json:"owner"`
	Providers       []string                `json:"providers"`
	Paused          bool                    `json:"paused"`
	CooldownSeconds int64                   `json:"cooldownSeconds"`
	CurrentBatch    uint64                  `json:"currentBatch"`
	Batches         map[string]BatchState   `json:"batches"`
	LastSubmission  map[string]time.Time    `json:"lastSubmission"`
	LastRequest     map[string]time.Time    `json:"lastRequest"`
	Requests        map[string]RequestState `json:"requests"`
}

// BatchState is the serializable form of one batch slot.
type BatchState struct {
	Ciphertext []byte `json:"ciphertext,omitempty"`
	HasData    bool   `json:"hasData"`
	Closed     bool   `json:"closed"`
}

// RequestState is the serializable form of one decryption request.
type RequestState struct {
	BatchID   uint64    `json:"batchId"`
	StateHash string    `json:"stateHash"`
	Requester string    `json:"requester"`
	IssuedAt  time.Time `json:"issuedAt"`
	Processed bool      `json:"processed"`
}

// Snapshot captures the controller's full state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Owner:           c.owner.String(),
		Providers:       make([]string, 0, len(c.providers)),
		Paused:          c.paused,
		CooldownSeconds: int64(c.cooldown / time.Second),
		CurrentBatch:    uint64(c.currentBatch),
		Batches:         make(map[string]BatchState, len(c.batches)),
		LastSubmission:  make(map[string]time.Time, len(c.lastSubmission)),
		LastRequest:     make(map[string]time.Time, len(c.lastRequest)),
		Requests:        make(map[string]RequestState, len(c.requests)),
	}

	for p := range c.providers {
		st.Providers = append(st.Providers, p.String())
	}
	for id, rec := range c.batches {
		st.Batches[formatBatchID(id)] = BatchState{
			Ciphertext: rec.ciphertext.Clone(),
			HasData:    rec.hasData,
			Closed:     rec.closed,
		}
	}
	for p, t := range c.lastSubmission {
		st.LastSubmission[p.String()] = t
	}
	for p, t := range c.lastRequest {
		st.LastRequest[p.String()] = t
	}
	for id, req := range c.requests {
		st.Requests[id.String()] = RequestState{
			BatchID:   uint64(req.batchID),
			StateHash: req.stateHash.String(),
			Requester: req.requester.String(),
			IssuedAt:  req.issuedAt,
			Processed: req.processed,
		}
	}

	return st
}

// Restore replaces the controller's state with a previously captured
// snapshot. Roles, batches, throttles, and outstanding requests are
// all overwritten.
func (c *Controller) Restore(st State) error {
	owner, err := types.PrincipalFromHex(st.Owner)
	if err != nil {
		return fmt.Errorf("restore owner: %w", err)
	}
	if st.CurrentBatch == 0 {
		return fmt.Errorf(
			"restore: current batch must be >= 1",
		)
	}
	if st.CooldownSeconds < 0 {
		return fmt.Errorf(
			"restore: cooldown must not be negative",
		)
	}

	providers := make(map[types.Principal]struct{}, len(st.Providers))
	for _, raw := range st.Providers {
		p, err := types.PrincipalFromHex(raw)
		if err != nil {
			return fmt.Errorf("restore provider: %w", err)
		}
		providers[p] = struct{}{}
	}

	batches := make(map[types.BatchID]*batchRecord, len(st.Batches))
	for raw, bs := range st.Batches {
		id, err := parseBatchID(raw)
		if err != nil {
			return fmt.Errorf("restore batch: %w", err)
		}
		if id == 0 || uint64(id) > st.CurrentBatch {
			return fmt.Errorf(
				"restore: batch id %d out of range", id,
			)
		}
		batches[id] = &batchRecord{
			ciphertext: types.Ciphertext(bs.Ciphertext).Clone(),
			hasData:    bs.HasData,
			closed:     bs.Closed,
		}
	}

	lastSubmission, err := parsePrincipalTimes(st.LastSubmission)
	if err != nil {
		return fmt.Errorf("restore submission throttle: %w", err)
	}
	lastRequest, err := parsePrincipalTimes(st.LastRequest)
	if err != nil {
		return fmt.Errorf("restore request throttle: %w", err)
	}

	requests := make(map[types.RequestID]*requestRecord, len(st.Requests))
	for raw, rs := range st.Requests {
		id, err := types.RequestIDFromHex(raw)
		if err != nil {
			return fmt.Errorf("restore request id: %w", err)
		}
		stateHash, err := hash.HashHexadecimal(rs.StateHash)
		if err != nil {
			return fmt.Errorf("restore state hash: %w", err)
		}
		requester, err := types.PrincipalFromHex(rs.Requester)
		if err != nil {
			return fmt.Errorf("restore requester: %w", err)
		}
		// Callbacks recompute the state hash from the referenced
		// batch's slot; a request pointing at a batch with no record
		// must never be restored.
		if rs.BatchID == 0 || rs.BatchID > st.CurrentBatch {
			return fmt.Errorf(
				"restore: request %s references batch %d out of range",
				raw, rs.BatchID,
			)
		}
		if batches[types.BatchID(rs.BatchID)] == nil {
			return fmt.Errorf(
				"restore: request %s references batch %d with no record",
				raw, rs.BatchID,
			)
		}
		requests[id] = &requestRecord{
			batchID:   types.BatchID(rs.BatchID),
			stateHash: stateHash,
			requester: requester,
			issuedAt:  rs.IssuedAt,
			processed: rs.Processed,
		}
	}

	// The current batch must always have a record; Submit relies
	// on it.
	if batches[types.BatchID(st.CurrentBatch)] == nil {
		batches[types.BatchID(st.CurrentBatch)] = &batchRecord{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.owner = owner
	c.providers = providers
	c.paused = st.Paused
	c.cooldown = time.Duration(st.CooldownSeconds) * time.Second
	c.currentBatch = types.BatchID(st.CurrentBatch)
	c.batches = batches
	c.lastSubmission = lastSubmission
	c.lastRequest = lastRequest
	c.requests = requests

	return nil
}

func parsePrincipalTimes(
	raw map[string]time.Time,
) (map[types.Principal]time.Time, error) {
	out := make(map[types.Principal]time.Time, len(raw))
	for k, t := range raw {
		p, err := types.PrincipalFromHex(k)
		if err != nil {
			return nil, err
		}
		out[p] = t
	}
	return out, nil
}
