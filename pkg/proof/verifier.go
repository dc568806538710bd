package proof

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"
	"github.com/i5heu/ouroboros-crypt/pkg/keys"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// Verifier manages the registry of trusted oracle signing keys and
// validates attestation envelopes against it.
type Verifier struct {
	mu      sync.RWMutex
	trusted map[KeyHash]*keys.PublicKey
	revoked map[KeyHash]struct{}
}

// NewVerifier creates an empty Verifier with no trusted keys.
func NewVerifier() *Verifier {
	return &Verifier{
		trusted: make(
			map[KeyHash]*keys.PublicKey,
		),
		revoked: make(
			map[KeyHash]struct{},
		),
	}
}

// AddOracleKey registers an oracle signing key as a trust root.
func (v *Verifier) AddOracleKey(
	pub *keys.PublicKey,
) error {
	keyID, err := ComputeKeyHash(pub)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, rev := v.revoked[keyID]; rev {
		return fmt.Errorf(
			"oracle key is revoked: %s",
			keyID.Hex(),
		)
	}
	v.trusted[keyID] = pub
	return nil
}

// RemoveOracleKey removes an oracle key by its hash.
func (v *Verifier) RemoveOracleKey(
	keyID KeyHash,
) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.trusted, keyID)
}

// RevokeOracleKey permanently revokes an oracle key by hash.
func (v *Verifier) RevokeOracleKey(
	keyID KeyHash,
) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[keyID] = struct{}{}
	delete(v.trusted, keyID)
}

// Verify checks a proof blob against the request context and the
// returned cleartext. It validates the binding between the
// attestation and the request, recomputes the cleartext hash, and
// verifies the oracle signature against a trusted, non-revoked key.
func (v *Verifier) Verify(
	requestID types.RequestID,
	batchID types.BatchID,
	cleartext []byte,
	proofBytes []byte,
) error {
	env, err := UnmarshalEnvelope(proofBytes)
	if err != nil {
		return fmt.Errorf("parse proof: %w", err)
	}

	att := env.Attestation

	if att.requestID != requestID {
		return errors.New(
			"attestation bound to different request",
		)
	}
	if att.batchID != batchID {
		return errors.New(
			"attestation bound to different batch",
		)
	}

	clearHash := hash.HashBytes(cleartext)
	if !bytes.Equal(clearHash[:], att.cleartextHash[:]) {
		return errors.New(
			"cleartext hash mismatch",
		)
	}

	v.mu.RLock()
	pub, trustedOK := v.trusted[att.keyID]
	_, revokedOK := v.revoked[att.keyID]
	v.mu.RUnlock()

	if revokedOK {
		return fmt.Errorf(
			"oracle key is revoked: %s",
			att.keyID.Hex(),
		)
	}
	if !trustedOK {
		return errors.New(
			"no trusted oracle key found for attestation",
		)
	}

	payload, err := signingPayload(att)
	if err != nil {
		return fmt.Errorf(
			"build signing payload: %w", err,
		)
	}
	if !pub.Verify(payload, env.Signature) {
		return errors.New(
			"oracle signature verification failed",
		)
	}

	return nil
}
