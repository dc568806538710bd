// Package proof implements the decryption attestation the external
// oracle attaches to every callback, and the verifier that checks it
// against a registry of trusted oracle signing keys. Signature
// verification is the sole authorization gate on the callback path;
// caller identity is never consulted.
package proof

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"
	"github.com/i5heu/ouroboros-crypt/pkg/keys"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

const ctxOracleAttestationV1 = "CTX_ORACLE_ATTESTATION_V1"

// Attestation binds a returned cleartext to the decryption request it
// answers and to the oracle key that produced it.
type Attestation struct {
	requestID     types.RequestID
	batchID       types.BatchID
	cleartextHash hash.Hash
	keyID         KeyHash
	issuedAt      time.Time
}

// AttestationParams holds parameters for creating a new Attestation.
type AttestationParams struct {
	RequestID types.RequestID
	BatchID   types.BatchID
	Cleartext []byte
	KeyID     KeyHash
	IssuedAt  time.Time
}

// NewAttestation creates an Attestation from the given params after
// validation. The cleartext itself is not stored; only its hash is.
func NewAttestation(
	params AttestationParams,
) (*Attestation, error) {
	if params.RequestID.IsZero() {
		return nil, errors.New(
			"request id must not be zero",
		)
	}
	if params.BatchID == 0 {
		return nil, errors.New(
			"batch id must not be zero",
		)
	}
	if params.KeyID.IsZero() {
		return nil, errors.New(
			"key id must not be zero",
		)
	}
	if params.IssuedAt.IsZero() {
		return nil, errors.New(
			"issuedAt must not be zero",
		)
	}
	return &Attestation{
		requestID:     params.RequestID,
		batchID:       params.BatchID,
		cleartextHash: hash.HashBytes(params.Cleartext),
		keyID:         params.KeyID,
		issuedAt:      params.IssuedAt.UTC(),
	}, nil
}

// RequestID returns the decryption request this attestation answers.
func (a *Attestation) RequestID() types.RequestID {
	return a.requestID
}

// BatchID returns the batch the decrypted ciphertext belonged to.
func (a *Attestation) BatchID() types.BatchID {
	return a.batchID
}

// CleartextHash returns the content hash of the returned cleartext.
func (a *Attestation) CleartextHash() hash.Hash {
	return a.cleartextHash
}

// KeyID returns the identifier of the oracle signing key.
func (a *Attestation) KeyID() KeyHash {
	return a.keyID
}

// IssuedAt returns the time the oracle produced the attestation.
func (a *Attestation) IssuedAt() time.Time {
	return a.issuedAt
}

// canonicalSerialize encodes an Attestation into a deterministic
// binary representation:
// RequestID(32) || BatchID(8, BE) || CleartextHash(64) ||
// KeyID(32) || IssuedAt(8, unix-sec BE).
func canonicalSerialize(
	att *Attestation,
) ([]byte, error) {
	hashLen := len(hash.Hash{})
	size := 32 + 8 + hashLen + 32 + 8
	buf := make([]byte, 0, size)

	buf = append(buf, att.requestID[:]...)

	var numBuf [8]byte
	binary.BigEndian.PutUint64(
		numBuf[:], uint64(att.batchID),
	)
	buf = append(buf, numBuf[:]...)

	buf = append(buf, att.cleartextHash[:]...)
	buf = append(buf, att.keyID[:]...)

	issuedUnix := att.issuedAt.Unix()
	if issuedUnix < 0 {
		return nil, errors.New(
			"issuedAt must be unix epoch or later",
		)
	}
	binary.BigEndian.PutUint64(
		numBuf[:], uint64(issuedUnix),
	)
	buf = append(buf, numBuf[:]...)

	return buf, nil
}

// signingPayload prepends the domain separation context to the
// canonical serialization of the attestation.
func signingPayload(
	att *Attestation,
) ([]byte, error) {
	canon, err := canonicalSerialize(att)
	if err != nil {
		return nil, err
	}

	ctx := []byte(ctxOracleAttestationV1)
	payload := make(
		[]byte, 0, len(ctx)+len(canon),
	)
	payload = append(payload, ctx...)
	payload = append(payload, canon...)

	return payload, nil
}

// SignAttestation signs the domain-separated attestation payload with
// the oracle's signer.
func SignAttestation(
	signer *keys.AsyncCrypt,
	att *Attestation,
) ([]byte, error) {
	if signer == nil {
		return nil, errors.New("signer must not be nil")
	}
	if att == nil {
		return nil, errors.New("attestation must not be nil")
	}
	payload, err := signingPayload(att)
	if err != nil {
		return nil, err
	}
	return signer.Sign(payload)
}

// ComputeKeyHash derives the identifier for an oracle signing key
// from its public signing key bytes.
func ComputeKeyHash(
	pub *keys.PublicKey,
) (KeyHash, error) {
	if pub == nil {
		return KeyHash{}, errors.New(
			"public key must not be nil",
		)
	}
	signBytes, err := pub.MarshalBinarySign()
	if err != nil {
		return KeyHash{}, fmt.Errorf(
			"marshal sign key: %w", err,
		)
	}
	return HashKeyBytes(signBytes), nil
}
