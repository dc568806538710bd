package proof

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// Envelope carries an attestation together with the oracle signature
// over it. Its wire form is the opaque proof blob handed to the
// callback entry point.
type Envelope struct {
	Attestation *Attestation
	Signature   []byte
}

// MarshalEnvelope serializes an Envelope into its canonical wire
// form: canonical attestation || len(sig)(4, BE) || sig.
func MarshalEnvelope(env *Envelope) ([]byte, error) {
	if env == nil || env.Attestation == nil {
		return nil, errors.New(
			"envelope and attestation must not be nil",
		)
	}
	if len(env.Signature) == 0 {
		return nil, errors.New(
			"signature must not be empty",
		)
	}
	if len(env.Signature) > math.MaxUint32 {
		return nil, errors.New("signature too large")
	}

	canon, err := canonicalSerialize(env.Attestation)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(canon)+4+len(env.Signature))
	buf = append(buf, canon...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(
		lenBuf[:], uint32(len(env.Signature)), //#nosec G115
	)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, env.Signature...)

	return buf, nil
}

// UnmarshalEnvelope parses a canonical Envelope wire payload.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	hashLen := len(hash.Hash{})
	attLen := 32 + 8 + hashLen + 32 + 8

	if len(data) < attLen+4 {
		return nil, errors.New("proof payload too short")
	}
	offset := 0

	var reqID types.RequestID
	copy(reqID[:], data[offset:offset+32])
	offset += 32

	batchRaw := binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8

	var clearHash hash.Hash
	copy(clearHash[:], data[offset:offset+hashLen])
	offset += hashLen

	var keyID KeyHash
	copy(keyID[:], data[offset:offset+32])
	offset += 32

	issuedRaw := binary.BigEndian.Uint64(data[offset : offset+8])
	if issuedRaw > math.MaxInt64 {
		return nil, errors.New("issuedAt exceeds int64")
	}
	offset += 8

	sigLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if len(data[offset:]) != sigLen {
		return nil, errors.New("invalid signature length")
	}
	sig := make([]byte, sigLen)
	copy(sig, data[offset:offset+sigLen])

	if reqID.IsZero() {
		return nil, errors.New("request id must not be zero")
	}
	if batchRaw == 0 {
		return nil, errors.New("batch id must not be zero")
	}
	if keyID.IsZero() {
		return nil, errors.New("key id must not be zero")
	}

	att := &Attestation{
		requestID:     reqID,
		batchID:       types.BatchID(batchRaw),
		cleartextHash: clearHash,
		keyID:         keyID,
		issuedAt:      time.Unix(int64(issuedRaw), 0).UTC(),
	}

	return &Envelope{
		Attestation: att,
		Signature:   sig,
	}, nil
}
