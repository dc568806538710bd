// Package types defines the identifier and handle types shared by the
// oracle controller packages: principals, batch ids, request ids, and
// opaque ciphertext handles.
package types

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"
	"github.com/i5heu/ouroboros-crypt/pkg/keys"
)

// Principal identifies a party interacting with the controller. It is
// the content hash of the party's signing public key, carried as an
// opaque value.
type Principal hash.Hash

// PrincipalFromKey derives a Principal from a signing public key.
func PrincipalFromKey(pub *keys.PublicKey) (Principal, error) {
	if pub == nil {
		return Principal{}, errors.New(
			"public key must not be nil",
		)
	}
	signBytes, err := pub.MarshalBinarySign()
	if err != nil {
		return Principal{}, fmt.Errorf(
			"marshal sign key: %w", err,
		)
	}
	return Principal(hash.HashBytes(signBytes)), nil
}

// PrincipalFromHex parses a hex-encoded Principal.
func PrincipalFromHex(s string) (Principal, error) {
	h, err := hash.HashHexadecimal(s)
	if err != nil {
		return Principal{}, fmt.Errorf(
			"parse principal: %w", err,
		)
	}
	return Principal(h), nil
}

// IsZero returns true if the principal is the zero value.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

// String returns the hexadecimal form of the principal.
func (p Principal) String() string {
	return hash.Hash(p).String()
}

// BatchID numbers a batch. Batch ids start at 1 and increase
// monotonically; 0 is never a valid batch.
type BatchID uint64

// RequestID is an oracle-assigned opaque identifier for an
// outstanding decryption request.
type RequestID [32]byte

// NewRequestID returns a fresh random RequestID.
func NewRequestID() (RequestID, error) {
	var id RequestID
	if _, err := rand.Read(id[:]); err != nil {
		return RequestID{}, fmt.Errorf(
			"generate request id: %w", err,
		)
	}
	return id, nil
}

// RequestIDFromHex parses a hex-encoded RequestID.
func RequestIDFromHex(s string) (RequestID, error) {
	if len(s) != len(RequestID{})*2 {
		return RequestID{}, fmt.Errorf(
			"invalid request id length: expected %d, got %d",
			len(RequestID{})*2, len(s),
		)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return RequestID{}, fmt.Errorf(
			"decode request id: %w", err,
		)
	}
	var id RequestID
	copy(id[:], decoded)
	return id, nil
}

// IsZero returns true if the request id is the zero value.
func (id RequestID) IsZero() bool {
	return id == RequestID{}
}

// String returns the hexadecimal form of the request id.
func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// Ciphertext is an opaque ciphertext handle produced by an external
// confidential-compute subsystem. The controller never inspects its
// contents; it only stores, forwards, and hashes it.
type Ciphertext []byte

// Clone returns an independent copy of the handle.
func (c Ciphertext) Clone() Ciphertext {
	if c == nil {
		return nil
	}
	out := make(Ciphertext, len(c))
	copy(out, c)
	return out
}

// IsEmpty returns true if no handle bytes are present.
func (c Ciphertext) IsEmpty() bool {
	return len(c) == 0
}

// Hex returns the hexadecimal form of the handle bytes.
func (c Ciphertext) Hex() string {
	return hex.EncodeToString(c)
}
