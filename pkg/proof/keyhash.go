package proof

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// KeyHash is a fixed-size array representing a SHA-256 hash used to
// identify oracle signing keys.
type KeyHash [sha256.Size]byte

// HashKeyBytes computes the SHA-256 hash of the given key material.
func HashKeyBytes(data []byte) KeyHash {
	return KeyHash(sha256.Sum256(data))
}

// KeyHashHexadecimal parses a hexadecimal string and returns the
// corresponding KeyHash.
func KeyHashHexadecimal(s string) (KeyHash, error) {
	if len(s) != sha256.Size*2 {
		return KeyHash{}, fmt.Errorf(
			"invalid hex length: expected %d, got %d",
			sha256.Size*2, len(s),
		)
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return KeyHash{}, fmt.Errorf(
			"decode hex: %w", err,
		)
	}

	var h KeyHash
	copy(h[:], decoded)
	return h, nil
}

// Equal returns true if this hash equals the other hash.
func (h KeyHash) Equal(other KeyHash) bool {
	return subtle.ConstantTimeCompare(
		h[:],
		other[:],
	) == 1
}

// IsZero returns true if this hash is the zero value.
func (h KeyHash) IsZero() bool {
	return h == KeyHash{}
}

// String returns the hexadecimal string representation of the hash.
func (h KeyHash) String() string {
	return hex.EncodeToString(h[:])
}

// Hex returns the hexadecimal string representation of the hash
// (alias for String).
func (h KeyHash) Hex() string {
	return h.String()
}
