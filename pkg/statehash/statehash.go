// Package statehash computes the content-binding digest captured when
// a decryption request is issued. The digest covers the ciphertext
// under decryption and the identity of the controller that issued the
// request, so a proof generated for one deployment cannot be replayed
// against another.
package statehash

import (
	"encoding/binary"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

const ctxBatchStateV1 = "CTX_BATCH_STATE_V1"

// Compute returns the state hash for a batch's ciphertext slot bound
// to the given controller identity. The payload is domain-separated
// and length-prefixed:
// CTX || batchID(8, BE) || len(identity)(4, BE) || identity ||
// ciphertext.
func Compute(
	identity []byte,
	batchID types.BatchID,
	ciphertext types.Ciphertext,
) hash.Hash {
	ctx := []byte(ctxBatchStateV1)

	size := len(ctx) + 8 + 4 + len(identity) + len(ciphertext)
	payload := make([]byte, 0, size)
	payload = append(payload, ctx...)

	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(batchID))
	payload = append(payload, idBuf[:]...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(
		lenBuf[:], uint32(len(identity)), //#nosec G115
	)
	payload = append(payload, lenBuf[:]...)
	payload = append(payload, identity...)

	payload = append(payload, ciphertext...)

	return hash.HashBytes(payload)
}
