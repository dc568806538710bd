package proof

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/keys"

	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// generateKeys creates a fresh AsyncCrypt key pair for testing.
func generateKeys(
	t *testing.T,
) *keys.AsyncCrypt {
	t.Helper()
	ac, err := keys.NewAsyncCrypt()
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return ac
}

// pubKeyPtr extracts the public key from an AsyncCrypt and returns a
// pointer.
func pubKeyPtr(
	t *testing.T,
	ac *keys.AsyncCrypt,
) *keys.PublicKey {
	t.Helper()
	pub := ac.GetPublicKey()
	return &pub
}

// testRequestID returns a non-zero request id for tests.
func testRequestID(t *testing.T) types.RequestID {
	t.Helper()
	var id types.RequestID
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("generate request id: %v", err)
	}
	return id
}

// buildAttestation creates a valid attestation for the given oracle
// key over the given cleartext.
func buildAttestation(
	t *testing.T,
	oracleKey *keys.AsyncCrypt,
	requestID types.RequestID,
	batchID types.BatchID,
	cleartext []byte,
) *Attestation {
	t.Helper()
	keyID, err := ComputeKeyHash(pubKeyPtr(t, oracleKey))
	if err != nil {
		t.Fatalf("compute key hash: %v", err)
	}
	att, err := NewAttestation(AttestationParams{
		RequestID: requestID,
		BatchID:   batchID,
		Cleartext: cleartext,
		KeyID:     keyID,
		IssuedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("new attestation: %v", err)
	}
	return att
}

// buildProof creates a fully signed, marshaled proof blob.
func buildProof(
	t *testing.T,
	oracleKey *keys.AsyncCrypt,
	requestID types.RequestID,
	batchID types.BatchID,
	cleartext []byte,
) []byte {
	t.Helper()
	att := buildAttestation(
		t, oracleKey, requestID, batchID, cleartext,
	)
	sig, err := SignAttestation(oracleKey, att)
	if err != nil {
		t.Fatalf("sign attestation: %v", err)
	}
	blob, err := MarshalEnvelope(&Envelope{
		Attestation: att,
		Signature:   sig,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return blob
}
