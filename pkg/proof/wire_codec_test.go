package proof

import (
	"testing"
)

func TestEnvelopeRoundTrip(
	t *testing.T,
) {
	t.Parallel()
	oracleKey := generateKeys(t)
	requestID := testRequestID(t)
	att := buildAttestation(t, oracleKey, requestID, 9, []byte("x"))
	sig, err := SignAttestation(oracleKey, att)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	blob, err := MarshalEnvelope(&Envelope{
		Attestation: att,
		Signature:   sig,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	env, err := UnmarshalEnvelope(blob)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Attestation.RequestID() != requestID {
		t.Fatal("request id lost")
	}
	if env.Attestation.BatchID() != 9 {
		t.Fatal("batch id lost")
	}
	if !env.Attestation.KeyID().Equal(att.KeyID()) {
		t.Fatal("key id lost")
	}
	if env.Attestation.CleartextHash() != att.CleartextHash() {
		t.Fatal("cleartext hash lost")
	}
	if string(env.Signature) != string(sig) {
		t.Fatal("signature lost")
	}
}

func TestMarshalEnvelopeValidation(
	t *testing.T,
) {
	t.Parallel()
	oracleKey := generateKeys(t)
	att := buildAttestation(
		t, oracleKey, testRequestID(t), 1, []byte("x"),
	)

	if _, err := MarshalEnvelope(nil); err == nil {
		t.Fatal("nil envelope accepted")
	}
	if _, err := MarshalEnvelope(&Envelope{
		Attestation: nil,
		Signature:   []byte("sig"),
	}); err == nil {
		t.Fatal("nil attestation accepted")
	}
	if _, err := MarshalEnvelope(&Envelope{
		Attestation: att,
	}); err == nil {
		t.Fatal("empty signature accepted")
	}
}

func TestUnmarshalEnvelopeRejectsMalformedPayloads(
	t *testing.T,
) {
	t.Parallel()
	oracleKey := generateKeys(t)
	blob := buildProof(
		t, oracleKey, testRequestID(t), 1, []byte("x"),
	)

	if _, err := UnmarshalEnvelope(nil); err == nil {
		t.Fatal("nil payload accepted")
	}
	if _, err := UnmarshalEnvelope(blob[:10]); err == nil {
		t.Fatal("truncated payload accepted")
	}
	if _, err := UnmarshalEnvelope(blob[:len(blob)-1]); err == nil {
		t.Fatal("payload with short signature accepted")
	}
	if _, err := UnmarshalEnvelope(
		append(blob, 0x00),
	); err == nil {
		t.Fatal("payload with trailing bytes accepted")
	}

	// Zero out the request id field.
	zeroReq := make([]byte, len(blob))
	copy(zeroReq, blob)
	for i := 0; i < 32; i++ {
		zeroReq[i] = 0
	}
	if _, err := UnmarshalEnvelope(zeroReq); err == nil {
		t.Fatal("zero request id accepted")
	}
}
