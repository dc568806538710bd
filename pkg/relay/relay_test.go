package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"
	"github.com/i5heu/ouroboros-crypt/pkg/keys"

	"github.com/i5heu/ouroboros-oracle/pkg/controller"
	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/proof"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPrincipal(t *testing.T) types.Principal {
	t.Helper()
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("generate principal: %v", err)
	}
	return types.Principal(hash.HashBytes(b[:]))
}

// recordingTransport hands out sequential ids.
type recordingTransport struct {
	nextID byte
}

func (f *recordingTransport) IssueRequest(
	_ context.Context,
	_ types.BatchID,
	_ []types.Ciphertext,
) (types.RequestID, error) {
	f.nextID++
	var id types.RequestID
	id[0] = f.nextID
	return id, nil
}

// relayEnv bundles a relay with its controller and collaborators.
type relayEnv struct {
	relay     *Relay
	server    *httptest.Server
	ctrl      *controller.Controller
	owner     types.Principal
	provider  types.Principal
	oracleKey *keys.AsyncCrypt
	ledger    *events.Ledger
}

func newRelayEnv(t *testing.T) *relayEnv {
	t.Helper()

	oracleKey, err := keys.NewAsyncCrypt()
	if err != nil {
		t.Fatalf("generate oracle key: %v", err)
	}
	verifier := proof.NewVerifier()
	pub := oracleKey.GetPublicKey()
	if err := verifier.AddOracleKey(&pub); err != nil {
		t.Fatalf("trust oracle key: %v", err)
	}

	owner := testPrincipal(t)
	provider := testPrincipal(t)
	ledger := events.NewLedger(testLogger())

	ctrl, err := controller.New(controller.Config{
		Owner:     owner,
		Identity:  []byte("relay-test-identity"),
		Cooldown:  time.Minute,
		Transport: &recordingTransport{},
		Verifier:  verifier,
		Recorder:  ledger,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctx := context.Background()
	if err := ctrl.AddProvider(ctx, owner, provider); err != nil {
		t.Fatalf("add provider: %v", err)
	}

	r, err := New(Config{
		Controller: ctrl,
		Ledger:     ledger,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}

	server := httptest.NewServer(r.mux)
	t.Cleanup(server.Close)

	return &relayEnv{
		relay:     r,
		server:    server,
		ctrl:      ctrl,
		owner:     owner,
		provider:  provider,
		oracleKey: oracleKey,
		ledger:    ledger,
	}
}

// pendingRequest submits, closes the batch, and issues a decryption
// request, returning the batch and request ids.
func (env *relayEnv) pendingRequest(
	t *testing.T,
	ciphertext types.Ciphertext,
) (types.BatchID, types.RequestID) {
	t.Helper()
	ctx := context.Background()

	batchID, err := env.ctrl.Submit(ctx, env.provider, ciphertext)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.ctrl.CloseBatch(ctx, env.owner, batchID); err != nil {
		t.Fatalf("close: %v", err)
	}
	requestID, err := env.ctrl.RequestDecryption(
		ctx, env.provider, batchID,
	)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return batchID, requestID
}

// signProof builds a valid proof blob for the given request.
func (env *relayEnv) signProof(
	t *testing.T,
	requestID types.RequestID,
	batchID types.BatchID,
	cleartext []byte,
) []byte {
	t.Helper()
	pub := env.oracleKey.GetPublicKey()
	keyID, err := proof.ComputeKeyHash(&pub)
	if err != nil {
		t.Fatalf("key hash: %v", err)
	}
	att, err := proof.NewAttestation(proof.AttestationParams{
		RequestID: requestID,
		BatchID:   batchID,
		Cleartext: cleartext,
		KeyID:     keyID,
		IssuedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("attestation: %v", err)
	}
	sig, err := proof.SignAttestation(env.oracleKey, att)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	blob, err := proof.MarshalEnvelope(&proof.Envelope{
		Attestation: att,
		Signature:   sig,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return blob
}

func (env *relayEnv) postCallback(
	t *testing.T,
	body CallbackRequest,
) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(
		env.server.URL+"/api/callback",
		"application/json",
		bytes.NewReader(raw),
	)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGetStatus(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)

	resp, err := http.Get(env.server.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Owner != env.owner.String() {
		t.Fatalf("owner = %s, want %s", status.Owner, env.owner)
	}
	if status.CurrentBatch != 1 {
		t.Fatalf("current batch = %d, want 1", status.CurrentBatch)
	}
	if len(status.Batches) != 1 || status.Batches[0].Closed {
		t.Fatalf("batches = %+v", status.Batches)
	}
}

func TestGetBatch(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)

	resp, err := http.Get(env.server.URL + "/api/batches/1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info BatchInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.ID != 1 || info.Closed || info.HasData {
		t.Fatalf("batch = %+v", info)
	}

	// Unknown and malformed ids.
	resp2, err := http.Get(env.server.URL + "/api/batches/99")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp2.StatusCode)
	}

	resp3, err := http.Get(env.server.URL + "/api/batches/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp3.StatusCode)
	}
}

func TestGetRequest(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)
	batchID, requestID := env.pendingRequest(t, types.Ciphertext("x"))

	resp, err := http.Get(
		env.server.URL + "/api/requests/" + requestID.String(),
	)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info RequestInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.BatchID != uint64(batchID) {
		t.Fatalf("batch = %d, want %d", info.BatchID, batchID)
	}
	if info.Processed {
		t.Fatal("pending request reported processed")
	}

	unknown, err := types.NewRequestID()
	if err != nil {
		t.Fatalf("random id: %v", err)
	}
	resp2, err := http.Get(
		env.server.URL + "/api/requests/" + unknown.String(),
	)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp2.StatusCode)
	}
}

func TestGetEvents(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)
	env.pendingRequest(t, types.Ciphertext("x"))

	resp, err := http.Get(
		env.server.URL + "/api/events?type=data_submitted",
	)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var entries []events.Event
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("events = %d, want 1", len(entries))
	}
	if entries[0].Type != events.TypeDataSubmitted {
		t.Fatalf("type = %s", entries[0].Type)
	}

	// Limit trims from the front, keeping the newest.
	resp2, err := http.Get(env.server.URL + "/api/events?limit=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	var limited []events.Event
	if err := json.NewDecoder(resp2.Body).Decode(&limited); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited events = %d, want 1", len(limited))
	}
}

func TestCallbackHappyPath(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)
	batchID, requestID := env.pendingRequest(t, types.Ciphertext("x"))

	cleartext := []byte("42")
	blob := env.signProof(t, requestID, batchID, cleartext)

	resp := env.postCallback(t, CallbackRequest{
		RequestID: requestID.String(),
		Cleartext: base64.StdEncoding.EncodeToString(cleartext),
		Proof:     base64.StdEncoding.EncodeToString(blob),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	st, err := env.ctrl.RequestStatus(requestID)
	if err != nil {
		t.Fatalf("request status: %v", err)
	}
	if !st.Processed {
		t.Fatal("callback did not resolve the request")
	}
}

func TestCallbackErrorMapping(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)
	batchID, requestID := env.pendingRequest(t, types.Ciphertext("x"))

	cleartext := []byte("42")
	blob := env.signProof(t, requestID, batchID, cleartext)
	valid := CallbackRequest{
		RequestID: requestID.String(),
		Cleartext: base64.StdEncoding.EncodeToString(cleartext),
		Proof:     base64.StdEncoding.EncodeToString(blob),
	}

	// Tampered cleartext fails proof verification.
	tampered := valid
	tampered.Cleartext = base64.StdEncoding.EncodeToString(
		[]byte("43"),
	)
	if resp := env.postCallback(t, tampered); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("tampered status = %d, want 403", resp.StatusCode)
	}

	// The valid callback resolves.
	if resp := env.postCallback(t, valid); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid status = %d, want 200", resp.StatusCode)
	}

	// A second delivery is a replay.
	if resp := env.postCallback(t, valid); resp.StatusCode != http.StatusConflict {
		t.Fatalf("replay status = %d, want 409", resp.StatusCode)
	}

	// Malformed fields are rejected before the controller runs.
	bad := valid
	bad.RequestID = "zzzz"
	if resp := env.postCallback(t, bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp.StatusCode)
	}
	bad = valid
	bad.Proof = "%%%not-base64%%%"
	if resp := env.postCallback(t, bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad proof status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodGuards(
	t *testing.T,
) {
	t.Parallel()
	env := newRelayEnv(t)

	resp, err := http.Post(
		env.server.URL+"/api/status", "application/json", nil,
	)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}

	resp2, err := http.Get(env.server.URL + "/api/callback")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp2.StatusCode)
	}
}
