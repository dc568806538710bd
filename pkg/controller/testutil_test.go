package controller

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/i5heu/ouroboros-crypt/pkg/hash"

	"github.com/i5heu/ouroboros-oracle/pkg/events"
	"github.com/i5heu/ouroboros-oracle/pkg/types"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

// fakeTransport assigns sequential request ids and can be rigged to
// fail.
type fakeTransport struct {
	nextID  byte
	lastIDs []types.RequestID
	handles []types.Ciphertext

	err       error
	zeroID    bool
	repeatID  bool
	callCount int
}

func (f *fakeTransport) IssueRequest(
	_ context.Context,
	_ types.BatchID,
	handles []types.Ciphertext,
) (types.RequestID, error) {
	f.callCount++
	f.handles = handles
	if f.err != nil {
		return types.RequestID{}, f.err
	}
	if f.zeroID {
		return types.RequestID{}, nil
	}
	if f.repeatID && len(f.lastIDs) > 0 {
		return f.lastIDs[0], nil
	}
	f.nextID++
	var id types.RequestID
	id[0] = f.nextID
	f.lastIDs = append(f.lastIDs, id)
	return id, nil
}

// fakeVerifier accepts every proof unless rigged with an error.
type fakeVerifier struct {
	err       error
	callCount int
}

func (f *fakeVerifier) Verify(
	_ types.RequestID,
	_ types.BatchID,
	_ []byte,
	_ []byte,
) error {
	f.callCount++
	return f.err
}

// testPrincipal returns a random non-zero principal.
func testPrincipal(t *testing.T) types.Principal {
	t.Helper()
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		t.Fatalf("generate principal: %v", err)
	}
	return types.Principal(hash.HashBytes(b[:]))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv bundles a controller with its collaborators.
type testEnv struct {
	ctrl      *Controller
	owner     types.Principal
	provider  types.Principal
	clock     *fakeClock
	transport *fakeTransport
	verifier  *fakeVerifier
	ledger    *events.Ledger
}

// newTestEnv creates a controller with one registered provider and a
// 60 second cooldown.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		owner:     testPrincipal(t),
		provider:  testPrincipal(t),
		clock:     &fakeClock{now: time.Now().UTC()},
		transport: &fakeTransport{},
		verifier:  &fakeVerifier{},
		ledger:    events.NewLedger(testLogger()),
	}

	ctrl, err := New(Config{
		Owner:     env.owner,
		Identity:  []byte("test-controller-identity"),
		Cooldown:  60 * time.Second,
		Transport: env.transport,
		Verifier:  env.verifier,
		Recorder:  env.ledger,
		Clock:     env.clock,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	env.ctrl = ctrl

	ctx := context.Background()
	if err := ctrl.AddProvider(
		ctx, env.owner, env.provider,
	); err != nil {
		t.Fatalf("add provider: %v", err)
	}

	return env
}

// closedBatchWithData submits a value as the provider and closes the
// current batch, returning its id.
func (env *testEnv) closedBatchWithData(
	t *testing.T,
	ciphertext types.Ciphertext,
) types.BatchID {
	t.Helper()
	ctx := context.Background()

	id, err := env.ctrl.Submit(ctx, env.provider, ciphertext)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.ctrl.CloseBatch(ctx, env.owner, id); err != nil {
		t.Fatalf("close batch: %v", err)
	}
	return id
}

// advance moves the fake clock past the cooldown window.
func (env *testEnv) advance(d time.Duration) {
	env.clock.now = env.clock.now.Add(d)
}
