package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// observerSpy collects notified events.
type observerSpy struct {
	mu     sync.Mutex
	events []Event
}

func (o *observerSpy) Notify(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *observerSpy) all() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

func TestRecordAssignsSequentialSeqs(
	t *testing.T,
) {
	t.Parallel()
	l := NewLedger(testLogger())
	ctx := context.Background()

	first := l.Record(ctx, TypeBatchOpened, map[string]string{
		"batchId": "1",
	})
	second := l.Record(ctx, TypeDataSubmitted, nil)

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seqs = %d,%d, want 1,2", first.Seq, second.Seq)
	}
	if first.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
}

func TestTailReturnsMostRecent(
	t *testing.T,
) {
	t.Parallel()
	l := NewLedger(testLogger())
	ctx := context.Background()

	for range 5 {
		l.Record(ctx, TypeDataSubmitted, nil)
	}

	tail := l.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("tail len = %d, want 2", len(tail))
	}
	if tail[0].Seq != 4 || tail[1].Seq != 5 {
		t.Fatalf("tail seqs = %d,%d, want 4,5", tail[0].Seq, tail[1].Seq)
	}

	// Out-of-range n returns everything.
	if got := len(l.Tail(0)); got != 5 {
		t.Fatalf("tail(0) len = %d, want 5", got)
	}
	if got := len(l.Tail(99)); got != 5 {
		t.Fatalf("tail(99) len = %d, want 5", got)
	}
}

func TestQueryByType(
	t *testing.T,
) {
	t.Parallel()
	l := NewLedger(testLogger())
	ctx := context.Background()

	l.Record(ctx, TypeBatchOpened, nil)
	l.Record(ctx, TypeDataSubmitted, nil)
	l.Record(ctx, TypeBatchOpened, nil)

	opened := l.QueryByType(TypeBatchOpened)
	if len(opened) != 2 {
		t.Fatalf("batch_opened = %d, want 2", len(opened))
	}
	if got := len(l.QueryByType(TypePaused)); got != 0 {
		t.Fatalf("paused = %d, want 0", got)
	}
}

func TestObserversReceiveEvents(
	t *testing.T,
) {
	t.Parallel()
	l := NewLedger(testLogger())
	ctx := context.Background()
	spy := &observerSpy{}

	id := l.Subscribe(spy)
	l.Record(ctx, TypeBatchOpened, nil)

	got := spy.all()
	if len(got) != 1 || got[0].Type != TypeBatchOpened {
		t.Fatalf("observer events = %+v", got)
	}

	l.Unsubscribe(id)
	l.Record(ctx, TypeBatchClosed, nil)
	if len(spy.all()) != 1 {
		t.Fatal("unsubscribed observer still notified")
	}
}

func TestAllReturnsCopy(
	t *testing.T,
) {
	t.Parallel()
	l := NewLedger(testLogger())
	ctx := context.Background()
	l.Record(ctx, TypeBatchOpened, nil)

	out := l.All()
	out[0].Type = TypePaused

	if l.All()[0].Type != TypeBatchOpened {
		t.Fatal("All returned a view into internal state")
	}
}

func TestConcurrentRecord(
	t *testing.T,
) {
	t.Parallel()
	l := NewLedger(testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(ctx, TypeDataSubmitted, nil)
		}()
	}
	wg.Wait()

	if l.Len() != 32 {
		t.Fatalf("len = %d, want 32", l.Len())
	}

	// Sequence numbers are unique.
	seen := make(map[uint64]struct{})
	for _, e := range l.All() {
		if _, dup := seen[e.Seq]; dup {
			t.Fatalf("duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = struct{}{}
	}
}
