package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// ledgerSnapshot is the persisted form of the ledger.
type ledgerSnapshot struct {
	NextSeq uint64  `json:"nextSeq"`
	Entries []Event `json:"entries"`
}

// Snapshot serializes the full ledger into an xz-compressed JSON
// blob suitable for the key-value store.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	snap := ledgerSnapshot{
		NextSeq: l.nextSeq,
		Entries: make([]Event, len(l.entries)),
	}
	copy(snap.Entries, l.entries)
	l.mu.RUnlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}

	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("create xz writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress ledger: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish xz stream: %w", err)
	}

	return buf.Bytes(), nil
}

// Restore replaces the ledger contents with the given snapshot blob.
// Registered observers are kept; history and sequence counter are
// overwritten.
func (l *Ledger) Restore(data []byte) error {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create xz reader: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("decompress ledger: %w", err)
	}

	var snap ledgerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode ledger: %w", err)
	}
	if snap.NextSeq == 0 {
		snap.NextSeq = uint64(len(snap.Entries)) + 1
	}

	l.mu.Lock()
	l.entries = snap.Entries
	if l.entries == nil {
		l.entries = make([]Event, 0)
	}
	l.nextSeq = snap.NextSeq
	l.mu.Unlock()

	return nil
}
