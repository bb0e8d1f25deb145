package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const ledgerVersion = 1

// EntryDeleter removes vector-store entries as one all-or-nothing batch.
type EntryDeleter interface {
	DeleteEntries(ctx context.Context, ids []string) error
}

type ledgerEntry struct {
	Seq uint64 `json:"seq"`
	ID  string `json:"id"`
}

type ledgerSnapshot struct {
	Version int           `json:"version"`
	NextSeq uint64        `json:"next_seq"`
	Entries []ledgerEntry `json:"entries"`
}

// Ledger is the FIFO of short-term memory entry ids, oldest first, mirrored
// to a JSON manifest so the eviction order survives restarts.
type Ledger struct {
	path    string
	entries []ledgerEntry
	nextSeq uint64
	mu      sync.Mutex
}

// LoadLedger reads the manifest at path. A missing manifest yields an empty
// ledger.
func LoadLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, nextSeq: 1}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var snap ledgerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	l.entries = snap.Entries
	l.nextSeq = snap.NextSeq
	for _, e := range l.entries {
		if e.Seq >= l.nextSeq {
			l.nextSeq = e.Seq + 1
		}
	}
	if l.nextSeq == 0 {
		l.nextSeq = 1
	}
	return l, nil
}

// Append adds ids to the tail in the given order.
func (l *Ledger) Append(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		l.entries = append(l.entries, ledgerEntry{Seq: l.nextSeq, ID: id})
		l.nextSeq++
	}
}

// EvictOverflow pops ids from the head until at most capacity remain and
// deletes them from store in one batch. When the delete fails the popped ids
// are put back at the head in their original order, leaving the ledger
// unchanged, and the error is returned.
func (l *Ledger) EvictOverflow(ctx context.Context, store EntryDeleter, capacity int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if capacity < 0 {
		capacity = 0
	}
	overflow := len(l.entries) - capacity
	if overflow <= 0 {
		return nil, nil
	}

	popped := append([]ledgerEntry(nil), l.entries[:overflow]...)
	l.entries = append([]ledgerEntry(nil), l.entries[overflow:]...)

	ids := make([]string, len(popped))
	for i, e := range popped {
		ids[i] = e.ID
	}

	if err := store.DeleteEntries(ctx, ids); err != nil {
		l.entries = append(popped, l.entries...)
		logger.ErrorCF("memory", "Eviction rolled back", map[string]interface{}{
			"count": len(ids),
			"error": err.Error(),
		})
		return nil, fmt.Errorf("evict %d entries: %w", len(ids), err)
	}

	logger.DebugCF("memory", "Evicted short-term entries", map[string]interface{}{
		"count":  len(ids),
		"remain": len(l.entries),
	})
	return ids, nil
}

// Save writes the manifest atomically.
func (l *Ledger) Save() error {
	l.mu.Lock()
	snap := ledgerSnapshot{
		Version: ledgerVersion,
		NextSeq: l.nextSeq,
		Entries: append([]ledgerEntry(nil), l.entries...),
	}
	l.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Retain drops every id for which keep returns false and reports how many
// were dropped.
func (l *Ledger) Retain(keep func(id string) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	dropped := 0
	for _, e := range l.entries {
		if keep(e.ID) {
			kept = append(kept, e)
		} else {
			dropped++
		}
	}
	l.entries = kept
	return dropped
}

// Adopt makes the ledger follow order, the store's ids oldest first, taking
// in ids it did not track. Ids already dropped from the ledger must not be in
// order. It reports how many ids were adopted.
func (l *Ledger) Adopt(order []string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	known := make(map[string]struct{}, len(l.entries))
	for _, e := range l.entries {
		known[e.ID] = struct{}{}
	}
	adopted := 0
	for _, id := range order {
		if _, ok := known[id]; !ok {
			adopted++
		}
	}
	if adopted == 0 {
		return 0
	}
	l.entries = make([]ledgerEntry, 0, len(order))
	for _, id := range order {
		l.entries = append(l.entries, ledgerEntry{Seq: l.nextSeq, ID: id})
		l.nextSeq++
	}
	return adopted
}

// Clear empties the ledger without touching the store.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// IDs returns the ids oldest first.
func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, len(l.entries))
	for i, e := range l.entries {
		ids[i] = e.ID
	}
	return ids
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
