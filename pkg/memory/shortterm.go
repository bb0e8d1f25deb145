package memory

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
)

const (
	shortTermDBFile     = "stm.db"
	shortTermLedgerFile = "stm_ledger.json"

	seedMarker  = "Short-term semantic memory started."
	resetMarker = "Short-term semantic memory cleared."
)

// ShortTermMemory is the bounded semantic memory of recent exchanges: a
// vector store whose contents are capped by the eviction ledger.
type ShortTermMemory struct {
	store    *VectorStore
	ledger   *Ledger
	capacity int
	metrics  *metrics.Metrics
}

// OpenShortTerm opens the store and ledger under dir and reconciles them:
// ledger ids the store no longer holds are dropped, store entries the ledger
// missed are adopted and evicted down to capacity, and an empty memory gets
// a marker entry.
func OpenShortTerm(ctx context.Context, dir string, capacity int, embedder Embedder, m *metrics.Metrics) (*ShortTermMemory, error) {
	store, err := NewVectorStore(filepath.Join(dir, shortTermDBFile), embedder)
	if err != nil {
		return nil, err
	}
	ledger, err := LoadLedger(filepath.Join(dir, shortTermLedgerFile))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	stm := &ShortTermMemory{store: store, ledger: ledger, capacity: capacity, metrics: m}
	if err := stm.reconcile(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	m.SetLedgerLength(ledger.Len())
	return stm, nil
}

func (s *ShortTermMemory) reconcile(ctx context.Context) error {
	ids, err := s.store.IDs(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	if dropped := s.ledger.Retain(func(id string) bool {
		_, ok := present[id]
		return ok
	}); dropped > 0 {
		logger.WarnCF("memory", "Dropped ledger ids missing from the vector store", map[string]interface{}{
			"count": dropped,
		})
	}

	if s.ledger.Len() == 0 {
		if len(ids) > 0 {
			if err := s.store.Reset(ctx); err != nil {
				return err
			}
		}
		return s.seed(ctx, seedMarker)
	}

	if adopted := s.ledger.Adopt(ids); adopted > 0 {
		logger.WarnCF("memory", "Adopted vector store entries missing from the ledger", map[string]interface{}{
			"count": adopted,
		})
	}
	if _, err := s.ledger.EvictOverflow(ctx, s.store, s.capacity); err != nil {
		s.metrics.RecordEvictionRollback()
	}
	return s.ledger.Save()
}

func (s *ShortTermMemory) seed(ctx context.Context, marker string) error {
	ids, err := s.store.AppendEntries(ctx, []string{marker})
	if err != nil {
		return fmt.Errorf("seed short-term memory: %w", err)
	}
	s.ledger.Append(ids...)
	return s.ledger.Save()
}

// Add stores texts, evicts the oldest entries beyond capacity and persists
// the ledger. An eviction failure is reported but the new entries stay.
func (s *ShortTermMemory) Add(ctx context.Context, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	ids, err := s.store.AppendEntries(ctx, texts)
	if err != nil {
		return fmt.Errorf("add short-term entries: %w", err)
	}
	s.ledger.Append(ids...)

	evicted, evictErr := s.ledger.EvictOverflow(ctx, s.store, s.capacity)
	if evictErr != nil {
		s.metrics.RecordEvictionRollback()
	} else {
		s.metrics.RecordEviction(len(evicted), s.ledger.Len())
	}

	if err := s.ledger.Save(); err != nil {
		return fmt.Errorf("save short-term ledger: %w", err)
	}
	return evictErr
}

// Search returns the k stored texts closest to query.
func (s *ShortTermMemory) Search(ctx context.Context, query string, k int) ([]Entry, error) {
	return s.store.Search(ctx, query, k)
}

// Reset wipes every entry and seeds a fresh marker.
func (s *ShortTermMemory) Reset(ctx context.Context) error {
	if err := s.store.Reset(ctx); err != nil {
		return err
	}
	s.ledger.Clear()
	if err := s.seed(ctx, resetMarker); err != nil {
		return err
	}
	s.metrics.SetLedgerLength(s.ledger.Len())
	return nil
}

func (s *ShortTermMemory) Len() int {
	return s.ledger.Len()
}

func (s *ShortTermMemory) Capacity() int {
	return s.capacity
}

func (s *ShortTermMemory) Close() error {
	return s.store.Close()
}
