package memory

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
)

// Config selects where and how the memories are stored.
type Config struct {
	Dir               string
	ShortTermCapacity int
	EmbeddingModel    string
}

// Service bundles the short-term semantic memory and the long-term log.
type Service struct {
	ShortTerm *ShortTermMemory
	LongTerm  *LongTermStore
}

func Open(ctx context.Context, cfg Config, m *metrics.Metrics) (*Service, error) {
	stm, err := OpenShortTerm(ctx, cfg.Dir, cfg.ShortTermCapacity, NewEmbedder(cfg.EmbeddingModel), m)
	if err != nil {
		return nil, err
	}
	ltm, err := OpenLongTerm(filepath.Join(cfg.Dir, longTermDBFile))
	if err != nil {
		_ = stm.Close()
		return nil, err
	}
	logger.InfoCF("memory", "Memory opened", map[string]interface{}{
		"dir":          cfg.Dir,
		"stm_entries":  stm.Len(),
		"stm_capacity": cfg.ShortTermCapacity,
	})
	return &Service{ShortTerm: stm, LongTerm: ltm}, nil
}

// Remember records one exchange in both memories. Failures are joined so a
// short-term eviction problem does not hide the long-term write.
func (s *Service) Remember(ctx context.Context, ex Exchange, stmTexts []string) error {
	var errs []error
	if err := s.ShortTerm.Add(ctx, stmTexts); err != nil {
		errs = append(errs, err)
	}
	if err := s.LongTerm.Append(ctx, ex); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClearAll wipes both memories. The short-term memory is re-seeded with a
// marker and the long-term database is recreated empty.
func (s *Service) ClearAll(ctx context.Context) error {
	if err := s.ShortTerm.Reset(ctx); err != nil {
		return err
	}
	if err := s.LongTerm.Clear(); err != nil {
		return err
	}
	logger.InfoC("memory", "All memories cleared")
	return nil
}

func (s *Service) Close() error {
	return errors.Join(s.ShortTerm.Close(), s.LongTerm.Close())
}
