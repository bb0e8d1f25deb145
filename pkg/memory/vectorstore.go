package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Entry is one text stored in the short-term vector store.
type Entry struct {
	ID      string
	Seq     int64
	Content string
	Score   float64
}

// VectorStore keeps embedded texts in SQLite and answers nearest-neighbour
// queries by scanning the table.
type VectorStore struct {
	db       *sql.DB
	embedder Embedder
	mu       sync.Mutex
	closed   bool
}

func NewVectorStore(path string, embedder Embedder) (*VectorStore, error) {
	if embedder == nil {
		embedder = NewEmbedder(DefaultEmbeddingModel)
	}
	db, err := openSQLite(path,
		`CREATE TABLE IF NOT EXISTS stm_entries (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			model TEXT NOT NULL,
			vector_json TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS stm_entries_seq_idx ON stm_entries(seq);`,
	)
	if err != nil {
		return nil, err
	}
	return &VectorStore{db: db, embedder: embedder}, nil
}

func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// AppendEntries embeds and stores texts, returning their new ids in order.
func (s *VectorStore) AppendEntries(ctx context.Context, texts []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if len(texts) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append entries begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM stm_entries`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("append entries seq: %w", err)
	}

	ids := make([]string, 0, len(texts))
	now := nowMS()
	for _, text := range texts {
		seq++
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO stm_entries(id, seq, content, model, vector_json, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`,
			id, seq, text, s.embedder.ModelID(), encodeVector(s.embedder.Embed(text)), now,
		); err != nil {
			return nil, fmt.Errorf("append entry: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append entries commit: %w", err)
	}
	return ids, nil
}

// DeleteEntries removes ids as one batch. If any id is unknown the whole
// batch is rejected with ErrDeleteRejected and nothing is removed.
func (s *VectorStore) DeleteEntries(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete entries begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM stm_entries WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete entry %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return fmt.Errorf("%w: unknown id %s", ErrDeleteRejected, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete entries commit: %w", err)
	}
	return nil
}

// Search returns the k entries most similar to query, best first.
func (s *VectorStore) Search(ctx context.Context, query string, k int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, seq, content, vector_json FROM stm_entries`)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	defer rows.Close()

	qvec := s.embedder.Embed(query)
	var out []Entry
	for rows.Next() {
		var e Entry
		var raw string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Content, &raw); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Score = cosineSimilarity(qvec, decodeVector(raw))
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// IDs lists stored ids in insertion order.
func (s *VectorStore) IDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM stm_entries ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list entry ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entry id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *VectorStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stm_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Reset removes every entry.
func (s *VectorStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stm_entries`); err != nil {
		return fmt.Errorf("reset entries: %w", err)
	}
	return nil
}
