package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const longTermDBFile = "ltm.db"

var longTermSchema = []string{
	`CREATE TABLE IF NOT EXISTS ltm_conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		user_input TEXT NOT NULL,
		ai_response TEXT NOT NULL,
		ai_response_emotion TEXT NOT NULL DEFAULT '',
		user_name TEXT NOT NULL DEFAULT '',
		user_detected_emotion TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS ltm_timestamp_idx ON ltm_conversation_history(timestamp DESC);`,
}

const timestampLayout = "2006-01-02 15:04:05"

// Exchange is one persisted user/assistant exchange.
type Exchange struct {
	ID              int64
	Timestamp       time.Time
	UserInput       string
	Response        string
	ResponseEmotion string
	UserName        string
	UserEmotion     string
}

// LongTermStore is the append-only conversation log. It is only ever
// truncated by Clear.
type LongTermStore struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func OpenLongTerm(path string) (*LongTermStore, error) {
	db, err := openSQLite(path, longTermSchema...)
	if err != nil {
		return nil, err
	}
	return &LongTermStore{path: path, db: db}, nil
}

func (s *LongTermStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LongTermStore) Append(ctx context.Context, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrStoreClosed
	}
	if ex.Timestamp.IsZero() {
		ex.Timestamp = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO ltm_conversation_history
	(timestamp, user_input, ai_response, ai_response_emotion, user_name, user_detected_emotion)
VALUES (?, ?, ?, ?, ?, ?)`,
		ex.Timestamp.Format(timestampLayout),
		ex.UserInput,
		ex.Response,
		ex.ResponseEmotion,
		ex.UserName,
		ex.UserEmotion,
	); err != nil {
		return fmt.Errorf("append long-term exchange: %w", err)
	}
	return nil
}

// Search returns the newest exchanges whose input or response contains every
// keyword.
func (s *LongTermStore) Search(ctx context.Context, keywords []string, limit int) ([]Exchange, error) {
	var conds []string
	var args []interface{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		pattern := "%" + likeEscaper.Replace(kw) + "%"
		conds = append(conds, `(user_input LIKE ? ESCAPE '\' OR ai_response LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if len(conds) == 0 {
		return nil, nil
	}
	where := "WHERE " + strings.Join(conds, " AND ")
	return s.query(ctx, where, args, limit)
}

// likeEscaper makes LIKE wildcards in a keyword match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Recent returns the newest exchanges, newest first.
func (s *LongTermStore) Recent(ctx context.Context, limit int) ([]Exchange, error) {
	return s.query(ctx, "", nil, limit)
}

func (s *LongTermStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ltm_conversation_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count long-term exchanges: %w", err)
	}
	return n, nil
}

func (s *LongTermStore) query(ctx context.Context, where string, args []interface{}, limit int) ([]Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 3
	}

	q := fmt.Sprintf(`
SELECT id, timestamp, user_input, ai_response, ai_response_emotion, user_name, user_detected_emotion
FROM ltm_conversation_history
%s
ORDER BY timestamp DESC, id DESC
LIMIT ?`, where)
	rows, err := s.db.QueryContext(ctx, q, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query long-term exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var ts string
		if err := rows.Scan(&ex.ID, &ts, &ex.UserInput, &ex.Response, &ex.ResponseEmotion, &ex.UserName, &ex.UserEmotion); err != nil {
			return nil, fmt.Errorf("scan long-term exchange: %w", err)
		}
		if ex.Timestamp, err = time.ParseInLocation(timestampLayout, ts, time.Local); err != nil {
			logger.DebugCF("memory", "Unparseable long-term timestamp", map[string]interface{}{
				"id":        ex.ID,
				"timestamp": ts,
				"error":     err.Error(),
			})
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate long-term exchanges: %w", err)
	}
	return out, nil
}

// Clear deletes the database file and recreates it empty.
func (s *LongTermStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close long-term db: %w", err)
		}
		s.db = nil
	}
	if err := removeSQLiteFiles(s.path); err != nil {
		return fmt.Errorf("remove long-term db: %w", err)
	}
	db, err := openSQLite(s.path, longTermSchema...)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}
