package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engramlabs/engram/internal/model"
)

// InsertMemory persists a new memory record. The ID is generated when empty.
func (s *Store) InsertMemory(ctx context.Context, m *model.Memory) error {
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var metaJSON interface{}
	if len(m.Metadata) > 0 {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, content, type, namespace, agent_id, task_id, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Type), m.Namespace, nullable(m.AgentID), nullable(m.TaskID),
		metaJSON, fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// GetMemory fetches a memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, type, namespace, agent_id, task_id, metadata, created_at, updated_at
		 FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMemory removes a memory by id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", id)
	}
	return nil
}

// ListRecentMemories returns the newest memories in a namespace.
func (s *Store) ListRecentMemories(ctx context.Context, namespace string, limit int) ([]model.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, type, namespace, agent_id, task_id, metadata, created_at, updated_at
		 FROM memories WHERE namespace = ? ORDER BY created_at DESC LIMIT ?`, namespace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

// SearchMemoriesLexical runs an FTS5 match over memory content, scoped to a
// namespace when one is given. Results come back best-match first.
func (s *Store) SearchMemoriesLexical(ctx context.Context, query, namespace string, limit int) ([]model.RetrievalResult, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	q := `SELECT m.id, m.content, bm25(memories_fts) AS rank
		  FROM memories_fts f
		  JOIN memories m ON m.rowid = f.rowid
		  WHERE memories_fts MATCH ?`
	args := []interface{}{ftsQuery}
	if namespace != "" {
		q += ` AND m.namespace = ?`
		args = append(args, namespace)
	}
	q += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var results []model.RetrievalResult
	for rows.Next() {
		var r model.RetrievalResult
		var rank float64
		if err := rows.Scan(&r.ID, &r.Content, &rank); err != nil {
			return nil, err
		}
		// bm25 returns lower-is-better; flip so callers can rank descending.
		r.Score = -rank
		r.SourceLayer = model.SourceLexical
		results = append(results, r)
	}
	return results, rows.Err()
}

// sanitizeFTSQuery quotes each token so user input cannot inject FTS5 syntax.
// Tokens are OR-joined; bm25 ranks multi-term matches above single-term ones.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// Namespaces lists all namespaces with at least one memory.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM memories ORDER BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// NamespaceStats summarizes a namespace's durable contents.
type NamespaceStats struct {
	Namespace      string         `json:"namespace"`
	Memories       int            `json:"memories"`
	MemoriesByType map[string]int `json:"memories_by_type"`
	Entities       int            `json:"entities"`
	Relationships  int            `json:"relationships"`
	OldestMemory   *time.Time     `json:"oldest_memory,omitempty"`
	NewestMemory   *time.Time     `json:"newest_memory,omitempty"`
}

// GetNamespaceStats aggregates counts for one namespace.
func (s *Store) GetNamespaceStats(ctx context.Context, namespace string) (*NamespaceStats, error) {
	stats := &NamespaceStats{Namespace: namespace, MemoriesByType: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT type, COUNT(*), MIN(created_at), MAX(created_at) FROM memories WHERE namespace = ? GROUP BY type`,
		namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		var oldest, newest sql.NullString
		if err := rows.Scan(&typ, &count, &oldest, &newest); err != nil {
			return nil, err
		}
		stats.MemoriesByType[typ] = count
		stats.Memories += count
		if t := parseTimePtr(oldest); t != nil && (stats.OldestMemory == nil || t.Before(*stats.OldestMemory)) {
			stats.OldestMemory = t
		}
		if t := parseTimePtr(newest); t != nil && (stats.NewestMemory == nil || t.After(*stats.NewestMemory)) {
			stats.NewestMemory = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE namespace = ?`, namespace).Scan(&stats.Entities); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships r
		 JOIN entities e ON e.id = r.source_id WHERE e.namespace = ?`, namespace).Scan(&stats.Relationships); err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*model.Memory, error) {
	var m model.Memory
	var typ, createdAt, updatedAt string
	var agentID, taskID, metaJSON sql.NullString

	err := row.Scan(&m.ID, &m.Content, &typ, &m.Namespace, &agentID, &taskID, &metaJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	m.Type = model.MemoryType(typ)
	m.AgentID = agentID.String
	m.TaskID = taskID.String
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	if metaJSON.Valid {
		json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
	}
	return &m, nil
}

func collectMemories(rows *sql.Rows) ([]model.Memory, error) {
	var out []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
