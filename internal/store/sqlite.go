// Package store implements the durable layer on embedded SQLite: memories,
// the knowledge graph (entities, relationships, facts, conflicts), and skills.
// Schema changes go through the ordered migration list below, applied once at
// startup; each migration runs in its own transaction and is recorded in
// schema_migrations, so re-running is a no-op.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store owns the SQLite handle and exposes the repositories.
type Store struct {
	db *sql.DB
}

type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "memories",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS memories (
				id          TEXT PRIMARY KEY,
				content     TEXT NOT NULL,
				type        TEXT NOT NULL,
				namespace   TEXT NOT NULL,
				agent_id    TEXT,
				task_id     TEXT,
				metadata    TEXT,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_ns ON memories(namespace, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(namespace, type)`,
		},
	},
	{
		version: 2,
		name:    "knowledge_graph",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS entities (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL,
				type          TEXT NOT NULL,
				description   TEXT,
				confidence    REAL NOT NULL DEFAULT 0.5,
				namespace     TEXT NOT NULL,
				created_at    TEXT NOT NULL,
				last_accessed TEXT NOT NULL,
				access_count  INTEGER NOT NULL DEFAULT 0,
				UNIQUE(name, type, namespace)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_entities_ns ON entities(namespace)`,
			`CREATE TABLE IF NOT EXISTS relationships (
				id              TEXT PRIMARY KEY,
				source_id       TEXT NOT NULL REFERENCES entities(id),
				target_id       TEXT NOT NULL REFERENCES entities(id),
				relation_type   TEXT NOT NULL,
				strength        REAL NOT NULL DEFAULT 0.5,
				evidence        TEXT,
				created_at      TEXT NOT NULL,
				last_reinforced TEXT NOT NULL,
				UNIQUE(source_id, target_id, relation_type)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id)`,
			`CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id)`,
		},
	},
	{
		version: 3,
		name:    "facts_conflicts",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS facts (
				id               TEXT PRIMARY KEY,
				entity_id        TEXT NOT NULL REFERENCES entities(id),
				property         TEXT NOT NULL,
				value            TEXT NOT NULL,
				confidence       REAL NOT NULL DEFAULT 0.8,
				valid_from       TEXT,
				valid_until      TEXT,
				source_memory_id TEXT,
				created_at       TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_facts_entity ON facts(entity_id, property)`,
			`CREATE INDEX IF NOT EXISTS idx_facts_valid ON facts(valid_from, valid_until)`,
			`CREATE TABLE IF NOT EXISTS conflicts (
				id                TEXT PRIMARY KEY,
				fact_id_1         TEXT NOT NULL REFERENCES facts(id),
				fact_id_2         TEXT NOT NULL REFERENCES facts(id),
				type              TEXT NOT NULL,
				severity          REAL NOT NULL,
				resolution_status TEXT NOT NULL DEFAULT 'flagged',
				created_at        TEXT NOT NULL
			)`,
		},
	},
	{
		version: 4,
		name:    "skills",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS skills (
				id               TEXT PRIMARY KEY,
				name             TEXT NOT NULL UNIQUE,
				summary          TEXT NOT NULL,
				category         TEXT,
				triggers         TEXT,
				success_count    INTEGER NOT NULL DEFAULT 0,
				failure_count    INTEGER NOT NULL DEFAULT 0,
				avg_satisfaction REAL NOT NULL DEFAULT 0,
				is_archived      INTEGER NOT NULL DEFAULT 0,
				last_used        TEXT,
				version          INTEGER NOT NULL DEFAULT 1
			)`,
			`CREATE TABLE IF NOT EXISTS skill_details (
				skill_id      TEXT PRIMARY KEY REFERENCES skills(id),
				description   TEXT,
				code          TEXT,
				prerequisites TEXT
			)`,
		},
	},
	{
		version: 5,
		name:    "memories_fts",
		stmts: []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
				content,
				content=memories,
				content_rowid=rowid
			)`,
			`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
				INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
			END`,
			`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			END`,
		},
	},
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func newID() string {
	return uuid.New().String()
}

// timeLayout keeps the fractional part fixed-width so stored timestamps
// compare correctly as strings in SQL.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
