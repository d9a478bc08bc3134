// Package memory implements the long-term sqlite store: task-summary
// recall records and the self-learning bot-keyword list the watchdog uses
// as a fast pre-LLM filter.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	_ "github.com/mattn/go-sqlite3"

	"invisibrow/internal/logging"
)

const dbFile = "memory.sqlite"

// Seeded on first initialization, and re-seeded whenever the table goes
// empty: the scan must never run blind.
var defaultBotKeywords = []string{
	"captcha",
	"recaptcha",
	"verify you are human",
	"are you a robot",
	"unusual traffic",
	"access denied",
	"security check",
	"cloudflare",
	"please log in",
	"sign in to continue",
}

// Record is one long-term recall entry. Its ID matches the task that
// produced it.
type Record struct {
	ID        string            `json:"id"`
	Goal      string            `json:"goal"`
	Keywords  []string          `json:"keywords"`
	Summary   string            `json:"summary"`
	Artifacts map[string]string `json:"artifacts"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// Store wraps the sqlite database. Safe for concurrent use; sqlite access is
// serialized through a single connection.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	version uint64 // bumped on every bot-keyword mutation
}

// OpenStore opens (or creates) <storage>/memory.sqlite and runs migrations.
func OpenStore(storageDir string) (*Store, error) {
	path := filepath.Join(storageDir, dbFile)
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Boot("memory store opened at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			goal TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			artifacts_json TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_keywords ON memories(keywords)`,
		`CREATE TABLE IF NOT EXISTS bot_keywords (
			keyword TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Save upserts a record by id. Keywords are lowercased and comma-joined.
func (s *Store) Save(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kws := make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kws = append(kws, k)
		}
	}
	artifacts := r.Artifacts
	if artifacts == nil {
		artifacts = map[string]string{}
	}
	artJSON, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO memories (id, goal, keywords, summary, artifacts_json, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal=excluded.goal, keywords=excluded.keywords, summary=excluded.summary,
			artifacts_json=excluded.artifacts_json, status=excluded.status, timestamp=excluded.timestamp`,
		r.ID, r.Goal, strings.Join(kws, ","), r.Summary, string(artJSON), r.Status, ts)
	if err != nil {
		return fmt.Errorf("save memory %s: %w", r.ID, err)
	}
	logging.Memory("saved record %s (status=%s, %d keywords)", r.ID, r.Status, len(kws))
	return nil
}

// Search returns up to 5 successful records whose keyword column matches any
// of the given keywords, newest first.
func (s *Store) Search(keywords []string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conds []string
	var args []interface{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		conds = append(conds, "keywords LIKE ?")
		args = append(args, "%"+k+"%")
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, goal, keywords, summary, artifacts_json, status, timestamp
		FROM memories
		WHERE status = 'success' AND (%s)
		ORDER BY timestamp DESC
		LIMIT 5`, strings.Join(conds, " OR "))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var kws, artJSON string
		if err := rows.Scan(&r.ID, &r.Goal, &kws, &r.Summary, &artJSON, &r.Status, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if kws != "" {
			r.Keywords = strings.Split(kws, ",")
		}
		if err := json.Unmarshal([]byte(artJSON), &r.Artifacts); err != nil {
			r.Artifacts = map[string]string{}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetBotKeywords returns the scan list, re-seeding the defaults when the
// table is empty.
func (s *Store) GetBotKeywords() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kws, err := s.listKeywordsLocked()
	if err != nil {
		return nil, err
	}
	if len(kws) > 0 {
		return kws, nil
	}

	logging.Memory("bot keyword table empty, seeding %d defaults", len(defaultBotKeywords))
	for _, k := range defaultBotKeywords {
		if err := s.insertKeywordLocked(k); err != nil {
			return nil, err
		}
	}
	s.version++
	return s.listKeywordsLocked()
}

// GetAllBotKeywords lists every stored keyword without seeding.
func (s *Store) GetAllBotKeywords() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listKeywordsLocked()
}

// AddBotKeyword normalizes and inserts one keyword. Empty input is skipped.
func (s *Store) AddBotKeyword(kw string) error {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertKeywordLocked(kw); err != nil {
		return err
	}
	s.version++
	return nil
}

// AddBotKeywordsFromText tokenizes text and inserts up to 12 alphanumeric or
// CJK tokens of length >= 4.
func (s *Store) AddBotKeywordsFromText(text string) error {
	tokens := tokenizeKeywords(text)
	if len(tokens) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range tokens {
		if err := s.insertKeywordLocked(tok); err != nil {
			return err
		}
	}
	s.version++
	logging.Memory("learned %d keywords from text", len(tokens))
	return nil
}

// DeleteBotKeyword removes one keyword.
func (s *Store) DeleteBotKeyword(kw string) error {
	kw = strings.ToLower(strings.TrimSpace(kw))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM bot_keywords WHERE keyword = ?`, kw); err != nil {
		return fmt.Errorf("delete keyword %q: %w", kw, err)
	}
	s.version++
	return nil
}

// KeywordVersion reports the mutation counter for cache invalidation.
func (s *Store) KeywordVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) listKeywordsLocked() ([]string, error) {
	rows, err := s.db.Query(`SELECT keyword FROM bot_keywords ORDER BY keyword`)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) insertKeywordLocked(kw string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO bot_keywords (keyword, created_at) VALUES (?, ?)`,
		kw, time.Now())
	if err != nil {
		return fmt.Errorf("insert keyword %q: %w", kw, err)
	}
	return nil
}

// tokenizeKeywords extracts lowercase alphanumeric/CJK tokens of length >= 4,
// deduplicated, capped at 12.
func tokenizeKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 4 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == 12 {
			break
		}
	}
	return out
}
