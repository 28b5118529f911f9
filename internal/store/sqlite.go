package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is a fixed-width RFC 3339 layout. RFC3339Nano trims
// trailing zeros from the fraction, which breaks lexicographic TEXT
// ordering at sub-second granularity ("…00.1Z" > "…00.101Z"); padding
// the fraction keeps ORDER BY created_at chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a single SQLite database file.
//
// SQLite allows only one writer at a time, so the store takes a single
// coarse mutex around every operation rather than scattering locking
// across callers. Per-operation hold time is short; concurrent feedback
// writes and rescore passes are linearized here.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at the given path and
// applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for readiness checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		url           TEXT UNIQUE NOT NULL,
		title         TEXT NOT NULL,
		source        TEXT NOT NULL,
		published_at  TEXT NOT NULL,
		snippet       TEXT NOT NULL DEFAULT '',
		summary       TEXT NOT NULL DEFAULT '',
		rationale     TEXT NOT NULL DEFAULT '',
		tags          TEXT NOT NULL DEFAULT '[]',
		relevance     INTEGER NOT NULL DEFAULT 50,
		rank          REAL NOT NULL DEFAULT 50.0,
		scored        INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_scored ON items(scored);
	CREATE INDEX IF NOT EXISTS idx_items_rank ON items(rank DESC, created_at DESC);

	CREATE TABLE IF NOT EXISTS feedback (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id    INTEGER NOT NULL REFERENCES items(id),
		vote       INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_item ON feedback(item_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS tag_weights (
		tag    TEXT PRIMARY KEY,
		weight REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS source_weights (
		source TEXT PRIMARY KEY,
		weight REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// InsertItem implements Store. Duplicate URLs are a no-op.
func (s *SQLiteStore) InsertItem(ctx context.Context, p ItemParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO items (url, title, source, published_at, snippet, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, '[]', ?)`,
		p.URL, p.Title, p.Source, p.Published.UTC().Format(timeLayout), p.Snippet,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	return n > 0, nil
}

const itemColumns = `id, url, title, source, published_at, snippet, summary, rationale, tags, relevance, rank, scored, created_at`

// UnscoredItems implements Store.
func (s *SQLiteStore) UnscoredItems(ctx context.Context, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE scored = 0 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unscored items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows, false)
}

// SetSummary implements Store.
func (s *SQLiteStore) SetSummary(ctx context.Context, itemID int64, p SummaryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := json.Marshal(capTags(p.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET summary = ?, rationale = ?, tags = ?, relevance = ?, scored = 1 WHERE id = ?`,
		p.Summary, p.Rationale, string(tags), clampRelevance(p.Relevance), itemID)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ScoredItems implements Store.
func (s *SQLiteStore) ScoredItems(ctx context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE scored = 1`)
	if err != nil {
		return nil, fmt.Errorf("query scored items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows, false)
}

// SetRank implements Store.
func (s *SQLiteStore) SetRank(ctx context.Context, itemID int64, rank float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE items SET rank = ? WHERE id = ?`, rank, itemID); err != nil {
		return fmt.Errorf("set rank: %w", err)
	}
	return nil
}

// RankedItems implements Store.
func (s *SQLiteStore) RankedItems(ctx context.Context, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+`,
		        COALESCE((SELECT vote FROM feedback
		                  WHERE item_id = items.id
		                  ORDER BY created_at DESC, id DESC LIMIT 1), 0) AS user_vote
		 FROM items
		 WHERE scored = 1
		 ORDER BY rank DESC, created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query ranked items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows, true)
}

// RecordFeedback implements Store. The event append and the weight
// adjustments commit together or not at all.
func (s *SQLiteStore) RecordFeedback(ctx context.Context, itemID int64, vote int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feedback tx: %w", err)
	}
	defer tx.Rollback()

	var tagsJSON, source string
	err = tx.QueryRowContext(ctx, `SELECT tags, source FROM items WHERE id = ?`, itemID).
		Scan(&tagsJSON, &source)
	if err == sql.ErrNoRows {
		return ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("load item %d: %w", itemID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feedback (item_id, vote, created_at) VALUES (?, ?, ?)`,
		itemID, vote, time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return fmt.Errorf("decode tags for item %d: %w", itemID, err)
	}
	for _, tag := range tags {
		if err := adjustWeight(ctx, tx, "tag_weights", "tag", tag, float64(vote)); err != nil {
			return err
		}
	}
	if err := adjustWeight(ctx, tx, "source_weights", "source", source, float64(vote)); err != nil {
		return err
	}

	return tx.Commit()
}

// adjustWeight bumps one keyed weight by delta, clamped to the weight
// bounds. Unseen keys start from 0.
func adjustWeight(ctx context.Context, tx *sql.Tx, table, keyCol, key string, delta float64) error {
	var current float64
	err := tx.QueryRowContext(ctx,
		`SELECT weight FROM `+table+` WHERE `+keyCol+` = ?`, key).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load %s weight: %w", keyCol, err)
	}
	next := clampWeight(current + delta)
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+table+` (`+keyCol+`, weight) VALUES (?, ?)`, key, next); err != nil {
		return fmt.Errorf("save %s weight: %w", keyCol, err)
	}
	return nil
}

// TagWeight implements Store.
func (s *SQLiteStore) TagWeight(ctx context.Context, tag string) (float64, error) {
	return s.weight(ctx, "tag_weights", "tag", tag)
}

// SourceWeight implements Store.
func (s *SQLiteStore) SourceWeight(ctx context.Context, source string) (float64, error) {
	return s.weight(ctx, "source_weights", "source", source)
}

func (s *SQLiteStore) weight(ctx context.Context, table, keyCol, key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var w float64
	err := s.db.QueryRowContext(ctx,
		`SELECT weight FROM `+table+` WHERE `+keyCol+` = ?`, key).Scan(&w)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load %s weight: %w", keyCol, err)
	}
	return w, nil
}

// GetSetting implements Store.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting implements Store.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// ItemCount implements Store.
func (s *SQLiteStore) ItemCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanItems(rows *sql.Rows, withVote bool) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var (
			it        Item
			published string
			created   string
			tagsJSON  string
			scored    int
		)
		dest := []any{
			&it.ID, &it.URL, &it.Title, &it.Source, &published, &it.Snippet,
			&it.Summary, &it.Rationale, &tagsJSON, &it.Relevance, &it.Rank, &scored, &created,
		}
		if withVote {
			dest = append(dest, &it.UserVote)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Scored = scored != 0
		if t, err := time.Parse(time.RFC3339Nano, published); err == nil {
			it.Published = t
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			it.CreatedAt = t
		}
		if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
			return nil, fmt.Errorf("decode tags for item %d: %w", it.ID, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
