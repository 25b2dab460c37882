// Package store persists processed-item records, the action audit log,
// daily aggregates, and rate-limit counters in a local SQLite database.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"feedpilot/internal/logging"
)

// ===== TYPES =====

// ProcessedRecord is the dedup and audit row for one feed item.
type ProcessedRecord struct {
	ID          string
	ProcessedAt time.Time
	Action      string
	Confidence  float64
	Reasoning   string
	Success     bool
	Error       string
}

// ActionEntry is one row of the append-only action log.
type ActionEntry struct {
	ID         int64
	ItemID     string
	ActionType string
	Detail     string
	Success    bool
	Error      string
	CreatedAt  time.Time
}

// DailyStats aggregates one calendar day of activity.
type DailyStats struct {
	Date      string
	Processed int
	Likes     int
	Replies   int
	Threads   int
	Errors    int
}

// Usage reports current rate-limit consumption for one action type.
type Usage struct {
	ActionType  string
	DailyCount  int
	HourlyCount int
}

// Store wraps the SQLite handle. Writes are serialized through a mutex
// on top of the single-connection pool so read-modify-write sequences
// stay atomic.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// now is swappable in tests to exercise counter rollover.
	now func() time.Time
}

// ===== LIFECYCLE =====

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("database opened at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS processed_items (
		id           TEXT PRIMARY KEY,
		processed_at TIMESTAMP NOT NULL,
		action       TEXT NOT NULL DEFAULT '',
		confidence   REAL NOT NULL DEFAULT 0,
		reasoning    TEXT NOT NULL DEFAULT '',
		success      INTEGER NOT NULL DEFAULT 0,
		error        TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_items(processed_at);

	CREATE TABLE IF NOT EXISTS action_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id     TEXT NOT NULL,
		action_type TEXT NOT NULL,
		detail      TEXT NOT NULL DEFAULT '',
		success     INTEGER NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_action_log_created ON action_log(created_at);

	CREATE TABLE IF NOT EXISTS daily_stats (
		date      TEXT PRIMARY KEY,
		processed INTEGER NOT NULL DEFAULT 0,
		likes     INTEGER NOT NULL DEFAULT 0,
		replies   INTEGER NOT NULL DEFAULT 0,
		threads   INTEGER NOT NULL DEFAULT 0,
		errors    INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS rate_limits (
		action_type        TEXT PRIMARY KEY,
		daily_count        INTEGER NOT NULL DEFAULT 0,
		daily_reset_date   TEXT NOT NULL DEFAULT '',
		hourly_count       INTEGER NOT NULL DEFAULT 0,
		hourly_reset_stamp TEXT NOT NULL DEFAULT ''
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ===== PROCESSED ITEMS =====

func (s *Store) HasProcessed(id string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM processed_items WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query processed item: %w", err)
	}
	return true, nil
}

// MarkProcessed records (or overwrites) the processed row for an item.
// The same id is legitimately written twice in a cycle: once as a
// pending marker right after dedup, and again with the final outcome.
func (s *Store) MarkProcessed(rec ProcessedRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = s.now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO processed_items
			(id, processed_at, action, confidence, reasoning, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProcessedAt, rec.Action, rec.Confidence, rec.Reasoning, rec.Success, rec.Error)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *Store) ProcessedCount(days int) (int, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM processed_items WHERE processed_at >= ?`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count processed items: %w", err)
	}
	return count, nil
}

// ===== ACTION LOG =====

func (s *Store) LogAction(entry ActionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO action_log (item_id, action_type, detail, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ItemID, entry.ActionType, entry.Detail, entry.Success, entry.Error, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

func (s *Store) RecentActions(limit int) ([]ActionEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, item_id, action_type, detail, success, error, created_at
		FROM action_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent actions: %w", err)
	}
	defer rows.Close()

	var entries []ActionEntry
	for rows.Next() {
		var e ActionEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.ActionType, &e.Detail, &e.Success, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ===== DAILY STATS =====

// today is the local calendar date. Daily windows and stats roll at
// local midnight, not UTC.
func (s *Store) today() string {
	return s.now().Format("2006-01-02")
}

func (s *Store) GetDailyStats(date string) (DailyStats, error) {
	if date == "" {
		date = s.today()
	}
	stats := DailyStats{Date: date}
	err := s.db.QueryRow(`
		SELECT processed, likes, replies, threads, errors
		FROM daily_stats WHERE date = ?`, date).
		Scan(&stats.Processed, &stats.Likes, &stats.Replies, &stats.Threads, &stats.Errors)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("query daily stats: %w", err)
	}
	return stats, nil
}

// AddDailyStats folds a delta into today's aggregate row.
func (s *Store) AddDailyStats(delta DailyStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.today()
	_, err := s.db.Exec(`
		INSERT INTO daily_stats (date, processed, likes, replies, threads, errors)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			processed = processed + excluded.processed,
			likes     = likes + excluded.likes,
			replies   = replies + excluded.replies,
			threads   = threads + excluded.threads,
			errors    = errors + excluded.errors`,
		date, delta.Processed, delta.Likes, delta.Replies, delta.Threads, delta.Errors)
	if err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	return nil
}

// ===== RATE LIMITS =====

const hourStampLayout = "2006-01-02T15"

// CurrentUsage returns the live counters for an action type, rolling
// over stale daily and hourly windows lazily on read.
func (s *Store) CurrentUsage(actionType string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usageLocked(actionType)
}

func (s *Store) usageLocked(actionType string) (Usage, error) {
	u := Usage{ActionType: actionType}
	var dailyReset, hourlyReset string
	err := s.db.QueryRow(`
		SELECT daily_count, daily_reset_date, hourly_count, hourly_reset_stamp
		FROM rate_limits WHERE action_type = ?`, actionType).
		Scan(&u.DailyCount, &dailyReset, &u.HourlyCount, &hourlyReset)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("query rate limit: %w", err)
	}

	now := s.now()
	today := now.Format("2006-01-02")
	thisHour := now.Format(hourStampLayout)

	dirty := false
	if dailyReset != today {
		u.DailyCount = 0
		dailyReset = today
		dirty = true
	}
	if hourlyReset != thisHour {
		u.HourlyCount = 0
		hourlyReset = thisHour
		dirty = true
	}
	if dirty {
		_, err = s.db.Exec(`
			UPDATE rate_limits
			SET daily_count = ?, daily_reset_date = ?, hourly_count = ?, hourly_reset_stamp = ?
			WHERE action_type = ?`,
			u.DailyCount, dailyReset, u.HourlyCount, hourlyReset, actionType)
		if err != nil {
			return u, fmt.Errorf("roll over rate limit: %w", err)
		}
		logging.StoreDebug("rate limit window rolled over for %s", actionType)
	}
	return u, nil
}

// IncrementRateLimit bumps both windows for an action type after a
// successful dispatch.
func (s *Store) IncrementRateLimit(actionType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Roll stale windows before bumping so the increment lands in the
	// current window.
	u, err := s.usageLocked(actionType)
	if err != nil {
		return err
	}

	now := s.now()
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO rate_limits
			(action_type, daily_count, daily_reset_date, hourly_count, hourly_reset_stamp)
		VALUES (?, ?, ?, ?, ?)`,
		actionType, u.DailyCount+1, now.Format("2006-01-02"), u.HourlyCount+1, now.Format(hourStampLayout))
	if err != nil {
		return fmt.Errorf("increment rate limit: %w", err)
	}
	return nil
}

// ===== MAINTENANCE =====

// CleanupOldData prunes processed rows and log entries older than the
// retention horizon. Daily aggregates are kept.
func (s *Store) CleanupOldData(days int) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -days)

	var total int64
	res, err := s.db.Exec(`DELETE FROM processed_items WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune processed items: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec(`DELETE FROM action_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return total, fmt.Errorf("prune action log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	if total > 0 {
		logging.Store("pruned %d rows older than %d days", total, days)
	}
	return total, nil
}
