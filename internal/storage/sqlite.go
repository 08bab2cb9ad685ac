package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timestampLayout is fixed-width (nanoseconds zero-padded, UTC) so that the
// stored text sorts in chronological order. RFC3339Nano trims trailing zeros
// and must not be used for columns that ORDER BY compare as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps a SQLite database with methods for crisis rules, messages,
// sobriety records, mood entries, and support resources.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "amparo.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the store's time source. Tests use it to make derived
// values such as streak days deterministic.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Crisis rules ---

// ListCrisisRules returns all crisis rules ordered by position, then id.
// The matcher's first-match-wins precedence depends on this order.
func (s *Store) ListCrisisRules() ([]CrisisRule, error) {
	rows, err := s.db.Query(`
		SELECT id, keywords, severity, response, requires_intervention, position
		FROM crisis_rules ORDER BY position ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []CrisisRule
	for rows.Next() {
		var r CrisisRule
		var keywordsJSON string
		if err := rows.Scan(&r.ID, &keywordsJSON, &r.Severity, &r.Response, &r.RequiresIntervention, &r.Position); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(keywordsJSON), &r.Keywords); err != nil {
			return nil, fmt.Errorf("parsing keywords for rule %d: %w", r.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SaveCrisisRule inserts a rule and returns its assigned id.
func (s *Store) SaveCrisisRule(r CrisisRule) (int64, error) {
	if !r.Severity.Valid() {
		return 0, fmt.Errorf("severity %d out of range", r.Severity)
	}
	keywordsJSON, err := json.Marshal(r.Keywords)
	if err != nil {
		return 0, fmt.Errorf("marshalling keywords: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO crisis_rules (keywords, severity, response, requires_intervention, position)
		VALUES (?, ?, ?, ?, ?)`,
		string(keywordsJSON), r.Severity, r.Response, r.RequiresIntervention, r.Position,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- Messages ---

// InsertMessage appends a message to the conversation log. The log is
// append-only; there is no update or delete path.
func (s *Store) InsertMessage(m Message) error {
	if !m.Type.Valid() {
		return fmt.Errorf("invalid message type %q", m.Type)
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, conversation_id, user_id, role, content, message_type, crisis_level, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.UserID, m.Role, m.Content, m.Type, m.CrisisLevel,
		createdAt.UTC().Format(timestampLayout),
	)
	return err
}

// ListMessages returns messages for a conversation, most recent first.
func (s *Store) ListMessages(conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, user_id, role, content, message_type, crisis_level, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT ?`, conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.Type, &m.CrisisLevel, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		results = append(results, m)
	}
	return results, rows.Err()
}

// --- Sobriety records ---

// SaveSobrietyRecord inserts a sobriety record.
func (s *Store) SaveSobrietyRecord(r SobrietyRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sobriety_records (id, user_id, addiction, start_date, active)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Addiction, r.StartDate.UTC().Format(time.RFC3339), r.Active,
	)
	return err
}

// ListActiveSobriety returns the user's active records with streak days
// computed from the start date, oldest journey first.
func (s *Store) ListActiveSobriety(userID string) ([]SobrietyRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, addiction, start_date, active
		FROM sobriety_records WHERE user_id = ? AND active = 1
		ORDER BY start_date ASC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now().UTC()
	var results []SobrietyRecord
	for rows.Next() {
		var r SobrietyRecord
		var startDate string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Addiction, &startDate, &r.Active); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			return nil, fmt.Errorf("parsing start_date: %w", err)
		}
		r.StartDate = t
		if days := int(now.Sub(t).Hours() / 24); days > 0 {
			r.StreakDays = days
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Mood entries ---

// SaveMoodEntry inserts a mood check-in.
func (s *Store) SaveMoodEntry(e MoodEntry) error {
	if e.Mood < 1 || e.Mood > 5 {
		return fmt.Errorf("mood %d out of range", e.Mood)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO mood_entries (id, user_id, mood, note, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Mood, e.Note, createdAt.UTC().Format(timestampLayout),
	)
	return err
}

// ListRecentMoods returns the user's mood entries, most recent first.
func (s *Store) ListRecentMoods(userID string, limit int) ([]MoodEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, mood, note, created_at
		FROM mood_entries WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MoodEntry
	for rows.Next() {
		var e MoodEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Mood, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		e.CreatedAt = t
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Support resources ---

// SaveSupportResource inserts a crisis-support resource.
func (s *Store) SaveSupportResource(r SupportResource) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO support_resources (id, title, content, category, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Content, r.Category, r.URL, createdAt.Format(time.RFC3339),
	)
	return err
}

// ListSupportResources returns resources, newest first. An empty category
// matches all categories.
func (s *Store) ListSupportResources(category string, limit int) ([]SupportResource, error) {
	query := `
		SELECT id, title, content, category, url, created_at
		FROM support_resources`
	args := []any{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, category)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SupportResource
	for rows.Next() {
		var r SupportResource
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Title, &r.Content, &r.Category, &r.URL, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Idempotency keys ---

// GetIdempotentResult returns the stored response for a previously processed
// message, or ErrNotFound. Expired entries are treated as missing.
func (s *Store) GetIdempotentResult(userID, conversationID, key string) (string, error) {
	var responseJSON, expiresAt string
	err := s.db.QueryRow(`
		SELECT response_json, expires_at FROM idempotency_keys
		WHERE user_id = ? AND conversation_id = ? AND key = ?`,
		userID, conversationID, key,
	).Scan(&responseJSON, &expiresAt)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	exp, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return "", fmt.Errorf("parsing expires_at: %w", err)
	}
	if !s.now().UTC().Before(exp) {
		return "", ErrNotFound
	}
	return responseJSON, nil
}

// SaveIdempotentResult records the response produced for a message key so a
// duplicate send can be answered without re-executing side effects.
func (s *Store) SaveIdempotentResult(userID, conversationID, key, responseJSON string, ttl time.Duration) error {
	now := s.now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO idempotency_keys (user_id, conversation_id, key, response_json, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, conversation_id, key) DO NOTHING`,
		userID, conversationID, key, responseJSON,
		now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339),
	)
	return err
}

// PurgeExpiredIdempotency removes expired idempotency entries and reports
// how many were deleted.
func (s *Store) PurgeExpiredIdempotency() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM idempotency_keys WHERE expires_at <= ?`,
		s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
