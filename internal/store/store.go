// Package store is the document store behind the API: sessions, their
// telemetry points, the insight cache, and the device command queue.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mintlabs/engagemint/internal/telemetry"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a referenced session does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
	mu sync.Mutex
}

type Session struct {
	ID           string   `json:"id"`
	UserID       string   `json:"userId"`
	Title        string   `json:"title"`
	CourseCode   string   `json:"courseCode,omitempty"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status"`
	OverallScore int      `json:"overallScore"`
	Comments     []string `json:"comments"`
	StartedAt    string   `json:"startedAt,omitempty"`
	EndedAt      string   `json:"endedAt,omitempty"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

type CacheEntry struct {
	CacheKey    string
	Kind        string
	Payload     []byte
	Source      string
	GeneratedAt string
}

type Command struct {
	ID        string `json:"commandId"`
	DeviceID  string `json:"deviceId"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			course_code TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			overall_score INTEGER NOT NULL DEFAULT 0,
			comments TEXT NOT NULL DEFAULT '[]',
			started_at TEXT NOT NULL DEFAULT (datetime('now')),
			ended_at TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS telemetry (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			second REAL NOT NULL,
			score REAL NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_session ON telemetry(session_id, second)`,
		`CREATE TABLE IF NOT EXISTS insight_cache (
			cache_key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			source TEXT NOT NULL,
			generated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS device_commands (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_device ON device_commands(device_id, status)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateSession(sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(sess.ID) == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Status == "" {
		sess.Status = "active"
	}
	comments, err := json.Marshal(commentsOrEmpty(sess.Comments))
	if err != nil {
		return Session{}, fmt.Errorf("marshal comments: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, title, course_code, description, status, overall_score, comments, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(NULLIF(?, ''), datetime('now')))
	`, sess.ID, sess.UserID, sess.Title, sess.CourseCode, sess.Description, sess.Status, sess.OverallScore, string(comments), sess.StartedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s.getSessionLocked(sess.ID)
}

func (s *Store) GetSession(id string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSessionLocked(id)
}

func (s *Store) getSessionLocked(id string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, title, course_code, description, status, overall_score, comments,
		       started_at, ended_at, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions(userID string) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, course_code, description, status, overall_score, comments,
		       started_at, ended_at, created_at, updated_at
		FROM sessions
		WHERE user_id = ?
		ORDER BY started_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	result := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

// UpdateSessionMeta merges description and/or comments into a session.
// A nil pointer / nil slice leaves the corresponding field untouched.
func (s *Store) UpdateSessionMeta(id string, description *string, comments []string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getSessionLocked(id); err != nil {
		return Session{}, err
	}

	if description != nil {
		if _, err := s.db.Exec(`UPDATE sessions SET description = ?, updated_at = datetime('now') WHERE id = ?`, *description, id); err != nil {
			return Session{}, fmt.Errorf("update description: %w", err)
		}
	}
	if comments != nil {
		data, err := json.Marshal(comments)
		if err != nil {
			return Session{}, fmt.Errorf("marshal comments: %w", err)
		}
		if _, err := s.db.Exec(`UPDATE sessions SET comments = ?, updated_at = datetime('now') WHERE id = ?`, string(data), id); err != nil {
			return Session{}, fmt.Errorf("update comments: %w", err)
		}
	}
	return s.getSessionLocked(id)
}

// FinalizeSession marks a session completed and records its overall score.
func (s *Store) FinalizeSession(id string, overallScore int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`
		UPDATE sessions
		SET status = 'completed', overall_score = ?, ended_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ?
	`, overallScore, id)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// StaleActiveSessions returns active sessions with no telemetry written in
// the last cutoffMinutes. Used by the maintenance finalizer.
func (s *Store) StaleActiveSessions(cutoffMinutes int) ([]Session, error) {
	modifier := fmt.Sprintf("%d minutes", -cutoffMinutes)
	rows, err := s.db.Query(`
		SELECT id, user_id, title, course_code, description, status, overall_score, comments,
		       started_at, ended_at, created_at, updated_at
		FROM sessions s
		WHERE s.status = 'active'
		  AND s.created_at < datetime('now', ?)
		  AND NOT EXISTS (
			SELECT 1 FROM telemetry t
			WHERE t.session_id = s.id AND t.created_at >= datetime('now', ?)
		  )
	`, modifier, modifier)
	if err != nil {
		return nil, fmt.Errorf("stale sessions: %w", err)
	}
	defer rows.Close()

	result := make([]Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale sessions: %w", err)
	}
	return result, nil
}

func (s *Store) AppendTelemetry(sessionID string, points []telemetry.Point) error {
	if len(points) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin telemetry insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO telemetry (session_id, second, score) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(sessionID, p.Second, p.Score); err != nil {
			return fmt.Errorf("insert telemetry point: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit telemetry insert: %w", err)
	}
	return nil
}

// Telemetry returns a session's points ordered by second. limit <= 0
// returns everything.
func (s *Store) Telemetry(sessionID string, limit int) ([]telemetry.Point, error) {
	q := `SELECT second, score FROM telemetry WHERE session_id = ? ORDER BY second ASC`
	args := []any{sessionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	points := make([]telemetry.Point, 0)
	for rows.Next() {
		var p telemetry.Point
		if err := rows.Scan(&p.Second, &p.Score); err != nil {
			return nil, fmt.Errorf("scan telemetry point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry: %w", err)
	}
	return points, nil
}

func (s *Store) TelemetryCount(sessionID string) (int, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM telemetry WHERE session_id = ?`, sessionID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count telemetry: %w", err)
	}
	return count, nil
}

func (s *Store) CacheGet(cacheKey string) (*CacheEntry, error) {
	row := s.db.QueryRow(`
		SELECT cache_key, kind, payload, source, generated_at
		FROM insight_cache WHERE cache_key = ?
	`, cacheKey)

	var e CacheEntry
	var payload string
	err := row.Scan(&e.CacheKey, &e.Kind, &payload, &e.Source, &e.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	e.Payload = []byte(payload)
	return &e, nil
}

// CacheUpsert writes an insight payload under its content key. Concurrent
// writers of the same key converge because the payload is a deterministic
// function of the key; last writer wins.
func (s *Store) CacheUpsert(cacheKey, kind string, payload []byte, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO insight_cache (cache_key, kind, payload, source, generated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(cache_key) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			source = excluded.source,
			generated_at = excluded.generated_at
	`, cacheKey, kind, string(payload), source)
	if err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

// CachePrune deletes entries older than the given number of days. Entries
// for unchanged data are recreated on demand, so pruning only costs one
// regeneration.
func (s *Store) CachePrune(olderThanDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	modifier := fmt.Sprintf("%d days", -olderThanDays)
	res, err := s.db.Exec(`DELETE FROM insight_cache WHERE generated_at < datetime('now', ?)`, modifier)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) EnqueueCommand(deviceID, cmdType string) (Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := Command{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		Type:     cmdType,
		Status:   "pending",
	}
	_, err := s.db.Exec(`
		INSERT INTO device_commands (id, device_id, type, status)
		VALUES (?, ?, ?, ?)
	`, cmd.ID, cmd.DeviceID, cmd.Type, cmd.Status)
	if err != nil {
		return Command{}, fmt.Errorf("enqueue command: %w", err)
	}
	return cmd, nil
}

// DrainCommands returns a device's pending commands oldest-first and marks
// them delivered in the same transaction.
func (s *Store) DrainCommands(deviceID string) ([]Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin drain commands: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, device_id, type, status, created_at
		FROM device_commands
		WHERE device_id = ? AND status = 'pending'
		ORDER BY created_at ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query pending commands: %w", err)
	}
	defer rows.Close()

	cmds := make([]Command, 0)
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Type, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}

	if len(cmds) > 0 {
		if _, err := tx.Exec(`
			UPDATE device_commands SET status = 'delivered'
			WHERE device_id = ? AND status = 'pending'
		`, deviceID); err != nil {
			return nil, fmt.Errorf("mark commands delivered: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain commands: %w", err)
	}
	return cmds, nil
}

// Counts is a compact snapshot used by status reporting.
type Counts struct {
	Sessions     int
	Points       int
	CacheEntries int
}

func (s *Store) Stats() (Counts, error) {
	var c Counts
	queries := []struct {
		q    string
		dest *int
	}{
		{`SELECT COUNT(*) FROM sessions`, &c.Sessions},
		{`SELECT COUNT(*) FROM telemetry`, &c.Points},
		{`SELECT COUNT(*) FROM insight_cache`, &c.CacheEntries},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.q).Scan(q.dest); err != nil {
			return Counts{}, fmt.Errorf("store stats: %w", err)
		}
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var sess Session
	var comments string
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.Title,
		&sess.CourseCode,
		&sess.Description,
		&sess.Status,
		&sess.OverallScore,
		&comments,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(comments), &sess.Comments); err != nil {
		sess.Comments = []string{}
	}
	if sess.Comments == nil {
		sess.Comments = []string{}
	}
	return sess, nil
}

func commentsOrEmpty(comments []string) []string {
	if comments == nil {
		return []string{}
	}
	return comments
}
