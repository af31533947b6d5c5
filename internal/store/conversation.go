package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// =============================================================================
// SQLITE CONVERSATION STORE
// =============================================================================

const conversationSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	temperature REAL,
	system_prompt TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at, seq);
`

// SQLiteConversationStore persists sessions and their append-only message
// history. Timestamps are stored as unix nanoseconds; messages created in the
// same nanosecond keep insertion order through the seq column.
type SQLiteConversationStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteConversationStore opens the conversation database at path and
// applies the schema.
func NewSQLiteConversationStore(path string) (*SQLiteConversationStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewSQLiteConversationStore")
	defer timer.Stop()

	logging.Store("Initializing conversation store at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	if _, err := db.Exec(conversationSchema); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, fmt.Errorf("failed to initialize conversation schema: %w", err)
	}

	return &SQLiteConversationStore{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteConversationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession inserts a new session with a fresh id.
func (s *SQLiteConversationStore) CreateSession(ctx context.Context, title string, cfg types.ModelConfig) (*types.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}
	sess := &types.Session{
		ID:          uuid.NewString(),
		Title:       title,
		CreatedAt:   s.now().UTC(),
		ModelConfig: cfg,
	}

	var temp sql.NullFloat64
	if cfg.Temperature != nil {
		temp = sql.NullFloat64{Float64: *cfg.Temperature, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, model, temperature, system_prompt)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.CreatedAt.UnixNano(), cfg.Model, temp, cfg.SystemPrompt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create session: %v", err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logging.StoreDebug("Session created: id=%s title=%q", sess.ID, sess.Title)
	return sess, nil
}

func scanSession(row interface{ Scan(...any) error }) (*types.Session, error) {
	var (
		sess    types.Session
		created int64
		temp    sql.NullFloat64
	)
	if err := row.Scan(&sess.ID, &sess.Title, &created, &sess.ModelConfig.Model, &temp, &sess.ModelConfig.SystemPrompt); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	if temp.Valid {
		sess.ModelConfig.Temperature = types.Float64(temp.Float64)
	}
	return &sess, nil
}

// GetSession loads a session. Unknown ids return an error wrapping
// types.ErrSessionNotFound.
func (s *SQLiteConversationStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, model, temperature, system_prompt FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return sess, nil
}

// ListSessions returns every session, newest first.
func (s *SQLiteConversationStore) ListSessions(ctx context.Context) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, model, temperature, system_prompt FROM sessions ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read session row: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// AddMessage appends a message to an existing session.
func (s *SQLiteConversationStore) AddMessage(ctx context.Context, sessionID string, role types.Role, content string) (*types.ConversationMessage, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	msg := &types.ConversationMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to add message to session %s: %v", sessionID, err)
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	logging.StoreDebug("Message stored: session=%s role=%s len=%d", sessionID, role, len(content))
	return msg, nil
}

// GetSessionMessages returns the session's messages oldest first.
func (s *SQLiteConversationStore) GetSessionMessages(ctx context.Context, sessionID string) ([]types.ConversationMessage, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetSessionMessages")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ?
		 ORDER BY created_at ASC, seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.ConversationMessage
	for rows.Next() {
		var (
			m       types.ConversationMessage
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to read message row: %w", err)
		}
		m.Role = types.Role(role)
		m.CreatedAt = time.Unix(0, created).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	logging.StoreDebug("Loaded %d messages for session %s", len(messages), sessionID)
	return messages, nil
}
