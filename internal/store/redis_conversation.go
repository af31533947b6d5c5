package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"ragcore/internal/logging"
	"ragcore/internal/types"
)

// =============================================================================
// REDIS CONVERSATION STORE
// =============================================================================

type sessionRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	CreatedAt    int64    `json:"created_at"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
}

type messageRecord struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// RedisConversationStore keeps sessions as JSON values and message history as
// Redis lists, so appends never rewrite the whole conversation.
type RedisConversationStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// RedisOptions configures NewRedisConversationStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisConversationStore connects to Redis and verifies the connection.
func NewRedisConversationStore(ctx context.Context, opts RedisOptions) (*RedisConversationStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "ragcore"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	logging.Store("Redis conversation store connected: addr=%s prefix=%s", opts.Addr, prefix)
	return &RedisConversationStore{rdb: rdb, prefix: prefix, now: time.Now}, nil
}

// Close closes the client.
func (s *RedisConversationStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisConversationStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisConversationStore) messagesKey(id string) string {
	return fmt.Sprintf("%s:messages:%s", s.prefix, id)
}

func (s *RedisConversationStore) indexKey() string {
	return s.prefix + ":sessions"
}

func (r sessionRecord) toSession() *types.Session {
	return &types.Session{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		ModelConfig: types.ModelConfig{
			Model:        r.Model,
			Temperature:  r.Temperature,
			SystemPrompt: r.SystemPrompt,
		},
	}
}

// CreateSession stores a new session and indexes it by creation time.
func (s *RedisConversationStore) CreateSession(ctx context.Context, title string, cfg types.ModelConfig) (*types.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}
	rec := sessionRecord{
		ID:           uuid.NewString(),
		Title:        title,
		CreatedAt:    s.now().UTC().UnixNano(),
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		SystemPrompt: cfg.SystemPrompt,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(rec.ID), raw, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt), Member: rec.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save session %s: %w", rec.ID, err)
	}
	logging.StoreDebug("Session created in redis: id=%s", rec.ID)
	return rec.toSession(), nil
}

func (s *RedisConversationStore) getRecord(ctx context.Context, id string) (sessionRecord, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return sessionRecord{}, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
		}
		return sessionRecord{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return sessionRecord{}, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return rec, nil
}

// GetSession loads a session by id.
func (s *RedisConversationStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.toSession(), nil
}

// ListSessions returns every indexed session, newest first.
func (s *RedisConversationStore) ListSessions(ctx context.Context) ([]types.Session, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]types.Session, 0, len(ids))
	for _, id := range ids {
		rec, err := s.getRecord(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *rec.toSession())
	}
	return sessions, nil
}

// AddMessage appends a message to the session's list.
func (s *RedisConversationStore) AddMessage(ctx context.Context, sessionID string, role types.Role, content string) (*types.ConversationMessage, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if _, err := s.getRecord(ctx, sessionID); err != nil {
		return nil, err
	}

	msg := &types.ConversationMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	raw, err := json.Marshal(messageRecord{
		ID:        msg.ID,
		Role:      string(role),
		Content:   content,
		CreatedAt: msg.CreatedAt.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.rdb.RPush(ctx, s.messagesKey(sessionID), raw).Err(); err != nil {
		return nil, fmt.Errorf("failed to append message to %s: %w", sessionID, err)
	}
	return msg, nil
}

// GetSessionMessages returns the session's messages in append order.
func (s *RedisConversationStore) GetSessionMessages(ctx context.Context, sessionID string) ([]types.ConversationMessage, error) {
	raws, err := s.rdb.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages for %s: %w", sessionID, err)
	}
	messages := make([]types.ConversationMessage, 0, len(raws))
	for _, raw := range raws {
		var rec messageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message in %s: %w", sessionID, err)
		}
		messages = append(messages, types.ConversationMessage{
			ID:        rec.ID,
			SessionID: sessionID,
			Role:      types.Role(rec.Role),
			Content:   rec.Content,
			CreatedAt: time.Unix(0, rec.CreatedAt).UTC(),
		})
	}
	return messages, nil
}
