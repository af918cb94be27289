package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/tinyland-inc/picobridge/pkg/expiry"
)

// ForwardContext records that a source message was mirrored into a target
// message, keyed by the full 5-tuple.
type ForwardContext struct {
	SourcePlatform  Platform
	SourceChatID    int64
	SourceMessageID string
	TargetPlatform  Platform
	TargetChatID    int64
	TargetMessageID string
}

func (c ForwardContext) key() string {
	return mappingKey(c.SourcePlatform, c.SourceChatID, c.SourceMessageID, c.TargetPlatform, c.TargetChatID)
}

func mappingKey(srcPlatform Platform, srcChat int64, srcMsgID string, tgtPlatform Platform, tgtChat int64) string {
	return fmt.Sprintf("%s:%d:%s:%s:%d", srcPlatform, srcChat, srcMsgID, tgtPlatform, tgtChat)
}

// ForwardMappingStore persists source→target message associations so that
// replies can be threaded across platforms.
type ForwardMappingStore interface {
	// TargetMessageID returns the stored target id, or "" when unknown.
	TargetMessageID(ctx context.Context, srcPlatform Platform, srcChat int64, srcMsgID string, tgtPlatform Platform, tgtChat int64) (string, error)
	// SaveMapping upserts the association; the most recent write wins.
	SaveMapping(ctx context.Context, fc ForwardContext) error
}

// MemoryMappingStore is a TTL-bounded in-process mapping backend.
type MemoryMappingStore struct {
	mappings *expiry.Map[string]
}

// NewMemoryMappingStore creates an in-memory mapping store with the given
// TTL and capacity (0 = unbounded).
func NewMemoryMappingStore(ttl time.Duration, capacity int) *MemoryMappingStore {
	return &MemoryMappingStore{mappings: expiry.NewMap[string](ttl, capacity)}
}

func (s *MemoryMappingStore) TargetMessageID(_ context.Context, srcPlatform Platform, srcChat int64, srcMsgID string, tgtPlatform Platform, tgtChat int64) (string, error) {
	id, _ := s.mappings.Get(mappingKey(srcPlatform, srcChat, srcMsgID, tgtPlatform, tgtChat))
	return id, nil
}

func (s *MemoryMappingStore) SaveMapping(_ context.Context, fc ForwardContext) error {
	s.mappings.Set(fc.key(), fc.TargetMessageID)
	return nil
}

// SQLiteMappingStore is the durable mapping backend. All mutating calls are
// serialized through a single-writer lock; SQLite forbids concurrent
// writers. After every write the table is trimmed to the newest maxItems
// rows by update time, bounding storage regardless of traffic.
type SQLiteMappingStore struct {
	mu       sync.Mutex
	db       *sql.DB
	path     string
	maxItems int
	ready    bool
}

// NewSQLiteMappingStore creates a store writing to the database at path.
// The schema is created lazily on first use.
func NewSQLiteMappingStore(path string, maxItems int) *SQLiteMappingStore {
	if maxItems <= 0 {
		maxItems = 1000
	}
	return &SQLiteMappingStore{path: path, maxItems: maxItems}
}

func (s *SQLiteMappingStore) ensureReady(ctx context.Context) error {
	if s.ready {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create mapping db dir: %w", err)
	}
	db, err := sql.Open("sqlite3", s.path)
	if err != nil {
		return fmt.Errorf("open mapping db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS forward_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source_platform TEXT NOT NULL,
	source_chat_id INTEGER NOT NULL,
	source_message_id TEXT NOT NULL,
	target_platform TEXT NOT NULL,
	target_chat_id INTEGER NOT NULL,
	target_message_id TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_forward_mappings_unique
ON forward_mappings (
	source_platform, source_chat_id, source_message_id,
	target_platform, target_chat_id
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return fmt.Errorf("init mapping schema: %w", err)
	}
	s.db = db
	s.ready = true
	return nil
}

func (s *SQLiteMappingStore) TargetMessageID(ctx context.Context, srcPlatform Platform, srcChat int64, srcMsgID string, tgtPlatform Platform, tgtChat int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(ctx); err != nil {
		return "", err
	}

	const query = `
SELECT target_message_id FROM forward_mappings
WHERE source_platform = ? AND source_chat_id = ? AND source_message_id = ?
  AND target_platform = ? AND target_chat_id = ?
ORDER BY id DESC LIMIT 1`
	var targetID string
	err := s.db.QueryRowContext(ctx, query, string(srcPlatform), srcChat, srcMsgID, string(tgtPlatform), tgtChat).Scan(&targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query mapping: %w", err)
	}
	return targetID, nil
}

func (s *SQLiteMappingStore) SaveMapping(ctx context.Context, fc ForwardContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReady(ctx); err != nil {
		return err
	}

	const upsert = `
INSERT INTO forward_mappings (
	source_platform, source_chat_id, source_message_id,
	target_platform, target_chat_id, target_message_id, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (
	source_platform, source_chat_id, source_message_id,
	target_platform, target_chat_id
) DO UPDATE SET
	target_message_id = excluded.target_message_id,
	updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, upsert,
		string(fc.SourcePlatform), fc.SourceChatID, fc.SourceMessageID,
		string(fc.TargetPlatform), fc.TargetChatID, fc.TargetMessageID,
		time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}

	const trim = `
DELETE FROM forward_mappings
WHERE id NOT IN (
	SELECT id FROM forward_mappings
	ORDER BY updated_at DESC, id DESC
	LIMIT ?
)`
	if _, err := s.db.ExecContext(ctx, trim, s.maxItems); err != nil {
		return fmt.Errorf("trim mappings: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteMappingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.ready = false
	return err
}

// RedisMappingStore keeps mappings in Redis with a per-key TTL.
type RedisMappingStore struct {
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

// NewRedisMappingStore creates a mapping store on an existing Redis client.
func NewRedisMappingStore(client *redis.Client, ttl time.Duration, namespace string) *RedisMappingStore {
	if namespace == "" {
		namespace = "bridge:forward_map"
	}
	return &RedisMappingStore{client: client, ttl: ttl, namespace: namespace}
}

func (s *RedisMappingStore) TargetMessageID(ctx context.Context, srcPlatform Platform, srcChat int64, srcMsgID string, tgtPlatform Platform, tgtChat int64) (string, error) {
	key := fmt.Sprintf("%s:%s", s.namespace, mappingKey(srcPlatform, srcChat, srcMsgID, tgtPlatform, tgtChat))
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis mapping get: %w", err)
	}
	return value, nil
}

func (s *RedisMappingStore) SaveMapping(ctx context.Context, fc ForwardContext) error {
	key := fmt.Sprintf("%s:%s", s.namespace, fc.key())
	if err := s.client.Set(ctx, key, fc.TargetMessageID, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis mapping set: %w", err)
	}
	return nil
}

// CompositeMappingStore layers mapping backends: reads return the first
// non-empty result in order, writes go through to every backend.
type CompositeMappingStore struct {
	stores []ForwardMappingStore
}

// NewCompositeMappingStore combines mapping backends.
func NewCompositeMappingStore(stores ...ForwardMappingStore) *CompositeMappingStore {
	return &CompositeMappingStore{stores: stores}
}

func (s *CompositeMappingStore) TargetMessageID(ctx context.Context, srcPlatform Platform, srcChat int64, srcMsgID string, tgtPlatform Platform, tgtChat int64) (string, error) {
	var firstErr error
	for _, store := range s.stores {
		id, err := store.TargetMessageID(ctx, srcPlatform, srcChat, srcMsgID, tgtPlatform, tgtChat)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if id != "" {
			return id, nil
		}
	}
	return "", firstErr
}

func (s *CompositeMappingStore) SaveMapping(ctx context.Context, fc ForwardContext) error {
	var firstErr error
	for _, store := range s.stores {
		if err := store.SaveMapping(ctx, fc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
