// Package admin exposes the bridge-pair management surface: a JSON file
// store holding the durable pair set and an HTTP API that edits it and
// pushes changes into the running relay.
package admin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
)

// PairStore persists bridge pairs as a pretty-printed JSON array. Callers
// serialize access; the HTTP server holds a mutex around mutations.
type PairStore struct {
	path string
}

func NewPairStore(path string) *PairStore {
	return &PairStore{path: path}
}

// Load reads the stored pair set. A missing file is an empty set.
func (s *PairStore) Load() ([]bridge.Pair, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pair store: %w", err)
	}

	var pairs []bridge.Pair
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("pair store must contain a JSON array: %w", err)
	}
	for i, pair := range pairs {
		if pair.ID == "" || pair.TelegramChatID == 0 || pair.DiscordChannelID == 0 {
			return nil, fmt.Errorf("pair store entry %d has invalid schema", i)
		}
	}
	return pairs, nil
}

// Save writes the full pair set, creating parent directories as needed.
func (s *PairStore) Save(pairs []bridge.Pair) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create pair store directory: %w", err)
		}
	}
	if pairs == nil {
		pairs = []bridge.Pair{}
	}
	raw, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pair store: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("write pair store: %w", err)
	}
	return nil
}

// Initialize returns the stored pairs, seeding the store from the fallback
// set (with fresh ids) when it is missing or empty.
func (s *PairStore) Initialize(fallback []bridge.Pair) ([]bridge.Pair, error) {
	pairs, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(pairs) > 0 {
		return pairs, nil
	}

	pairs = make([]bridge.Pair, 0, len(fallback))
	for _, pair := range fallback {
		pair.ID = uuid.NewString()
		pairs = append(pairs, pair)
	}
	if err := s.Save(pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}
