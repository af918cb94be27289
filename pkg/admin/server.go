package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
	"github.com/tinyland-inc/picobridge/pkg/logger"
)

// PairsUpdater receives the new pair set after every successful mutation.
// Implemented by bridge.Service.
type PairsUpdater interface {
	UpdatePairs(pairs []bridge.Pair)
}

// Server is the bridge-pair CRUD API. When token is empty the API is open;
// otherwise every request must carry "Authorization: Bearer <token>".
type Server struct {
	store   *PairStore
	updater PairsUpdater
	token   string

	mu   sync.Mutex
	http *http.Server
}

func NewServer(addr string, store *PairStore, updater PairsUpdater, token string) *Server {
	s := &Server{
		store:   store,
		updater: updater,
		token:   token,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/bridge-pairs", s.auth(s.listPairs))
	mux.HandleFunc("POST /api/bridge-pairs", s.auth(s.createPair))
	mux.HandleFunc("PUT /api/bridge-pairs/{id}", s.auth(s.updatePair))
	mux.HandleFunc("DELETE /api/bridge-pairs/{id}", s.auth(s.deletePair))

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the mux; used by tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	logger.InfoCF("admin", "Admin API listening", map[string]any{"addr": s.http.Addr})
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

type pairPayload struct {
	TelegramChatID   int64 `json:"telegram_chat_id"`
	TelegramThreadID int64 `json:"telegram_thread_id,omitempty"`
	DiscordChannelID int64 `json:"discord_channel_id"`
	DiscordThreadID  int64 `json:"discord_thread_id,omitempty"`
}

func (p pairPayload) valid() bool {
	return p.TelegramChatID != 0 && p.DiscordChannelID != 0
}

func (p pairPayload) toPair(id string) bridge.Pair {
	return bridge.Pair{
		ID:               id,
		TelegramChatID:   p.TelegramChatID,
		TelegramThreadID: p.TelegramThreadID,
		DiscordChannelID: p.DiscordChannelID,
		DiscordThreadID:  p.DiscordThreadID,
	}
}

func (s *Server) listPairs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pairs == nil {
		pairs = []bridge.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (s *Server) createPair(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	created := payload.toPair(uuid.NewString())
	pairs = append(pairs, created)

	if !s.commit(w, pairs) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) updatePair(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := r.PathValue("id")
	for i, pair := range pairs {
		if pair.ID != id {
			continue
		}
		updated := payload.toPair(pair.ID)
		pairs[i] = updated
		if !s.commit(w, pairs) {
			return
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}
	writeError(w, http.StatusNotFound, "Bridge pair not found")
}

func (s *Server) deletePair(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs, err := s.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	id := r.PathValue("id")
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair.ID != id {
			kept = append(kept, pair)
		}
	}
	if len(kept) == len(pairs) {
		writeError(w, http.StatusNotFound, "Bridge pair not found")
		return
	}

	if !s.commit(w, kept) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// commit persists the pair set and pushes it into the running relay.
func (s *Server) commit(w http.ResponseWriter, pairs []bridge.Pair) bool {
	if err := s.store.Save(pairs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return false
	}
	s.updater.UpdatePairs(pairs)
	return true
}

func decodePayload(w http.ResponseWriter, r *http.Request) (pairPayload, bool) {
	var payload pairPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return payload, false
	}
	if !payload.valid() {
		writeError(w, http.StatusBadRequest, "telegram_chat_id and discord_channel_id are required")
		return payload, false
	}
	return payload, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WarnCF("admin", "Failed to encode response", map[string]any{"error": err.Error()})
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
