package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tinyland-inc/picobridge/pkg/events"
	"github.com/tinyland-inc/picobridge/pkg/logger"
)

// correlationNamespace seeds deterministic correlation ids so retried
// deliveries of the same platform event correlate to the same id.
var correlationNamespace = uuid.MustParse("8d8b5a50-6f0e-4b62-9b5e-1c64636f7272")

// Service fans inbound events out to every router whose pair matches and
// owns the live pair set. The pair list can be replaced atomically at
// runtime without disturbing in-flight routing calls.
type Service struct {
	mu      sync.RWMutex
	routers []*Router

	rules    atomic.Pointer[ForwardingRules]
	dedup    DedupStore
	mappings ForwardMappingStore
	sink     events.Sink

	telegram atomic.Pointer[Sender]
	discord  atomic.Pointer[Sender]

	accepting atomic.Bool
}

// NewService creates a bridge service over the shared stores.
func NewService(rules ForwardingRules, dedup DedupStore, mappings ForwardMappingStore, sink events.Sink) *Service {
	if sink == nil {
		sink = events.NopSink{}
	}
	s := &Service{
		dedup:    dedup,
		mappings: mappings,
		sink:     sink,
	}
	s.rules.Store(&rules)
	s.accepting.Store(true)
	return s
}

// SetTelegramSender swaps the Telegram send capability.
func (s *Service) SetTelegramSender(sender Sender) { s.telegram.Store(&sender) }

// SetDiscordSender swaps the Discord send capability.
func (s *Service) SetDiscordSender(sender Sender) { s.discord.Store(&sender) }

// SetRules hot-swaps the forwarding rules for all routers.
func (s *Service) SetRules(rules ForwardingRules) { s.rules.Store(&rules) }

func (s *Service) currentRules() ForwardingRules { return *s.rules.Load() }

func (s *Service) telegramSender() Sender {
	if p := s.telegram.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Service) discordSender() Sender {
	if p := s.discord.Load(); p != nil {
		return *p
	}
	return nil
}

// UpdatePairs atomically rebuilds the router list. Routing calls that
// already snapshotted the old list finish against it; subsequent calls see
// the new set.
func (s *Service) UpdatePairs(pairs []Pair) {
	routers := make([]*Router, 0, len(pairs))
	for _, pair := range pairs {
		routers = append(routers, NewRouter(
			pair,
			s.currentRules,
			s.dedup,
			s.mappings,
			s.telegramSender,
			s.discordSender,
			s.sink,
		))
	}

	s.mu.Lock()
	s.routers = routers
	s.mu.Unlock()

	s.sink.Emit(context.Background(), events.Event{
		Name:   events.PairsUpdated,
		Fields: map[string]any{"pairs": len(pairs)},
	})
}

// Pairs returns a snapshot of the configured pairs.
func (s *Service) Pairs() []Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]Pair, 0, len(s.routers))
	for _, r := range s.routers {
		pairs = append(pairs, r.Pair())
	}
	return pairs
}

// Shutdown stops the service accepting new inbound events. In-flight
// routing calls finish or fail naturally.
func (s *Service) Shutdown() {
	s.accepting.Store(false)
}

func (s *Service) snapshot() []*Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routers
}

// HandleTelegramMessage dispatches one inbound Telegram event to every
// matching router. A single event may be relayed to multiple destinations
// when several pairs share its source chat.
func (s *Service) HandleTelegramMessage(ctx context.Context, msg IncomingMessage) {
	s.handle(ctx, msg, func(r *Router, cid string) error {
		return r.RouteTelegramToDiscord(ctx, cid, msg)
	})
}

// HandleDiscordMessage dispatches one inbound Discord event to every
// matching router.
func (s *Service) HandleDiscordMessage(ctx context.Context, msg IncomingMessage) {
	s.handle(ctx, msg, func(r *Router, cid string) error {
		return r.RouteDiscordToTelegram(ctx, cid, msg)
	})
}

func (s *Service) handle(ctx context.Context, msg IncomingMessage, route func(*Router, string) error) {
	if !s.accepting.Load() {
		return
	}

	cid := CorrelationID(msg)
	for _, router := range s.snapshot() {
		if err := route(router, cid); err != nil {
			// Transport errors end here: the event is logged and dropped,
			// never requeued.
			logger.ErrorCF("bridge", "Relay failed", map[string]any{
				"correlation_id": cid,
				"platform":       string(msg.Platform),
				"chat_id":        msg.ChatID,
				"message_id":     msg.MessageID,
				"error":          err.Error(),
			})
			s.sink.Emit(ctx, events.Event{
				Name:          events.BridgeDropped,
				CorrelationID: cid,
				Fields: map[string]any{
					"platform":   string(msg.Platform),
					"chat_id":    msg.ChatID,
					"message_id": msg.MessageID,
					"error":      err.Error(),
				},
			})
		}
	}
}

// CorrelationID derives the processing-scope identifier for a message:
// deterministic over the dedup key when the platform assigned a message id,
// random otherwise.
func CorrelationID(msg IncomingMessage) string {
	if key := msg.DedupKey(); key != "" {
		return uuid.NewSHA1(correlationNamespace, []byte(key)).String()
	}
	return uuid.NewString()
}

// String implements fmt.Stringer for Pair, used in admin and debug logs.
func (p Pair) String() string {
	return fmt.Sprintf("tg:%d↔dc:%d", p.TelegramChatID, p.DiscordChannelID)
}
