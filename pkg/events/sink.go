// Package events carries structured observability events out of the bridge
// core: routing rejections, retry attempts and lifecycle transitions. Sinks
// are best-effort; a failing sink must never block or fail message relay.
package events

import (
	"context"
	"time"

	"github.com/tinyland-inc/picobridge/pkg/logger"
)

// Well-known event names.
const (
	BridgeStarted  = "bridge.started"
	BridgeStopped  = "bridge.stopped"
	BridgeRelayed  = "bridge.relayed"
	BridgeRejected = "bridge.rejected"
	BridgeDropped  = "bridge.dropped"
	RetryAttempt   = "retry.attempt"
	PairsUpdated   = "pairs.updated"
	Heartbeat      = "bridge.heartbeat"
)

// Event is one observable occurrence inside the bridge.
type Event struct {
	Name          string         `json:"name"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
	At            time.Time      `json:"at"`
}

// Sink receives bridge events.
type Sink interface {
	Emit(ctx context.Context, e Event)
	Close() error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
func (NopSink) Close() error                { return nil }

// LoggerSink writes events through the component logger.
type LoggerSink struct {
	Component string
}

func (s LoggerSink) Emit(_ context.Context, e Event) {
	component := s.Component
	if component == "" {
		component = "events"
	}
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	if e.CorrelationID != "" {
		fields["correlation_id"] = e.CorrelationID
	}
	logger.InfoCF(component, e.Name, fields)
}

func (LoggerSink) Close() error { return nil }

// MultiSink fans out to every sink.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, s := range m {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
