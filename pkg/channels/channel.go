// Package channels contains the platform adapters. Each adapter owns its
// connection lifecycle, parses native events into bridge.IncomingMessage,
// and implements the bridge.Sender capability with platform-specific retry
// classification.
package channels

import (
	"context"
	"sync/atomic"

	"github.com/tinyland-inc/picobridge/pkg/bridge"
)

// Handler receives parsed inbound messages. Implemented by bridge.Service.
type Handler interface {
	HandleTelegramMessage(ctx context.Context, msg bridge.IncomingMessage)
	HandleDiscordMessage(ctx context.Context, msg bridge.IncomingMessage)
}

// Channel is the lifecycle surface of a platform adapter.
type Channel interface {
	Name() string
	// Start connects and blocks until ctx is canceled.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// BaseChannel carries the shared adapter state.
type BaseChannel struct {
	name    string
	running atomic.Bool
}

func NewBaseChannel(name string) *BaseChannel {
	return &BaseChannel{name: name}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }
