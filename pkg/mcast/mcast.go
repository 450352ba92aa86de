// Package mcast is the public adapter described in spec.md §6.3: it wires
// connection-pool bring-up, the per-peer handlers, and the total-order
// protocol engine together behind three calls an embedding application
// needs - Broadcast, SendTo, and Deliver - plus a lifecycle Shutdown.
package mcast

import (
	"context"
	"fmt"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/config"
	"github.com/nkaush/go-mcast/pkg/mcast/core"
	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
	"golang.org/x/sync/errgroup"
)

// Config parameterizes Connect. GroupConfig and Self are required; the
// rest have spec-mandated defaults (see DefaultConfig).
type Config struct {
	Self           types.NodeID
	GroupConfig    *config.Config
	PoolConfig     core.PoolConfig
	GracePeriod    time.Duration
	BringUpTimeout time.Duration
	Logger         definition.Logger
	EventBuffer    int
}

// DefaultConfig returns the spec's defaults: 60s bring-up timeout, 4s
// grace period, a 64-entry per-peer outbound queue, and a logrus-backed
// default logger.
func DefaultConfig(self types.NodeID, groupConfig *config.Config) Config {
	return Config{
		Self:           self,
		GroupConfig:    groupConfig,
		PoolConfig:     core.DefaultPoolConfig(),
		GracePeriod:    core.DefaultGracePeriod,
		BringUpTimeout: 60 * time.Second,
		Logger:         definition.NewDefaultLogger(),
		EventBuffer:    256,
	}
}

// Multicast is a connected, running instance of the reliable multicast
// core: connection pool, reliable layer, and protocol engine all wired
// together and driven by their own goroutines under a shared errgroup.
type Multicast struct {
	engine *core.Engine
	cancel context.CancelFunc
	group  *errgroup.Group
	log    definition.Logger
}

// Connect performs bring-up (spec.md §4.2) and starts the engine and
// every peer handler. It blocks until the full mesh is established, the
// bring-up timeout elapses, or ctx is cancelled.
func Connect(ctx context.Context, cfg Config) (*Multicast, error) {
	if cfg.GroupConfig == nil {
		return nil, fmt.Errorf("mcast: Config.GroupConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = definition.NewDefaultLogger()
	}

	bringUpCtx, cancelBringUp := context.WithTimeout(ctx, cfg.BringUpTimeout)
	defer cancelBringUp()

	handlers, err := core.BringUp(bringUpCtx, cfg.Self, cfg.GroupConfig, cfg.PoolConfig, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("mcast: bring-up failed: %w", err)
	}
	cfg.Logger.Infof("bring-up complete: connected to %d peers", len(handlers))

	runCtx, cancel := context.WithCancel(ctx)

	events := make(chan core.MemberEvent, cfg.EventBuffer)
	basic := core.NewBasicMulticast(handlers, events, cfg.Logger)
	reliable := core.NewReliableMulticast(basic, cfg.Logger)
	engine := core.NewEngine(cfg.Self, reliable, basic.Events(), cfg.GracePeriod, cfg.Logger)

	g, gctx := errgroup.WithContext(runCtx)
	for _, h := range handlers {
		h := h
		g.Go(func() error {
			h.Run(gctx, events)
			return nil
		})
	}
	g.Go(func() error {
		return engine.Run(gctx)
	})

	return &Multicast{engine: engine, cancel: cancel, group: g, log: cfg.Logger}, nil
}

// Broadcast reliably, totally-orders, and delivers payload to every
// correct node in the group, including this one. It returns once the
// message has been handed to every live peer's handler queue (spec.md
// §5, O4) - it does not wait for agreement or delivery.
func (m *Multicast) Broadcast(ctx context.Context, payload []byte) error {
	return m.engine.Broadcast(ctx, payload)
}

// SendTo sends payload directly to recipient, bypassing the priority
// queue. Losing it costs latency, never correctness.
func (m *Multicast) SendTo(ctx context.Context, payload []byte, recipient types.NodeID) error {
	return m.engine.SendTo(ctx, payload, recipient)
}

// Deliver blocks until the next payload is available in agreed total
// order, or ctx is cancelled, or the engine has stopped.
func (m *Multicast) Deliver(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-m.engine.Deliveries():
		if !ok {
			return nil, &types.AllClientsDisconnected{}
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown cancels every goroutine owned by this Multicast (the engine
// and every peer handler) and waits for them to exit.
func (m *Multicast) Shutdown() error {
	m.cancel()
	return m.group.Wait()
}
