package core

import (
	"context"
	"sync"

	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// BasicMulticast is a best-effort fan-out over the current live handler
// set. It performs no retransmission, no buffering across membership
// changes, and no waiting: enqueueing onto a handler's outbound queue is
// the only work it does. Delivery is a pass-through of the next per-peer
// event, verbatim.
type BasicMulticast struct {
	mu       sync.RWMutex
	handlers map[types.NodeID]*Handler
	events   chan MemberEvent
	log      definition.Logger
}

// NewBasicMulticast wraps an already-connected handler set. events is the
// shared channel every handler's Run goroutine publishes onto.
func NewBasicMulticast(handlers map[types.NodeID]*Handler, events chan MemberEvent, log definition.Logger) *BasicMulticast {
	m := make(map[types.NodeID]*Handler, len(handlers))
	for id, h := range handlers {
		m[id] = h
	}
	return &BasicMulticast{handlers: m, events: events, log: log}
}

// Broadcast enqueues payload on every handler not in except, returning the
// NodeIDs whose enqueue failed (their handler has already shut down).
func (b *BasicMulticast) Broadcast(ctx context.Context, payload []byte, except map[types.NodeID]struct{}) []types.NodeID {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var failed []types.NodeID
	for id, h := range b.handlers {
		if except != nil {
			if _, skip := except[id]; skip {
				continue
			}
		}
		if !h.Enqueue(ctx, payload) {
			failed = append(failed, id)
		}
	}
	return failed
}

// SendTo enqueues payload on a single recipient's handler. It returns
// InvalidRecipient if the recipient is not currently a live member, and
// ClientDisconnected if the enqueue itself failed.
func (b *BasicMulticast) SendTo(ctx context.Context, payload []byte, recipient types.NodeID) error {
	b.mu.RLock()
	h, ok := b.handlers[recipient]
	b.mu.RUnlock()

	if !ok {
		return &types.InvalidRecipient{Peer: recipient}
	}
	if !h.Enqueue(ctx, payload) {
		return &types.ClientDisconnected{Peer: recipient}
	}
	return nil
}

// RemoveMember evicts a peer from the live handler set. It is never
// re-added: dynamic membership changes are out of scope.
func (b *BasicMulticast) RemoveMember(id types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.handlers[id]; ok {
		h.Close()
		delete(b.handlers, id)
	}
}

// Members returns the current active set: the NodeIDs for which this node
// still holds a live handler.
func (b *BasicMulticast) Members() map[types.NodeID]struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[types.NodeID]struct{}, len(b.handlers))
	for id := range b.handlers {
		out[id] = struct{}{}
	}
	return out
}

// Len reports the number of live handlers.
func (b *BasicMulticast) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Events returns the shared channel every handler's Run goroutine
// publishes onto. The engine selects on this directly alongside its other
// event sources rather than through a blocking Deliver call, so that all
// protocol-state mutation stays on the engine's single goroutine.
func (b *BasicMulticast) Events() <-chan MemberEvent {
	return b.events
}
