package core

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
	"golang.org/x/sync/errgroup"
)

// EventKind discriminates the two events a per-peer handler ever
// publishes to the engine, per spec.md §4.1.
type EventKind int

const (
	// EventMessage signals a successfully decoded inbound envelope.
	EventMessage EventKind = iota
	// EventNetworkError signals a fatal socket error, EOF, or a decode
	// failure severe enough to indicate a corrupt peer.
	EventNetworkError
)

// MemberEvent is what a per-peer handler publishes to the engine: exactly
// one of a decoded message or a network error, tagged with the peer it
// came from.
type MemberEvent struct {
	Kind     EventKind
	From     types.NodeID
	Envelope Envelope
}

// Handler owns one peer connection end to end: it reads frames off the
// socket and decodes them into MemberEvents for the engine, and writes
// already-serialized envelope bytes handed to it by the engine. A
// Handler is confined to its own connection - it never touches another
// peer's state, and the engine reaches it only through channels.
type Handler struct {
	peer     types.NodeID
	conn     net.Conn
	outbound chan []byte
	log      definition.Logger
}

// NewHandler wraps an already-established connection to peer. outboundBuf
// sizes the per-peer send queue; a full queue applies natural backpressure
// to the caller of Enqueue.
func NewHandler(peer types.NodeID, conn net.Conn, log definition.Logger, outboundBuf int) *Handler {
	return &Handler{
		peer:     peer,
		conn:     conn,
		outbound: make(chan []byte, outboundBuf),
		log:      log.WithField("peer", peer),
	}
}

// Enqueue hands an already-serialized envelope to this peer's write loop.
// It returns false if the handler has shut down and the queue is closed,
// or if ctx is cancelled first.
func (h *Handler) Enqueue(ctx context.Context, payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case h.outbound <- payload:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close closes the outbound queue, signalling the write loop to exit once
// drained.
func (h *Handler) Close() {
	defer func() { recover() }()
	close(h.outbound)
}

// Peer returns the NodeID this handler serves.
func (h *Handler) Peer() types.NodeID { return h.peer }

// Run drives the handler's read and write loops until ctx is cancelled or
// a fatal socket error occurs. Exactly one EventNetworkError is published
// on fatal error; a single bad frame that is not an EOF is logged and
// skipped instead of tearing down the connection.
func (h *Handler) Run(ctx context.Context, events chan<- MemberEvent) {
	g, gctx := errgroup.WithContext(ctx)
	var once sync.Once
	reportOnce := func() {
		once.Do(func() {
			select {
			case events <- MemberEvent{Kind: EventNetworkError, From: h.peer}:
			case <-ctx.Done():
			}
		})
	}

	g.Go(func() error {
		return h.readLoop(gctx, events, reportOnce)
	})
	g.Go(func() error {
		return h.writeLoop(gctx, reportOnce)
	})
	// A socket read does not observe ctx, so closing the connection is
	// what unblocks readLoop once ctx is done.
	g.Go(func() error {
		<-gctx.Done()
		_ = h.conn.Close()
		return nil
	})

	_ = g.Wait()
	_ = h.conn.Close()
}

func (h *Handler) readLoop(ctx context.Context, events chan<- MemberEvent, onFatal func()) error {
	fr := newFrameReader(h.conn)
	for {
		payload, err := fr.readFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.Warnf("read error from peer %s: %v", h.peer, err)
			}
			onFatal()
			return err
		}

		env, err := DecodeEnvelope(payload)
		if err != nil {
			h.log.Warnf("dropping malformed frame from peer %s: %v", h.peer, err)
			continue
		}

		select {
		case events <- MemberEvent{Kind: EventMessage, From: h.peer, Envelope: env}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, onFatal func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-h.outbound:
			if !ok {
				return nil
			}
			if err := writeFrame(h.conn, payload); err != nil {
				h.log.Warnf("write error to peer %s: %v", h.peer, err)
				onFatal()
				return err
			}
		}
	}
}
