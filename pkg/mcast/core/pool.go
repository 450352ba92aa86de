package core

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/nkaush/go-mcast/pkg/mcast/config"
	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
	"golang.org/x/sync/errgroup"
)

// PoolConfig parameterizes connection-pool bring-up (spec.md §4.2).
type PoolConfig struct {
	OutboundBuf int // per-handler outbound queue depth, forwarded to NewHandler
}

// DefaultPoolConfig matches spec.md's defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{OutboundBuf: 64}
}

// BringUp establishes the full mesh described in spec.md §4.2: self dials
// every peer with a strictly smaller NodeID, accepts inbound connections
// from every peer with a larger one, and returns once the handler set has
// reached group_size-1 members or ctx is done. The caller is expected to
// wrap ctx in a timeout (default 60s); BringUp itself applies none.
func BringUp(ctx context.Context, self types.NodeID, cfg *config.Config, pcfg PoolConfig, log definition.Logger) (map[types.NodeID]*Handler, error) {
	self0, ok := cfg.Get(self)
	if !ok {
		return nil, fmt.Errorf("pool: self NodeID %s not present in config", self)
	}

	addr := net.JoinHostPort(self0.Hostname, strconv.Itoa(int(self0.Port)))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("pool: listen on %s: %w", addr, err)
	}
	defer ln.Close()

	expected := cfg.Len() - 1
	if expected == 0 {
		return map[types.NodeID]*Handler{}, nil
	}

	var mu sync.Mutex
	handlers := make(map[types.NodeID]*Handler, expected)
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)

	add := func(peer types.NodeID, conn net.Conn) {
		mu.Lock()
		defer mu.Unlock()
		if _, exists := handlers[peer]; exists {
			// Ordering rule (dial only lower IDs, accept only from higher
			// IDs) guarantees this never happens; guard anyway rather
			// than leak the duplicate socket.
			_ = conn.Close()
			return
		}
		handlers[peer] = NewHandler(peer, conn, log, pcfg.OutboundBuf)
		if len(handlers) == expected {
			close(done)
		}
	}

	for _, peer := range cfg.LowerPeers(self) {
		peer := peer
		peerCfg, _ := cfg.Get(peer)
		g.Go(func() error {
			peerAddr := net.JoinHostPort(peerCfg.Hostname, strconv.Itoa(int(peerCfg.Port)))
			err := retryUntilSuccess(gctx, func() error {
				conn, err := net.Dial("tcp", peerAddr)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(conn, "%d\n", uint32(self)); err != nil {
					_ = conn.Close()
					return err
				}
				add(peer, conn)
				return nil
			})
			if err != nil {
				return fmt.Errorf("pool: dial %s: %w", peerAddr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-done:
					return nil
				default:
					return fmt.Errorf("pool: accept: %w", err)
				}
			}

			peerID, err := readHandshakeLine(conn)
			if err != nil {
				log.Warnf("pool: bad handshake from %s: %v", conn.RemoteAddr(), err)
				_ = conn.Close()
				continue
			}
			add(peerID, conn)
		}
	})

	go func() {
		select {
		case <-done:
		case <-gctx.Done():
		}
		_ = ln.Close()
	}()

	if err := g.Wait(); err != nil {
		return nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(map[types.NodeID]*Handler, len(handlers))
	for id, h := range handlers {
		out[id] = h
	}
	return out, nil
}

// readHandshakeLine reads the one ASCII newline-terminated NodeID line a
// dialer writes before switching to framed mode (spec.md §4.2 step 3/4).
// It reads one byte at a time rather than through a bufio.Reader: a
// buffered reader could read ahead past the newline into the first
// framed bytes, which would then be silently lost when the connection is
// later wrapped in its own bufio.Reader inside the handler's frameReader.
func readHandshakeLine(conn net.Conn) (types.NodeID, error) {
	var line []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(conn, b[:]); err != nil {
			return 0, err
		}
		if b[0] == '\n' {
			break
		}
		line = append(line, b[0])
		if len(line) > 32 {
			return 0, fmt.Errorf("handshake line too long")
		}
	}
	id, err := strconv.ParseUint(string(line), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed NodeID line %q: %w", line, err)
	}
	return types.NodeID(id), nil
}
