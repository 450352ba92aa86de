package core

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// meshNode is one in-process member of a testMesh: its engine and the
// handlers that make it up.
type meshNode struct {
	id       types.NodeID
	engine   *Engine
	basic    *BasicMulticast
	reliable *ReliableMulticast
}

// testMesh is n fully-connected in-memory nodes, wired together with
// net.Pipe instead of real sockets, running the real handler/reliable/
// engine stack so protocol-level tests exercise the same code path a
// deployed node does - everything except BringUp's dial/accept handshake,
// which pool_test.go covers separately.
type testMesh struct {
	nodes  []*meshNode
	conns  map[types.NodeID][]net.Conn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newTestMesh builds and starts n nodes, each already believing it is
// connected to every other. gracePeriod is forwarded to every engine.
func newTestMesh(t *testing.T, n int, gracePeriod time.Duration) *testMesh {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	handlerSets := make([]map[types.NodeID]*Handler, n)
	events := make([]chan MemberEvent, n)
	conns := make(map[types.NodeID][]net.Conn, n)
	for i := 0; i < n; i++ {
		handlerSets[i] = make(map[types.NodeID]*Handler)
		events[i] = make(chan MemberEvent, 256)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			ci, cj := net.Pipe()
			iID, jID := types.NodeID(i), types.NodeID(j)
			handlerSets[i][jID] = NewHandler(jID, ci, nopLogger{}, 64)
			handlerSets[j][iID] = NewHandler(iID, cj, nopLogger{}, 64)
			conns[iID] = append(conns[iID], ci)
			conns[jID] = append(conns[jID], cj)
		}
	}

	mesh := &testMesh{cancel: cancel, conns: conns}
	for i := 0; i < n; i++ {
		id := types.NodeID(i)
		basic := NewBasicMulticast(handlerSets[i], events[i], nopLogger{})
		reliable := NewReliableMulticast(basic, nopLogger{})
		engine := NewEngine(id, reliable, basic.Events(), gracePeriod, nopLogger{})

		for _, h := range handlerSets[i] {
			h := h
			ev := events[i]
			mesh.wg.Add(1)
			go func() {
				defer mesh.wg.Done()
				h.Run(ctx, ev)
			}()
		}

		mesh.wg.Add(1)
		go func() {
			defer mesh.wg.Done()
			_ = engine.Run(ctx)
		}()

		mesh.nodes = append(mesh.nodes, &meshNode{id: id, engine: engine, basic: basic, reliable: reliable})
	}

	return mesh
}

// crash simulates id's process dying: every connection it holds is closed,
// which surfaces as an immediate read/write error at both id's own
// handlers and every peer's handler for id.
func (m *testMesh) crash(id types.NodeID) {
	for _, c := range m.conns[id] {
		_ = c.Close()
	}
}

// stop cancels every node and waits for all handler and engine goroutines
// to exit.
func (m *testMesh) stop() {
	m.cancel()
	for _, cs := range m.conns {
		for _, c := range cs {
			_ = c.Close()
		}
	}
	m.wg.Wait()
}

func waitForDelivery(t *testing.T, n *meshNode, timeout time.Duration) []byte {
	t.Helper()
	select {
	case payload, ok := <-n.engine.Deliveries():
		if !ok {
			t.Fatalf("node %s: Deliveries() closed before a payload arrived", n.id)
		}
		return payload
	case <-time.After(timeout):
		t.Fatalf("node %s: delivery timed out after %s", n.id, timeout)
		return nil
	}
}

func waitForDeliveriesClosed(t *testing.T, n *meshNode, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-n.engine.Deliveries():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("node %s: Deliveries() was never closed", n.id)
		}
	}
}
