package core

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/config"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// pickFreePorts asks the OS for n currently-unused TCP ports on loopback.
// There is an inherent (tiny) race between releasing the port here and
// BringUp rebinding it, but it is the standard way to get a real,
// available port for a test.
func pickFreePorts(t *testing.T, n int) []int {
	t.Helper()
	ports := make([]int, n)
	for i := range ports {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("pickFreePorts: %v", err)
		}
		ports[i] = ln.Addr().(*net.TCPAddr).Port
		ln.Close()
	}
	return ports
}

func TestBringUpTwoNodeMeshConnectsBothDirections(t *testing.T) {
	ports := pickFreePorts(t, 2)
	cfgText := fmt.Sprintf("2\nnode0 127.0.0.1 %d\nnode1 127.0.0.1 %d\n", ports[0], ports[1])

	cfg0, self0, err := config.Parse(strings.NewReader(cfgText), "node0")
	if err != nil {
		t.Fatalf("parse node0 config: %v", err)
	}
	cfg1, self1, err := config.Parse(strings.NewReader(cfgText), "node1")
	if err != nil {
		t.Fatalf("parse node1 config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var handlers0, handlers1 map[types.NodeID]*Handler
	var err0, err1 error

	wg.Add(2)
	go func() {
		defer wg.Done()
		handlers0, err0 = BringUp(ctx, self0, cfg0, DefaultPoolConfig(), nopLogger{})
	}()
	go func() {
		defer wg.Done()
		handlers1, err1 = BringUp(ctx, self1, cfg1, DefaultPoolConfig(), nopLogger{})
	}()
	wg.Wait()

	if err0 != nil {
		t.Fatalf("node0 BringUp: %v", err0)
	}
	if err1 != nil {
		t.Fatalf("node1 BringUp: %v", err1)
	}

	if _, ok := handlers0[1]; !ok || len(handlers0) != 1 {
		t.Errorf("node0 handlers = %v, want exactly {1: ...}", handlers0)
	}
	if _, ok := handlers1[0]; !ok || len(handlers1) != 1 {
		t.Errorf("node1 handlers = %v, want exactly {0: ...}", handlers1)
	}
}

func TestBringUpSingleNodeGroupReturnsImmediately(t *testing.T) {
	port := pickFreePorts(t, 1)[0]
	cfgText := fmt.Sprintf("1\nnode0 127.0.0.1 %d\n", port)
	cfg, self, err := config.Parse(strings.NewReader(cfgText), "node0")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	handlers, err := BringUp(ctx, self, cfg, DefaultPoolConfig(), nopLogger{})
	if err != nil {
		t.Fatalf("BringUp: %v", err)
	}
	if len(handlers) != 0 {
		t.Errorf("handlers = %v, want empty for a single-node group", handlers)
	}
}

func TestBringUpRejectsUnknownSelf(t *testing.T) {
	port := pickFreePorts(t, 1)[0]
	cfgText := fmt.Sprintf("1\nnode0 127.0.0.1 %d\n", port)
	cfg, _, err := config.Parse(strings.NewReader(cfgText), "node0")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	if _, err := BringUp(context.Background(), types.NodeID(99), cfg, DefaultPoolConfig(), nopLogger{}); err == nil {
		t.Error("BringUp should fail when self is not present in the config")
	}
}

func TestBringUpTimesOutWithoutPeers(t *testing.T) {
	ports := pickFreePorts(t, 2)
	// node1 is declared but never brought up, so node0 can never complete.
	cfgText := fmt.Sprintf("2\nnode0 127.0.0.1 %d\nnode1 127.0.0.1 %d\n", ports[0], ports[1])
	cfg0, self0, err := config.Parse(strings.NewReader(cfgText), "node0")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := BringUp(ctx, self0, cfg0, DefaultPoolConfig(), nopLogger{}); err == nil {
		t.Error("BringUp should fail once ctx is done and no peer ever connected")
	}
}
