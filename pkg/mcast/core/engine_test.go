package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

func TestEngineSingleNodeGroupDeliversItsOwnBroadcast(t *testing.T) {
	mesh := newTestMesh(t, 1, time.Second)
	defer mesh.stop()

	if err := mesh.nodes[0].engine.Broadcast(context.Background(), []byte("solo")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	got := waitForDelivery(t, mesh.nodes[0], 2*time.Second)
	if string(got) != "solo" {
		t.Errorf("delivered %q, want %q", got, "solo")
	}
}

func TestEngineTwoNodesBothDeliverABroadcast(t *testing.T) {
	mesh := newTestMesh(t, 2, time.Second)
	defer mesh.stop()

	if err := mesh.nodes[0].engine.Broadcast(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	for _, n := range mesh.nodes {
		got := waitForDelivery(t, n, 2*time.Second)
		if string(got) != "hello" {
			t.Errorf("node %s delivered %q, want %q", n.id, got, "hello")
		}
	}
}

// TestEngineThreeNodesAgreeOnTotalOrder exercises the agreement protocol's
// core guarantee: every correct node delivers the same set of messages in
// the same relative order, even when two broadcasts race each other.
func TestEngineThreeNodesAgreeOnTotalOrder(t *testing.T) {
	mesh := newTestMesh(t, 3, time.Second)
	defer mesh.stop()

	if err := mesh.nodes[0].engine.Broadcast(context.Background(), []byte("first")); err != nil {
		t.Fatalf("node 0 Broadcast: %v", err)
	}
	if err := mesh.nodes[1].engine.Broadcast(context.Background(), []byte("second")); err != nil {
		t.Fatalf("node 1 Broadcast: %v", err)
	}

	var orders [][]string
	for _, n := range mesh.nodes {
		var got []string
		for i := 0; i < 2; i++ {
			got = append(got, string(waitForDelivery(t, n, 3*time.Second)))
		}
		orders = append(orders, got)
	}

	for i := 1; i < len(orders); i++ {
		if !reflect.DeepEqual(orders[0], orders[i]) {
			t.Errorf("node %d delivery order %v, want %v (node 0's order)", i, orders[i], orders[0])
		}
	}
}

// TestEngineSurvivesPeerCrashViaVoteRecheck covers spec.md's crash-handling
// path: a peer dies before it can vote on an in-flight message, and the
// originator still finalizes it once the shrinking active set makes the
// votes it already has a superset (spec.md §4.5.2 step 2), without
// waiting on the grace period.
func TestEngineSurvivesPeerCrashViaVoteRecheck(t *testing.T) {
	mesh := newTestMesh(t, 3, 5*time.Second)
	defer mesh.stop()

	if err := mesh.nodes[0].engine.Broadcast(context.Background(), []byte("still goes through")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	mesh.crash(2)

	for _, id := range []types.NodeID{0, 1} {
		got := waitForDelivery(t, mesh.nodes[id], 3*time.Second)
		if string(got) != "still goes through" {
			t.Errorf("node %d delivered %q, want %q", id, got, "still goes through")
		}
	}
}

// TestEngineAllPeersGoneIsFatal covers spec.md §7's AllClientsDisconnected:
// once every peer is gone, the engine stops and every blocked or future
// caller observes the same error.
func TestEngineAllPeersGoneIsFatal(t *testing.T) {
	mesh := newTestMesh(t, 2, 50*time.Millisecond)
	defer mesh.stop()

	mesh.crash(1)
	waitForDeliveriesClosed(t, mesh.nodes[0], 2*time.Second)

	err := mesh.nodes[0].engine.Broadcast(context.Background(), []byte("too late"))
	var allGone *types.AllClientsDisconnected
	if !errors.As(err, &allGone) {
		t.Errorf("Broadcast after every peer vanished = %v, want *AllClientsDisconnected", err)
	}
}

// TestEngineGracePeriodFlushesMessagesFromDeadOriginator covers spec.md
// §4.5.2 step 3: a message from a node that dies before its priority is
// ever agreed must not block delivery forever - it is dropped once the
// grace period elapses, unblocking whatever is queued behind it.
func TestEngineGracePeriodFlushesMessagesFromDeadOriginator(t *testing.T) {
	mesh := newTestMesh(t, 3, 200*time.Millisecond)
	defer mesh.stop()

	// Node 2 broadcasts, then is killed before node 0 can ever see its own
	// proposal acknowledged back (the crash happens immediately after the
	// request is handed off, racing the proposal round trip).
	if err := mesh.nodes[2].engine.Broadcast(context.Background(), []byte("from a node that dies")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	mesh.crash(2)

	// Node 0's queued entry for node 2's message, if it never reached
	// deliverable before node 2 disappeared, must be flushed by the grace
	// timer rather than blocking forever. We can't observe the flush
	// directly, so prove the queue isn't stuck by broadcasting a second,
	// independent message from a live node and confirming it still gets
	// through within the grace window plus slack.
	if err := mesh.nodes[0].engine.Broadcast(context.Background(), []byte("unblocked")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		payload := waitForDelivery(t, mesh.nodes[0], 3*time.Second)
		if string(payload) == "unblocked" {
			return
		}
	}
	t.Fatal("never observed the unblocked message despite the grace period elapsing")
}
