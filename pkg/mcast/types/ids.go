// Package types holds the data model shared by every layer of the
// multicast core: node and message identifiers, the ISIS priority total
// order, and the protocol's error taxonomy.
package types

import "fmt"

// NodeID identifies a peer for the lifetime of the process. It is assigned
// by position in the configuration file, starting at zero.
type NodeID uint32

func (n NodeID) String() string {
	return fmt.Sprintf("node-%d", uint32(n))
}

// MessageID uniquely identifies a message for the lifetime of the group:
// the node that first broadcast it, and a strictly increasing counter
// local to that node.
type MessageID struct {
	OriginalSender NodeID
	LocalID        uint64
}

func (m MessageID) String() string {
	return fmt.Sprintf("%d/%d", m.OriginalSender, m.LocalID)
}

// MessagePriority is the ISIS agreement total order: lexicographic by
// Priority first, then by the NodeID that proposed it. Ties are broken by
// Proposer so the order is total even when two nodes propose the same
// priority value.
type MessagePriority struct {
	Priority uint64
	Proposer NodeID
}

// Less reports whether p sorts strictly before other under the agreement
// total order.
func (p MessagePriority) Less(other MessagePriority) bool {
	if p.Priority != other.Priority {
		return p.Priority < other.Priority
	}
	return p.Proposer < other.Proposer
}

// Max returns whichever of p and other sorts last under the total order,
// implementing the "priority increase" operation from the agreement
// protocol: the originator always keeps the maximum priority seen so far.
func (p MessagePriority) Max(other MessagePriority) MessagePriority {
	if p.Less(other) {
		return other
	}
	return p
}
