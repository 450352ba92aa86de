package types

import "fmt"

// BroadcastError reports that a basic-multicast broadcast failed to reach
// some subset of the group. The failed peers are treated as dead by the
// engine.
type BroadcastError struct {
	Failed []NodeID
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast failed for peers: %v", e.Failed)
}

// ClientDisconnected reports that a peer's handler observed a network
// error and is no longer reachable.
type ClientDisconnected struct {
	Peer NodeID
}

func (e *ClientDisconnected) Error() string {
	return fmt.Sprintf("peer %s disconnected", e.Peer)
}

// InvalidRecipient is returned when SendTo names a peer that is unknown
// or has already been evicted from the active set. This indicates a bug
// in the caller, not a transient network condition.
type InvalidRecipient struct {
	Peer NodeID
}

func (e *InvalidRecipient) Error() string {
	return fmt.Sprintf("invalid recipient: %s", e.Peer)
}

// AllClientsDisconnected reports that every peer handler has closed. The
// engine cannot make further progress and this is fatal.
type AllClientsDisconnected struct{}

func (e *AllClientsDisconnected) Error() string {
	return "all peers disconnected"
}

// InternalError reports that a channel between the engine and its
// external adapter broke. This should never happen outside of a shutdown
// race and is treated as fatal.
type InternalError struct {
	Cause error
}

func (e *InternalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("internal error: %v", e.Cause)
	}
	return "internal error"
}

func (e *InternalError) Unwrap() error { return e.Cause }
