package core

import (
	"context"

	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// DeliverResult is a single reliably-delivered protocol variant, tagged
// with its logical origin (the relay's original sender, not necessarily
// the immediate peer the bytes arrived from).
type DeliverResult struct {
	Payload Variant
	From    types.NodeID
}

// ReliableMulticast wraps BasicMulticast with Birman-style receiver-driven
// reliable broadcast (spec.md §4.4): monotonic sender sequence numbers, a
// per-origin last-delivered table for duplicate suppression, and
// first-receive relay so that "at least one correct process receives"
// implies "every correct process receives."
type ReliableMulticast struct {
	basic      *BasicMulticast
	priorSeq   map[types.NodeID]uint64
	nextSeqNum uint64
	log        definition.Logger
}

// NewReliableMulticast wraps basic with reliable-delivery bookkeeping.
func NewReliableMulticast(basic *BasicMulticast, log definition.Logger) *ReliableMulticast {
	return &ReliableMulticast{
		basic:    basic,
		priorSeq: make(map[types.NodeID]uint64),
		log:      log,
	}
}

func (r *ReliableMulticast) nextSeq() uint64 {
	seq := r.nextSeqNum
	r.nextSeqNum++
	return seq
}

// Broadcast reliably sends variant to every member of the active set,
// stamping it with this node's next sender sequence number so receivers
// can suppress duplicates and relay it onward.
func (r *ReliableMulticast) Broadcast(ctx context.Context, variant Variant) error {
	seq := r.nextSeq()
	data, err := EncodeEnvelope(Envelope{Payload: variant, SequenceNum: &seq})
	if err != nil {
		return err
	}

	if failed := r.basic.Broadcast(ctx, data, nil); len(failed) > 0 {
		return &types.BroadcastError{Failed: failed}
	}
	return nil
}

// SendTo sends variant directly to recipient as a one-off: no sequence
// number, so it bypasses relay and duplicate suppression entirely. Losing
// a one-off message costs latency, never correctness (spec.md §9, open
// question 3) - it is how PriorityProposal and the supplemented
// DirectMessage variant travel.
func (r *ReliableMulticast) SendTo(ctx context.Context, variant Variant, recipient types.NodeID) error {
	data, err := EncodeEnvelope(Envelope{Payload: variant})
	if err != nil {
		return err
	}
	return r.basic.SendTo(ctx, data, recipient)
}

// RemoveMember evicts a peer from the active set. prior_seq history for
// that origin is retained: it stays monotonically non-decreasing and
// harmlessly continues to suppress any stray duplicate that still arrives
// from a relay in flight.
func (r *ReliableMulticast) RemoveMember(id types.NodeID) {
	r.basic.RemoveMember(id)
}

// Members returns the current active set.
func (r *ReliableMulticast) Members() map[types.NodeID]struct{} {
	return r.basic.Members()
}

// Len reports the size of the active set.
func (r *ReliableMulticast) Len() int { return r.basic.Len() }

// ProcessEvent implements spec.md §4.4's receive algorithm as a single,
// non-blocking step over one already-received MemberEvent. It never reads
// from a channel itself: the engine owns the one select loop that reads
// basic.Events(), and hands each event here so that priorSeq and
// nextSeqNum are only ever touched from the engine's own goroutine.
//
// The bool return reports whether result is a real delivery: false for a
// network error (result is zero, err is set) and false for a suppressed
// duplicate (result and err both zero - a legitimate no-op, not a
// failure). relayErr, if non-nil, reports a partial relay-broadcast
// failure alongside a still-valid delivery.
func (r *ReliableMulticast) ProcessEvent(ctx context.Context, ev MemberEvent) (result DeliverResult, delivered bool, relayErr error) {
	if ev.Kind == EventNetworkError {
		return DeliverResult{}, false, &types.ClientDisconnected{Peer: ev.From}
	}

	env := ev.Envelope
	if env.SequenceNum == nil {
		r.log.Debugf("one-off message from %s ... no relay, no dedup", ev.From)
		return DeliverResult{Payload: env.Payload, From: ev.From}, true, nil
	}

	seqNum := *env.SequenceNum
	origin := ev.From
	if env.ForwardedFor != nil {
		origin = *env.ForwardedFor
	}

	if last, exists := r.priorSeq[origin]; exists && last >= seqNum {
		r.log.Debugf("duplicate relay from %s, origin %s, seq %d <= prior %d", ev.From, origin, seqNum, last)
		return DeliverResult{}, false, nil
	}
	r.priorSeq[origin] = seqNum

	fwd := origin
	env.ForwardedFor = &fwd
	except := map[types.NodeID]struct{}{ev.From: {}, origin: {}}

	data, err := EncodeEnvelope(env)
	if err != nil {
		return DeliverResult{}, false, err
	}
	if failed := r.basic.Broadcast(ctx, data, except); len(failed) > 0 {
		relayErr = &types.BroadcastError{Failed: failed}
	}

	return DeliverResult{Payload: env.Payload, From: origin}, true, relayErr
}
