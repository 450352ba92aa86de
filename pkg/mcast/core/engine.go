package core

import (
	"context"
	"errors"
	"time"

	"github.com/nkaush/go-mcast/pkg/mcast/definition"
	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// DefaultGracePeriod matches spec.md §4.5.2's MAX_MESSAGE_LATENCY_SECS.
const DefaultGracePeriod = 4 * time.Second

// queuedMessage is the per-message bookkeeping record from spec.md §3: the
// opaque payload, the set of proposers whose vote has been counted, and
// whether the final priority has been agreed.
//
// votes is only ever populated for messages this node itself originated:
// a PriorityProposal is a one-off send directed at the requester, so only
// the requester ever observes one. This mirrors the reference
// implementation exactly and is why recheckDeliveryStatus (§4.5.2) only
// ever confirms self-originated entries in practice, with no explicit
// "am I the originator" check needed.
type queuedMessage struct {
	payload     []byte
	votes       map[types.NodeID]struct{}
	deliverable bool
}

func newQueuedMessage(payload []byte) *queuedMessage {
	return &queuedMessage{payload: payload, votes: make(map[types.NodeID]struct{})}
}

func (q *queuedMessage) addVoter(id types.NodeID) { q.votes[id] = struct{}{} }

// votesSuperset reports whether every member of active has voted. An
// empty active set is vacuously true - once every peer is gone, this
// node is the only one left to agree with, so its own pending messages
// can be finalized unilaterally.
func (q *queuedMessage) votesSuperset(active map[types.NodeID]struct{}) bool {
	for id := range active {
		if _, voted := q.votes[id]; !voted {
			return false
		}
	}
	return true
}

type broadcastRequest struct {
	payload []byte
	resp    chan error
}

type sendToRequest struct {
	payload   []byte
	recipient types.NodeID
	resp      chan error
}

// Engine is the single-threaded ISIS agreement protocol loop from
// spec.md §4.5 and §5: one goroutine owns the priority queue, the
// per-message vote tallies, the sequence counters, and the active-member
// set, mutating all of it only from within Run's select loop. Every
// other goroutine reaches it exclusively through channels.
type Engine struct {
	self     types.NodeID
	reliable *ReliableMulticast
	events   <-chan MemberEvent

	pq     *PriorityQueue
	queued map[types.MessageID]*queuedMessage

	nextLocalID          uint64
	nextPriorityProposal uint64

	gracePeriod   time.Duration
	expectedPeers int

	broadcastReq chan broadcastRequest
	sendToReq    chan sendToRequest
	graceFired   chan types.NodeID
	deliverCh    chan []byte

	stopped chan struct{}
	stopErr error

	log definition.Logger
}

// NewEngine builds an Engine ready to Run. events is the reliable layer's
// underlying event source (basic.Events()); reliable must share the same
// BasicMulticast instance the engine's peer handlers publish onto.
func NewEngine(self types.NodeID, reliable *ReliableMulticast, events <-chan MemberEvent, gracePeriod time.Duration, log definition.Logger) *Engine {
	return &Engine{
		self:          self,
		reliable:      reliable,
		events:        events,
		pq:            NewPriorityQueue(),
		queued:        make(map[types.MessageID]*queuedMessage),
		gracePeriod:   gracePeriod,
		expectedPeers: reliable.Len(),
		broadcastReq:  make(chan broadcastRequest),
		sendToReq:     make(chan sendToRequest),
		graceFired:    make(chan types.NodeID),
		deliverCh:     make(chan []byte, 64),
		stopped:       make(chan struct{}),
		log:           log,
	}
}

// Broadcast submits payload for totally-ordered delivery (spec.md §6.3's
// broadcast(M)). It returns once the message has been reliably handed to
// every live peer's handler queue (O4): it does not wait for agreement.
func (e *Engine) Broadcast(ctx context.Context, payload []byte) error {
	resp := make(chan error, 1)
	select {
	case e.broadcastReq <- broadcastRequest{payload: payload, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return e.stopErr
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return e.stopErr
	}
}

// SendTo submits payload as a directed, one-off send (spec.md §6.3's
// send_to(M, recipient)). It bypasses the priority queue entirely: losing
// it costs latency, never correctness.
func (e *Engine) SendTo(ctx context.Context, payload []byte, recipient types.NodeID) error {
	resp := make(chan error, 1)
	select {
	case e.sendToReq <- sendToRequest{payload: payload, recipient: recipient, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return e.stopErr
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return e.stopErr
	}
}

// Deliveries returns the channel application payloads are handed out on,
// in the agreed total order. It is closed once Run returns.
func (e *Engine) Deliveries() <-chan []byte { return e.deliverCh }

// Run drives the engine until ctx is cancelled or the group becomes
// unrecoverable (every peer gone). The returned error is also latched and
// replayed to any Broadcast/SendTo call still blocked on the engine.
func (e *Engine) Run(ctx context.Context) error {
	err := e.loop(ctx)
	close(e.deliverCh)
	e.stopErr = err
	close(e.stopped)
	return err
}

func (e *Engine) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case req := <-e.broadcastReq:
			err := e.handleBroadcastRequest(ctx, req.payload)
			select {
			case req.resp <- err:
			case <-ctx.Done():
			}

		case req := <-e.sendToReq:
			err := e.handleSendToRequest(ctx, req.payload, req.recipient)
			select {
			case req.resp <- err:
			case <-ctx.Done():
			}

		case ev, ok := <-e.events:
			if !ok {
				return &types.AllClientsDisconnected{}
			}
			e.handleEvent(ctx, ev)
			if e.expectedPeers > 0 && e.reliable.Len() == 0 {
				return &types.AllClientsDisconnected{}
			}

		case deadPeer := <-e.graceFired:
			e.handleGraceExpired(ctx, deadPeer)
		}
	}
}

// handleBroadcastRequest implements Phase A of the agreement protocol
// (spec.md §4.5): allocate a MessageID and this node's own priority,
// queue the message locally, and reliable-broadcast the request.
func (e *Engine) handleBroadcastRequest(ctx context.Context, payload []byte) error {
	localID := e.nextMessageID()
	priority := e.nextPriority()

	qm := newQueuedMessage(payload)
	e.pq.Insert(localID, priority)
	e.queued[localID] = qm

	err := e.reliable.Broadcast(ctx, PriorityRequestArgs{LocalID: localID, Payload: payload})

	// With no peers left to vote, qm's (empty) votes are vacuously a
	// superset of the empty active set - there is no one left to agree
	// with, so this node confirms and delivers its own message
	// unilaterally.
	if qm.votesSuperset(e.reliable.Members()) {
		qm.deliverable = true
		e.confirmPriority(ctx, localID)
		e.tryEmptyPQ(ctx)
	}

	return err
}

func (e *Engine) handleSendToRequest(ctx context.Context, payload []byte, recipient types.NodeID) error {
	return e.reliable.SendTo(ctx, DirectMessageArgs{Payload: payload}, recipient)
}

func (e *Engine) nextMessageID() types.MessageID {
	id := types.MessageID{OriginalSender: e.self, LocalID: e.nextLocalID}
	e.nextLocalID++
	return id
}

func (e *Engine) nextPriority() types.MessagePriority {
	p := types.MessagePriority{Priority: e.nextPriorityProposal, Proposer: e.self}
	e.nextPriorityProposal++
	return p
}

// syncNextPriority implements spec.md §4.5.1: once any agreed priority at
// or above our own counter is observed, jump past it so every future
// proposal from this node sorts after it.
func (e *Engine) syncNextPriority(p types.MessagePriority) {
	if p.Priority >= e.nextPriorityProposal {
		e.nextPriorityProposal = p.Priority + 1
	}
}

// handleEvent runs one step of spec.md §4.4/§4.5 over a single reliable-
// layer event.
func (e *Engine) handleEvent(ctx context.Context, ev MemberEvent) {
	result, delivered, err := e.reliable.ProcessEvent(ctx, ev)
	if err != nil {
		e.handleFailure(ctx, err)
	}
	if !delivered {
		return
	}

	switch v := result.Payload.(type) {
	case PriorityRequestArgs:
		e.proposePriority(ctx, v)
	case PriorityProposalArgs:
		e.processProposal(ctx, v)
	case PriorityMessageArgs:
		e.processFinalPriority(ctx, v)
	case DirectMessageArgs:
		e.deliverApplication(ctx, v.Payload)
	default:
		e.log.Errorf("unhandled variant %T from %s", result.Payload, result.From)
	}
}

// proposePriority is Phase B (spec.md §4.5): a receiver proposes its own
// priority for a freshly-seen message and sends it directly back to the
// requester.
func (e *Engine) proposePriority(ctx context.Context, req PriorityRequestArgs) {
	requesterLocalID := req.LocalID
	if e.pq.Contains(requesterLocalID) {
		e.log.Warnf("duplicate priority request for %s, ignoring", requesterLocalID)
		return
	}

	priority := e.nextPriority()
	recipient := requesterLocalID.OriginalSender

	e.pq.Insert(requesterLocalID, priority)
	e.queued[requesterLocalID] = newQueuedMessage(req.Payload)

	proposal := PriorityProposalArgs{RequesterLocalID: requesterLocalID, Priority: priority}
	if err := e.reliable.SendTo(ctx, proposal, recipient); err != nil {
		e.log.Warnf("failed to send priority proposal for %s to %s: %v", requesterLocalID, recipient, err)
	}
}

// processProposal is Phase C's vote-counting half (spec.md §4.5): tally
// one incoming proposal against the originator's own queued message,
// taking the maximum priority seen so far, and confirm once every live
// peer has voted.
func (e *Engine) processProposal(ctx context.Context, proposal PriorityProposalArgs) {
	mid := proposal.RequesterLocalID
	qm, ok := e.queued[mid]
	if !ok {
		e.log.Errorf("priority proposal for unknown message %s from %s", mid, proposal.Priority.Proposer)
		return
	}

	e.pq.IncreaseOrInsert(mid, proposal.Priority)
	qm.addVoter(proposal.Priority.Proposer)

	if !qm.deliverable && qm.votesSuperset(e.reliable.Members()) {
		qm.deliverable = true
		e.confirmPriority(ctx, mid)
		e.tryEmptyPQ(ctx)
	}
}

// confirmPriority broadcasts the final agreed priority for a message this
// node originated, reading it back from the PQ (which always holds the
// maximum of every vote observed by this point).
func (e *Engine) confirmPriority(ctx context.Context, mid types.MessageID) {
	priority, ok := e.pq.Priority(mid)
	if !ok {
		e.log.Errorf("confirmPriority: %s missing from priority queue", mid)
		return
	}
	final := PriorityMessageArgs{LocalID: mid, Priority: priority}
	if err := e.reliable.Broadcast(ctx, final); err != nil {
		e.handleFailure(ctx, err)
	}
}

// processFinalPriority handles an incoming final PriorityMessage (Phase C
// at every other receiver): synchronize the local priority counter,
// adopt the agreed priority, mark the entry deliverable, and drain.
func (e *Engine) processFinalPriority(ctx context.Context, v PriorityMessageArgs) {
	e.syncNextPriority(v.Priority)

	qm, ok := e.queued[v.LocalID]
	if !ok {
		e.log.Errorf("final priority message for unknown message %s", v.LocalID)
		return
	}

	qm.deliverable = true
	e.pq.IncreaseOrInsert(v.LocalID, v.Priority)
	e.tryEmptyPQ(ctx)
}

// tryEmptyPQ implements the PQ drain rule from spec.md §4.5: while the
// current minimum is deliverable, pop it and hand its payload to the
// application, stopping at the first non-deliverable top (I3).
func (e *Engine) tryEmptyPQ(ctx context.Context) {
	for {
		mid, _, ok := e.pq.PeekMin()
		if !ok {
			return
		}
		qm, ok := e.queued[mid]
		if !ok {
			e.log.Errorf("pq top %s has no queued_messages entry, dropping", mid)
			e.pq.PopMin()
			continue
		}
		if !qm.deliverable {
			return
		}

		e.pq.PopMin()
		delete(e.queued, mid)
		e.deliverApplication(ctx, qm.payload)
	}
}

func (e *Engine) deliverApplication(ctx context.Context, payload []byte) {
	select {
	case e.deliverCh <- payload:
	case <-ctx.Done():
	}
}

// handleFailure implements spec.md §4.5.2 steps 1-2: evict every dead
// peer named by err, then recheck whether that shrinks any message's
// outstanding vote set down to nothing.
func (e *Engine) handleFailure(ctx context.Context, err error) {
	var bcastErr *types.BroadcastError
	var disc *types.ClientDisconnected

	switch {
	case errors.As(err, &bcastErr):
		for _, id := range bcastErr.Failed {
			e.removeNode(ctx, id)
		}
	case errors.As(err, &disc):
		e.removeNode(ctx, disc.Peer)
	default:
		e.log.Errorf("unexpected protocol error: %v", err)
		return
	}

	e.recheckDeliveryStatus(ctx)
	e.tryEmptyPQ(ctx)
}

// removeNode evicts a dead peer from the active set and schedules the
// grace-period flush timer for it (spec.md §4.5.2 step 3). It is a no-op
// if the peer was already evicted, so a second failure naming the same
// peer does not spawn a second timer.
func (e *Engine) removeNode(ctx context.Context, id types.NodeID) {
	if _, stillActive := e.reliable.Members()[id]; !stillActive {
		return
	}
	e.reliable.RemoveMember(id)
	e.log.Warnf("evicted dead peer %s, grace period %s", id, e.gracePeriod)

	grace := e.gracePeriod
	fired := e.graceFired
	go func() {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
		select {
		case fired <- id:
		case <-ctx.Done():
		}
	}()
}

// recheckDeliveryStatus implements spec.md §4.5.2 step 2: walk every
// queued message and confirm any whose votes now form a superset of the
// shrunken active set. In practice this only ever fires for messages
// this node originated, since votes are only ever populated by proposals
// sent directly back to their requester.
func (e *Engine) recheckDeliveryStatus(ctx context.Context) {
	active := e.reliable.Members()
	var toConfirm []types.MessageID
	for mid, qm := range e.queued {
		if !qm.deliverable && qm.votesSuperset(active) {
			qm.deliverable = true
			toConfirm = append(toConfirm, mid)
		}
	}
	for _, mid := range toConfirm {
		e.confirmPriority(ctx, mid)
	}
}

// handleGraceExpired implements spec.md §4.5.2 step 3: flush every
// still-undeliverable message originated by deadPeer, unblocking PQ
// drain of whatever is queued behind it.
func (e *Engine) handleGraceExpired(ctx context.Context, deadPeer types.NodeID) {
	var toFlush []types.MessageID
	for mid, qm := range e.queued {
		if mid.OriginalSender == deadPeer && !qm.deliverable {
			toFlush = append(toFlush, mid)
		}
	}
	for _, mid := range toFlush {
		e.pq.Remove(mid)
		delete(e.queued, mid)
	}
	e.tryEmptyPQ(ctx)
}
