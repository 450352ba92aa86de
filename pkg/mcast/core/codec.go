package core

import (
	"encoding/binary"
	"fmt"

	"github.com/nkaush/go-mcast/pkg/mcast/types"
)

// variantTag is the on-wire discriminator for the tagged union described
// in spec.md §6.2. The numeric values are an implementation detail shared
// only between peers running this implementation.
type variantTag byte

const (
	tagPriorityRequest  variantTag = 0
	tagPriorityProposal variantTag = 1
	tagPriorityMessage  variantTag = 2
	tagDirectMessage    variantTag = 3
)

// PriorityRequestArgs is Phase A of the ISIS agreement: the originator
// asking the group to propose a priority for a freshly broadcast message.
type PriorityRequestArgs struct {
	LocalID types.MessageID
	Payload []byte
}

// PriorityProposalArgs is Phase B: a receiver's proposed priority for a
// message, sent directly back to the originator.
type PriorityProposalArgs struct {
	RequesterLocalID types.MessageID
	Priority         types.MessagePriority
}

// PriorityMessageArgs is Phase C: the originator's final, agreed priority
// for a message, reliably broadcast to the whole group.
type PriorityMessageArgs struct {
	LocalID  types.MessageID
	Priority types.MessagePriority
}

// DirectMessageArgs carries an application payload sent with SendTo. It
// supplements spec.md's wire table (see SPEC_FULL.md §6.2) so SendTo has a
// network representation distinct from a priority proposal.
type DirectMessageArgs struct {
	Payload []byte
}

// Variant is the closed tagged union of on-wire protocol messages.
// Implementations should switch exhaustively over the concrete type
// rather than use any other form of runtime dispatch.
type Variant interface {
	tag() variantTag
}

func (PriorityRequestArgs) tag() variantTag  { return tagPriorityRequest }
func (PriorityProposalArgs) tag() variantTag { return tagPriorityProposal }
func (PriorityMessageArgs) tag() variantTag  { return tagPriorityMessage }
func (DirectMessageArgs) tag() variantTag    { return tagDirectMessage }

// Envelope is the reliable-layer wrapper around every protocol variant:
// a monotonic sender sequence number for duplicate suppression (nil for
// one-off, non-relayed sends), and the node the message has been
// forwarded on behalf of during relay.
type Envelope struct {
	Payload      Variant
	SequenceNum  *uint64
	ForwardedFor *types.NodeID
}

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func putMessageID(buf []byte, id types.MessageID) []byte {
	buf = putUint32(buf, uint32(id.OriginalSender))
	buf = putUint64(buf, id.LocalID)
	return buf
}

func putPriority(buf []byte, p types.MessagePriority) []byte {
	buf = putUint64(buf, p.Priority)
	buf = putUint32(buf, uint32(p.Proposer))
	return buf
}

func putBytes(buf []byte, data []byte) []byte {
	buf = putUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// EncodeEnvelope produces the canonical binary encoding of env: this is
// the "payload" half of the length-prefixed wire frame in spec.md §6.2.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	buf := make([]byte, 0, 64)

	if env.SequenceNum != nil {
		buf = append(buf, 1)
		buf = putUint64(buf, *env.SequenceNum)
	} else {
		buf = append(buf, 0)
	}

	if env.ForwardedFor != nil {
		buf = append(buf, 1)
		buf = putUint32(buf, uint32(*env.ForwardedFor))
	} else {
		buf = append(buf, 0)
	}

	buf = append(buf, byte(env.Payload.tag()))

	switch v := env.Payload.(type) {
	case PriorityRequestArgs:
		buf = putMessageID(buf, v.LocalID)
		buf = putBytes(buf, v.Payload)
	case PriorityProposalArgs:
		buf = putMessageID(buf, v.RequesterLocalID)
		buf = putPriority(buf, v.Priority)
	case PriorityMessageArgs:
		buf = putMessageID(buf, v.LocalID)
		buf = putPriority(buf, v.Priority)
	case DirectMessageArgs:
		buf = putBytes(buf, v.Payload)
	default:
		return nil, fmt.Errorf("codec: unknown variant %T", env.Payload)
	}

	return buf, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("codec: short buffer, need %d more bytes at offset %d of %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *byteReader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *byteReader) readMessageID() (types.MessageID, error) {
	sender, err := r.readUint32()
	if err != nil {
		return types.MessageID{}, err
	}
	local, err := r.readUint64()
	if err != nil {
		return types.MessageID{}, err
	}
	return types.MessageID{OriginalSender: types.NodeID(sender), LocalID: local}, nil
}

func (r *byteReader) readPriority() (types.MessagePriority, error) {
	pri, err := r.readUint64()
	if err != nil {
		return types.MessagePriority{}, err
	}
	proposer, err := r.readUint32()
	if err != nil {
		return types.MessagePriority{}, err
	}
	return types.MessagePriority{Priority: pri, Proposer: types.NodeID(proposer)}, nil
}

func (r *byteReader) readBytes() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

// DecodeEnvelope parses the canonical binary encoding produced by
// EncodeEnvelope. A malformed buffer returns an error; the caller (the
// per-peer handler) logs and skips a single bad frame rather than tearing
// down the connection, per spec.md §4.1.
func DecodeEnvelope(data []byte) (Envelope, error) {
	r := &byteReader{buf: data}
	var env Envelope

	hasSeq, err := r.readByte()
	if err != nil {
		return env, err
	}
	if hasSeq == 1 {
		seq, err := r.readUint64()
		if err != nil {
			return env, err
		}
		env.SequenceNum = &seq
	}

	hasFwd, err := r.readByte()
	if err != nil {
		return env, err
	}
	if hasFwd == 1 {
		fwd, err := r.readUint32()
		if err != nil {
			return env, err
		}
		nodeID := types.NodeID(fwd)
		env.ForwardedFor = &nodeID
	}

	tagByte, err := r.readByte()
	if err != nil {
		return env, err
	}

	switch variantTag(tagByte) {
	case tagPriorityRequest:
		id, err := r.readMessageID()
		if err != nil {
			return env, err
		}
		payload, err := r.readBytes()
		if err != nil {
			return env, err
		}
		env.Payload = PriorityRequestArgs{LocalID: id, Payload: payload}
	case tagPriorityProposal:
		id, err := r.readMessageID()
		if err != nil {
			return env, err
		}
		pri, err := r.readPriority()
		if err != nil {
			return env, err
		}
		env.Payload = PriorityProposalArgs{RequesterLocalID: id, Priority: pri}
	case tagPriorityMessage:
		id, err := r.readMessageID()
		if err != nil {
			return env, err
		}
		pri, err := r.readPriority()
		if err != nil {
			return env, err
		}
		env.Payload = PriorityMessageArgs{LocalID: id, Priority: pri}
	case tagDirectMessage:
		payload, err := r.readBytes()
		if err != nil {
			return env, err
		}
		env.Payload = DirectMessageArgs{Payload: payload}
	default:
		return env, fmt.Errorf("codec: unknown variant tag %d", tagByte)
	}

	return env, nil
}
