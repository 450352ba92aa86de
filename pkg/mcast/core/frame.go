package core

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameSize bounds a single frame's payload so a corrupt length prefix
// cannot make the reader try to allocate an unbounded buffer.
const maxFrameSize = 64 << 20 // 64 MiB

// frameReader reads length-prefixed frames off a buffered byte stream: a
// 4-byte big-endian unsigned length followed by that many payload bytes,
// as specified in spec.md §4.1 and §6.2.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReader(r)}
}

// readFrame blocks until a full frame is available, returning its
// payload. io.EOF is returned verbatim so the caller can distinguish a
// clean peer shutdown from a corrupt stream.
func (f *frameReader) readFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame: length %d exceeds maximum %d", n, maxFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes payload as a single length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
