package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	messages := [][]byte{
		[]byte("first"),
		[]byte{},
		[]byte("a longer payload to make sure multi-byte lengths work correctly"),
	}
	for _, m := range messages {
		if err := writeFrame(&buf, m); err != nil {
			t.Fatalf("writeFrame: %v", err)
		}
	}

	fr := newFrameReader(&buf)
	for i, want := range messages {
		got, err := fr.readFrame()
		if err != nil {
			t.Fatalf("readFrame() #%d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("readFrame() #%d = %q, want %q", i, got, want)
		}
	}

	if _, err := fr.readFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("readFrame() at end of stream = %v, want io.EOF", err)
	}
}

func TestFrameReaderRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], maxFrameSize+1)
	buf.Write(lenBuf[:])

	fr := newFrameReader(&buf)
	if _, err := fr.readFrame(); err == nil {
		t.Error("readFrame should reject a length prefix over maxFrameSize")
	}
}

func TestFrameReaderPropagatesPartialReadError(t *testing.T) {
	// A length prefix promising more payload bytes than are actually present
	// should surface as an error, not a short read.
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 10)
	buf.Write(lenBuf[:])
	buf.Write([]byte("short"))

	fr := newFrameReader(&buf)
	if _, err := fr.readFrame(); err == nil {
		t.Error("readFrame should fail when fewer payload bytes are available than declared")
	}
}
