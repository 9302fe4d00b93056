package codec_test

import (
	"bytes"
	"testing"

	"github.com/momentics/vrend/core/codec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf := make([]byte, 64)
	enc := codec.NewEncoder(buf)
	if err := enc.WriteFrame(7, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteFrame(9, []byte("world!")); err != nil {
		t.Fatal(err)
	}

	dec := codec.NewDecoder(enc.Written())
	f1, ok, err := dec.Next()
	if err != nil || !ok {
		t.Fatalf("frame1: ok=%v err=%v", ok, err)
	}
	if f1.Opcode != 7 || !bytes.Equal(f1.Payload, []byte("hello")) {
		t.Fatalf("frame1 = %+v", f1)
	}

	f2, ok, err := dec.Next()
	if err != nil || !ok {
		t.Fatalf("frame2: ok=%v err=%v", ok, err)
	}
	if f2.Opcode != 9 || !bytes.Equal(f2.Payload, []byte("world!")) {
		t.Fatalf("frame2 = %+v", f2)
	}

	_, ok, err = dec.Next()
	if ok || err != nil {
		t.Fatalf("expected clean end of buffer, got ok=%v err=%v", ok, err)
	}
}

func TestDecodeTruncatedHeaderIsFatal(t *testing.T) {
	dec := codec.NewDecoder([]byte{1, 2, 3})
	_, ok, err := dec.Next()
	if ok || err != codec.ErrTruncated {
		t.Fatalf("ok=%v err=%v, want ErrTruncated", ok, err)
	}
}

func TestDecodeTruncatedPayloadIsFatal(t *testing.T) {
	buf := make([]byte, 64)
	enc := codec.NewEncoder(buf)
	enc.WriteFrame(1, []byte("0123456789"))
	written := enc.Written()
	// Drop the last 3 payload bytes so the declared length overruns the buffer.
	truncated := written[:len(written)-3]

	dec := codec.NewDecoder(truncated)
	_, ok, err := dec.Next()
	if ok || err != codec.ErrTruncated {
		t.Fatalf("ok=%v err=%v, want ErrTruncated", ok, err)
	}
}

func TestEncodeOverflowFails(t *testing.T) {
	buf := make([]byte, 10)
	enc := codec.NewEncoder(buf)
	if err := enc.WriteFrame(1, []byte("this payload is too long")); err != codec.ErrOverflow {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
}

func TestDecodedPayloadAliasesSourceBuffer(t *testing.T) {
	buf := make([]byte, 32)
	enc := codec.NewEncoder(buf)
	enc.WriteFrame(1, []byte("abc"))

	dec := codec.NewDecoder(enc.Written())
	f, _, _ := dec.Next()
	f.Payload[0] = 'X'
	if buf[8] != 'X' {
		t.Fatal("decoded payload should alias the source buffer, not copy it")
	}
}

func TestRemainingReflectsCursorProgress(t *testing.T) {
	buf := make([]byte, 32)
	enc := codec.NewEncoder(buf)
	enc.WriteFrame(1, []byte("abc"))
	enc.WriteFrame(2, []byte("de"))

	dec := codec.NewDecoder(enc.Written())
	before := dec.Remaining()
	dec.Next()
	after := dec.Remaining()
	if after >= before {
		t.Fatalf("remaining did not shrink: before=%d after=%d", before, after)
	}
}
