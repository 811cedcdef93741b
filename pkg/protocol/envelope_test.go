package protocol

import (
	"bytes"
	"testing"
)

func TestEnvelopeFrameRoundtrip(t *testing.T) {
	e := Envelope{
		Version:     Version,
		Op:          OpQuery,
		Flags:       0,
		Correlation: NewCorrelation(),
		Key:         "zrm/0/service/add_two_ints",
		Payload:     []byte("hello"),
	}
	frame, err := e.EncodeFrame()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var d Envelope
	if err := d.DecodeFrame(frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Op != e.Op || d.Flags != e.Flags || d.Key != e.Key {
		t.Fatalf("header mismatch: %#v vs %#v", d, e)
	}
	if !bytes.Equal(d.Correlation[:], e.Correlation[:]) {
		t.Fatalf("correlation mismatch")
	}
	if !bytes.Equal(d.Payload, e.Payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestEnvelopeEmptyKeyAndPayload(t *testing.T) {
	e := Envelope{Version: Version, Op: OpLivUnsub, Correlation: NewCorrelation()}
	frame, err := e.EncodeFrame()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var d Envelope
	if err := d.DecodeFrame(frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Key != "" || len(d.Payload) != 0 {
		t.Fatalf("want empty key/payload, got %#v", d)
	}
}

func TestEnvelopeDecodeErrors(t *testing.T) {
	var d Envelope
	if err := d.DecodeFrame([]byte{1, 2, 3}); err != ErrShortFrame {
		t.Fatalf("short frame: %v", err)
	}
	bad := make([]byte, headerSize)
	if err := d.DecodeFrame(bad); err != ErrBadMagic {
		t.Fatalf("bad magic: %v", err)
	}
	e := Envelope{Version: Version, Op: OpPub, Key: "k", Payload: []byte("data")}
	frame, _ := e.EncodeFrame()
	if err := d.DecodeFrame(frame[:len(frame)-1]); err == nil {
		t.Fatalf("truncated frame accepted")
	}
}

func TestFlags(t *testing.T) {
	var e Envelope
	e.SetFlag(FlagErr, true)
	if !e.HasFlag(FlagErr) {
		t.Fatalf("flag not set")
	}
	e.SetFlag(FlagErr, false)
	if e.HasFlag(FlagErr) {
		t.Fatalf("flag not cleared")
	}
}

func TestCorrelationUniqueness(t *testing.T) {
	a, b := NewCorrelation(), NewCorrelation()
	if a == b {
		t.Fatalf("correlations collided")
	}
}
