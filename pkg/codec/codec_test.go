package codec

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	in := map[string]any{"a": 1, "b": "x"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"].(float64) != 1 || out["b"].(string) != "x" {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORCodec(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	in := map[string]any{"n": 42}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(out["n"].(uint64)) != 42 && int(out["n"].(float64)) != 42 { // decoder may choose num type
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestProtoCodec(t *testing.T) {
	c := Proto()
	s, err := structpb.NewStruct(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	b, err := c.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out structpb.Struct
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Fields["k"].GetStringValue() != "v" {
		t.Fatalf("roundtrip mismatch")
	}
}

type pose struct {
	X, Y, Theta float64
}

func TestSchemaName(t *testing.T) {
	want := "github.com/JafarAbdi/zrm/pkg/codec.pose"
	if got := SchemaName(pose{}); got != want {
		t.Fatalf("SchemaName(pose{}) = %q, want %q", got, want)
	}
	if got := SchemaName(&pose{}); got != want {
		t.Fatalf("SchemaName(&pose{}) = %q, want %q", got, want)
	}
	if got := SchemaName(&structpb.Struct{}); got != "google.protobuf.Struct" {
		t.Fatalf("SchemaName(structpb) = %q", got)
	}
}

func TestCheckSchema(t *testing.T) {
	if err := CheckSchema(pose{}, SchemaName(pose{})); err != nil {
		t.Fatalf("matching schema rejected: %v", err)
	}
	err := CheckSchema(pose{}, "other.Type")
	var sm *SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("want SchemaMismatchError, got %v", err)
	}
	if sm.Got != "other.Type" {
		t.Fatalf("got field = %q", sm.Got)
	}
}

func TestForPicksCodec(t *testing.T) {
	if ct := For(&structpb.Struct{}).ContentType(); ct != "application/x-protobuf" {
		t.Fatalf("proto message got codec %s", ct)
	}
	if ct := For(pose{}).ContentType(); ct != "application/cbor" {
		t.Fatalf("plain struct got codec %s", ct)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Get("application/json") == nil {
		t.Fatalf("json codec missing")
	}
	if r.Get("application/cbor") == nil {
		t.Fatalf("cbor codec missing")
	}
	if r.Get("application/x-protobuf") == nil {
		t.Fatalf("proto codec missing")
	}
	if r.Get("application/unknown") != nil {
		t.Fatalf("unknown codec present")
	}
}
