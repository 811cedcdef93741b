// Package codec serializes typed messages and enforces schema identity for
// payloads crossing the wire.
package codec

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

// Codec defines a simple interface for marshaling typed messages.
// Implementations should be deterministic and safe for cross-node exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// SchemaMismatchError reports that a wire payload's declared schema does not
// match the statically expected one. Mismatches are never silently coerced.
type SchemaMismatchError struct {
	Want string
	Got  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("codec: schema mismatch: want %s, got %s", e.Want, e.Got)
}

// SchemaName returns the stable schema identity of a value: the protobuf
// descriptor full name for proto messages, the reflected package-qualified
// type name otherwise. Pointers are unwrapped so *T and T agree.
func SchemaName(v any) string {
	if m, ok := v.(proto.Message); ok {
		return string(m.ProtoReflect().Descriptor().FullName())
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// CheckSchema compares a declared wire schema against the expected value's
// schema and returns a SchemaMismatchError on disagreement.
func CheckSchema(want any, got string) error {
	if w := SchemaName(want); w != got {
		return &SchemaMismatchError{Want: w, Got: got}
	}
	return nil
}

// For picks the codec for a payload value: protobuf for proto messages,
// CBOR for everything else.
func For(v any) Codec {
	if _, ok := v.(proto.Message); ok {
		return Proto()
	}
	return Default()
}

// Registry maps content type aliases to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	r.Register(Default())
	return r
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
