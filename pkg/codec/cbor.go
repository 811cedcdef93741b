package codec

import (
	"sync"

	cbor "github.com/fxamacker/cbor/v2"
)

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// CBOR returns a deterministic CBOR codec (RFC 8949) with the core profile.
func CBOR() (Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

var (
	defaultOnce sync.Once
	defaultCBOR Codec
)

// Default returns the shared CBOR codec used for all middleware wire records.
// The canonical option set cannot fail to build.
func Default() Codec {
	defaultOnce.Do(func() {
		c, err := CBOR()
		if err != nil {
			panic("codec: building canonical cbor mode: " + err.Error())
		}
		defaultCBOR = c
	})
	return defaultCBOR
}
