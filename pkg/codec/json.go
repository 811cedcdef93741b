package codec

import "encoding/json"

// JSON returns a JSON codec. It is not the wire default (samples travel as
// canonical CBOR); it serves tool boundaries such as zrm-ctl output, where
// humans read the bytes.
func JSON() Codec { return jsonCodec{} }

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
