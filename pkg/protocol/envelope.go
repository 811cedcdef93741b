package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Fixed header layout (32 bytes) followed by KeyLen key bytes and PayloadLen
// payload bytes. All integer fields are little-endian.
//
//	0  ..1   Magic  'Z''R' (0x5a52)
//	2        Version u8
//	3        Op      u8
//	4  ..7   Flags   u32
//	8  ..23  Correlation [16]byte
//	24 ..25  KeyLen  u16
//	26 ..29  PayloadLen u32
//	30 ..31  Reserved
const (
	headerSize = 32
	magicWord  = uint16(0x5a52) // 'Z''R'

	// MaxPayload guards against absurd allocations on decode; it matches the
	// link-layer frame cap.
	MaxPayload = 1 << 24
)

// Version of the wire protocol.
const Version = 1

var (
	ErrShortFrame = errors.New("protocol: short frame")
	ErrBadMagic   = errors.New("protocol: bad magic")
	ErrOversize   = errors.New("protocol: payload too large")
)

// Envelope is one routed frame.
type Envelope struct {
	Version     uint8
	Op          uint8
	Flags       uint32
	Correlation [16]byte
	Key         string
	Payload     []byte
}

// HasFlag checks whether a flag is set.
func (e *Envelope) HasFlag(flag uint32) bool { return (e.Flags & flag) != 0 }

// SetFlag sets/unsets a flag.
func (e *Envelope) SetFlag(flag uint32, on bool) {
	if on {
		e.Flags |= flag
	} else {
		e.Flags &^= flag
	}
}

// EncodeFrame returns header + key + payload as a single byte slice.
func (e *Envelope) EncodeFrame() ([]byte, error) {
	if len(e.Key) > 0xffff {
		return nil, errors.New("protocol: key too long")
	}
	if len(e.Payload) > MaxPayload {
		return nil, ErrOversize
	}
	buf := make([]byte, headerSize+len(e.Key)+len(e.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], magicWord)
	buf[2] = e.Version
	buf[3] = e.Op
	binary.LittleEndian.PutUint32(buf[4:8], e.Flags)
	copy(buf[8:24], e.Correlation[:])
	binary.LittleEndian.PutUint16(buf[24:26], uint16(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[26:30], uint32(len(e.Payload)))
	// 30..31 reserved stays zero
	copy(buf[headerSize:], e.Key)
	copy(buf[headerSize+len(e.Key):], e.Payload)
	return buf, nil
}

// DecodeFrame parses a single frame from buf.
func (e *Envelope) DecodeFrame(buf []byte) error {
	if len(buf) < headerSize {
		return ErrShortFrame
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != magicWord {
		return ErrBadMagic
	}
	e.Version = buf[2]
	e.Op = buf[3]
	e.Flags = binary.LittleEndian.Uint32(buf[4:8])
	copy(e.Correlation[:], buf[8:24])
	keyLen := int(binary.LittleEndian.Uint16(buf[24:26]))
	payloadLen := int(binary.LittleEndian.Uint32(buf[26:30]))
	if payloadLen > MaxPayload {
		return ErrOversize
	}
	if headerSize+keyLen+payloadLen > len(buf) {
		return io.ErrUnexpectedEOF
	}
	e.Key = string(buf[headerSize : headerSize+keyLen])
	e.Payload = append(e.Payload[:0], buf[headerSize+keyLen:headerSize+keyLen+payloadLen]...)
	return nil
}
