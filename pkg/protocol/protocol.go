// Package protocol defines the binary frames exchanged between a zrm session
// and the zrm router. One frame is a fixed header, the key expression bytes
// and an opaque payload.
package protocol

import "github.com/google/uuid"

// Op identifies the purpose of a frame (fits in uint8).
const (
	OpUnknown uint8 = iota
	OpPub           // publication: key + payload
	OpSub           // subscribe corr to selector
	OpUnsub         // drop subscription corr
	OpQuery         // query corr on selector with payload
	OpReply         // reply to query corr (FlagErr: payload is error text)
	OpDeclareQueryable
	OpUndeclareQueryable
	OpLivDeclare // assert liveliness token corr on key
	OpLivUndeclare
	OpLivSub // subscribe corr to liveliness state on selector
	OpLivUnsub
	OpLivAlive // token on key appeared
	OpLivGone  // token on key disappeared
	OpLivQuery // query corr for alive tokens matching selector
	OpLivReply // reply: CBOR []string of keys
)

// Flags bitmask (uint32).
const (
	FlagErr uint32 = 1 << 0 // reply payload carries an error message
)

// NewCorrelation generates a random 16-byte id for queries and registrations.
func NewCorrelation() [16]byte { return uuid.New() }
