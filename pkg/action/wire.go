package action

// Wire envelopes for the four action channels. All four travel CBOR-encoded
// and carry the goal id so concurrent goals never cross.

type goalRequest struct {
	GoalID string `cbor:"goal_id"`
	Schema string `cbor:"schema"`
	Goal   []byte `cbor:"goal"`
}

type goalReply struct {
	Accepted bool   `cbor:"accepted"`
	GoalID   string `cbor:"goal_id"`
	Error    string `cbor:"error,omitempty"`
}

type cancelRequest struct {
	GoalID string `cbor:"goal_id"`
}

type cancelReply struct {
	Canceling bool `cbor:"canceling"`
}

// resultRequest carries the client's wait budget so the server can hold the
// query open instead of forcing the client to poll.
type resultRequest struct {
	GoalID    string `cbor:"goal_id"`
	TimeoutMS int64  `cbor:"timeout_ms"`
}

type resultReply struct {
	Status   uint8  `cbor:"status"`
	NotReady bool   `cbor:"not_ready,omitempty"`
	Schema   string `cbor:"schema,omitempty"`
	Data     []byte `cbor:"data,omitempty"`
	Error    string `cbor:"error,omitempty"`
}

type feedbackMessage struct {
	GoalID string `cbor:"goal_id"`
	Schema string `cbor:"schema"`
	Data   []byte `cbor:"data"`
}
