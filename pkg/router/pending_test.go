package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/JafarAbdi/zrm/pkg/link"
	"github.com/JafarAbdi/zrm/pkg/protocol"
)

// sinkStream records sent frames and is never read from.
type sinkStream struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *sinkStream) SendBytes(b []byte) error {
	s.mu.Lock()
	s.sent = append(s.sent, b)
	s.mu.Unlock()
	return nil
}

func (s *sinkStream) RecvBytes() ([]byte, error) { return nil, errors.New("sink stream") }

func (s *sinkStream) Close() error { return nil }

func (s *sinkStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func attachConn(r *Router, st link.Stream) *conn {
	c := &conn{
		st:         st,
		subs:       make(map[[16]byte]string),
		queryables: make(map[[16]byte]string),
		tokens:     make(map[[16]byte]string),
		livSubs:    make(map[[16]byte]string),
	}
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	return c
}

func sendOp(t *testing.T, r *Router, c *conn, env protocol.Envelope) {
	t.Helper()
	env.Version = protocol.Version
	frame, err := env.EncodeFrame()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r.dispatch(c, &env, frame)
}

func pendingCount(r *Router) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func corr(b byte) (c [16]byte) {
	c[0] = b
	return
}

func TestPendingClearedWhenLastAnswererDisconnects(t *testing.T) {
	r := New()
	requester := attachConn(r, &sinkStream{})
	first := attachConn(r, &sinkStream{})
	second := attachConn(r, &sinkStream{})
	key := "zrm/0/service/add"

	sendOp(t, r, first, protocol.Envelope{Op: protocol.OpDeclareQueryable, Correlation: corr(1), Key: key})
	sendOp(t, r, second, protocol.Envelope{Op: protocol.OpDeclareQueryable, Correlation: corr(2), Key: key})
	sendOp(t, r, requester, protocol.Envelope{Op: protocol.OpQuery, Correlation: corr(3), Key: key})
	if pendingCount(r) != 1 {
		t.Fatalf("pending %d after query", pendingCount(r))
	}

	// One answerer left, the query can still be served.
	r.drop(first)
	if pendingCount(r) != 1 {
		t.Fatalf("pending %d after first answerer left", pendingCount(r))
	}
	r.drop(second)
	if pendingCount(r) != 0 {
		t.Fatalf("pending %d after last answerer left", pendingCount(r))
	}
}

func TestPendingClearedWhenRequesterDisconnects(t *testing.T) {
	r := New()
	reqStream := &sinkStream{}
	requester := attachConn(r, reqStream)
	answerer := attachConn(r, &sinkStream{})
	key := "zrm/0/service/add"

	sendOp(t, r, answerer, protocol.Envelope{Op: protocol.OpDeclareQueryable, Correlation: corr(1), Key: key})
	sendOp(t, r, requester, protocol.Envelope{Op: protocol.OpQuery, Correlation: corr(2), Key: key})
	if pendingCount(r) != 1 {
		t.Fatalf("pending %d after query", pendingCount(r))
	}

	sentBefore := reqStream.sentCount()
	r.drop(requester)
	if pendingCount(r) != 0 {
		t.Fatalf("pending %d after requester left", pendingCount(r))
	}

	// A late reply has nowhere to go and is discarded.
	sendOp(t, r, answerer, protocol.Envelope{Op: protocol.OpReply, Correlation: corr(2), Key: key})
	if reqStream.sentCount() != sentBefore {
		t.Fatal("reply delivered to a disconnected requester")
	}
}

func TestFirstReplyClearsPending(t *testing.T) {
	r := New()
	reqStream := &sinkStream{}
	requester := attachConn(r, reqStream)
	answerer := attachConn(r, &sinkStream{})
	key := "zrm/0/service/add"

	sendOp(t, r, answerer, protocol.Envelope{Op: protocol.OpDeclareQueryable, Correlation: corr(1), Key: key})
	sendOp(t, r, requester, protocol.Envelope{Op: protocol.OpQuery, Correlation: corr(2), Key: key})
	sendOp(t, r, answerer, protocol.Envelope{Op: protocol.OpReply, Correlation: corr(2), Key: key})

	if pendingCount(r) != 0 {
		t.Fatalf("pending %d after reply", pendingCount(r))
	}
	if reqStream.sentCount() != 1 {
		t.Fatalf("requester received %d frames", reqStream.sentCount())
	}
}
