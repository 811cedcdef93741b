// Package remote implements the transport substrate over a single link
// connection to a zrm router. One goroutine reads frames and dispatches;
// writes share the stream's own send path.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/link"
	"github.com/JafarAbdi/zrm/pkg/link/quic"
	"github.com/JafarAbdi/zrm/pkg/link/tcp"
	"github.com/JafarAbdi/zrm/pkg/protocol"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// Dial connects to a router over the given link kind ("tcp" or "quic").
func Dial(ctx context.Context, kind, address string) (*Transport, error) {
	var l link.Link
	switch kind {
	case "tcp", "":
		l = tcp.New()
	case "quic":
		l = quic.New()
	default:
		return nil, fmt.Errorf("remote: unknown link kind %q", kind)
	}
	st, err := l.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s %s: %w", l.Kind(), address, err)
	}
	return NewOverStream(st), nil
}

// NewOverStream wraps an established stream. Used by Dial and by tests that
// pair a transport directly with a router.
func NewOverStream(st link.Stream) *Transport {
	t := &Transport{
		st:         st,
		subs:       make(map[[16]byte]*subState),
		livSubs:    make(map[[16]byte]*subState),
		queryables: make(map[[16]byte]*queryableState),
		queries:    make(map[[16]byte]chan queryOutcome),
	}
	go t.readLoop()
	return t
}

type queryOutcome struct {
	payload []byte
	err     error
}

type Transport struct {
	st link.Stream

	mu         sync.Mutex
	subs       map[[16]byte]*subState
	livSubs    map[[16]byte]*subState
	queryables map[[16]byte]*queryableState
	queries    map[[16]byte]chan queryOutcome
	closed     bool
}

type subState struct {
	selector   string
	q          *fifo
	handler    transport.Handler
	livHandler transport.LivelinessHandler
}

type queryableState struct {
	selector string
	h        transport.QueryHandler
}

func (t *Transport) send(env *protocol.Envelope) error {
	frame, err := env.EncodeFrame()
	if err != nil {
		return err
	}
	return t.st.SendBytes(frame)
}

func (t *Transport) readLoop() {
	for {
		frame, err := t.st.RecvBytes()
		if err != nil {
			break
		}
		var env protocol.Envelope
		if err := env.DecodeFrame(frame); err != nil {
			zap.L().Warn("remote: bad frame", zap.Error(err))
			continue
		}
		t.dispatch(&env)
	}
	t.shutdown()
}

func (t *Transport) dispatch(env *protocol.Envelope) {
	switch env.Op {
	case protocol.OpPub:
		payload := append([]byte(nil), env.Payload...)
		t.mu.Lock()
		smp := transport.Sample{Key: env.Key, Payload: payload}
		for _, s := range t.subs {
			if keyexpr.Matches(s.selector, smp.Key) {
				sub := s
				sub.q.push(func() { sub.deliver(smp) })
			}
		}
		t.mu.Unlock()
	case protocol.OpReply, protocol.OpLivReply:
		var out queryOutcome
		if env.HasFlag(protocol.FlagErr) {
			out.err = errors.New(string(env.Payload))
		} else {
			out.payload = append([]byte(nil), env.Payload...)
		}
		t.mu.Lock()
		ch, ok := t.queries[env.Correlation]
		delete(t.queries, env.Correlation)
		t.mu.Unlock()
		if ok {
			ch <- out
		}
	case protocol.OpLivAlive, protocol.OpLivGone:
		alive := env.Op == protocol.OpLivAlive
		key := env.Key
		t.mu.Lock()
		for _, s := range t.livSubs {
			if keyexpr.Matches(s.selector, key) {
				h := s
				s.q.push(func() { h.deliverLiveliness(key, alive) })
			}
		}
		t.mu.Unlock()
	case protocol.OpQuery:
		t.answerQuery(env)
	default:
		zap.L().Warn("remote: unexpected op", zap.Uint8("op", env.Op))
	}
}

// answerQuery runs the first matching local queryable and replies with its
// result, or with an error reply when the handler fails.
func (t *Transport) answerQuery(env *protocol.Envelope) {
	t.mu.Lock()
	var qh transport.QueryHandler
	for _, q := range t.queryables {
		if keyexpr.Matches(q.selector, env.Key) || keyexpr.Matches(env.Key, q.selector) {
			qh = q.h
			break
		}
	}
	t.mu.Unlock()
	if qh == nil {
		return
	}
	payload := append([]byte(nil), env.Payload...)
	corr := env.Correlation
	key := env.Key
	go func() {
		rep, err := qh(payload)
		out := protocol.Envelope{Version: protocol.Version, Op: protocol.OpReply, Correlation: corr, Key: key}
		if err != nil {
			out.SetFlag(protocol.FlagErr, true)
			out.Payload = []byte(err.Error())
		} else {
			out.Payload = rep
		}
		if err := t.send(&out); err != nil {
			zap.L().Debug("remote: reply send failed", zap.Error(err))
		}
	}()
}

// shutdown fails every pending query and stops delivery workers after the
// read loop exits.
func (t *Transport) shutdown() {
	t.mu.Lock()
	t.closed = true
	queries := t.queries
	t.queries = map[[16]byte]chan queryOutcome{}
	subs := t.subs
	livSubs := t.livSubs
	t.subs = map[[16]byte]*subState{}
	t.livSubs = map[[16]byte]*subState{}
	t.mu.Unlock()
	for _, ch := range queries {
		ch <- queryOutcome{err: api.ErrClosed}
	}
	for _, s := range subs {
		s.q.stop()
	}
	for _, s := range livSubs {
		s.q.stop()
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ---- transport.Transport ----

func (t *Transport) Publish(key string, payload []byte) error {
	if t.isClosed() {
		return api.ErrClosed
	}
	return t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpPub, Key: key, Payload: payload})
}

func (t *Transport) Subscribe(key string, h transport.Handler) (transport.Subscription, error) {
	if t.isClosed() {
		return nil, api.ErrClosed
	}
	corr := protocol.NewCorrelation()
	s := &subState{selector: key}
	s.handler = h
	s.q = newFifo()
	t.mu.Lock()
	t.subs[corr] = s
	t.mu.Unlock()
	if err := t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpSub, Correlation: corr, Key: key}); err != nil {
		t.mu.Lock()
		delete(t.subs, corr)
		t.mu.Unlock()
		s.q.stop()
		return nil, err
	}
	return &registration{t: t, corr: corr, undeclare: protocol.OpUnsub, cleanup: func() {
		t.mu.Lock()
		delete(t.subs, corr)
		t.mu.Unlock()
		s.q.stop()
	}}, nil
}

func (t *Transport) Query(selector string, payload []byte, timeout time.Duration) ([]byte, error) {
	if t.isClosed() {
		return nil, api.ErrClosed
	}
	corr := protocol.NewCorrelation()
	ch := make(chan queryOutcome, 1)
	t.mu.Lock()
	t.queries[corr] = ch
	t.mu.Unlock()
	err := t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpQuery, Correlation: corr, Key: selector, Payload: payload})
	if err != nil {
		t.mu.Lock()
		delete(t.queries, corr)
		t.mu.Unlock()
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		if out.err != nil {
			if errors.Is(out.err, api.ErrClosed) {
				return nil, out.err
			}
			return nil, &api.QueryError{Selector: selector, Message: out.err.Error()}
		}
		return out.payload, nil
	case <-timer.C:
		t.mu.Lock()
		delete(t.queries, corr)
		t.mu.Unlock()
		return nil, api.ErrTimeout
	}
}

func (t *Transport) DeclareQueryable(selector string, h transport.QueryHandler) (transport.Queryable, error) {
	if t.isClosed() {
		return nil, api.ErrClosed
	}
	corr := protocol.NewCorrelation()
	t.mu.Lock()
	t.queryables[corr] = &queryableState{selector: selector, h: h}
	t.mu.Unlock()
	if err := t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpDeclareQueryable, Correlation: corr, Key: selector}); err != nil {
		t.mu.Lock()
		delete(t.queryables, corr)
		t.mu.Unlock()
		return nil, err
	}
	return &registration{t: t, corr: corr, undeclare: protocol.OpUndeclareQueryable, cleanup: func() {
		t.mu.Lock()
		delete(t.queryables, corr)
		t.mu.Unlock()
	}}, nil
}

func (t *Transport) LivelinessDeclare(key string) (transport.Token, error) {
	if t.isClosed() {
		return nil, api.ErrClosed
	}
	corr := protocol.NewCorrelation()
	if err := t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpLivDeclare, Correlation: corr, Key: key}); err != nil {
		return nil, err
	}
	return &registration{t: t, corr: corr, undeclare: protocol.OpLivUndeclare, cleanup: func() {}}, nil
}

func (t *Transport) LivelinessSubscribe(prefix string, h transport.LivelinessHandler) (transport.Subscription, error) {
	if t.isClosed() {
		return nil, api.ErrClosed
	}
	corr := protocol.NewCorrelation()
	s := &subState{selector: prefix}
	s.livHandler = h
	s.q = newFifo()
	t.mu.Lock()
	t.livSubs[corr] = s
	t.mu.Unlock()
	if err := t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpLivSub, Correlation: corr, Key: prefix}); err != nil {
		t.mu.Lock()
		delete(t.livSubs, corr)
		t.mu.Unlock()
		s.q.stop()
		return nil, err
	}
	return &registration{t: t, corr: corr, undeclare: protocol.OpLivUnsub, cleanup: func() {
		t.mu.Lock()
		delete(t.livSubs, corr)
		t.mu.Unlock()
		s.q.stop()
	}}, nil
}

func (t *Transport) LivelinessQuery(prefix string, timeout time.Duration) ([]string, error) {
	if t.isClosed() {
		return nil, api.ErrClosed
	}
	corr := protocol.NewCorrelation()
	ch := make(chan queryOutcome, 1)
	t.mu.Lock()
	t.queries[corr] = ch
	t.mu.Unlock()
	err := t.send(&protocol.Envelope{Version: protocol.Version, Op: protocol.OpLivQuery, Correlation: corr, Key: prefix})
	if err != nil {
		t.mu.Lock()
		delete(t.queries, corr)
		t.mu.Unlock()
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		var keys []string
		if err := codec.Default().Unmarshal(out.payload, &keys); err != nil {
			return nil, err
		}
		return keys, nil
	case <-timer.C:
		t.mu.Lock()
		delete(t.queries, corr)
		t.mu.Unlock()
		return nil, api.ErrTimeout
	}
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	err := t.st.Close()
	// readLoop observes the closed stream and runs shutdown.
	return err
}

// registration is a transport-side handle for any declared entity; Close
// undeclares it on the router and runs local cleanup. Idempotent.
type registration struct {
	t         *Transport
	corr      [16]byte
	undeclare uint8
	cleanup   func()
	once      sync.Once
}

func (r *registration) Close() error {
	r.once.Do(func() {
		if !r.t.isClosed() {
			_ = r.t.send(&protocol.Envelope{Version: protocol.Version, Op: r.undeclare, Correlation: r.corr})
		}
		r.cleanup()
	})
	return nil
}
