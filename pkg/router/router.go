// Package router implements the zrm router core: it terminates session links
// and routes publications, queries and liveliness state between them.
package router

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/link"
	"github.com/JafarAbdi/zrm/pkg/protocol"
)

// Router holds the routing tables for every connected session.
type Router struct {
	mu      sync.Mutex
	conns   map[*conn]struct{}
	pending map[[16]byte]*pendingQuery // query correlation -> in-flight state
}

// pendingQuery remembers who asked and which connections might still answer.
// The entry goes when the first reply lands, when the requester disconnects,
// or when the last possible answerer disconnects.
type pendingQuery struct {
	from    *conn
	targets map[*conn]struct{}
}

func New() *Router {
	return &Router{
		conns:   make(map[*conn]struct{}),
		pending: make(map[[16]byte]*pendingQuery),
	}
}

// Serve accepts streams from the listener until ctx is done. Each stream is
// handled on its own goroutine.
func (r *Router) Serve(ctx context.Context, ln link.Listener) {
	for {
		st, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		go r.HandleStream(st)
	}
}

// HandleStream runs the read loop for one session link until it fails or the
// peer disconnects.
func (r *Router) HandleStream(st link.Stream) {
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
	zap.L().Debug("router: session connected")

	for {
		frame, err := st.RecvBytes()
		if err != nil {
			break
		}
		var env protocol.Envelope
		if err := env.DecodeFrame(frame); err != nil {
			zap.L().Warn("router: bad frame", zap.Error(err))
			continue
		}
		r.dispatch(c, &env, frame)
	}
	r.drop(c)
}

type conn struct {
	st         link.Stream
	mu         sync.Mutex
	subs       map[[16]byte]string // registration id -> selector
	queryables map[[16]byte]string
	tokens     map[[16]byte]string // token id -> key
	livSubs    map[[16]byte]string
}

func (c *conn) send(frame []byte) {
	if err := c.st.SendBytes(frame); err != nil {
		zap.L().Debug("router: send failed", zap.Error(err))
	}
}

func (r *Router) dispatch(c *conn, env *protocol.Envelope, frame []byte) {
	switch env.Op {
	case protocol.OpPub:
		r.fanout(env.Key, frame)
	case protocol.OpSub:
		c.mu.Lock()
		c.subs[env.Correlation] = env.Key
		c.mu.Unlock()
	case protocol.OpUnsub:
		c.mu.Lock()
		delete(c.subs, env.Correlation)
		c.mu.Unlock()
	case protocol.OpDeclareQueryable:
		c.mu.Lock()
		c.queryables[env.Correlation] = env.Key
		c.mu.Unlock()
	case protocol.OpUndeclareQueryable:
		c.mu.Lock()
		delete(c.queryables, env.Correlation)
		c.mu.Unlock()
	case protocol.OpQuery:
		r.routeQuery(c, env, frame)
	case protocol.OpReply:
		r.routeReply(env, frame)
	case protocol.OpLivDeclare:
		c.mu.Lock()
		c.tokens[env.Correlation] = env.Key
		c.mu.Unlock()
		r.broadcastLiveliness(protocol.OpLivAlive, env.Key)
	case protocol.OpLivUndeclare:
		c.mu.Lock()
		key, ok := c.tokens[env.Correlation]
		delete(c.tokens, env.Correlation)
		c.mu.Unlock()
		if ok {
			r.broadcastLiveliness(protocol.OpLivGone, key)
		}
	case protocol.OpLivSub:
		c.mu.Lock()
		c.livSubs[env.Correlation] = env.Key
		c.mu.Unlock()
	case protocol.OpLivUnsub:
		c.mu.Lock()
		delete(c.livSubs, env.Correlation)
		c.mu.Unlock()
	case protocol.OpLivQuery:
		r.answerLivelinessQuery(c, env)
	default:
		zap.L().Warn("router: unknown op", zap.Uint8("op", env.Op))
	}
}

// fanout forwards a publication to every connection with at least one
// matching subscription, including the publisher's own.
func (r *Router) fanout(key string, frame []byte) {
	r.mu.Lock()
	var targets []*conn
	for c := range r.conns {
		c.mu.Lock()
		for _, sel := range c.subs {
			if keyexpr.Matches(sel, key) {
				targets = append(targets, c)
				break
			}
		}
		c.mu.Unlock()
	}
	r.mu.Unlock()
	for _, c := range targets {
		c.send(frame)
	}
}

// routeQuery forwards a query to every connection with a matching queryable
// and remembers the requester; the first reply wins.
func (r *Router) routeQuery(from *conn, env *protocol.Envelope, frame []byte) {
	r.mu.Lock()
	var targets []*conn
	for c := range r.conns {
		c.mu.Lock()
		for _, sel := range c.queryables {
			if keyexpr.Matches(sel, env.Key) || keyexpr.Matches(env.Key, sel) {
				targets = append(targets, c)
				break
			}
		}
		c.mu.Unlock()
	}
	if len(targets) > 0 {
		pq := &pendingQuery{from: from, targets: make(map[*conn]struct{}, len(targets))}
		for _, c := range targets {
			pq.targets[c] = struct{}{}
		}
		r.pending[env.Correlation] = pq
	}
	r.mu.Unlock()
	// No target: drop and let the querier time out, matching a query on a
	// selector nobody serves.
	for _, c := range targets {
		c.send(frame)
	}
}

func (r *Router) routeReply(env *protocol.Envelope, frame []byte) {
	r.mu.Lock()
	pq, ok := r.pending[env.Correlation]
	delete(r.pending, env.Correlation)
	r.mu.Unlock()
	if ok {
		pq.from.send(frame)
	}
}

func (r *Router) broadcastLiveliness(op uint8, key string) {
	out := protocol.Envelope{Version: protocol.Version, Op: op, Key: key}
	frame, err := out.EncodeFrame()
	if err != nil {
		return
	}
	r.mu.Lock()
	var targets []*conn
	for c := range r.conns {
		c.mu.Lock()
		for _, sel := range c.livSubs {
			if keyexpr.Matches(sel, key) {
				targets = append(targets, c)
				break
			}
		}
		c.mu.Unlock()
	}
	r.mu.Unlock()
	for _, c := range targets {
		c.send(frame)
	}
}

func (r *Router) answerLivelinessQuery(c *conn, env *protocol.Envelope) {
	r.mu.Lock()
	var keys []string
	for cc := range r.conns {
		cc.mu.Lock()
		for _, key := range cc.tokens {
			if keyexpr.Matches(env.Key, key) {
				keys = append(keys, key)
			}
		}
		cc.mu.Unlock()
	}
	r.mu.Unlock()
	payload, err := codec.Default().Marshal(keys)
	if err != nil {
		return
	}
	out := protocol.Envelope{
		Version:     protocol.Version,
		Op:          protocol.OpLivReply,
		Correlation: env.Correlation,
		Key:         env.Key,
		Payload:     payload,
	}
	frame, err := out.EncodeFrame()
	if err != nil {
		return
	}
	c.send(frame)
}

// drop removes a disconnected session: its liveliness tokens go down, its
// own pending queries are forgotten, and queries it was the last remaining
// answerer for are forgotten too.
func (r *Router) drop(c *conn) {
	r.mu.Lock()
	delete(r.conns, c)
	for corr, pq := range r.pending {
		if pq.from == c {
			delete(r.pending, corr)
			continue
		}
		delete(pq.targets, c)
		if len(pq.targets) == 0 {
			delete(r.pending, corr)
		}
	}
	r.mu.Unlock()

	c.mu.Lock()
	tokens := make([]string, 0, len(c.tokens))
	for _, key := range c.tokens {
		tokens = append(tokens, key)
	}
	c.tokens = map[[16]byte]string{}
	c.mu.Unlock()
	for _, key := range tokens {
		r.broadcastLiveliness(protocol.OpLivGone, key)
	}
	_ = c.st.Close()
	zap.L().Debug("router: session disconnected", zap.Int("tokens_down", len(tokens)))
}
