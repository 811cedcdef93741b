// Package mem is the in-process transport: a bus shared by every session in
// the process (one bus per domain id). Useful on its own for single-process
// robot graphs and as the default substrate in tests.
package mem

import (
	"sync"
	"time"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

var (
	sharedMu sync.Mutex
	shared   = make(map[int]*Bus)
)

// Shared returns the process-wide bus for a domain, creating it on first use.
// Buses live for the lifetime of the process; sessions connect and disconnect.
func Shared(domain int) *Bus {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	b, ok := shared[domain]
	if !ok {
		b = NewBus()
		shared[domain] = b
	}
	return b
}

// Bus routes publications, queries and liveliness state between the
// transports connected to it.
type Bus struct {
	mu         sync.Mutex
	nextID     uint64
	subs       map[uint64]*subscription
	queryables map[uint64]*queryable
	tokens     map[uint64]*token
	livSubs    map[uint64]*livSub
}

func NewBus() *Bus {
	return &Bus{
		subs:       make(map[uint64]*subscription),
		queryables: make(map[uint64]*queryable),
		tokens:     make(map[uint64]*token),
		livSubs:    make(map[uint64]*livSub),
	}
}

// Connect returns a transport handle attached to the bus. Closing the handle
// undeclares everything registered through it, including liveliness tokens.
func (b *Bus) Connect() transport.Transport {
	return &conn{bus: b}
}

func (b *Bus) id() uint64 { b.nextID++; return b.nextID }

// ---- conn ----

type conn struct {
	bus    *Bus
	mu     sync.Mutex
	owned  []interface{ Close() error }
	closed bool
}

func (c *conn) track(e interface{ Close() error }) {
	c.mu.Lock()
	c.owned = append(c.owned, e)
	c.mu.Unlock()
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	owned := c.owned
	c.owned = nil
	c.mu.Unlock()
	for _, e := range owned {
		_ = e.Close()
	}
	return nil
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) Publish(key string, payload []byte) error {
	if c.isClosed() {
		return api.ErrClosed
	}
	b := c.bus
	b.mu.Lock()
	var targets []*subscription
	for _, s := range b.subs {
		if keyexpr.Matches(s.selector, key) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()
	for _, s := range targets {
		s.push(transport.Sample{Key: key, Payload: payload})
	}
	return nil
}

func (c *conn) Subscribe(key string, h transport.Handler) (transport.Subscription, error) {
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	b := c.bus
	s := &subscription{bus: b, selector: key, h: h, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	b.mu.Lock()
	s.id = b.id()
	b.subs[s.id] = s
	b.mu.Unlock()
	go s.run()
	c.track(s)
	return s, nil
}

func (c *conn) Query(selector string, payload []byte, timeout time.Duration) ([]byte, error) {
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	b := c.bus
	b.mu.Lock()
	var qs []*queryable
	for _, q := range b.queryables {
		if keyexpr.Matches(q.selector, selector) || keyexpr.Matches(selector, q.selector) {
			qs = append(qs, q)
		}
	}
	b.mu.Unlock()

	type outcome struct {
		payload []byte
		err     error
	}
	ch := make(chan outcome, len(qs))
	for _, q := range qs {
		go func(q *queryable) {
			rep, err := q.h(payload)
			ch <- outcome{payload: rep, err: err}
		}(q)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var handlerErr error
	for pending := len(qs); pending > 0; {
		select {
		case o := <-ch:
			pending--
			if o.err == nil {
				return o.payload, nil
			}
			if handlerErr == nil {
				handlerErr = o.err
			}
		case <-timer.C:
			if handlerErr != nil {
				return nil, &api.QueryError{Selector: selector, Message: handlerErr.Error()}
			}
			return nil, api.ErrTimeout
		}
	}
	if handlerErr != nil {
		return nil, &api.QueryError{Selector: selector, Message: handlerErr.Error()}
	}
	// No queryable matched; wait out the window like a networked query would.
	<-timer.C
	return nil, api.ErrTimeout
}

func (c *conn) DeclareQueryable(selector string, h transport.QueryHandler) (transport.Queryable, error) {
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	b := c.bus
	q := &queryable{bus: b, selector: selector, h: h}
	b.mu.Lock()
	q.id = b.id()
	b.queryables[q.id] = q
	b.mu.Unlock()
	c.track(q)
	return q, nil
}

func (c *conn) LivelinessDeclare(key string) (transport.Token, error) {
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	b := c.bus
	t := &token{bus: b, key: key}
	b.mu.Lock()
	t.id = b.id()
	b.tokens[t.id] = t
	subs := b.matchedLivSubsLocked(key)
	b.mu.Unlock()
	for _, ls := range subs {
		ls.push(livEvent{key: key, alive: true})
	}
	c.track(t)
	return t, nil
}

func (c *conn) LivelinessSubscribe(prefix string, h transport.LivelinessHandler) (transport.Subscription, error) {
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	b := c.bus
	ls := &livSub{bus: b, selector: prefix, h: h, done: make(chan struct{})}
	ls.cond = sync.NewCond(&ls.mu)
	b.mu.Lock()
	ls.id = b.id()
	b.livSubs[ls.id] = ls
	b.mu.Unlock()
	go ls.run()
	c.track(ls)
	return ls, nil
}

func (c *conn) LivelinessQuery(prefix string, _ time.Duration) ([]string, error) {
	if c.isClosed() {
		return nil, api.ErrClosed
	}
	b := c.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for _, t := range b.tokens {
		if keyexpr.Matches(prefix, t.key) {
			keys = append(keys, t.key)
		}
	}
	return keys, nil
}

// ---- subscription ----

type subscription struct {
	bus      *Bus
	id       uint64
	selector string
	h        transport.Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []transport.Sample
	closed bool
	once   sync.Once
	done   chan struct{}
}

func (s *subscription) push(smp transport.Sample) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, smp)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// run delivers queued samples one at a time. The queue is unbounded so a slow
// handler delays only its own subscription, never the publisher.
func (s *subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			close(s.done)
			return
		}
		smp := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.h(smp)
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Signal()
		s.mu.Unlock()
		<-s.done
	})
	return nil
}

// ---- queryable ----

type queryable struct {
	bus      *Bus
	id       uint64
	selector string
	h        transport.QueryHandler
	once     sync.Once
}

func (q *queryable) Close() error {
	q.once.Do(func() {
		q.bus.mu.Lock()
		delete(q.bus.queryables, q.id)
		q.bus.mu.Unlock()
	})
	return nil
}

// ---- liveliness ----

type token struct {
	bus  *Bus
	id   uint64
	key  string
	once sync.Once
}

func (t *token) Close() error {
	t.once.Do(func() {
		b := t.bus
		b.mu.Lock()
		delete(b.tokens, t.id)
		subs := b.matchedLivSubsLocked(t.key)
		b.mu.Unlock()
		for _, ls := range subs {
			ls.push(livEvent{key: t.key, alive: false})
		}
	})
	return nil
}

func (b *Bus) matchedLivSubsLocked(key string) []*livSub {
	var out []*livSub
	for _, ls := range b.livSubs {
		if keyexpr.Matches(ls.selector, key) {
			out = append(out, ls)
		}
	}
	return out
}

type livEvent struct {
	key   string
	alive bool
}

type livSub struct {
	bus      *Bus
	id       uint64
	selector string
	h        transport.LivelinessHandler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []livEvent
	closed bool
	once   sync.Once
	done   chan struct{}
}

func (s *livSub) push(ev livEvent) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *livSub) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			close(s.done)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.h(ev.key, ev.alive)
	}
}

func (s *livSub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.livSubs, s.id)
		s.bus.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Signal()
		s.mu.Unlock()
		<-s.done
	})
	return nil
}
