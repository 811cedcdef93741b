// Package topic implements typed publish/subscribe endpoints.
//
// Messages travel as a small CBOR envelope carrying the schema name next to
// the encoded payload, so subscribers can drop samples published with a
// different type on the same topic name.
package topic

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// sample is the wire envelope for one published message.
type sample struct {
	Schema string `cbor:"schema"`
	Data   []byte `cbor:"data"`
}

// alloc returns a target to unmarshal into and a getter reading the decoded
// value. Pointer message types (protobuf) get a new element allocated.
func alloc[M any]() (any, func() M) {
	var m M
	rv := reflect.ValueOf(&m).Elem()
	if rv.Kind() == reflect.Pointer {
		rv.Set(reflect.New(rv.Type().Elem()))
		return rv.Interface(), func() M { return m }
	}
	return &m, func() M { return m }
}

// Publisher sends typed messages on one topic.
type Publisher[M any] struct {
	topic  string
	key    string
	schema string
	c      codec.Codec
	tr     transport.Transport
	token  transport.Token
	once   sync.Once
}

// NewPublisher declares a publisher on the node. The message type's schema
// name is announced through the graph.
func NewPublisher[M any](n *node.Node, topicName string) (*Publisher[M], error) {
	probe, _ := alloc[M]()
	p := &Publisher[M]{
		topic:  topicName,
		key:    keyexpr.Topic(n.Session().Domain(), topicName),
		schema: codec.SchemaName(probe),
		c:      codec.For(probe),
		tr:     n.Session().Transport(),
	}
	ent := graph.EndpointEntity{Node: n.Entity(), Kind: graph.KindPublisher, Name: topicName, TypeName: p.schema}
	token, err := p.tr.LivelinessDeclare(ent.LivelinessKey())
	if err != nil {
		return nil, fmt.Errorf("publisher %s: %w", topicName, err)
	}
	p.token = token
	n.Track(p)
	return p, nil
}

// Topic returns the topic name the publisher was created with.
func (p *Publisher[M]) Topic() string { return p.topic }

// Publish encodes and sends one message.
func (p *Publisher[M]) Publish(msg M) error {
	data, err := p.c.Marshal(msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	frame, err := codec.Default().Marshal(sample{Schema: p.schema, Data: data})
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return p.tr.Publish(p.key, frame)
}

// Close withdraws the publisher's graph announcement.
func (p *Publisher[M]) Close() error {
	var err error
	p.once.Do(func() { err = p.token.Close() })
	return err
}

// Subscriber receives typed messages from one topic. The most recent
// message is cached for Latest; an optional callback observes every
// message in arrival order.
type Subscriber[M any] struct {
	topic  string
	schema string
	c      codec.Codec
	cb     func(M)

	mu     sync.RWMutex
	latest *M

	sub   transport.Subscription
	token transport.Token
	once  sync.Once
}

// NewSubscriber declares a subscriber on the node. cb may be nil when only
// Latest is needed.
func NewSubscriber[M any](n *node.Node, topicName string, cb func(M)) (*Subscriber[M], error) {
	probe, _ := alloc[M]()
	s := &Subscriber[M]{
		topic:  topicName,
		schema: codec.SchemaName(probe),
		c:      codec.For(probe),
		cb:     cb,
	}
	tr := n.Session().Transport()
	sub, err := tr.Subscribe(keyexpr.Topic(n.Session().Domain(), topicName), s.onSample)
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: %w", topicName, err)
	}
	s.sub = sub
	ent := graph.EndpointEntity{Node: n.Entity(), Kind: graph.KindSubscriber, Name: topicName, TypeName: s.schema}
	token, err := tr.LivelinessDeclare(ent.LivelinessKey())
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscriber %s: %w", topicName, err)
	}
	s.token = token
	n.Track(s)
	return s, nil
}

func (s *Subscriber[M]) onSample(smp transport.Sample) {
	var env sample
	if err := codec.Default().Unmarshal(smp.Payload, &env); err != nil {
		zap.L().Warn("subscriber: bad envelope", zap.String("topic", s.topic), zap.Error(err))
		return
	}
	if env.Schema != s.schema {
		zap.L().Warn("subscriber: schema mismatch, dropping",
			zap.String("topic", s.topic),
			zap.String("want", s.schema),
			zap.String("got", env.Schema))
		return
	}
	target, value := alloc[M]()
	if err := s.c.Unmarshal(env.Data, target); err != nil {
		zap.L().Warn("subscriber: decode failed", zap.String("topic", s.topic), zap.Error(err))
		return
	}
	msg := value()
	s.mu.Lock()
	s.latest = &msg
	s.mu.Unlock()
	if s.cb != nil {
		s.cb(msg)
	}
}

// Topic returns the topic name the subscriber was created with.
func (s *Subscriber[M]) Topic() string { return s.topic }

// Latest returns the most recently received message, or ok=false when
// nothing has arrived yet.
func (s *Subscriber[M]) Latest() (M, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		var zero M
		return zero, false
	}
	return *s.latest, true
}

// Close stops delivery and withdraws the graph announcement.
func (s *Subscriber[M]) Close() error {
	var err error
	s.once.Do(func() {
		err = s.sub.Close()
		if terr := s.token.Close(); err == nil {
			err = terr
		}
	})
	return err
}
