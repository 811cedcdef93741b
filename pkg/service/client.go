package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// Client calls one service.
type Client[Req, Rep any] struct {
	service   string
	key       string
	reqSchema string
	reqCodec  codec.Codec
	repCodec  codec.Codec
	tr        transport.Transport

	token transport.Token
	once  sync.Once
}

// NewClient declares a service client on the node.
func NewClient[Req, Rep any](n *node.Node, serviceName string) (*Client[Req, Rep], error) {
	reqProbe, _ := alloc[Req]()
	repProbe, _ := alloc[Rep]()
	c := &Client[Req, Rep]{
		service:   serviceName,
		key:       keyexpr.Service(n.Session().Domain(), serviceName),
		reqSchema: codec.SchemaName(reqProbe),
		reqCodec:  codec.For(reqProbe),
		repCodec:  codec.For(repProbe),
		tr:        n.Session().Transport(),
	}
	ent := graph.EndpointEntity{Node: n.Entity(), Kind: graph.KindClient, Name: serviceName, TypeName: c.reqSchema}
	token, err := c.tr.LivelinessDeclare(ent.LivelinessKey())
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", serviceName, err)
	}
	c.token = token
	n.Track(c)
	return c, nil
}

// Service returns the service name the client was created with.
func (c *Client[Req, Rep]) Service() string { return c.service }

// Call sends one request and blocks for the reply. No reachable server
// within the timeout yields api.ErrTimeout; a server-side failure yields a
// ServiceError; a reply whose schema disagrees with Rep yields a
// codec.SchemaMismatchError.
func (c *Client[Req, Rep]) Call(req Req, timeout time.Duration) (Rep, error) {
	var zero Rep
	data, err := c.reqCodec.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("call %s: %w", c.service, err)
	}
	payload, err := codec.Default().Marshal(request{Schema: c.reqSchema, Data: data})
	if err != nil {
		return zero, fmt.Errorf("call %s: %w", c.service, err)
	}

	raw, err := c.tr.Query(c.key, payload, timeout)
	if err != nil {
		return zero, err
	}
	var env reply
	if err := codec.Default().Unmarshal(raw, &env); err != nil {
		return zero, fmt.Errorf("call %s: bad reply envelope: %w", c.service, err)
	}
	if !env.OK {
		return zero, &api.ServiceError{Service: c.service, Message: env.Error}
	}
	target, value := alloc[Rep]()
	if err := codec.CheckSchema(target, env.Schema); err != nil {
		return zero, fmt.Errorf("call %s: %w", c.service, err)
	}
	if err := c.repCodec.Unmarshal(env.Data, target); err != nil {
		return zero, fmt.Errorf("call %s: bad reply: %w", c.service, err)
	}
	return value(), nil
}

// Future is the pending result of an asynchronous call.
type Future[Rep any] struct {
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	rep Rep
	err error
}

// Done is closed when the result is available.
func (f *Future[Rep]) Done() <-chan struct{} { return f.done }

// Result blocks until the call finishes and returns its outcome.
func (f *Future[Rep]) Result() (Rep, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rep, f.err
}

// ResultContext is Result with a caller-supplied abort.
func (f *Future[Rep]) ResultContext(ctx context.Context) (Rep, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero Rep
		return zero, ctx.Err()
	}
}

// Cancel abandons the call. The in-flight query is not recalled; the future
// resolves to api.ErrCallCanceled unless it already resolved.
func (f *Future[Rep]) Cancel() { f.cancel() }

func (f *Future[Rep]) resolve(rep Rep, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return false
	default:
	}
	f.rep = rep
	f.err = err
	close(f.done)
	return true
}

// CallAsync sends one request and returns immediately with a future.
func (c *Client[Req, Rep]) CallAsync(req Req, timeout time.Duration) *Future[Rep] {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Future[Rep]{done: make(chan struct{}), cancel: cancel}
	go func() {
		rep, err := c.Call(req, timeout)
		f.resolve(rep, err)
		cancel()
	}()
	go func() {
		<-ctx.Done()
		var zero Rep
		f.resolve(zero, api.ErrCallCanceled)
	}()
	return f
}

// Close withdraws the graph announcement.
func (c *Client[Req, Rep]) Close() error {
	var err error
	c.once.Do(func() { err = c.token.Close() })
	return err
}
