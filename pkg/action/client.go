package action

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// resultQueryMargin pads the transport window so the server's own wait
// budget expires first and the "not ready" reply gets back to the client.
const resultQueryMargin = 500 * time.Millisecond

// Client sends goals to one action server.
type Client[G, R, F any] struct {
	name      string
	tr        transport.Transport
	goalKey   string
	cancelKey string
	resultKey string

	goalSchema     string
	feedbackSchema string
	goalCodec      codec.Codec
	resultCodec    codec.Codec
	feedbackCodec  codec.Codec
	goalTimeout    time.Duration

	mu    sync.Mutex
	fbFns map[string]func(F)

	feedbackSub transport.Subscription
	token       transport.Token
	once        sync.Once
}

// NewClient declares an action client on the node. One subscriber carries
// feedback for every goal the client sends; messages route to goal handles
// by goal id.
func NewClient[G, R, F any](n *node.Node, name string) (*Client[G, R, F], error) {
	goalProbe, _ := alloc[G]()
	resultProbe, _ := alloc[R]()
	feedbackProbe, _ := alloc[F]()
	domain := n.Session().Domain()
	c := &Client[G, R, F]{
		name:           name,
		tr:             n.Session().Transport(),
		goalKey:        keyexpr.ActionGoal(domain, name),
		cancelKey:      keyexpr.ActionCancel(domain, name),
		resultKey:      keyexpr.ActionResult(domain, name),
		goalSchema:     codec.SchemaName(goalProbe),
		feedbackSchema: codec.SchemaName(feedbackProbe),
		goalCodec:      codec.For(goalProbe),
		resultCodec:    codec.For(resultProbe),
		feedbackCodec:  codec.For(feedbackProbe),
		goalTimeout:    n.Session().QueryTimeout(),
		fbFns:          make(map[string]func(F)),
	}

	sub, err := c.tr.Subscribe(keyexpr.ActionFeedback(domain, name), c.onFeedback)
	if err != nil {
		return nil, fmt.Errorf("action client %s: %w", name, err)
	}
	c.feedbackSub = sub
	ent := graph.EndpointEntity{Node: n.Entity(), Kind: graph.KindClient, Name: name, TypeName: c.goalSchema}
	token, err := c.tr.LivelinessDeclare(ent.LivelinessKey())
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("action client %s: %w", name, err)
	}
	c.token = token
	n.Track(c)
	return c, nil
}

// Name returns the action name the client was created with.
func (c *Client[G, R, F]) Name() string { return c.name }

func (c *Client[G, R, F]) onFeedback(smp transport.Sample) {
	var msg feedbackMessage
	if err := codec.Default().Unmarshal(smp.Payload, &msg); err != nil {
		zap.L().Warn("action client: bad feedback", zap.String("action", c.name), zap.Error(err))
		return
	}
	c.mu.Lock()
	fn := c.fbFns[msg.GoalID]
	c.mu.Unlock()
	if fn == nil {
		return
	}
	if msg.Schema != c.feedbackSchema {
		zap.L().Warn("action client: feedback schema mismatch, dropping",
			zap.String("action", c.name),
			zap.String("want", c.feedbackSchema),
			zap.String("got", msg.Schema))
		return
	}
	target, value := alloc[F]()
	if err := c.feedbackCodec.Unmarshal(msg.Data, target); err != nil {
		zap.L().Warn("action client: feedback decode failed", zap.String("action", c.name), zap.Error(err))
		return
	}
	fn(value())
}

type GoalOption[F any] func(*goalOptions[F])

type goalOptions[F any] struct {
	feedback func(F)
	timeout  time.Duration
}

// WithFeedback registers a callback observing the goal's feedback stream in
// publish order.
func WithFeedback[F any](fn func(F)) GoalOption[F] {
	return func(o *goalOptions[F]) { o.feedback = fn }
}

// WithGoalTimeout overrides the session's default window for the acceptance
// round trip.
func WithGoalTimeout[F any](d time.Duration) GoalOption[F] {
	return func(o *goalOptions[F]) { o.timeout = d }
}

// SendGoal submits a goal under a fresh goal id and blocks for the
// acceptance decision. A declined goal is not an error: the returned handle
// reports the rejection from GetResult.
func (c *Client[G, R, F]) SendGoal(goal G, opts ...GoalOption[F]) (*ClientGoalHandle[R], error) {
	o := goalOptions[F]{timeout: c.goalTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := c.goalCodec.Marshal(goal)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", c.name, err)
	}
	id := uuid.NewString()
	payload, err := codec.Default().Marshal(goalRequest{GoalID: id, Schema: c.goalSchema, Goal: data})
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", c.name, err)
	}

	h := &ClientGoalHandle[R]{id: id, client: clientRef{c: c}, status: StatusAccepted}

	// Register feedback routing before the goal lands so the first
	// feedback message cannot outrun the handle.
	if o.feedback != nil {
		c.mu.Lock()
		c.fbFns[id] = o.feedback
		c.mu.Unlock()
	}

	raw, err := c.tr.Query(c.goalKey, payload, o.timeout)
	if err != nil {
		c.drop(id)
		return nil, err
	}
	var rep goalReply
	if err := codec.Default().Unmarshal(raw, &rep); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("action %s: bad goal reply: %w", c.name, err)
	}
	if !rep.Accepted {
		c.drop(id)
		h.mu.Lock()
		h.status = StatusUnknown
		h.rejected = true
		h.rejectMsg = rep.Error
		h.mu.Unlock()
		zap.L().Debug("goal rejected", zap.String("action", c.name), zap.String("goal", id), zap.String("reason", rep.Error))
		return h, nil
	}
	return h, nil
}

func (c *Client[G, R, F]) drop(id string) {
	c.mu.Lock()
	delete(c.fbFns, id)
	c.mu.Unlock()
}

// Close drops the feedback subscription, the graph announcement and any
// feedback callbacks still registered for unresolved goals.
func (c *Client[G, R, F]) Close() error {
	var err error
	c.once.Do(func() {
		err = c.feedbackSub.Close()
		if terr := c.token.Close(); err == nil {
			err = terr
		}
		c.mu.Lock()
		c.fbFns = make(map[string]func(F))
		c.mu.Unlock()
	})
	return err
}

// clientRef erases the client's goal/feedback type parameters so the handle
// only carries R.
type clientRef struct {
	c interface {
		resultQuery(id string, timeout time.Duration) ([]byte, error)
		cancelQuery(id string)
		dropGoal(id string)
		resultCodecFor() codec.Codec
		actionName() string
	}
}

func (c *Client[G, R, F]) resultQuery(id string, timeout time.Duration) ([]byte, error) {
	payload, err := codec.Default().Marshal(resultRequest{GoalID: id, TimeoutMS: timeout.Milliseconds()})
	if err != nil {
		return nil, err
	}
	return c.tr.Query(c.resultKey, payload, timeout+resultQueryMargin)
}

func (c *Client[G, R, F]) cancelQuery(id string) {
	payload, err := codec.Default().Marshal(cancelRequest{GoalID: id})
	if err != nil {
		return
	}
	if _, err := c.tr.Query(c.cancelKey, payload, c.goalTimeout); err != nil {
		zap.L().Debug("cancel query failed", zap.String("action", c.name), zap.String("goal", id), zap.Error(err))
	}
}

func (c *Client[G, R, F]) dropGoal(id string) { c.drop(id) }

func (c *Client[G, R, F]) resultCodecFor() codec.Codec { return c.resultCodec }

func (c *Client[G, R, F]) actionName() string { return c.name }

// ClientGoalHandle tracks one sent goal.
type ClientGoalHandle[R any] struct {
	id     string
	client clientRef

	mu        sync.Mutex
	status    Status
	rejected  bool
	rejectMsg string
	resolved  bool
	result    R
	resultErr error
}

// ID returns the goal id the client generated for this goal.
func (h *ClientGoalHandle[R]) ID() string { return h.id }

// Accepted reports whether the server took the goal.
func (h *ClientGoalHandle[R]) Accepted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.rejected
}

// Status returns the last status the client learned for the goal. It only
// advances when GetResult observes the terminal outcome.
func (h *ClientGoalHandle[R]) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Cancel requests cancellation without waiting for the server's decision.
// The goal's terminal status is the authoritative outcome.
func (h *ClientGoalHandle[R]) Cancel() {
	h.mu.Lock()
	rejected := h.rejected
	resolved := h.resolved
	h.mu.Unlock()
	if rejected || resolved {
		return
	}
	go h.client.c.cancelQuery(h.id)
}

// GetResult blocks until the goal reaches a terminal status and returns the
// result. The outcome is cached: a second call returns it without touching
// the transport. A rejected goal fails fast with api.ErrGoalRejected; an
// aborted goal returns *api.GoalAborted; a result whose schema disagrees with
// R yields a codec.SchemaMismatchError.
func (h *ClientGoalHandle[R]) GetResult(timeout time.Duration) (R, error) {
	var zero R
	h.mu.Lock()
	if h.resolved {
		defer h.mu.Unlock()
		return h.result, h.resultErr
	}
	if h.rejected {
		h.mu.Unlock()
		return zero, fmt.Errorf("%w: %s", api.ErrGoalRejected, h.rejectMsg)
	}
	h.mu.Unlock()

	raw, err := h.client.c.resultQuery(h.id, timeout)
	if err != nil {
		return zero, err
	}
	var rep resultReply
	if err := codec.Default().Unmarshal(raw, &rep); err != nil {
		return zero, fmt.Errorf("action %s: bad result reply: %w", h.client.c.actionName(), err)
	}
	if rep.NotReady {
		return zero, api.ErrTimeout
	}
	if rep.Error != "" && Status(rep.Status) != StatusAborted {
		return zero, fmt.Errorf("action %s: goal %s: %s", h.client.c.actionName(), h.id, rep.Error)
	}

	status := Status(rep.Status)
	var result R
	var resultErr error
	switch status {
	case StatusSucceeded, StatusCanceled:
		target, value := alloc[R]()
		if err := codec.CheckSchema(target, rep.Schema); err != nil {
			return zero, fmt.Errorf("action %s: %w", h.client.c.actionName(), err)
		}
		if err := h.client.c.resultCodecFor().Unmarshal(rep.Data, target); err != nil {
			return zero, fmt.Errorf("action %s: bad result: %w", h.client.c.actionName(), err)
		}
		result = value()
	case StatusAborted:
		resultErr = &api.GoalAborted{GoalID: h.id, Message: rep.Error}
	default:
		return zero, fmt.Errorf("action %s: unexpected result status %s", h.client.c.actionName(), status)
	}

	h.mu.Lock()
	h.status = status
	h.resolved = true
	h.result = result
	h.resultErr = resultErr
	h.mu.Unlock()
	h.client.c.dropGoal(h.id)
	return result, resultErr
}
