// Package action implements long-running goals with feedback and
// cancellation on top of the transport's query and publish channels.
//
// Every action name owns four channels: a goal queryable (acceptance), a
// cancel queryable, a result queryable, and a feedback topic. All traffic
// carries the goal id, so any number of goals run concurrently on one
// server without crossing.
package action

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/codec"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/node"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// defaultRetention bounds how long a finished goal waits for a result
// request before it is dropped.
const defaultRetention = 30 * time.Second

func alloc[M any]() (any, func() M) {
	var m M
	rv := reflect.ValueOf(&m).Elem()
	if rv.Kind() == reflect.Pointer {
		rv.Set(reflect.New(rv.Type().Elem()))
		return rv.Interface(), func() M { return m }
	}
	return &m, func() M { return m }
}

// ExecuteFunc runs one accepted goal. It must end the goal through the
// handle (Succeed, Canceled or Abort); returning without doing so, or
// panicking, aborts the goal.
type ExecuteFunc[G, R, F any] func(h *ServerGoalHandle[G, R, F])

type ServerOption func(*serverOptions)

type serverOptions struct {
	retention time.Duration
}

// WithResultRetention bounds how long finished goals stay retrievable.
func WithResultRetention(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.retention = d }
}

// Server executes goals for one action name.
type Server[G, R, F any] struct {
	name    string
	execute ExecuteFunc[G, R, F]
	tr      transport.Transport

	goalSchema     string
	resultSchema   string
	feedbackSchema string
	goalCodec      codec.Codec
	resultCodec    codec.Codec
	feedbackCodec  codec.Codec
	feedbackKey    string
	retention      time.Duration

	mu       sync.Mutex
	active   map[string]*ServerGoalHandle[G, R, F]
	finished map[string]*ServerGoalHandle[G, R, F]

	goalQ   transport.Queryable
	cancelQ transport.Queryable
	resultQ transport.Queryable
	token   transport.Token
	once    sync.Once
}

// NewServer declares an action server on the node. execute runs once per
// accepted goal, each on its own goroutine.
func NewServer[G, R, F any](n *node.Node, name string, execute ExecuteFunc[G, R, F], opts ...ServerOption) (*Server[G, R, F], error) {
	if execute == nil {
		return nil, fmt.Errorf("action %s: nil execute", name)
	}
	o := serverOptions{retention: defaultRetention}
	for _, opt := range opts {
		opt(&o)
	}
	goalProbe, _ := alloc[G]()
	resultProbe, _ := alloc[R]()
	feedbackProbe, _ := alloc[F]()
	domain := n.Session().Domain()
	s := &Server[G, R, F]{
		name:           name,
		execute:        execute,
		tr:             n.Session().Transport(),
		goalSchema:     codec.SchemaName(goalProbe),
		resultSchema:   codec.SchemaName(resultProbe),
		feedbackSchema: codec.SchemaName(feedbackProbe),
		goalCodec:      codec.For(goalProbe),
		resultCodec:    codec.For(resultProbe),
		feedbackCodec:  codec.For(feedbackProbe),
		feedbackKey:    keyexpr.ActionFeedback(domain, name),
		retention:      o.retention,
		active:         make(map[string]*ServerGoalHandle[G, R, F]),
		finished:       make(map[string]*ServerGoalHandle[G, R, F]),
	}

	var err error
	cleanup := func() {
		for _, c := range []transport.Queryable{s.goalQ, s.cancelQ, s.resultQ} {
			if c != nil {
				c.Close()
			}
		}
	}
	if s.goalQ, err = s.tr.DeclareQueryable(keyexpr.ActionGoal(domain, name), s.onGoal); err != nil {
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	if s.cancelQ, err = s.tr.DeclareQueryable(keyexpr.ActionCancel(domain, name), s.onCancel); err != nil {
		cleanup()
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	if s.resultQ, err = s.tr.DeclareQueryable(keyexpr.ActionResult(domain, name), s.onResult); err != nil {
		cleanup()
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	// Actions announce through the service kind; the goal channel is the
	// callable surface.
	ent := graph.EndpointEntity{Node: n.Entity(), Kind: graph.KindService, Name: name, TypeName: s.goalSchema}
	if s.token, err = s.tr.LivelinessDeclare(ent.LivelinessKey()); err != nil {
		cleanup()
		return nil, fmt.Errorf("action %s: %w", name, err)
	}
	n.Track(s)
	return s, nil
}

// Name returns the action name the server was created with.
func (s *Server[G, R, F]) Name() string { return s.name }

func (s *Server[G, R, F]) onGoal(payload []byte) ([]byte, error) {
	reject := func(id, msg string) ([]byte, error) {
		return codec.Default().Marshal(goalReply{GoalID: id, Error: msg})
	}
	var req goalRequest
	if err := codec.Default().Unmarshal(payload, &req); err != nil {
		return reject("", fmt.Sprintf("bad goal request: %v", err))
	}
	if req.GoalID == "" {
		return reject("", "empty goal id")
	}
	if req.Schema != s.goalSchema {
		return reject(req.GoalID, fmt.Sprintf("schema mismatch: want %s, got %s", s.goalSchema, req.Schema))
	}
	target, value := alloc[G]()
	if err := s.goalCodec.Unmarshal(req.Goal, target); err != nil {
		return reject(req.GoalID, fmt.Sprintf("bad goal: %v", err))
	}

	h := &ServerGoalHandle[G, R, F]{
		id:     req.GoalID,
		goal:   value(),
		srv:    s,
		status: StatusAccepted,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if _, dup := s.active[req.GoalID]; dup {
		s.mu.Unlock()
		return reject(req.GoalID, "goal id already active")
	}
	if _, dup := s.finished[req.GoalID]; dup {
		s.mu.Unlock()
		return reject(req.GoalID, "goal id already used")
	}
	s.active[req.GoalID] = h
	s.mu.Unlock()

	zap.L().Debug("goal accepted", zap.String("action", s.name), zap.String("goal", req.GoalID))
	go s.run(h)
	return codec.Default().Marshal(goalReply{Accepted: true, GoalID: req.GoalID})
}

// run drives one goal to a terminal status no matter how execute behaves.
func (s *Server[G, R, F]) run(h *ServerGoalHandle[G, R, F]) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("goal execute panic",
				zap.String("action", s.name),
				zap.String("goal", h.id),
				zap.Any("panic", r))
			h.Abort(fmt.Errorf("execute panicked: %v", r))
		}
		if !h.Status().IsTerminal() {
			h.Abort(fmt.Errorf("execute returned without a terminal status"))
		}
		s.finish(h)
	}()
	s.execute(h)
}

// finish moves a terminal goal to the retention table so a late result
// request still finds it.
func (s *Server[G, R, F]) finish(h *ServerGoalHandle[G, R, F]) {
	s.mu.Lock()
	delete(s.active, h.id)
	s.finished[h.id] = h
	s.mu.Unlock()
	time.AfterFunc(s.retention, func() {
		s.mu.Lock()
		delete(s.finished, h.id)
		s.mu.Unlock()
	})
}

func (s *Server[G, R, F]) lookup(id string) *ServerGoalHandle[G, R, F] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.active[id]; ok {
		return h
	}
	return s.finished[id]
}

func (s *Server[G, R, F]) onCancel(payload []byte) ([]byte, error) {
	var req cancelRequest
	if err := codec.Default().Unmarshal(payload, &req); err != nil {
		return codec.Default().Marshal(cancelReply{})
	}
	h := s.lookup(req.GoalID)
	if h == nil || h.Status().IsTerminal() {
		// Post-terminal or unknown cancel is a no-op.
		return codec.Default().Marshal(cancelReply{})
	}
	h.cancel.Store(true)
	zap.L().Debug("cancel requested", zap.String("action", s.name), zap.String("goal", req.GoalID))
	return codec.Default().Marshal(cancelReply{Canceling: true})
}

func (s *Server[G, R, F]) onResult(payload []byte) ([]byte, error) {
	var req resultRequest
	if err := codec.Default().Unmarshal(payload, &req); err != nil {
		return codec.Default().Marshal(resultReply{Error: fmt.Sprintf("bad result request: %v", err)})
	}
	h := s.lookup(req.GoalID)
	if h == nil {
		return codec.Default().Marshal(resultReply{Error: "unknown goal"})
	}

	wait := time.Duration(req.TimeoutMS) * time.Millisecond
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-h.done:
	case <-timer.C:
		return codec.Default().Marshal(resultReply{NotReady: true})
	}

	h.mu.Lock()
	status := h.status
	result := h.result
	abortMsg := h.abortMsg
	h.mu.Unlock()

	rep := resultReply{Status: uint8(status)}
	switch status {
	case StatusSucceeded, StatusCanceled:
		data, err := s.resultCodec.Marshal(result)
		if err != nil {
			rep = resultReply{Status: uint8(StatusAborted), Error: fmt.Sprintf("encode result: %v", err)}
			break
		}
		rep.Schema = s.resultSchema
		rep.Data = data
	case StatusAborted:
		rep.Error = abortMsg
	}

	// Retrieved results do not need retention anymore.
	s.mu.Lock()
	delete(s.finished, req.GoalID)
	s.mu.Unlock()
	return codec.Default().Marshal(rep)
}

// ActiveGoals reports how many goals are currently executing.
func (s *Server[G, R, F]) ActiveGoals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Close withdraws the action's channels. Running goals keep executing but
// new goal, cancel and result traffic no longer reaches the server.
func (s *Server[G, R, F]) Close() error {
	var err error
	s.once.Do(func() {
		for _, c := range []interface{ Close() error }{s.goalQ, s.cancelQ, s.resultQ, s.token} {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

// ServerGoalHandle is the server-side view of one accepted goal. The
// execute routine drives it; the cancel flag is the only part other
// goroutines touch.
type ServerGoalHandle[G, R, F any] struct {
	id     string
	goal   G
	srv    *Server[G, R, F]
	cancel atomic.Bool

	mu       sync.Mutex
	status   Status
	result   R
	abortMsg string
	done     chan struct{}
}

// GoalID returns the goal's correlation id.
func (h *ServerGoalHandle[G, R, F]) GoalID() string { return h.id }

// Goal returns the decoded goal payload.
func (h *ServerGoalHandle[G, R, F]) Goal() G { return h.goal }

// Status returns the goal's current status.
func (h *ServerGoalHandle[G, R, F]) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Execute marks the goal EXECUTING. Call it once at the top of the execute
// routine.
func (h *ServerGoalHandle[G, R, F]) Execute() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != StatusAccepted {
		return fmt.Errorf("action %s: goal %s is %s, not ACCEPTED", h.srv.name, h.id, h.status)
	}
	h.status = StatusExecuting
	return nil
}

// CancelRequested reports whether a cancel request arrived for this goal.
// The execute routine polls it at convenient points; cancellation is
// cooperative.
func (h *ServerGoalHandle[G, R, F]) CancelRequested() bool { return h.cancel.Load() }

// PublishFeedback sends one feedback message tagged with the goal id.
func (h *ServerGoalHandle[G, R, F]) PublishFeedback(fb F) error {
	data, err := h.srv.feedbackCodec.Marshal(fb)
	if err != nil {
		return fmt.Errorf("action %s: feedback: %w", h.srv.name, err)
	}
	frame, err := codec.Default().Marshal(feedbackMessage{GoalID: h.id, Schema: h.srv.feedbackSchema, Data: data})
	if err != nil {
		return fmt.Errorf("action %s: feedback: %w", h.srv.name, err)
	}
	return h.srv.tr.Publish(h.srv.feedbackKey, frame)
}

func (h *ServerGoalHandle[G, R, F]) terminate(st Status, result R, abortMsg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.IsTerminal() {
		return fmt.Errorf("action %s: goal %s already terminal (%s)", h.srv.name, h.id, h.status)
	}
	h.status = st
	h.result = result
	h.abortMsg = abortMsg
	close(h.done)
	return nil
}

// Succeed ends the goal with SUCCEEDED and the final result.
func (h *ServerGoalHandle[G, R, F]) Succeed(result R) error {
	return h.terminate(StatusSucceeded, result, "")
}

// Canceled ends the goal with CANCELED. The result carries whatever partial
// output the routine produced.
func (h *ServerGoalHandle[G, R, F]) Canceled(result R) error {
	return h.terminate(StatusCanceled, result, "")
}

// Abort ends the goal with ABORTED and the failure text.
func (h *ServerGoalHandle[G, R, F]) Abort(err error) error {
	var zero R
	msg := "aborted"
	if err != nil {
		msg = err.Error()
	}
	return h.terminate(StatusAborted, zero, msg)
}
