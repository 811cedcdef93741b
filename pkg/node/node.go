// Package node ties endpoints to a named participant in the graph. A node
// announces itself with a liveliness token and owns the endpoints created
// on it; closing the node closes them all.
package node

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/graph"
	"github.com/JafarAbdi/zrm/pkg/session"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

type Option func(*options)

type options struct {
	sess *session.Session
}

// WithSession attaches the node to a specific session instead of the
// process-wide one.
func WithSession(s *session.Session) Option {
	return func(o *options) { o.sess = s }
}

// Node is one named participant in a domain.
type Node struct {
	name  string
	sess  *session.Session
	token transport.Token

	mu     sync.Mutex
	owned  []api.Closer
	graph  *graph.Graph
	closed bool
}

// New creates a node and announces it in the domain.
func New(name string, opts ...Option) (*Node, error) {
	if name == "" {
		return nil, fmt.Errorf("node: empty name")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	sess := o.sess
	if sess == nil {
		var err error
		sess, err = session.Get()
		if err != nil {
			return nil, err
		}
	}

	n := &Node{name: name, sess: sess}
	token, err := sess.Transport().LivelinessDeclare(n.Entity().LivelinessKey())
	if err != nil {
		return nil, fmt.Errorf("node %s: announce: %w", name, err)
	}
	n.token = token
	zap.L().Debug("node up", zap.String("node", name), zap.Int("domain", sess.Domain()))
	return n, nil
}

func (n *Node) Name() string              { return n.name }
func (n *Node) Session() *session.Session { return n.sess }

// Entity describes this node in liveliness terms.
func (n *Node) Entity() graph.NodeEntity {
	return graph.NodeEntity{Domain: n.sess.Domain(), ZID: n.sess.ZID(), Name: n.name}
}

// Track registers an endpoint so Close tears it down with the node.
// Endpoint constructors call this; applications normally do not.
func (n *Node) Track(c api.Closer) {
	n.mu.Lock()
	n.owned = append(n.owned, c)
	n.mu.Unlock()
}

// Graph returns the node's discovery view, creating it on first use.
func (n *Node) Graph() (*graph.Graph, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, api.ErrClosed
	}
	if n.graph == nil {
		g, err := graph.New(n.sess.Transport(), n.sess.Domain(), n.sess.QueryTimeout())
		if err != nil {
			return nil, err
		}
		n.graph = g
	}
	return n.graph, nil
}

// WaitForService blocks until a server for the named service is
// discoverable.
func (n *Node) WaitForService(name string, timeout time.Duration) error {
	g, err := n.Graph()
	if err != nil {
		return err
	}
	return g.WaitForService(name, timeout)
}

// Close tears down every endpoint created on the node, the discovery view,
// and the node's liveliness token. Safe to call more than once.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	owned := n.owned
	n.owned = nil
	g := n.graph
	n.graph = nil
	n.mu.Unlock()

	for i := len(owned) - 1; i >= 0; i-- {
		if err := owned[i].Close(); err != nil {
			zap.L().Warn("node: endpoint close", zap.String("node", n.name), zap.Error(err))
		}
	}
	if g != nil {
		g.Close()
	}
	return n.token.Close()
}
