package graph

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/api"
	"github.com/JafarAbdi/zrm/pkg/keyexpr"
	"github.com/JafarAbdi/zrm/pkg/transport"
)

// Graph is a live view of every entity in one domain.
type Graph struct {
	tr     transport.Transport
	domain int

	mu       sync.Mutex
	entities map[string]Entity
	sub      transport.Subscription
}

// New subscribes to the domain's liveliness admin space and seeds the view
// with a query for tokens declared before the subscription existed.
func New(tr transport.Transport, domain int, seedTimeout time.Duration) (*Graph, error) {
	g := &Graph{tr: tr, domain: domain, entities: make(map[string]Entity)}

	sub, err := tr.LivelinessSubscribe(keyexpr.LivelinessAll(domain), g.onLiveliness)
	if err != nil {
		return nil, fmt.Errorf("graph: subscribe: %w", err)
	}
	g.sub = sub

	keys, err := tr.LivelinessQuery(keyexpr.LivelinessAll(domain), seedTimeout)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("graph: seed query: %w", err)
	}
	for _, key := range keys {
		g.onLiveliness(key, true)
	}
	return g, nil
}

func (g *Graph) onLiveliness(key string, alive bool) {
	if !alive {
		g.mu.Lock()
		delete(g.entities, key)
		g.mu.Unlock()
		return
	}
	ent, err := ParseLiveliness(key)
	if err != nil {
		zap.L().Debug("graph: bad liveliness key", zap.String("key", key), zap.Error(err))
		return
	}
	if ent == nil {
		return
	}
	g.mu.Lock()
	g.entities[key] = *ent
	g.mu.Unlock()
}

// Close drops the liveliness subscription. The view stops updating.
func (g *Graph) Close() error { return g.sub.Close() }

func (g *Graph) snapshot() []Entity {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	return out
}

// Count reports how many endpoints of the given kind exist for a topic or
// service name. KindNode is not countable by name this way.
func (g *Graph) Count(kind EntityKind, name string) (int, error) {
	if kind == KindNode {
		return 0, fmt.Errorf("graph: use NodeNames for %s entities", KindNode)
	}
	n := 0
	for _, e := range g.snapshot() {
		if e.Endpoint != nil && e.Endpoint.Kind == kind && e.Endpoint.Name == name {
			n++
		}
	}
	return n, nil
}

// EntitiesByTopic lists publisher or subscriber endpoints on a topic.
func (g *Graph) EntitiesByTopic(kind EntityKind, topic string) ([]EndpointEntity, error) {
	if kind != KindPublisher && kind != KindSubscriber {
		return nil, fmt.Errorf("graph: kind must be %s or %s, got %s", KindPublisher, KindSubscriber, kind)
	}
	return g.endpointsWhere(func(e EndpointEntity) bool {
		return e.Kind == kind && e.Name == topic
	}), nil
}

// EntitiesByService lists server or client endpoints of a service.
func (g *Graph) EntitiesByService(kind EntityKind, service string) ([]EndpointEntity, error) {
	if kind != KindService && kind != KindClient {
		return nil, fmt.Errorf("graph: kind must be %s or %s, got %s", KindService, KindClient, kind)
	}
	return g.endpointsWhere(func(e EndpointEntity) bool {
		return e.Kind == kind && e.Name == service
	}), nil
}

// EntitiesByNode lists a node's endpoints of one kind.
func (g *Graph) EntitiesByNode(kind EntityKind, nodeName string) ([]EndpointEntity, error) {
	if kind == KindNode {
		return nil, fmt.Errorf("graph: kind must not be %s", KindNode)
	}
	return g.endpointsWhere(func(e EndpointEntity) bool {
		return e.Kind == kind && e.Node.Name == nodeName
	}), nil
}

func (g *Graph) endpointsWhere(keep func(EndpointEntity) bool) []EndpointEntity {
	var out []EndpointEntity
	for _, e := range g.snapshot() {
		if e.Endpoint != nil && keep(*e.Endpoint) {
			out = append(out, *e.Endpoint)
		}
	}
	return out
}

// NodeNames lists every known node name, deduplicated.
func (g *Graph) NodeNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range g.snapshot() {
		if e.Node != nil && !seen[e.Node.Name] {
			seen[e.Node.Name] = true
			out = append(out, e.Node.Name)
		}
	}
	return out
}

// TopicNamesAndTypes maps each known topic to its schema name. Endpoints
// that did not announce a schema contribute an empty string unless another
// endpoint on the same topic did.
func (g *Graph) TopicNamesAndTypes() map[string]string {
	return g.namesAndTypes(func(e EndpointEntity) bool {
		return e.Kind == KindPublisher || e.Kind == KindSubscriber
	})
}

// ServiceNamesAndTypes maps each known service to its schema name.
func (g *Graph) ServiceNamesAndTypes() map[string]string {
	return g.namesAndTypes(func(e EndpointEntity) bool {
		return e.Kind == KindService || e.Kind == KindClient
	})
}

// NamesAndTypesByNode maps a node's endpoints of one kind to their schema
// names.
func (g *Graph) NamesAndTypesByNode(nodeName string, kind EntityKind) (map[string]string, error) {
	if kind == KindNode {
		return nil, fmt.Errorf("graph: kind must not be %s", KindNode)
	}
	return g.namesAndTypes(func(e EndpointEntity) bool {
		return e.Kind == kind && e.Node.Name == nodeName
	}), nil
}

func (g *Graph) namesAndTypes(keep func(EndpointEntity) bool) map[string]string {
	out := map[string]string{}
	for _, e := range g.snapshot() {
		if e.Endpoint == nil || !keep(*e.Endpoint) {
			continue
		}
		if prev, ok := out[e.Endpoint.Name]; !ok || prev == "" {
			out[e.Endpoint.Name] = e.Endpoint.TypeName
		}
	}
	return out
}

// WaitForService blocks until at least one server of the named service is
// visible or the timeout expires.
func (g *Graph) WaitForService(name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		n, err := g.Count(KindService, name)
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return api.ErrTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}
