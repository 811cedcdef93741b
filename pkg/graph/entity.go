// Package graph tracks which nodes, topics, services and actions exist in a
// domain. Every endpoint announces itself with a liveliness token whose key
// encodes the entity; the graph subscribes to those tokens and keeps a live
// view.
package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JafarAbdi/zrm/pkg/keyexpr"
)

// EntityKind tags what a liveliness token announces.
type EntityKind string

const (
	KindNode       EntityKind = "NN"
	KindPublisher  EntityKind = "MP"
	KindSubscriber EntityKind = "MS"
	KindService    EntityKind = "SS"
	KindClient     EntityKind = "SC"
)

func (k EntityKind) valid() bool {
	switch k {
	case KindNode, KindPublisher, KindSubscriber, KindService, KindClient:
		return true
	}
	return false
}

// emptyType marks an endpoint whose schema is unknown. Key segments cannot
// be empty, so the placeholder goes on the wire instead.
const emptyType = "EMPTY"

// mangle makes a name usable as a single key segment.
func mangle(s string) string { return strings.ReplaceAll(s, "/", "%") }

func demangle(s string) string { return strings.ReplaceAll(s, "%", "/") }

// NodeEntity identifies one node in one session.
type NodeEntity struct {
	Domain int
	ZID    string
	Name   string
}

// LivelinessKey encodes the node as @zrm_lv/<domain>/<zid>/NN/<name>.
func (n NodeEntity) LivelinessKey() string {
	return fmt.Sprintf("%s/%d/%s/NN/%s", keyexpr.LivelinessPrefix, n.Domain, n.ZID, mangle(n.Name))
}

// EndpointEntity identifies a publisher, subscriber, service server or
// service client owned by a node. Name is the topic or service name;
// TypeName is the schema name, empty when unknown.
type EndpointEntity struct {
	Node     NodeEntity
	Kind     EntityKind
	Name     string
	TypeName string
}

// LivelinessKey encodes the endpoint as
// @zrm_lv/<domain>/<zid>/<kind>/<node>/<name>/<type>.
func (e EndpointEntity) LivelinessKey() string {
	typ := e.TypeName
	if typ == "" {
		typ = emptyType
	}
	return fmt.Sprintf("%s/%d/%s/%s/%s/%s/%s",
		keyexpr.LivelinessPrefix, e.Node.Domain, e.Node.ZID, e.Kind,
		mangle(e.Node.Name), mangle(e.Name), mangle(typ))
}

// Entity is either a node or an endpoint announcement.
type Entity struct {
	Node     *NodeEntity
	Endpoint *EndpointEntity
}

// Kind returns KindNode for node entities and the endpoint's kind otherwise.
func (e Entity) Kind() EntityKind {
	if e.Node != nil {
		return KindNode
	}
	return e.Endpoint.Kind
}

// ParseLiveliness decodes a liveliness key into an entity. Malformed keys
// return an error; keys with an unknown kind or a truncated endpoint return
// (nil, nil) so foreign tokens in the admin space are skipped quietly.
func ParseLiveliness(key string) (*Entity, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 5 {
		return nil, fmt.Errorf("graph: invalid liveliness key %q", key)
	}
	if parts[0] != keyexpr.LivelinessPrefix {
		return nil, fmt.Errorf("graph: invalid admin space in %q", key)
	}
	domain, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("graph: invalid domain in %q", key)
	}
	zid := parts[2]
	kind := EntityKind(parts[3])
	if !kind.valid() {
		return nil, nil
	}
	if kind == KindNode {
		return &Entity{Node: &NodeEntity{Domain: domain, ZID: zid, Name: demangle(parts[4])}}, nil
	}
	if len(parts) < 7 {
		return nil, nil
	}
	typ := demangle(parts[6])
	if typ == emptyType {
		typ = ""
	}
	return &Entity{Endpoint: &EndpointEntity{
		Node:     NodeEntity{Domain: domain, ZID: zid, Name: demangle(parts[4])},
		Kind:     kind,
		Name:     demangle(parts[5]),
		TypeName: typ,
	}}, nil
}
