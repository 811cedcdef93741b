// Package service implements typed request/reply endpoints over the
// transport's query channel.
//
// Handler failures travel in-band: the reply envelope carries either the
// encoded response or an error string, so a failed handler surfaces to the
// caller as a ServiceError rather than a timeout.
package service

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

// request is the wire envelope for one call.
type request struct {
	Schema string `cbor:"schema"`
	Data   []byte `cbor:"data"`
}

// reply is the wire envelope for one response.
type reply struct {
	OK     bool   `cbor:"ok"`
	Error  string `cbor:"error,omitempty"`
	Schema string `cbor:"schema,omitempty"`
	Data   []byte `cbor:"data,omitempty"`
}

func alloc[M any]() (any, func() M) {
	var m M
	rv := reflect.ValueOf(&m).Elem()
	if rv.Kind() == reflect.Pointer {
		rv.Set(reflect.New(rv.Type().Elem()))
		return rv.Interface(), func() M { return m }
	}
	return &m, func() M { return m }
}

// Handler computes a reply for one request.
type Handler[Req, Rep any] func(Req) (Rep, error)

// Server answers calls on one service name.
type Server[Req, Rep any] struct {
	service   string
	reqSchema string
	repSchema string
	reqCodec  codec.Codec
	repCodec  codec.Codec
	h         Handler[Req, Rep]

	queryable transport.Queryable
	token     transport.Token
	once      sync.Once
}

// NewServer declares a service server on the node.
func NewServer[Req, Rep any](n *node.Node, serviceName string, h Handler[Req, Rep]) (*Server[Req, Rep], error) {
	if h == nil {
		return nil, fmt.Errorf("service %s: nil handler", serviceName)
	}
	reqProbe, _ := alloc[Req]()
	repProbe, _ := alloc[Rep]()
	s := &Server[Req, Rep]{
		service:   serviceName,
		reqSchema: codec.SchemaName(reqProbe),
		repSchema: codec.SchemaName(repProbe),
		reqCodec:  codec.For(reqProbe),
		repCodec:  codec.For(repProbe),
		h:         h,
	}
	tr := n.Session().Transport()
	q, err := tr.DeclareQueryable(keyexpr.Service(n.Session().Domain(), serviceName), s.answer)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", serviceName, err)
	}
	s.queryable = q
	ent := graph.EndpointEntity{Node: n.Entity(), Kind: graph.KindService, Name: serviceName, TypeName: s.reqSchema}
	token, err := tr.LivelinessDeclare(ent.LivelinessKey())
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("service %s: %w", serviceName, err)
	}
	s.token = token
	n.Track(s)
	return s, nil
}

// answer decodes one request, runs the handler, and encodes the outcome.
// Panics in the handler become in-band failures.
func (s *Server[Req, Rep]) answer(payload []byte) (out []byte, err error) {
	fail := func(msg string) ([]byte, error) {
		return codec.Default().Marshal(reply{Error: msg})
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("service handler panic",
				zap.String("service", s.service),
				zap.Any("panic", r))
			out, err = fail(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	var env request
	if err := codec.Default().Unmarshal(payload, &env); err != nil {
		return fail(fmt.Sprintf("bad request envelope: %v", err))
	}
	if env.Schema != s.reqSchema {
		return fail(fmt.Sprintf("schema mismatch: want %s, got %s", s.reqSchema, env.Schema))
	}
	target, value := alloc[Req]()
	if err := s.reqCodec.Unmarshal(env.Data, target); err != nil {
		return fail(fmt.Sprintf("bad request: %v", err))
	}

	rep, herr := s.h(value())
	if herr != nil {
		return fail(herr.Error())
	}
	data, err := s.repCodec.Marshal(rep)
	if err != nil {
		return fail(fmt.Sprintf("encode reply: %v", err))
	}
	return codec.Default().Marshal(reply{OK: true, Schema: s.repSchema, Data: data})
}

// Service returns the service name the server was created with.
func (s *Server[Req, Rep]) Service() string { return s.service }

// Close withdraws the queryable and the graph announcement.
func (s *Server[Req, Rep]) Close() error {
	var err error
	s.once.Do(func() {
		err = s.queryable.Close()
		if terr := s.token.Close(); err == nil {
			err = terr
		}
	})
	return err
}
