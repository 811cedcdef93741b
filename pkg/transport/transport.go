// Package transport abstracts the pub/sub + query/reply substrate zrm runs
// on. Two implementations exist: an in-process bus (mem) and a client that
// talks to a zrm router over a link (remote).
package transport

import "time"

// Sample is one delivered publication.
type Sample struct {
	Key     string
	Payload []byte
}

// Handler receives samples on a subscription. Handlers for one subscription
// are invoked sequentially in delivery order.
type Handler func(Sample)

// QueryHandler answers a single query. Returning an error sends a failure
// reply to the querier; it never tears down the queryable.
type QueryHandler func(payload []byte) ([]byte, error)

// LivelinessHandler observes liveliness tokens appearing (alive=true) and
// disappearing (alive=false).
type LivelinessHandler func(key string, alive bool)

// Subscription, Queryable and Token are transport registrations. Close
// undeclares the registration; it is idempotent and synchronized with any
// in-flight delivery.
type Subscription interface{ Close() error }

type Queryable interface{ Close() error }

type Token interface{ Close() error }

// Transport is the substrate boundary consumed by every zrm component.
type Transport interface {
	// Publish writes one payload to a concrete key.
	Publish(key string, payload []byte) error

	// Subscribe registers a handler for all publications matching key,
	// which may contain wildcards.
	Subscribe(key string, h Handler) (Subscription, error)

	// Query sends one query and blocks for the first reply. It returns
	// api.ErrTimeout when nothing answers within the window and a
	// *api.QueryError when the answering handler signaled failure.
	Query(selector string, payload []byte, timeout time.Duration) ([]byte, error)

	// DeclareQueryable registers a query handler on a selector.
	DeclareQueryable(selector string, h QueryHandler) (Queryable, error)

	// LivelinessDeclare asserts a liveliness token that stays alive until
	// the token is closed or the transport disconnects.
	LivelinessDeclare(key string) (Token, error)

	// LivelinessSubscribe observes token state changes matching prefix.
	LivelinessSubscribe(prefix string, h LivelinessHandler) (Subscription, error)

	// LivelinessQuery returns the keys of currently alive tokens matching
	// prefix.
	LivelinessQuery(prefix string, timeout time.Duration) ([]string, error)

	// Close releases the transport handle. Idempotent.
	Close() error
}
