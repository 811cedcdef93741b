// Package session owns the process's attachment to the transport substrate.
// A session is either an in-process bus (mem mode, the default) or a client
// connection to a zrm-router (client mode). Nodes share one session per
// process through Init/Get/Shutdown.
package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/transport"
	"github.com/JafarAbdi/zrm/pkg/transport/mem"
	"github.com/JafarAbdi/zrm/pkg/transport/remote"
)

// Session binds a transport to a domain and a process-unique zid.
type Session struct {
	tr      transport.Transport
	zid     string
	domain  int
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

// New builds an isolated session from the given configuration. Most code
// should use Init/Get instead so every node in the process shares one
// session.
func New(cfg *config.Config) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	var tr transport.Transport
	switch cfg.Session.Mode {
	case "", "mem":
		tr = mem.Shared(cfg.DomainID).Connect()
	case "client":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t, err := remote.Dial(ctx, cfg.Session.LinkKind, cfg.Session.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		tr = t
	default:
		return nil, fmt.Errorf("session: unknown mode %q", cfg.Session.Mode)
	}

	id := uuid.New()
	s := &Session{
		tr:      tr,
		zid:     hex.EncodeToString(id[:]),
		domain:  cfg.DomainID,
		timeout: time.Duration(cfg.Session.QueryTimeoutMS) * time.Millisecond,
	}
	zap.L().Debug("session up",
		zap.String("zid", s.zid),
		zap.Int("domain", s.domain),
		zap.String("mode", cfg.Session.Mode))
	return s, nil
}

// Transport returns the underlying substrate.
func (s *Session) Transport() transport.Transport { return s.tr }

// ZID is the session's unique identifier, a 32-char hex string.
func (s *Session) ZID() string { return s.zid }

// Domain returns the domain id the session attached to.
func (s *Session) Domain() int { return s.domain }

// QueryTimeout is the default window for service calls and discovery
// queries.
func (s *Session) QueryTimeout() time.Duration { return s.timeout }

// Close tears down the transport. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.tr.Close()
}

var (
	globalMu sync.Mutex
	global   *Session
)

// Init creates the process-wide session from cfg. Calling Init when a
// session already exists returns the existing one unchanged.
func Init(cfg *config.Config) (*Session, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global != nil {
		return global, nil
	}
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	global = s
	return s, nil
}

// Get returns the process-wide session, initializing it from the default
// configuration sources on first use.
func Get() (*Session, error) {
	globalMu.Lock()
	if global != nil {
		s := global
		globalMu.Unlock()
		return s, nil
	}
	globalMu.Unlock()
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return Init(cfg)
}

// Shutdown closes the process-wide session. A no-op when none exists.
func Shutdown() error {
	globalMu.Lock()
	s := global
	global = nil
	globalMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}
