// Package quic implements a stream link over QUIC. Each connection carries a
// single bidirectional stream with length-prefixed frames (u32 LE).
package quic

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"io"
	"math/big"
	"net"
	"reflect"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/JafarAbdi/zrm/pkg/link"
)

type Link struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

func New() *Link {
	// Ephemeral self-signed certificate for the listening side.
	cert, _ := selfSignedCert()
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"zrm"},
		MinVersion:   tls.VersionTLS13,
	}
	return &Link{tlsConf: tlsConf, quicConf: &quicgo.Config{}}
}

func (t *Link) Kind() string { return "quic" }

func (t *Link) Listen(ctx context.Context, address string) (link.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	// Capture Addr() now to avoid interface shape differences later.
	addr := l.Addr()
	ql := &listener{l: any(l), laddr: addr, newCh: make(chan *stream, 8), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() { <-ctx.Done(); _ = ql.Close() }()
	return ql, nil
}

func (t *Link) Dial(ctx context.Context, address string) (link.Stream, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true, // local router links; no PKI
		NextProtos:         []string{"zrm"},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	qs, err := openStream(ctx, any(c), false)
	if err != nil {
		closeConn(any(c))
		return nil, err
	}
	return wrapStream(qs, any(c))
}

type listener struct {
	l       any
	laddr   net.Addr
	newCh   chan *stream
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.laddr }

func (l *listener) Accept(ctx context.Context) (link.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	l.once.Do(func() { close(l.closeCh) })
	if v, ok := l.l.(interface{ Close() error }); ok {
		return v.Close()
	}
	return nil
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		// Reflective accept keeps this working across quic-go versions that
		// renamed the connection type.
		mv := reflect.ValueOf(l.l).MethodByName("Accept")
		if !mv.IsValid() {
			return
		}
		outs := mv.Call([]reflect.Value{reflect.ValueOf(ctx)})
		if len(outs) != 2 || !outs[1].IsNil() {
			return
		}
		anyConn := outs[0].Interface()
		go func() {
			qs, err := openStream(ctx, anyConn, true)
			if err != nil {
				closeConn(anyConn)
				return
			}
			s, err := wrapStream(qs, anyConn)
			if err != nil {
				closeConn(anyConn)
				return
			}
			select {
			case l.newCh <- s:
			case <-l.closeCh:
				_ = s.Close()
			}
		}()
	}
}

// openStream obtains the single bidirectional stream of a connection via
// reflection: AcceptStream on the inbound side, OpenStreamSync outbound.
func openStream(ctx context.Context, conn any, inbound bool) (any, error) {
	var mv reflect.Value
	if inbound {
		mv = reflect.ValueOf(conn).MethodByName("AcceptStream")
	} else {
		mv = reflect.ValueOf(conn).MethodByName("OpenStreamSync")
		if !mv.IsValid() {
			mv = reflect.ValueOf(conn).MethodByName("OpenStream")
		}
	}
	if !mv.IsValid() {
		return nil, errors.New("quic: stream open method not found")
	}
	var outs []reflect.Value
	if mv.Type().NumIn() == 1 {
		outs = mv.Call([]reflect.Value{reflect.ValueOf(ctx)})
	} else {
		outs = mv.Call(nil)
	}
	if len(outs) != 2 {
		return nil, errors.New("quic: unexpected stream open signature")
	}
	if !outs[1].IsNil() {
		return nil, outs[1].Interface().(error)
	}
	return outs[0].Interface(), nil
}

func closeConn(conn any) {
	if v, ok := conn.(interface {
		CloseWithError(code uint64, msg string) error
	}); ok {
		_ = v.CloseWithError(0, "")
		return
	}
	if v, ok := conn.(interface{ Close() error }); ok {
		_ = v.Close()
	}
}

type stream struct {
	mu   sync.Mutex
	conn any
	r    io.Reader
	w    io.Writer
	cl   func() error
	br   *bufio.Reader
	bw   *bufio.Writer
}

func (s *stream) SendBytes(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := s.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	return s.bw.Flush()
}

func (s *stream) RecvBytes() ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(s.br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n < 0 || n > link.MaxFrame {
		return nil, errors.New("quic: invalid frame size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *stream) Close() error {
	var err error
	if s.cl != nil {
		err = s.cl()
	}
	closeConn(s.conn)
	return err
}

// wrapStream normalizes a quic-go stream (interface or struct across
// versions) to io.Reader/Writer framing.
func wrapStream(qs any, conn any) (*stream, error) {
	if rw, ok := qs.(interface {
		io.Reader
		io.Writer
		Close() error
	}); ok {
		return &stream{conn: conn, r: rw, w: rw, cl: rw.Close, br: bufio.NewReader(rw), bw: bufio.NewWriter(rw)}, nil
	}
	var r io.Reader
	var w io.Writer
	var cl func() error
	if rr, ok := qs.(io.Reader); ok {
		r = rr
	}
	if ww, ok := qs.(io.Writer); ok {
		w = ww
	}
	if c, ok := qs.(interface{ Close() error }); ok {
		cl = c.Close
	}
	if r == nil || w == nil {
		return nil, errors.New("quic: stream does not expose io.Reader/Writer")
	}
	return &stream{conn: conn, r: r, w: w, cl: cl, br: bufio.NewReader(r), bw: bufio.NewWriter(w)}, nil
}

// selfSignedCert generates a short-lived self-signed TLS certificate for
// local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
