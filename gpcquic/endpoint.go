package gpcquic

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"sync"
	"time"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/gpcpubsub"
	"github.com/quic-go/quic-go"
)

// Application error codes used when closing connections.
const (
	codeShutdown   quic.ApplicationErrorCode = 0
	codeDisconnect quic.ApplicationErrorCode = 1
	codeBadHello   quic.ApplicationErrorCode = 2
)

// How long an accepting side waits for the dialer's hello stream.
const helloTimeout = 5 * time.Second

// Inbound is an access message received by the [Bearer].
type Inbound struct {
	Ctx gpchost.MsgCtx

	Op      gpcmsg.Opcode
	Payload []byte
}

// Endpoint is a QUIC node that serves as both mesh bearer and proxy transport.
type Endpoint struct {
	log *slog.Logger

	// Lifetime of the endpoint, for work started outside NewEndpoint.
	ctx context.Context

	self uint16

	pc net.PacketConn
	tr *quic.Transport
	ln *quic.Listener

	tlsConf    *tls.Config
	qConf      *quic.Config
	serverName string

	peers map[uint16]net.Addr

	redialInterval time.Duration
	dialTimeout    time.Duration

	inbound *gpcpubsub.Tail[Inbound]
	changes *gpcpubsub.Tail[gpchost.LinkChange]

	mu sync.Mutex

	// Set once shutdown begins; no goroutines may be added to wg after.
	stopped bool

	// Current mesh connection per peer address.
	meshConns map[uint16]quic.Connection

	// Outgoing proxy links.
	links      map[gpchost.ConnHandle]*link
	lastHandle gpchost.ConnHandle

	wg sync.WaitGroup
}

// NewEndpoint starts listening on cfg.PacketConn
// and begins dialing every configured peer.
// The endpoint shuts down when ctx is cancelled;
// use [*Endpoint.Wait] to block until that completes.
//
// NewEndpoint panics if cfg is invalid.
func NewEndpoint(ctx context.Context, log *slog.Logger, cfg Config) (*Endpoint, error) {
	cfg.validate()

	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	if cfg.RedialInterval == 0 {
		cfg.RedialInterval = DefaultRedialInterval
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}

	qConf := cfg.quicConfig()

	tr := &quic.Transport{Conn: cfg.PacketConn}

	listenTLS := cfg.TLSConfig.Clone()
	listenTLS.NextProtos = []string{ALPNMesh, ALPNProxy}
	ln, err := tr.Listen(listenTLS, qConf)
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}

	e := &Endpoint{
		log: log,
		ctx: ctx,

		self: cfg.Self,

		pc: cfg.PacketConn,
		tr: tr,
		ln: ln,

		tlsConf:    cfg.TLSConfig,
		qConf:      qConf,
		serverName: cfg.ServerName,

		peers: maps.Clone(cfg.Peers),

		redialInterval: cfg.RedialInterval,
		dialTimeout:    cfg.DialTimeout,

		inbound: gpcpubsub.NewTail[Inbound](),
		changes: gpcpubsub.NewTail[gpchost.LinkChange](),

		meshConns: make(map[uint16]quic.Connection),
		links:     make(map[gpchost.ConnHandle]*link),
	}

	e.wg.Add(2)
	go e.acceptLoop(ctx)
	go e.closeOnDone(ctx)

	for a := range e.peers {
		e.wg.Add(1)
		go e.maintainMesh(ctx, a)
	}

	return e, nil
}

// Wait blocks until the endpoint has released its socket
// and all of its goroutines have returned.
func (e *Endpoint) Wait() {
	e.wg.Wait()
}

// Bearer returns the mesh side of e.
func (e *Endpoint) Bearer() *Bearer {
	return &Bearer{e: e}
}

// Linker returns the proxy link side of e.
func (e *Endpoint) Linker() *Linker {
	return &Linker{e: e}
}

// Addr reports the local network address.
func (e *Endpoint) Addr() string {
	return e.ln.Addr().String()
}

func (e *Endpoint) closeOnDone(ctx context.Context) {
	defer e.wg.Done()

	<-ctx.Done()

	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	if err := e.ln.Close(); err != nil {
		e.log.Debug("Error closing listener", "err", err)
	}
	if err := e.tr.Close(); err != nil {
		e.log.Debug("Error closing transport", "err", err)
	}
	// The transport does not own the socket.
	_ = e.pc.Close()
}

func (e *Endpoint) acceptLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		qc, err := e.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.log.Info("Stopped accepting connections", "err", err)
			}
			return
		}

		e.wg.Add(1)
		switch proto := qc.ConnectionState().TLS.NegotiatedProtocol; proto {
		case ALPNMesh:
			go e.acceptMesh(ctx, qc)
		case ALPNProxy:
			go e.acceptProxy(ctx, qc)
		default:
			panic(fmt.Errorf("BUG: listener accepted unexpected protocol %q", proto))
		}
	}
}

func (e *Endpoint) dial(ctx context.Context, addr uint16, alpn string) (quic.Connection, error) {
	na, ok := e.peers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownPeer, addr)
	}

	tlsConf := e.tlsConf.Clone()
	tlsConf.NextProtos = []string{alpn}
	tlsConf.ServerName = e.serverName

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()

	qc, err := e.tr.Dial(dialCtx, na, tlsConf, e.qConf)
	if err != nil {
		return nil, fmt.Errorf("failed to dial 0x%04x at %s: %w", addr, na, err)
	}
	return qc, nil
}

// sendHello identifies this node to the accepting side,
// followed by any extra bytes.
func (e *Endpoint) sendHello(ctx context.Context, qc quic.Connection, extra ...byte) error {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	s, err := qc.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to open hello stream: %w", err)
	}

	b := binary.LittleEndian.AppendUint16(nil, e.self)
	b = append(b, extra...)
	if _, err := s.Write(b); err != nil {
		return fmt.Errorf("failed to write hello: %w", err)
	}
	return s.Close()
}

// readHello reads the dialer's address and n extra bytes.
func readHello(ctx context.Context, qc quic.Connection, n int) (uint16, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	s, err := qc.AcceptUniStream(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to accept hello stream: %w", err)
	}

	if err := s.SetReadDeadline(time.Now().Add(helloTimeout)); err != nil {
		return 0, nil, fmt.Errorf("failed to set hello deadline: %w", err)
	}

	b := make([]byte, 2+n)
	if _, err := io.ReadFull(s, b); err != nil {
		return 0, nil, fmt.Errorf("failed to read hello: %w", err)
	}
	return binary.LittleEndian.Uint16(b), b[2:], nil
}
