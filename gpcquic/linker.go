package gpcquic

import (
	"context"
	"fmt"
	"slices"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcpubsub"
	"github.com/quic-go/quic-go"
)

var (
	_ gpchost.Transport  = (*Linker)(nil)
	_ gpchost.LinkLister = (*Linker)(nil)
)

// Linker opens proxy links as dedicated QUIC connections.
//
// Lifecycle changes are published on [*Linker.Changes]:
// LinkConnected once the handshake completes,
// LinkConfigured once the peer has received the subnet index,
// and LinkDisconnected when a dial fails or a link closes.
type Linker struct {
	e *Endpoint
}

type link struct {
	qc quic.Connection

	addr   uint16
	netIdx uint8
}

// Connect implements [gpchost.Transport].
// It returns immediately; the outcome is published as a link change.
func (l *Linker) Connect(addr uint16, netIdx uint8) error {
	if _, ok := l.e.peers[addr]; !ok {
		return fmt.Errorf("%w: 0x%04x", ErrUnknownPeer, addr)
	}

	// The closeOnDone goroutine holds wg until stopped is set,
	// so this Add never races with Wait.
	l.e.mu.Lock()
	if l.e.stopped || l.e.ctx.Err() != nil {
		l.e.mu.Unlock()
		return fmt.Errorf("endpoint stopped: %w", context.Cause(l.e.ctx))
	}
	l.e.wg.Add(1)
	l.e.mu.Unlock()

	go l.e.runLink(addr, netIdx)
	return nil
}

// Disconnect implements [gpchost.Transport].
func (l *Linker) Disconnect(h gpchost.ConnHandle) error {
	l.e.mu.Lock()
	lk, ok := l.e.links[h]
	l.e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}

	// The link goroutine publishes the disconnect.
	return lk.qc.CloseWithError(codeDisconnect, "disconnect requested")
}

// Links implements [gpchost.LinkLister].
func (l *Linker) Links() []gpchost.LinkChange {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()

	out := make([]gpchost.LinkChange, 0, len(l.e.links))
	for h, lk := range l.e.links {
		out = append(out, gpchost.LinkChange{
			Kind:   gpchost.LinkConnected,
			Addr:   lk.addr,
			NetIdx: lk.netIdx,
			Conn:   h,
		})
	}
	slices.SortFunc(out, func(a, b gpchost.LinkChange) int {
		return int(a.Conn) - int(b.Conn)
	})
	return out
}

// Changes returns the stream node that will hold the next link change.
func (l *Linker) Changes() *gpcpubsub.Stream[gpchost.LinkChange] {
	return l.e.changes.Subscribe()
}

// runLink dials one proxy link and holds it until it closes
// or the endpoint shuts down.
func (e *Endpoint) runLink(addr uint16, netIdx uint8) {
	defer e.wg.Done()

	lc := gpchost.LinkChange{Addr: addr, NetIdx: netIdx}

	ctx := e.ctx
	qc, err := e.dial(ctx, addr, ALPNProxy)
	if err != nil {
		e.log.Debug("Proxy link dial failed", "addr", fmt.Sprintf("0x%04x", addr), "err", err)
		lc.Kind = gpchost.LinkDisconnected
		e.changes.Publish(lc)
		return
	}

	e.mu.Lock()
	e.lastHandle++
	h := e.lastHandle
	e.links[h] = &link{qc: qc, addr: addr, netIdx: netIdx}
	e.mu.Unlock()

	lc.Kind = gpchost.LinkConnected
	lc.Conn = h
	e.changes.Publish(lc)

	if err := e.sendHello(ctx, qc, netIdx); err != nil {
		e.log.Debug("Proxy link configuration failed", "addr", fmt.Sprintf("0x%04x", addr), "err", err)
		_ = qc.CloseWithError(codeBadHello, "configuration failed")
	} else {
		e.changes.Publish(gpchost.LinkChange{
			Kind: gpchost.LinkConfigured, Addr: addr, NetIdx: netIdx,
		})
	}

	select {
	case <-ctx.Done():
		_ = qc.CloseWithError(codeShutdown, "shutting down")
	case <-qc.Context().Done():
	}

	e.mu.Lock()
	delete(e.links, h)
	e.mu.Unlock()

	e.changes.Publish(gpchost.LinkChange{
		Kind: gpchost.LinkDisconnected, Addr: addr, NetIdx: netIdx, Conn: h,
	})
}

// acceptProxy holds the far end of a proxy link until either side closes it.
func (e *Endpoint) acceptProxy(ctx context.Context, qc quic.Connection) {
	defer e.wg.Done()

	peer, extra, err := readHello(ctx, qc, 1)
	if err != nil {
		e.log.Debug("Dropping proxy link without hello", "remote", qc.RemoteAddr(), "err", err)
		_ = qc.CloseWithError(codeBadHello, "no hello")
		return
	}

	log := e.log.With("peer", fmt.Sprintf("0x%04x", peer), "net_idx", extra[0])
	log.Info("Proxy client connected")

	select {
	case <-ctx.Done():
		_ = qc.CloseWithError(codeShutdown, "shutting down")
	case <-qc.Context().Done():
		log.Info("Proxy client disconnected")
	}
}
