package gpcquic

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/gpcpubsub"
	"github.com/quic-go/quic-go"
)

var _ gpchost.Mesh = (*Bearer)(nil)

// Bearer sends and receives access messages as QUIC datagrams.
// Messages to a unicast address go to that peer's connection only;
// group and all-nodes messages go to every connected peer.
//
// There is no relaying: a frame reaches direct peers only,
// regardless of its TTL.
type Bearer struct {
	e *Endpoint
}

// Send implements [gpchost.Mesh].
func (b *Bearer) Send(mctx gpchost.MsgCtx, op gpcmsg.Opcode, payload []byte) error {
	d := AppendFrame(nil, Frame{Ctx: mctx, Op: op, Payload: payload})

	if isUnicast(mctx.Dst) {
		b.e.mu.Lock()
		qc, ok := b.e.meshConns[mctx.Dst]
		b.e.mu.Unlock()

		if !ok {
			return fmt.Errorf("%w: 0x%04x", ErrNoRoute, mctx.Dst)
		}
		if err := qc.SendDatagram(d); err != nil {
			return fmt.Errorf("failed to send datagram to 0x%04x: %w", mctx.Dst, err)
		}
		return nil
	}

	b.e.mu.Lock()
	conns := maps.Clone(b.e.meshConns)
	b.e.mu.Unlock()

	var err error
	for a, qc := range conns {
		if sendErr := qc.SendDatagram(d); sendErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to send datagram to 0x%04x: %w", a, sendErr))
		}
	}
	return err
}

// Inbound returns the stream node that will hold the next received message.
func (b *Bearer) Inbound() *gpcpubsub.Stream[Inbound] {
	return b.e.inbound.Subscribe()
}

// Peers returns the sorted addresses of peers with a live mesh connection.
func (b *Bearer) Peers() []uint16 {
	b.e.mu.Lock()
	defer b.e.mu.Unlock()

	out := make([]uint16, 0, len(b.e.meshConns))
	for a := range b.e.meshConns {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

func isUnicast(addr uint16) bool {
	return addr != gpchost.AddrUnassigned && addr < 0x8000
}

// maintainMesh keeps a mesh connection to the peer open
// until ctx is cancelled.
func (e *Endpoint) maintainMesh(ctx context.Context, peer uint16) {
	defer e.wg.Done()

	log := e.log.With("peer", fmt.Sprintf("0x%04x", peer))

	for {
		qc, err := e.dial(ctx, peer, ALPNMesh)
		if err == nil {
			err = e.sendHello(ctx, qc)
			if err != nil {
				_ = qc.CloseWithError(codeBadHello, "hello failed")
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug("Mesh dial failed", "err", err)
		} else {
			log.Info("Mesh connection established")
			e.serveMesh(ctx, peer, qc)
		}

		t := time.NewTimer(e.redialInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (e *Endpoint) acceptMesh(ctx context.Context, qc quic.Connection) {
	defer e.wg.Done()

	peer, _, err := readHello(ctx, qc, 0)
	if err != nil {
		e.log.Debug("Dropping mesh connection without hello", "remote", qc.RemoteAddr(), "err", err)
		_ = qc.CloseWithError(codeBadHello, "no hello")
		return
	}

	e.log.Info("Accepted mesh connection", "peer", fmt.Sprintf("0x%04x", peer))
	e.serveMesh(ctx, peer, qc)
}

// serveMesh registers qc as the route to peer
// and delivers its datagrams until the connection ends.
func (e *Endpoint) serveMesh(ctx context.Context, peer uint16, qc quic.Connection) {
	e.mu.Lock()
	e.meshConns[peer] = qc
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		// A newer connection to the same peer may have replaced this one.
		if e.meshConns[peer] == qc {
			delete(e.meshConns, peer)
		}
		e.mu.Unlock()
	}()

	for {
		d, err := qc.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				_ = qc.CloseWithError(codeShutdown, "shutting down")
			} else {
				e.log.Info("Mesh connection closed", "peer", fmt.Sprintf("0x%04x", peer), "err", err)
			}
			return
		}

		f, err := ParseFrame(d)
		if err != nil {
			e.log.Debug("Dropping malformed frame", "peer", fmt.Sprintf("0x%04x", peer), "err", err)
			continue
		}

		if isUnicast(f.Ctx.Dst) && f.Ctx.Dst != e.self {
			continue
		}

		e.inbound.Publish(Inbound{Ctx: f.Ctx, Op: f.Op, Payload: f.Payload})
	}
}
