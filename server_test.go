package gpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpchost/gpchosttest"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/gtest"
	"github.com/stretchr/testify/require"
)

const (
	serverAddr uint16 = 0x0010
	clientAddr uint16 = 0x0001
)

type serverFixture struct {
	Mesh      *gpchosttest.Mesh
	Transport *gpchosttest.Transport
	Adv       *gpchosttest.Advertiser
	Store     *gpchosttest.Storage

	Cfg gpc.ServerConfig
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		Mesh:      gpchosttest.NewMesh(),
		Transport: gpchosttest.NewTransport(),
		Adv:       gpchosttest.NewAdvertiser(),
		Store:     gpchosttest.NewStorage(),
	}
	f.Cfg = gpc.ServerConfig{
		Self: serverAddr,

		Mesh:       f.Mesh,
		Transport:  f.Transport,
		Advertiser: f.Adv,
		Storage:    f.Store,

		RetryInterval:      time.Hour,
		CampaignInterval:   time.Millisecond,
		CampaignStartDelay: time.Millisecond,
	}
	return f
}

func deliver(t *testing.T, ctx context.Context, s *gpc.Server, m gpcmsg.Message) {
	t.Helper()

	require.NoError(t, s.HandleMessage(
		ctx,
		gpchost.MsgCtx{Src: clientAddr, Dst: serverAddr},
		m.Opcode(), gpcmsg.Encode(m),
	))
}

func TestServer_connectionLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newServerFixture()
	s := gpc.NewServer(ctx, gtest.NewLogger(t), f.Cfg)
	defer s.Wait()
	defer cancel()

	deliver(t, ctx, s, gpcmsg.ConnSet{Addr: 0x0020, NetIdx: 0})

	st := gtest.ReceiveSoon(t, f.Mesh.SentCh)
	require.Equal(t, clientAddr, st.Ctx.Dst)
	require.Equal(t, gpcmsg.Status{Type: gpcmsg.StatusConnAdd}, st.Decode())

	c := gtest.ReceiveSoon(t, f.Transport.ConnectCh)
	require.Equal(t, uint16(0x0020), c.Addr)

	require.NoError(t, s.HandleLinkChange(ctx, gpchost.LinkChange{
		Kind: gpchost.LinkConnected, Addr: 0x0020, Conn: 4,
	}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []gpc.Connection{
		{Addr: 0x0020, State: gpc.ConnActive, Conn: 4},
	}, snap.Connections)

	// Survives a restart through storage.
	cancel()
	s.Wait()

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	s2 := gpc.NewServer(ctx2, gtest.NewLogger(t), f.Cfg)
	defer s2.Wait()
	defer cancel2()

	c = gtest.ReceiveSoon(t, f.Transport.ConnectCh)
	require.Equal(t, uint16(0x0020), c.Addr)

	snap, err = s2.Snapshot(ctx2)
	require.NoError(t, err)
	require.Equal(t, []gpc.Connection{
		{Addr: 0x0020, State: gpc.ConnPending},
	}, snap.Connections)
}

func TestServer_stopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := gpc.NewServer(ctx, gtest.NewLogger(t), newServerFixture().Cfg)
	cancel()
	s.Wait()

	err := s.HandleMessage(context.Background(), gpchost.MsgCtx{}, gpcmsg.OpLinkFetch, nil)
	require.ErrorIs(t, err, gpc.ErrStopped)

	_, err = s.Snapshot(context.Background())
	require.ErrorIs(t, err, gpc.ErrStopped)
}

func TestNewServer_invalidConfig(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		gpc.NewServer(context.Background(), gtest.NewLogger(t), gpc.ServerConfig{})
	})

	cfg := newServerFixture().Cfg
	cfg.Self = gpchost.AddrAllNodes
	require.Panics(t, func() {
		gpc.NewServer(context.Background(), gtest.NewLogger(t), cfg)
	})
}
