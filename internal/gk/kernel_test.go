package gk_test

import (
	"context"
	"testing"
	"time"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpchost/gpchosttest"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/connlist"
	"github.com/gordian-engine/gpc/internal/gk"
	"github.com/gordian-engine/gpc/internal/gtest"
	"github.com/stretchr/testify/require"
)

type kernelFixture struct {
	K *gk.Kernel

	Mesh      *gpchosttest.Mesh
	Transport *gpchosttest.Transport
	Store     *gpchosttest.Storage
}

func newKernelFixture(
	t *testing.T, ctx context.Context, mutate func(*gk.OrchestratorConfig),
) *kernelFixture {
	t.Helper()

	f := &kernelFixture{
		Mesh:      gpchosttest.NewMesh(),
		Transport: gpchosttest.NewTransport(),
		Store:     gpchosttest.NewStorage(),
	}

	cfg := gk.OrchestratorConfig{
		Self: selfAddr,

		Mesh:       f.Mesh,
		Transport:  f.Transport,
		Advertiser: gpchosttest.NewAdvertiser(),
		Storage:    f.Store,

		RetryInterval:      time.Hour,
		CampaignInterval:   5 * time.Millisecond,
		CampaignStartDelay: 5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f.K = gk.NewKernel(ctx, gtest.NewLogger(t), gk.KernelConfig{OrchestratorConfig: cfg})
	return f
}

func (f *kernelFixture) Submit(t *testing.T, ctx context.Context, m gpcmsg.Message) {
	t.Helper()

	require.NoError(t, f.K.Submit(ctx, gk.MessageEvent{
		Ctx:     gpchost.MsgCtx{Src: requesterAddr, Dst: selfAddr},
		Op:      m.Opcode(),
		Payload: gpcmsg.Encode(m),
	}))
}

func TestKernel_connectionLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newKernelFixture(t, ctx, nil)
	defer f.K.Wait()
	defer cancel()

	f.Submit(t, ctx, gpcmsg.ConnSet{Addr: 0x0042, NetIdx: 1})

	st := gtest.ReceiveSoon(t, f.Mesh.SentCh)
	require.Equal(t, gpcmsg.Status{Type: gpcmsg.StatusConnAdd}, st.Decode())

	// The immediate retry connects without waiting for the hour-long interval.
	c := gtest.ReceiveSoon(t, f.Transport.ConnectCh)
	require.Equal(t, gpchosttest.ConnectCall{Addr: 0x0042, NetIdx: 1}, c)

	require.NoError(t, f.K.Submit(ctx, gk.LinkEvent{Change: gpchost.LinkChange{
		Kind: gpchost.LinkConnected, Addr: 0x0042, NetIdx: 1, Conn: 3,
	}}))

	s, err := f.K.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, s.Entries, 1)
	require.Equal(t, connlist.Active, s.Entries[0].State)

	// Active entries are not reconnected.
	gtest.NotSendingWithin(t, f.Transport.ConnectCh, 20*time.Millisecond)

	f.Submit(t, ctx, gpcmsg.ConnListReset{})
	require.Equal(t, gpchost.ConnHandle(3), gtest.ReceiveSoon(t, f.Transport.DisconnectCh))

	st = gtest.ReceiveSoon(t, f.Mesh.SentCh)
	require.Equal(t, gpcmsg.Status{Type: gpcmsg.StatusConnReset}, st.Decode())
}

func TestKernel_linkCampaign(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newKernelFixture(t, ctx, nil)
	defer f.K.Wait()
	defer cancel()

	f.Submit(t, ctx, gpcmsg.LinkInit{BroadcastCount: 3})

	started := gtest.ReceiveSoon(t, f.Mesh.SentCh)
	require.Equal(t, gpcmsg.Status{Type: gpcmsg.StatusLinkUpdateStarted}, started.Decode())

	f.Submit(t, ctx, gpcmsg.LinkUpdate{Addr: 0x0009})

	for range 3 {
		u := gtest.ReceiveWithin(t, f.Mesh.SentCh, time.Second)
		require.Equal(t, gpcmsg.LinkUpdate{Addr: selfAddr}, u.Decode())
	}

	ended := gtest.ReceiveWithin(t, f.Mesh.SentCh, time.Second)
	require.Equal(t, gpcmsg.Status{Type: gpcmsg.StatusLinkUpdateEnded}, ended.Decode())
	require.Equal(t, requesterAddr, ended.Ctx.Dst)

	gtest.NotSendingWithin(t, f.Mesh.SentCh, 20*time.Millisecond)

	s, err := f.K.Snapshot(ctx)
	require.NoError(t, err)
	require.False(t, s.Campaign.Active)
	require.Equal(t, []gpcmsg.LinkEntry{{Addr: 0x0009, Count: 1}}, s.Campaign.LinkEntries())
}

func TestKernel_restartedCampaignIgnoresStaleTimer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newKernelFixture(t, ctx, func(cfg *gk.OrchestratorConfig) {
		cfg.CampaignStartDelay = 50 * time.Millisecond
	})
	defer f.K.Wait()
	defer cancel()

	// Restarting re-arms the campaign task,
	// so only one stream of updates is produced.
	f.Submit(t, ctx, gpcmsg.LinkInit{BroadcastCount: 2})
	f.Submit(t, ctx, gpcmsg.LinkInit{BroadcastCount: 2})

	var updates, ended int
	for ended == 0 {
		sent := gtest.ReceiveWithin(t, f.Mesh.SentCh, time.Second)
		switch sent.Op {
		case gpcmsg.OpLinkUpdate:
			updates++
		case gpcmsg.OpStatus:
			if sent.Decode().(gpcmsg.Status).Type == gpcmsg.StatusLinkUpdateEnded {
				ended++
			}
		}
	}

	require.Equal(t, 2, updates)
	gtest.NotSendingWithin(t, f.Mesh.SentCh, 20*time.Millisecond)
}

func TestKernel_restoresOnStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	saved := connlist.New()
	_, err := saved.Insert(0x0077, 2)
	require.NoError(t, err)

	tr := gpchosttest.NewTransport()
	store := gpchosttest.NewStorage()
	require.NoError(t, store.Save(ctx, saved.MarshalState(gpcmsg.AdvDisabled)))

	k := gk.NewKernel(ctx, gtest.NewLogger(t), gk.KernelConfig{
		OrchestratorConfig: gk.OrchestratorConfig{
			Mesh:       gpchosttest.NewMesh(),
			Transport:  tr,
			Advertiser: gpchosttest.NewAdvertiser(),
			Storage:    store,

			RetryInterval:    time.Hour,
			CampaignInterval: time.Hour,
		},
	})
	defer k.Wait()
	defer cancel()

	c := gtest.ReceiveSoon(t, tr.ConnectCh)
	require.Equal(t, gpchosttest.ConnectCall{Addr: 0x0077, NetIdx: 2}, c)
}

func TestKernel_stopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	f := newKernelFixture(t, ctx, nil)
	cancel()
	f.K.Wait()

	_, err := f.K.Snapshot(context.Background())
	require.ErrorIs(t, err, gk.ErrKernelStopped)
}
