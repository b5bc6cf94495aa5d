package gpc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpchost/gpchosttest"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestClient_requests(t *testing.T) {
	t.Parallel()

	mesh := gpchosttest.NewMesh()
	c := gpc.NewClient(gtest.NewLogger(t), gpc.ClientConfig{
		Self:   clientAddr,
		AppIdx: 2,
		Mesh:   mesh,
	})

	require.NoError(t, c.AdvSet(serverAddr, true, 1))
	require.NoError(t, c.ConnSet(serverAddr, 0x0030, 1))
	require.NoError(t, c.AdvEnable(serverAddr, gpcmsg.AdvNodeIdentity))
	require.NoError(t, c.LinkInit(serverAddr, 10))
	require.NoError(t, c.ConnReset(serverAddr))
	require.NoError(t, c.TestMsgInit(serverAddr, true))

	require.Error(t, c.AdvEnable(serverAddr, 7))

	var got []gpcmsg.Message
	for _, s := range mesh.Sent() {
		require.Equal(t, gpchost.MsgCtx{
			Src: clientAddr, Dst: serverAddr, AppIdx: 2, TTL: gpchost.DefaultTTL,
		}, s.Ctx)
		got = append(got, s.Decode())
	}
	require.Equal(t, []gpcmsg.Message{
		gpcmsg.AdvSet{On: true, NetIdx: 1},
		gpcmsg.ConnSet{Addr: 0x0030, NetIdx: 1},
		gpcmsg.AdvEnable{Mode: gpcmsg.AdvNodeIdentity},
		gpcmsg.LinkInit{BroadcastCount: 10},
		gpcmsg.ConnListReset{},
		gpcmsg.TestMsgInit{On: true},
	}, got)
}

func TestClient_sendError(t *testing.T) {
	t.Parallel()

	mesh := gpchosttest.NewMesh()
	mesh.SetErr(errors.New("no route"))
	c := gpc.NewClient(gtest.NewLogger(t), gpc.ClientConfig{Mesh: mesh})

	err := c.ConnReset(serverAddr)
	require.ErrorContains(t, err, "no route")
}

func TestClient_Statuses(t *testing.T) {
	t.Parallel()

	c := gpc.NewClient(gtest.NewLogger(t), gpc.ClientConfig{Mesh: gpchosttest.NewMesh()})
	sub := c.Statuses()

	st := gpcmsg.Status{Type: gpcmsg.StatusConnAdd, ErrCode: gpcmsg.ErrCodeCapacityExceeded}
	c.HandleMessage(gpchost.MsgCtx{Src: serverAddr}, gpcmsg.OpStatus, gpcmsg.Encode(st))

	// Malformed and unrelated messages are not published.
	c.HandleMessage(gpchost.MsgCtx{Src: serverAddr}, gpcmsg.OpStatus, []byte{1})
	c.HandleMessage(gpchost.MsgCtx{Src: serverAddr}, gpcmsg.OpConnSet, []byte{1, 2, 3})

	gtest.ReceiveSoon(t, sub.Ready)
	require.Equal(t, gpc.StatusNotice{Src: serverAddr, Status: st}, sub.Val)
	gtest.NotSending(t, sub.Next.Ready)
}

func TestClient_LinkFetch(t *testing.T) {
	t.Parallel()

	mesh := gpchosttest.NewMesh()
	c := gpc.NewClient(gtest.NewLogger(t), gpc.ClientConfig{
		Self:         clientAddr,
		Mesh:         mesh,
		FetchTimeout: time.Second,
	})

	type result struct {
		Rsp gpcmsg.LinkFetchRsp
		Err error
	}
	results := make(chan result, 1)
	go func() {
		rsp, err := c.LinkFetch(context.Background(), serverAddr)
		results <- result{Rsp: rsp, Err: err}
	}()

	req := gtest.ReceiveSoon(t, mesh.SentCh)
	require.Equal(t, gpcmsg.OpLinkFetch, req.Op)
	require.Equal(t, serverAddr, req.Ctx.Dst)

	// A second fetch to the same node is rejected while the first is pending.
	_, err := c.LinkFetch(context.Background(), serverAddr)
	require.ErrorIs(t, err, gpc.ErrFetchInProgress)

	rsp := gpcmsg.LinkFetchRsp{
		Src:     serverAddr,
		Entries: []gpcmsg.LinkEntry{{Addr: 0x0005, Count: 3}},
	}

	// Responses from other nodes do not satisfy the fetch.
	c.HandleMessage(gpchost.MsgCtx{Src: 0x0099}, gpcmsg.OpLinkFetchRsp, gpcmsg.Encode(rsp))
	gtest.NotSending(t, results)

	c.HandleMessage(gpchost.MsgCtx{Src: serverAddr}, gpcmsg.OpLinkFetchRsp, gpcmsg.Encode(rsp))

	r := gtest.ReceiveSoon(t, results)
	require.NoError(t, r.Err)
	require.Equal(t, rsp, r.Rsp)
}

func TestClient_LinkFetch_timeout(t *testing.T) {
	t.Parallel()

	c := gpc.NewClient(gtest.NewLogger(t), gpc.ClientConfig{
		Mesh:         gpchosttest.NewMesh(),
		FetchTimeout: 5 * time.Millisecond,
	})

	_, err := c.LinkFetch(context.Background(), serverAddr)
	var fte gpc.FetchTimeoutError
	require.ErrorAs(t, err, &fte)
	require.Equal(t, serverAddr, fte.Dst)

	// The slot is released for the next attempt.
	_, err = c.LinkFetch(context.Background(), serverAddr)
	require.ErrorAs(t, err, &fte)
}

// loopMesh routes messages between one client and one server in memory.
type loopMesh struct {
	ctx context.Context

	mu     sync.Mutex
	server *gpc.Server

	// Messages to the client, delivered in order by a separate goroutine
	// so the server goroutine never waits on the client.
	toClient chan gpchosttest.Sent
}

func (m *loopMesh) pumpClient(c *gpc.Client) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case s := <-m.toClient:
			c.HandleMessage(s.Ctx, s.Op, s.Payload)
		}
	}
}

type loopSide struct {
	m        *loopMesh
	toServer bool
}

func (s loopSide) Send(mctx gpchost.MsgCtx, op gpcmsg.Opcode, payload []byte) error {
	if s.toServer {
		s.m.mu.Lock()
		srv := s.m.server
		s.m.mu.Unlock()
		return srv.HandleMessage(s.m.ctx, mctx, op, payload)
	}

	select {
	case <-s.m.ctx.Done():
		return context.Cause(s.m.ctx)
	case s.m.toClient <- gpchosttest.Sent{Ctx: mctx, Op: op, Payload: payload}:
		return nil
	}
}

func TestClientServer_linkCampaign(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lm := &loopMesh{ctx: ctx, toClient: make(chan gpchosttest.Sent, 64)}

	f := newServerFixture()
	f.Cfg.Mesh = loopSide{m: lm}
	f.Cfg.CampaignStartDelay = 50 * time.Millisecond
	srv := gpc.NewServer(ctx, gtest.NewLogger(t), f.Cfg)
	defer srv.Wait()
	defer cancel()

	lm.mu.Lock()
	lm.server = srv
	lm.mu.Unlock()

	cli := gpc.NewClient(gtest.NewLogger(t), gpc.ClientConfig{
		Self: clientAddr,
		Mesh: loopSide{m: lm, toServer: true},
	})
	go lm.pumpClient(cli)

	sub := cli.Statuses()
	require.NoError(t, cli.LinkInit(serverAddr, 2))

	// A neighbor's broadcast heard by the server.
	require.NoError(t, srv.HandleMessage(
		ctx,
		gpchost.MsgCtx{Src: 0x0044, Dst: gpchost.AddrAllNodes},
		gpcmsg.OpLinkUpdate, gpcmsg.Encode(gpcmsg.LinkUpdate{Addr: 0x0044}),
	))

	var types []gpcmsg.StatusType
	for len(types) < 2 {
		v, next, err := sub.Await(ctx)
		require.NoError(t, err)
		types = append(types, v.Status.Type)
		sub = next
	}
	require.Equal(t, []gpcmsg.StatusType{
		gpcmsg.StatusLinkUpdateStarted,
		gpcmsg.StatusLinkUpdateEnded,
	}, types)

	rsp, err := cli.LinkFetch(ctx, serverAddr)
	require.NoError(t, err)
	require.Equal(t, gpcmsg.LinkFetchRsp{
		Src:     serverAddr,
		Entries: []gpcmsg.LinkEntry{{Addr: 0x0044, Count: 1}},
	}, rsp)
}
