package gpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/gpcpubsub"
)

// DefaultFetchTimeout is used when [ClientConfig.FetchTimeout] is zero.
const DefaultFetchTimeout = 2 * time.Second

// StatusNotice is a Status message received by a [Client].
type StatusNotice struct {
	// Address of the server that sent the status.
	Src uint16

	Status gpcmsg.Status
}

// Client is the requester side of the protocol.
//
// Requests are fire and forget, except for [*Client.LinkFetch],
// which waits for the matching response.
// Status messages from servers are published on the stream
// returned by [*Client.Statuses].
type Client struct {
	log *slog.Logger

	self   uint16
	appIdx uint16
	ttl    uint8

	mesh gpchost.Mesh

	fetchTimeout time.Duration

	statuses *gpcpubsub.Tail[StatusNotice]

	mu sync.Mutex

	// Outstanding fetches keyed by destination.
	// Each channel has capacity 1.
	fetches map[uint16]chan gpcmsg.LinkFetchRsp
}

// ClientConfig is the configuration for a [Client].
type ClientConfig struct {
	// Address of the element the client model lives on.
	Self uint16

	// Application key index used for every request.
	AppIdx uint16

	// TTL of requests.
	// Zero selects [gpchost.DefaultTTL].
	TTL uint8

	Mesh gpchost.Mesh

	// How long LinkFetch waits for a response.
	// Defaults to [DefaultFetchTimeout].
	FetchTimeout time.Duration
}

func (c ClientConfig) validate() {
	var panicErrs error

	if c.Mesh == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.Mesh may not be nil"))
	}
	if c.FetchTimeout < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("ClientConfig.FetchTimeout may not be negative"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// NewClient returns a new Client.
// It panics if cfg is invalid.
func NewClient(log *slog.Logger, cfg ClientConfig) *Client {
	cfg.validate()

	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.TTL == 0 {
		cfg.TTL = gpchost.DefaultTTL
	}

	return &Client{
		log: log,

		self:   cfg.Self,
		appIdx: cfg.AppIdx,
		ttl:    cfg.TTL,

		mesh: cfg.Mesh,

		fetchTimeout: cfg.FetchTimeout,

		statuses: gpcpubsub.NewTail[StatusNotice](),

		fetches: make(map[uint16]chan gpcmsg.LinkFetchRsp),
	}
}

// Statuses returns the stream node that will hold the next received status.
func (c *Client) Statuses() *gpcpubsub.Stream[StatusNotice] {
	return c.statuses.Subscribe()
}

// AdvSet turns node identity advertising on or off on subnet netIdx of dst.
func (c *Client) AdvSet(dst uint16, on bool, netIdx uint8) error {
	return c.send(dst, gpcmsg.AdvSet{On: on, NetIdx: netIdx})
}

// ConnSet asks dst to keep a proxy connection to addr on subnet netIdx.
// The outcome arrives as a [gpcmsg.StatusConnAdd] notice.
func (c *Client) ConnSet(dst, addr uint16, netIdx uint8) error {
	return c.send(dst, gpcmsg.ConnSet{Addr: addr, NetIdx: netIdx})
}

// AdvEnable sets the idle advertising mode of dst.
func (c *Client) AdvEnable(dst uint16, mode gpcmsg.AdvMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid advertising mode %s", mode)
	}
	return c.send(dst, gpcmsg.AdvEnable{Mode: mode})
}

// LinkInit starts a link campaign of count broadcasts on dst.
func (c *Client) LinkInit(dst uint16, count uint8) error {
	return c.send(dst, gpcmsg.LinkInit{BroadcastCount: count})
}

// ConnReset clears the connection list of dst.
func (c *Client) ConnReset(dst uint16) error {
	return c.send(dst, gpcmsg.ConnListReset{})
}

// TestMsgInit asks dst to broadcast a test message.
func (c *Client) TestMsgInit(dst uint16, on bool) error {
	return c.send(dst, gpcmsg.TestMsgInit{On: on})
}

// LinkFetch requests the link campaign results of dst
// and waits for the response.
//
// Only one fetch per destination may be outstanding;
// a second concurrent fetch returns [ErrFetchInProgress].
// If no response arrives within the configured fetch timeout,
// LinkFetch returns a [FetchTimeoutError].
func (c *Client) LinkFetch(ctx context.Context, dst uint16) (gpcmsg.LinkFetchRsp, error) {
	ch := make(chan gpcmsg.LinkFetchRsp, 1)

	c.mu.Lock()
	if _, ok := c.fetches[dst]; ok {
		c.mu.Unlock()
		return gpcmsg.LinkFetchRsp{}, ErrFetchInProgress
	}
	c.fetches[dst] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.fetches, dst)
		c.mu.Unlock()
	}()

	if err := c.send(dst, gpcmsg.LinkFetch{}); err != nil {
		return gpcmsg.LinkFetchRsp{}, err
	}

	timer := time.NewTimer(c.fetchTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return gpcmsg.LinkFetchRsp{}, fmt.Errorf(
			"context cancelled while waiting for link fetch response: %w",
			context.Cause(ctx),
		)
	case <-timer.C:
		return gpcmsg.LinkFetchRsp{}, FetchTimeoutError{Dst: dst}
	case rsp := <-ch:
		return rsp, nil
	}
}

// HandleMessage processes one message received by the client model.
// Messages other than Status and LinkFetchRsp are ignored,
// as are malformed messages.
func (c *Client) HandleMessage(mctx gpchost.MsgCtx, op gpcmsg.Opcode, payload []byte) {
	if op != gpcmsg.OpStatus && op != gpcmsg.OpLinkFetchRsp {
		return
	}

	m, err := gpcmsg.Decode(op, payload)
	if err != nil {
		c.log.Debug(
			"Dropping malformed message",
			"op", op,
			"src", fmt.Sprintf("0x%04x", mctx.Src),
			"err", err,
		)
		return
	}

	switch m := m.(type) {
	case gpcmsg.Status:
		c.statuses.Publish(StatusNotice{Src: mctx.Src, Status: m})

	case gpcmsg.LinkFetchRsp:
		c.mu.Lock()
		ch, ok := c.fetches[mctx.Src]
		c.mu.Unlock()

		if !ok {
			c.log.Debug(
				"Dropping unsolicited link fetch response",
				"src", fmt.Sprintf("0x%04x", mctx.Src),
			)
			return
		}

		select {
		case ch <- m:
		default:
			// Duplicate response; the first one wins.
		}
	}
}

func (c *Client) send(dst uint16, m gpcmsg.Message) error {
	mctx := gpchost.MsgCtx{
		Src:    c.self,
		Dst:    dst,
		AppIdx: c.appIdx,
		TTL:    c.ttl,
	}
	if err := c.mesh.Send(mctx, m.Opcode(), gpcmsg.Encode(m)); err != nil {
		return fmt.Errorf("failed to send %s to 0x%04x: %w", m.Opcode(), dst, err)
	}
	return nil
}
