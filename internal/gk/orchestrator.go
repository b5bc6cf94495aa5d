package gk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/connlist"
	"github.com/gordian-engine/gpc/internal/linkdata"
)

// OrchestratorConfig is the configuration for [NewOrchestrator].
type OrchestratorConfig struct {
	// Address of the local node.
	Self uint16

	// Publication address and application key for unsolicited messages.
	// A zero PublishAddr means the model has no publication configured.
	PublishAddr   uint16
	PublishAppIdx uint16

	Mesh       gpchost.Mesh
	Transport  gpchost.Transport
	Advertiser gpchost.Advertiser
	Storage    gpchost.Storage

	// Optional.
	Indicator gpchost.Indicator

	Scheduler Scheduler

	RetryInterval      time.Duration
	CampaignInterval   time.Duration
	CampaignStartDelay time.Duration
}

// Snapshot is a copy of the orchestrator state.
type Snapshot struct {
	Entries  []connlist.Entry
	Cursor   int
	Campaign linkdata.Snapshot
	IdleMode gpcmsg.AdvMode
}

// Orchestrator owns the connection list, the link campaign,
// and the idle advertising mode of one node.
//
// Orchestrator methods are synchronous and must be called from a single goroutine.
// Delayed work is expressed through the configured [Scheduler].
type Orchestrator struct {
	log *slog.Logger

	self uint16

	pubAddr   uint16
	pubAppIdx uint16

	mesh  gpchost.Mesh
	tr    gpchost.Transport
	adv   gpchost.Advertiser
	store gpchost.Storage
	ind   gpchost.Indicator

	sched Scheduler

	retryInterval      time.Duration
	campaignInterval   time.Duration
	campaignStartDelay time.Duration

	list     *connlist.List
	links    *linkdata.Collector
	idleMode gpcmsg.AdvMode

	// Reply context for the requester of the current link campaign,
	// used when there is no publication address.
	campaignOwner gpchost.MsgCtx
}

func NewOrchestrator(log *slog.Logger, cfg OrchestratorConfig) *Orchestrator {
	var errs error
	if cfg.Mesh == nil {
		errs = errors.Join(errs, errors.New("Mesh must not be nil"))
	}
	if cfg.Transport == nil {
		errs = errors.Join(errs, errors.New("Transport must not be nil"))
	}
	if cfg.Advertiser == nil {
		errs = errors.Join(errs, errors.New("Advertiser must not be nil"))
	}
	if cfg.Storage == nil {
		errs = errors.Join(errs, errors.New("Storage must not be nil"))
	}
	if cfg.Scheduler == nil {
		errs = errors.Join(errs, errors.New("Scheduler must not be nil"))
	}
	if cfg.RetryInterval <= 0 || cfg.CampaignInterval <= 0 || cfg.CampaignStartDelay < 0 {
		errs = errors.Join(errs, fmt.Errorf(
			"invalid intervals (retry=%s campaign=%s start=%s)",
			cfg.RetryInterval, cfg.CampaignInterval, cfg.CampaignStartDelay,
		))
	}
	if errs != nil {
		panic(fmt.Errorf("BUG: invalid OrchestratorConfig: %w", errs))
	}

	return &Orchestrator{
		log: log,

		self: cfg.Self,

		pubAddr:   cfg.PublishAddr,
		pubAppIdx: cfg.PublishAppIdx,

		mesh:  cfg.Mesh,
		tr:    cfg.Transport,
		adv:   cfg.Advertiser,
		store: cfg.Storage,
		ind:   cfg.Indicator,

		sched: cfg.Scheduler,

		retryInterval:      cfg.RetryInterval,
		campaignInterval:   cfg.CampaignInterval,
		campaignStartDelay: cfg.CampaignStartDelay,

		list:  connlist.New(),
		links: linkdata.New(cfg.Self),
	}
}

// Restore loads the persisted connection list and idle advertising mode,
// applies the mode, and starts retrying any saved entries.
//
// Unreadable state is logged and discarded;
// the node then starts with an empty list.
// If the transport implements [gpchost.LinkLister],
// connections it still holds are marked Active.
func (o *Orchestrator) Restore(ctx context.Context) {
	blob, err := o.store.Load(ctx)
	switch {
	case err != nil:
		o.log.Warn("Failed to load persisted state; starting empty", "err", err)
	case len(blob) == 0:
		o.log.Debug("No persisted state")
	default:
		mode, err := o.list.UnmarshalState(blob)
		if err != nil {
			o.log.Warn("Discarding invalid persisted state", "err", err)
			break
		}
		o.idleMode = mode
		o.log.Info(
			"Restored persisted state",
			"entries", o.list.Len(),
			"idle_mode", mode,
		)
	}

	if ll, ok := o.tr.(gpchost.LinkLister); ok {
		for _, lc := range ll.Links() {
			if lc.Kind != gpchost.LinkConnected {
				continue
			}
			if o.list.MarkActive(lc.Addr, lc.NetIdx, lc.Conn) {
				o.log.Debug(
					"Adopted existing connection",
					"addr", addrAttr(lc.Addr),
					"net_idx", lc.NetIdx,
				)
			}
		}
	}

	o.setAdvertising(o.idleMode, gpchost.AllSubnets)

	if o.list.Len() > 0 {
		o.sched.Arm(RetryTask, 0)
	}
}

// Fire runs the task whose deadline elapsed.
func (o *Orchestrator) Fire(id TaskID) {
	switch id {
	case RetryTask:
		o.retry()
	case CampaignTask:
		o.campaignTick()
	default:
		panic(fmt.Errorf("BUG: fired unknown task %s", id))
	}
}

// retry advances at most one Inactive entry to Pending.
func (o *Orchestrator) retry() {
	i, ok := o.list.NextInactive()
	if !ok {
		// Nothing left to connect; idle until the list changes.
		o.setAdvertising(o.idleMode, gpchost.AllSubnets)
		return
	}

	e := o.list.At(i)
	o.setAdvertising(gpcmsg.AdvNodeIdentity, e.NetIdx)

	if err := o.tr.Connect(e.Addr, e.NetIdx); err != nil {
		o.log.Warn(
			"Failed to start proxy connection",
			"addr", addrAttr(e.Addr),
			"net_idx", e.NetIdx,
			"err", err,
		)
	} else {
		o.list.MarkPending(i)
		o.log.Debug(
			"Connecting to proxy peer",
			"addr", addrAttr(e.Addr),
			"net_idx", e.NetIdx,
		)
	}

	o.sched.Arm(RetryTask, o.retryInterval)
}

func (o *Orchestrator) campaignTick() {
	broadcast, done := o.links.Tick()

	if broadcast {
		o.send(o.broadcastCtx(0), gpcmsg.LinkUpdate{Addr: o.self})
	}

	if !done {
		if broadcast {
			o.sched.Arm(CampaignTask, o.campaignInterval)
		}
		return
	}

	dst := o.campaignOwner
	if o.pubAddr != gpchost.AddrUnassigned {
		dst = gpchost.MsgCtx{
			Src:    o.self,
			Dst:    o.pubAddr,
			AppIdx: o.pubAppIdx,
			TTL:    gpchost.DefaultTTL,
		}
	}
	o.send(dst, gpcmsg.Status{Type: gpcmsg.StatusLinkUpdateEnded})

	o.log.Info(
		"Link campaign complete",
		"observed", len(o.links.Snapshot().Observations),
	)
}

// HandleLinkChange applies a transport lifecycle notification.
//
// A failed attempt (LinkDisconnected without a handle on a Pending entry)
// re-arms the retry task after the full retry interval instead of immediately.
// Changes that refer to a link the list does not own are ignored,
// and unowned new links are disconnected.
func (o *Orchestrator) HandleLinkChange(lc gpchost.LinkChange) {
	switch lc.Kind {
	case gpchost.LinkConnected:
		e, ok := o.list.Find(lc.Addr, lc.NetIdx)
		if !ok || (e.State == connlist.Active && e.Conn != lc.Conn) {
			o.closeUnowned(lc)
			return
		}
		o.list.MarkActive(lc.Addr, lc.NetIdx, lc.Conn)

	case gpchost.LinkConfigured:
		// Nothing changes, but the retry scan can move on to the next entry.

	case gpchost.LinkDisconnected:
		e, ok := o.list.Find(lc.Addr, lc.NetIdx)
		switch {
		case ok && lc.Conn == 0 && e.State == connlist.Pending:
			o.list.MarkInactive(lc.Addr, lc.NetIdx)
			o.log.Debug(
				"Proxy connection attempt failed",
				"addr", addrAttr(lc.Addr),
				"net_idx", lc.NetIdx,
			)
			o.sched.Arm(RetryTask, o.retryInterval)
			return

		case ok && lc.Conn != 0 && e.State == connlist.Active && e.Conn == lc.Conn:
			o.list.MarkInactive(lc.Addr, lc.NetIdx)

		default:
			o.log.Debug(
				"Ignoring disconnect of link not owned by list",
				"addr", addrAttr(lc.Addr),
				"net_idx", lc.NetIdx,
				"conn", lc.Conn,
			)
			return
		}

	default:
		o.log.Warn("Ignoring unknown link change", "kind", lc.Kind)
		return
	}

	o.log.Debug(
		"Link changed",
		"kind", lc.Kind,
		"addr", addrAttr(lc.Addr),
		"net_idx", lc.NetIdx,
	)
	o.sched.Arm(RetryTask, 0)
}

// closeUnowned disconnects a link that completed after its entry
// was removed or was already satisfied by another link.
func (o *Orchestrator) closeUnowned(lc gpchost.LinkChange) {
	o.log.Info(
		"Closing proxy connection not owned by list",
		"addr", addrAttr(lc.Addr),
		"net_idx", lc.NetIdx,
		"conn", lc.Conn,
	)
	if lc.Conn == 0 {
		return
	}
	if err := o.tr.Disconnect(lc.Conn); err != nil {
		o.log.Warn("Failed to disconnect unowned proxy connection", "conn", lc.Conn, "err", err)
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		Entries:  o.list.Entries(),
		Cursor:   o.list.Cursor(),
		Campaign: o.links.Snapshot(),
		IdleMode: o.idleMode,
	}
}

// persist saves the list and idle mode,
// returning the status error code to report.
func (o *Orchestrator) persist(ctx context.Context) uint8 {
	if err := o.store.Save(ctx, o.list.MarshalState(o.idleMode)); err != nil {
		o.log.Warn("Failed to persist state", "err", err)
		return gpcmsg.ErrCodeStorage
	}
	return gpcmsg.ErrCodeSuccess
}

func (o *Orchestrator) setAdvertising(mode gpcmsg.AdvMode, netIdx uint8) {
	if err := o.adv.SetAdvertising(mode, netIdx); err != nil {
		o.log.Warn(
			"Failed to set advertising",
			"mode", mode,
			"net_idx", netIdx,
			"err", err,
		)
	}
}

// broadcastCtx addresses an unsolicited message to the publication address,
// or to all nodes if none is configured.
func (o *Orchestrator) broadcastCtx(ttl uint8) gpchost.MsgCtx {
	dst := o.pubAddr
	if dst == gpchost.AddrUnassigned {
		dst = gpchost.AddrAllNodes
	}
	return gpchost.MsgCtx{
		Src:    o.self,
		Dst:    dst,
		AppIdx: o.pubAppIdx,
		TTL:    ttl,
	}
}

// replyCtx addresses a response to the sender of rx.
func (o *Orchestrator) replyCtx(rx gpchost.MsgCtx) gpchost.MsgCtx {
	return gpchost.MsgCtx{
		Src:    o.self,
		Dst:    rx.Src,
		AppIdx: rx.AppIdx,
		TTL:    gpchost.DefaultTTL,
	}
}

func (o *Orchestrator) send(mctx gpchost.MsgCtx, m gpcmsg.Message) {
	if err := o.mesh.Send(mctx, m.Opcode(), gpcmsg.Encode(m)); err != nil {
		o.log.Warn(
			"Failed to send message",
			"op", m.Opcode(),
			"dst", addrAttr(mctx.Dst),
			"err", err,
		)
	}
}

func addrAttr(a uint16) string {
	return fmt.Sprintf("0x%04x", a)
}
