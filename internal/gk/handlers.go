package gk

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/connlist"
	"github.com/gordian-engine/gpc/internal/linkdata"
)

// HandleMessage decodes and applies one received access message.
// Malformed messages are dropped without a response.
func (o *Orchestrator) HandleMessage(
	ctx context.Context, rx gpchost.MsgCtx, op gpcmsg.Opcode, payload []byte,
) {
	m, err := gpcmsg.Decode(op, payload)
	if err != nil {
		o.log.Debug(
			"Dropping malformed message",
			"op", op,
			"src", addrAttr(rx.Src),
			"err", err,
		)
		return
	}

	switch m := m.(type) {
	case gpcmsg.AdvSet:
		o.handleAdvSet(m)
	case gpcmsg.ConnSet:
		o.handleConnSet(ctx, rx, m)
	case gpcmsg.AdvEnable:
		o.handleAdvEnable(ctx, m)
	case gpcmsg.LinkUpdate:
		o.handleLinkUpdate(rx, m)
	case gpcmsg.LinkInit:
		o.handleLinkInit(rx, m)
	case gpcmsg.LinkFetch:
		o.handleLinkFetch(rx)
	case gpcmsg.ConnListReset:
		o.handleConnListReset(ctx, rx)
	case gpcmsg.TestMsgInit:
		o.send(o.broadcastCtx(gpchost.DefaultTTL), gpcmsg.TestMsg{On: m.On})
	case gpcmsg.TestMsg:
		if o.ind != nil {
			o.ind.SetIndicator(m.On)
		}

	case gpcmsg.Status, gpcmsg.LinkFetchRsp:
		// Responses are for the client model.
		o.log.Debug("Ignoring response message", "op", op, "src", addrAttr(rx.Src))

	default:
		panic(fmt.Errorf("BUG: no handler for decoded message %T", m))
	}
}

func (o *Orchestrator) handleAdvSet(m gpcmsg.AdvSet) {
	if m.On {
		o.setAdvertising(gpcmsg.AdvNodeIdentity, m.NetIdx)
	} else {
		o.setAdvertising(o.idleMode, m.NetIdx)
	}
}

func (o *Orchestrator) handleConnSet(ctx context.Context, rx gpchost.MsgCtx, m gpcmsg.ConnSet) {
	status := gpcmsg.Status{Type: gpcmsg.StatusConnAdd}

	_, err := o.list.Insert(m.Addr, m.NetIdx)
	switch {
	case err == nil, errors.Is(err, connlist.ErrAlreadyPresent):
		status.ErrCode = o.persist(ctx)
		o.sched.Arm(RetryTask, 0)

		o.log.Info(
			"Added proxy connection",
			"addr", addrAttr(m.Addr),
			"net_idx", m.NetIdx,
			"new", err == nil,
		)

	case errors.Is(err, connlist.ErrCapacityExceeded):
		status.ErrCode = gpcmsg.ErrCodeCapacityExceeded
		o.log.Info(
			"Rejected proxy connection",
			"addr", addrAttr(m.Addr),
			"net_idx", m.NetIdx,
			"err", err,
		)

	default:
		panic(fmt.Errorf("BUG: unexpected error from connection list insert: %w", err))
	}

	o.send(o.replyCtx(rx), status)
}

func (o *Orchestrator) handleAdvEnable(ctx context.Context, m gpcmsg.AdvEnable) {
	o.idleMode = m.Mode
	_ = o.persist(ctx)
	o.setAdvertising(m.Mode, gpchost.AllSubnets)
}

func (o *Orchestrator) handleLinkUpdate(rx gpchost.MsgCtx, m gpcmsg.LinkUpdate) {
	if err := o.links.Observe(m.Addr); err != nil {
		if errors.Is(err, linkdata.ErrCampaignFull) {
			o.log.Debug("Dropping link update", "src", addrAttr(rx.Src), "err", err)
			return
		}
		panic(fmt.Errorf("BUG: unexpected error from link observe: %w", err))
	}
}

func (o *Orchestrator) handleLinkInit(rx gpchost.MsgCtx, m gpcmsg.LinkInit) {
	o.links.Start(m.BroadcastCount)
	o.campaignOwner = o.replyCtx(rx)
	o.sched.Arm(CampaignTask, o.campaignStartDelay)

	o.log.Info(
		"Starting link campaign",
		"broadcasts", m.BroadcastCount,
		"src", addrAttr(rx.Src),
	)

	o.send(o.replyCtx(rx), gpcmsg.Status{Type: gpcmsg.StatusLinkUpdateStarted})
}

func (o *Orchestrator) handleLinkFetch(rx gpchost.MsgCtx) {
	o.send(o.replyCtx(rx), gpcmsg.LinkFetchRsp{
		Src:     o.self,
		Entries: o.links.Snapshot().LinkEntries(),
	})
}

func (o *Orchestrator) handleConnListReset(ctx context.Context, rx gpchost.MsgCtx) {
	n, err := o.list.Reset(o.tr)
	if err != nil {
		o.log.Warn("Errors while disconnecting proxy connections", "err", err)
	}
	o.sched.Cancel(RetryTask)

	status := gpcmsg.Status{
		Type:    gpcmsg.StatusConnReset,
		ErrCode: o.persist(ctx),
	}
	o.setAdvertising(o.idleMode, gpchost.AllSubnets)

	o.log.Info("Reset connection list", "disconnected", n)

	o.send(o.replyCtx(rx), status)
}
