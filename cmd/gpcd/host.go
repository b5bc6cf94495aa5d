package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/gpcpubsub"
	"github.com/gordian-engine/gpc/gpcquic"
)

// logAdvertiser records advertising changes.
// An IP node has no radio advertisement to control.
type logAdvertiser struct {
	log *slog.Logger
}

func (a logAdvertiser) SetAdvertising(mode gpcmsg.AdvMode, netIdx uint8) error {
	if netIdx == gpchost.AllSubnets {
		a.log.Info("Advertising changed", "mode", mode, "net_idx", "all")
	} else {
		a.log.Info("Advertising changed", "mode", mode, "net_idx", netIdx)
	}
	return nil
}

type logIndicator struct {
	log *slog.Logger
}

func (i logIndicator) SetIndicator(on bool) {
	i.log.Info("Indicator", "on", on)
}

// pumpMessages feeds received access messages to the server until ctx ends.
func pumpMessages(ctx context.Context, log *slog.Logger, srv *gpc.Server, s *gpcpubsub.Stream[gpcquic.Inbound]) {
	for {
		in, next, err := s.Await(ctx)
		if err != nil {
			return
		}
		s = next

		if err := srv.HandleMessage(ctx, in.Ctx, in.Op, in.Payload); err != nil {
			log.Debug(
				"Failed to queue message",
				"op", in.Op,
				"src", fmt.Sprintf("0x%04x", in.Ctx.Src),
				"err", err,
			)
			return
		}
	}
}

// pumpLinkChanges feeds proxy link changes to the server until ctx ends.
func pumpLinkChanges(ctx context.Context, log *slog.Logger, srv *gpc.Server, s *gpcpubsub.Stream[gpchost.LinkChange]) {
	for {
		lc, next, err := s.Await(ctx)
		if err != nil {
			return
		}
		s = next

		if err := srv.HandleLinkChange(ctx, lc); err != nil {
			log.Debug("Failed to queue link change", "kind", lc.Kind, "err", err)
			return
		}
	}
}
