package gpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/gk"
)

// Default timing used when the corresponding config field is zero.
const (
	DefaultRetryInterval      = 5 * time.Second
	DefaultCampaignInterval   = 200 * time.Millisecond
	DefaultCampaignStartDelay = time.Second
)

// Server is the responder side of the protocol on one node.
//
// All state changes happen on a single background goroutine,
// started by [NewServer] and stopped by cancelling its context.
type Server struct {
	log *slog.Logger

	k *gk.Kernel
}

// ServerConfig is the configuration for a [Server].
type ServerConfig struct {
	// Primary element address of this node.
	Self uint16

	// Publication address and application key index of the server model.
	// Unsolicited messages go to PublishAddr,
	// or to all nodes if it is zero.
	PublishAddr   uint16
	PublishAppIdx uint16

	Mesh       gpchost.Mesh
	Transport  gpchost.Transport
	Advertiser gpchost.Advertiser
	Storage    gpchost.Storage

	// Optional output driven by TestMsg.
	Indicator gpchost.Indicator

	// How long to wait between connection attempts.
	// Defaults to [DefaultRetryInterval].
	RetryInterval time.Duration

	// Period of LinkUpdate broadcasts during a link campaign.
	// Defaults to [DefaultCampaignInterval].
	CampaignInterval time.Duration

	// Delay before the first broadcast of a link campaign.
	// Defaults to [DefaultCampaignStartDelay].
	CampaignStartDelay time.Duration
}

// validate panics if there are any illegal settings in the configuration.
func (c ServerConfig) validate() {
	var panicErrs error

	if c.Self == gpchost.AddrUnassigned || c.Self == gpchost.AddrAllNodes {
		panicErrs = errors.Join(
			panicErrs,
			fmt.Errorf("ServerConfig.Self must be a unicast address (got 0x%04x)", c.Self),
		)
	}

	if c.Mesh == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ServerConfig.Mesh may not be nil"))
	}
	if c.Transport == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ServerConfig.Transport may not be nil"))
	}
	if c.Advertiser == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ServerConfig.Advertiser may not be nil"))
	}
	if c.Storage == nil {
		panicErrs = errors.Join(panicErrs, errors.New("ServerConfig.Storage may not be nil"))
	}

	if c.RetryInterval < 0 || c.CampaignInterval < 0 || c.CampaignStartDelay < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("ServerConfig durations may not be negative"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

// NewServer restores persisted state from cfg.Storage
// and starts the server's background goroutine.
//
// NewServer panics if cfg is invalid.
func NewServer(ctx context.Context, log *slog.Logger, cfg ServerConfig) *Server {
	cfg.validate()

	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.CampaignInterval == 0 {
		cfg.CampaignInterval = DefaultCampaignInterval
	}
	if cfg.CampaignStartDelay == 0 {
		cfg.CampaignStartDelay = DefaultCampaignStartDelay
	}

	k := gk.NewKernel(ctx, log.With("gpc_sys", "kernel"), gk.KernelConfig{
		OrchestratorConfig: gk.OrchestratorConfig{
			Self: cfg.Self,

			PublishAddr:   cfg.PublishAddr,
			PublishAppIdx: cfg.PublishAppIdx,

			Mesh:       cfg.Mesh,
			Transport:  cfg.Transport,
			Advertiser: cfg.Advertiser,
			Storage:    cfg.Storage,
			Indicator:  cfg.Indicator,

			RetryInterval:      cfg.RetryInterval,
			CampaignInterval:   cfg.CampaignInterval,
			CampaignStartDelay: cfg.CampaignStartDelay,
		},

		// Room for a burst of link updates during a campaign.
		EventBuffer: 16,
	})

	return &Server{
		log: log,
		k:   k,
	}
}

// Wait blocks until the server's background goroutine has stopped.
func (s *Server) Wait() {
	s.k.Wait()
}

// HandleMessage queues one received access message.
// The payload must not be modified after the call.
//
// Malformed messages are dropped without a response.
// The returned error only reports whether the message was queued.
func (s *Server) HandleMessage(
	ctx context.Context, mctx gpchost.MsgCtx, op gpcmsg.Opcode, payload []byte,
) error {
	return s.k.Submit(ctx, gk.MessageEvent{
		Ctx:     mctx,
		Op:      op,
		Payload: payload,
	})
}

// HandleLinkChange queues a lifecycle notification from the transport.
func (s *Server) HandleLinkChange(ctx context.Context, lc gpchost.LinkChange) error {
	return s.k.Submit(ctx, gk.LinkEvent{Change: lc})
}

// Snapshot returns a copy of the server state.
func (s *Server) Snapshot(ctx context.Context) (Snapshot, error) {
	ks, err := s.k.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to get server snapshot: %w", err)
	}
	return snapshotFromKernel(ks), nil
}
