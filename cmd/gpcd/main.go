// Command gpcd runs a proxy configuration server node over QUIC.
//
// Every flag can also be set through the environment variable shown
// in its usage text, including from a .env file in the working directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/cmd/internal/gpcflag"
	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcquic"
	"github.com/gordian-engine/gpc/gpcstore"
)

type config struct {
	Self          string
	PublishAddr   string
	PublishAppIdx uint

	Listen string
	Peers  string

	TLSCert, TLSKey, TLSCA string

	Store     string
	StatePath string
	StateKey  string

	RetryInterval time.Duration

	HTTP string

	LogLevel string
}

func main() {
	if err := gpcflag.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(2)
	}

	var cfg config
	e := gpcflag.Env
	flag.StringVar(&cfg.Self, "self", e("GPC_SELF", ""), "mesh address of this node (GPC_SELF)")
	flag.StringVar(&cfg.PublishAddr, "publish", e("GPC_PUBLISH", "0"), "publication address, 0 for all nodes (GPC_PUBLISH)")
	flag.UintVar(&cfg.PublishAppIdx, "publish-app-idx", 0, "application key index for published messages")
	flag.StringVar(&cfg.Listen, "listen", e("GPC_LISTEN", "0.0.0.0:7000"), "UDP address for QUIC (GPC_LISTEN)")
	flag.StringVar(&cfg.Peers, "peers", e("GPC_PEERS", ""), "comma-separated addr=host:port peers (GPC_PEERS)")
	flag.StringVar(&cfg.TLSCert, "tls-cert", e("GPC_TLS_CERT", "node.crt"), "PEM certificate (GPC_TLS_CERT)")
	flag.StringVar(&cfg.TLSKey, "tls-key", e("GPC_TLS_KEY", "node.key"), "PEM private key (GPC_TLS_KEY)")
	flag.StringVar(&cfg.TLSCA, "tls-ca", e("GPC_TLS_CA", "ca.crt"), "PEM CA bundle for peers (GPC_TLS_CA)")
	flag.StringVar(&cfg.Store, "store", e("GPC_STORE", "file"), "state backend: file or sqlite (GPC_STORE)")
	flag.StringVar(&cfg.StatePath, "state", e("GPC_STATE", "gpc.state"), "state file or sqlite database path (GPC_STATE)")
	flag.StringVar(&cfg.StateKey, "state-key", e("GPC_STATE_KEY", gpcstore.DefaultStateKey), "row key for the sqlite backend (GPC_STATE_KEY)")
	flag.DurationVar(&cfg.RetryInterval, "retry", gpc.DefaultRetryInterval, "interval between connection attempts")
	flag.StringVar(&cfg.HTTP, "http", e("GPC_HTTP", ""), "debug HTTP listen address, empty to disable (GPC_HTTP)")
	flag.StringVar(&cfg.LogLevel, "log-level", e("GPC_LOG_LEVEL", "info"), "debug, info, warn, or error (GPC_LOG_LEVEL)")
	flag.Parse()

	log, err := gpcflag.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("Fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config) error {
	self, err := gpcflag.ParseAddr(cfg.Self)
	if err != nil {
		return fmt.Errorf("-self: %w", err)
	}
	publish, err := gpcflag.ParseAddr(cfg.PublishAddr)
	if err != nil {
		return fmt.Errorf("-publish: %w", err)
	}
	peers, err := gpcflag.ParsePeers(cfg.Peers)
	if err != nil {
		return fmt.Errorf("-peers: %w", err)
	}

	tlsConf, err := gpcquic.LoadTLSConfig(cfg.TLSCert, cfg.TLSKey, cfg.TLSCA)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, log.With("gpc_sys", "store"), cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pc, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	// Cancelled on any early return so the endpoint and server stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ep, err := gpcquic.NewEndpoint(ctx, log.With("gpc_sys", "quic"), gpcquic.Config{
		Self:       self,
		PacketConn: pc,
		TLSConfig:  tlsConf,
		Peers:      peers,
	})
	if err != nil {
		_ = pc.Close()
		return err
	}
	defer ep.Wait()

	// Subscribe before the server starts, so no early traffic is missed.
	inbound := ep.Bearer().Inbound()
	changes := ep.Linker().Changes()

	srv := gpc.NewServer(ctx, log.With("gpc_sys", "server"), gpc.ServerConfig{
		Self:          self,
		PublishAddr:   publish,
		PublishAppIdx: uint16(cfg.PublishAppIdx),

		Mesh:       ep.Bearer(),
		Transport:  ep.Linker(),
		Advertiser: logAdvertiser{log: log.With("gpc_sys", "adv")},
		Storage:    store,
		Indicator:  logIndicator{log: log.With("gpc_sys", "indicator")},

		RetryInterval: cfg.RetryInterval,
	})
	defer srv.Wait()

	go pumpMessages(ctx, log, srv, inbound)
	go pumpLinkChanges(ctx, log, srv, changes)

	var hs *http.Server
	if cfg.HTTP != "" {
		hs = &http.Server{
			Addr:         cfg.HTTP,
			Handler:      newRouter(log.With("gpc_sys", "http"), srv, ep),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			log.Info("Debug HTTP listening", "addr", cfg.HTTP)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Debug HTTP failed", "err", err)
			}
		}()
	}

	log.Info("Node running", "self", fmt.Sprintf("0x%04x", self), "listen", ep.Addr(), "peers", len(peers))
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("Failed to notify systemd", "err", err)
	}

	<-ctx.Done()

	log.Info("Shutting down")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		log.Debug("Failed to notify systemd", "err", err)
	}

	if hs != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := hs.Shutdown(sctx); err != nil {
			log.Warn("Debug HTTP shutdown failed", "err", err)
		}
	}

	return nil
}

func openStore(ctx context.Context, log *slog.Logger, cfg config) (gpchost.Storage, func(), error) {
	switch cfg.Store {
	case "file":
		s, err := gpcstore.NewFileStore(log, gpcstore.FileConfig{Path: cfg.StatePath})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil

	case "sqlite":
		s, err := gpcstore.OpenSQLiteStore(ctx, log, gpcstore.SQLiteConfig{
			DSN: "file:" + cfg.StatePath + "?_pragma=busy_timeout(5000)",
			Key: cfg.StateKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn("Failed to close state database", "err", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("-store must be file or sqlite (got %q)", cfg.Store)
	}
}
