// Command gpcctl sends one proxy configuration request to a gpcd node
// and prints the reply.
//
// Usage:
//
//	gpcctl [flags] conn-set ADDR [NET_IDX]
//	gpcctl [flags] adv-set on|off [NET_IDX]
//	gpcctl [flags] adv-enable MODE
//	gpcctl [flags] link-init COUNT
//	gpcctl [flags] link-fetch
//	gpcctl [flags] conn-reset
//	gpcctl [flags] test-msg on|off
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/cmd/internal/gpcflag"
	"github.com/gordian-engine/gpc/gpcquic"
)

type config struct {
	Self   string
	Server string

	Listen     string
	ServerUDP  string
	TLSCert    string
	TLSKey     string
	TLSCA      string
	AppIdx     uint
	Wait       time.Duration
	LogLevel   string
	ConnectFor time.Duration
}

func main() {
	if err := gpcflag.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(2)
	}

	var cfg config
	e := gpcflag.Env
	flag.StringVar(&cfg.Self, "self", e("GPCCTL_SELF", "0x0001"), "mesh address of this client (GPCCTL_SELF)")
	flag.StringVar(&cfg.Server, "server", e("GPCCTL_SERVER", ""), "mesh address of the target node (GPCCTL_SERVER)")
	flag.StringVar(&cfg.ServerUDP, "server-udp", e("GPCCTL_SERVER_UDP", "127.0.0.1:7000"), "UDP address of the target node (GPCCTL_SERVER_UDP)")
	flag.StringVar(&cfg.Listen, "listen", "127.0.0.1:0", "local UDP address")
	flag.StringVar(&cfg.TLSCert, "tls-cert", e("GPC_TLS_CERT", "client.crt"), "PEM certificate (GPC_TLS_CERT)")
	flag.StringVar(&cfg.TLSKey, "tls-key", e("GPC_TLS_KEY", "client.key"), "PEM private key (GPC_TLS_KEY)")
	flag.StringVar(&cfg.TLSCA, "tls-ca", e("GPC_TLS_CA", "ca.crt"), "PEM CA bundle (GPC_TLS_CA)")
	flag.UintVar(&cfg.AppIdx, "app-idx", 0, "application key index")
	flag.DurationVar(&cfg.ConnectFor, "connect-timeout", 5*time.Second, "how long to wait for the mesh connection")
	flag.DurationVar(&cfg.Wait, "wait", 3*time.Second, "how long to wait for a status reply")
	flag.StringVar(&cfg.LogLevel, "log-level", e("GPC_LOG_LEVEL", "warn"), "debug, info, warn, or error")
	flag.Parse()

	log, err := gpcflag.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, cfg, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "gpcctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg config, args []string) error {
	cmd, err := parseCommand(args)
	if err != nil {
		return err
	}

	self, err := gpcflag.ParseAddr(cfg.Self)
	if err != nil {
		return fmt.Errorf("-self: %w", err)
	}
	server, err := gpcflag.ParseAddr(cfg.Server)
	if err != nil {
		return fmt.Errorf("-server: %w", err)
	}
	serverUDP, err := net.ResolveUDPAddr("udp", cfg.ServerUDP)
	if err != nil {
		return fmt.Errorf("-server-udp: %w", err)
	}

	tlsConf, err := gpcquic.LoadTLSConfig(cfg.TLSCert, cfg.TLSKey, cfg.TLSCA)
	if err != nil {
		return err
	}

	pc, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ep, err := gpcquic.NewEndpoint(ctx, log.With("gpc_sys", "quic"), gpcquic.Config{
		Self:       self,
		PacketConn: pc,
		TLSConfig:  tlsConf,
		Peers:      map[uint16]net.Addr{server: serverUDP},
	})
	if err != nil {
		_ = pc.Close()
		return err
	}
	defer ep.Wait()
	defer cancel()

	cli := gpc.NewClient(log.With("gpc_sys", "client"), gpc.ClientConfig{
		Self:   self,
		AppIdx: uint16(cfg.AppIdx),
		Mesh:   ep.Bearer(),
	})

	inbound := ep.Bearer().Inbound()
	go func() {
		for {
			in, next, err := inbound.Await(ctx)
			if err != nil {
				return
			}
			inbound = next
			cli.HandleMessage(in.Ctx, in.Op, in.Payload)
		}
	}()

	if err := awaitPeer(ctx, ep.Bearer(), server, cfg.ConnectFor); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if cmd.Fetch {
		rsp, err := cli.LinkFetch(ctx, server)
		if err != nil {
			return err
		}
		return enc.Encode(rsp)
	}

	statuses := cli.Statuses()
	if err := cmd.Send(cli, server); err != nil {
		return err
	}
	if !cmd.ExpectStatus {
		return nil
	}

	wctx, wcancel := context.WithTimeout(ctx, cfg.Wait)
	defer wcancel()
	for {
		n, next, err := statuses.Await(wctx)
		if err != nil {
			return fmt.Errorf("no status from 0x%04x: %w", server, err)
		}
		statuses = next

		if n.Src != server {
			continue
		}
		if err := enc.Encode(statusJSON{
			Src:     n.Src,
			Type:    n.Status.Type.String(),
			ErrCode: n.Status.ErrCode,
		}); err != nil {
			return err
		}

		// A link campaign reports its start now and its end later.
		if !cmd.UntilEnded || n.Status.Type == cmd.EndType {
			return nil
		}
	}
}

type statusJSON struct {
	Src     uint16 `json:"src"`
	Type    string `json:"type"`
	ErrCode uint8  `json:"err_code"`
}

func awaitPeer(ctx context.Context, b *gpcquic.Bearer, addr uint16, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()

	for {
		if slices.Contains(b.Peers(), addr) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no mesh connection to 0x%04x: %w", addr, context.Cause(ctx))
		case <-t.C:
		}
	}
}
