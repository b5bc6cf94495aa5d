package gpcquic

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN protocol identifiers.
const (
	// Connections carrying access messages as datagrams.
	ALPNMesh = "gpc-mesh/1"

	// Connections representing a single proxy link.
	ALPNProxy = "gpc-proxy/1"
)

// Defaults applied to zero-valued [Config] fields.
const (
	DefaultServerName     = "gpc"
	DefaultRedialInterval = 2 * time.Second
	DefaultDialTimeout    = 5 * time.Second
)

// Config is the configuration for an [Endpoint].
type Config struct {
	// Mesh address of this node.
	// Frames addressed to another unicast address are not delivered.
	Self uint16

	// Bound UDP socket for the QUIC transport.
	// The endpoint takes ownership and closes it on shutdown.
	PacketConn net.PacketConn

	// Certificates and trust roots for both directions.
	// The endpoint clones the config before setting NextProtos.
	TLSConfig *tls.Config

	// Name checked against peer certificates when dialing.
	// Defaults to [DefaultServerName].
	ServerName string

	// Network addresses of known peers, keyed by mesh address.
	// The bearer keeps a connection open to each of them,
	// and the linker can only connect to addresses in this map.
	Peers map[uint16]net.Addr

	// Optional QUIC settings.
	// Datagrams are always enabled.
	QUICConfig *quic.Config

	// How long to wait before redialing a lost mesh connection.
	RedialInterval time.Duration

	// Limit for establishing a single connection.
	DialTimeout time.Duration
}

func (c Config) validate() {
	var panicErrs error

	if c.PacketConn == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.PacketConn may not be nil"))
	}
	if c.TLSConfig == nil {
		panicErrs = errors.Join(panicErrs, errors.New("Config.TLSConfig may not be nil"))
	} else if len(c.TLSConfig.Certificates) == 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.TLSConfig must have a certificate"))
	}
	if c.RedialInterval < 0 || c.DialTimeout < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config durations may not be negative"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}

func (c Config) quicConfig() *quic.Config {
	var qc *quic.Config
	if c.QUICConfig == nil {
		qc = &quic.Config{
			KeepAlivePeriod: 5 * time.Second,
		}
	} else {
		qc = c.QUICConfig.Clone()
	}
	qc.EnableDatagrams = true
	return qc
}

// LoadTLSConfig builds a mutual TLS config from PEM files:
// the node's certificate and key,
// and the CA bundle that peer certificates must chain to.
func LoadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
