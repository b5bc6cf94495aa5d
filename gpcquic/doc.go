// Package gpcquic carries mesh access messages and proxy links over QUIC,
// for running proxy configuration nodes on an IP network.
//
// An [Endpoint] owns one QUIC transport and listener.
// Its [Bearer] implements [gpchost.Mesh] by sending each access message
// as a single QUIC datagram to connected peers.
// Its [Linker] implements [gpchost.Transport] by opening
// one dedicated QUIC connection per proxy link.
//
// The two uses are told apart by ALPN;
// see [ALPNMesh] and [ALPNProxy].
package gpcquic
