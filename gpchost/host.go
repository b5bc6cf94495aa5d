// Package gpchost declares the host-stack collaborators
// that the proxy configuration server depends on:
// the mesh send primitive, the proxy transport, the advertiser, and persistent storage.
//
// Implementations are called from a single goroutine
// and must not block for longer than a short I/O operation.
package gpchost

import (
	"context"

	"github.com/gordian-engine/gpc/gpcmsg"
)

// Well-known mesh addresses.
const (
	AddrUnassigned uint16 = 0x0000
	AddrAllNodes   uint16 = 0xFFFF
)

// AllSubnets passed to [Advertiser.SetAdvertising]
// applies the mode on every known subnet.
const AllSubnets uint8 = 0xFF

// MsgCtx is the addressing context of a mesh message.
type MsgCtx struct {
	// Source and destination element addresses.
	Src, Dst uint16

	// Application key index used to secure the message.
	AppIdx uint16

	// Time to live. Zero restricts the message to a single hop.
	TTL uint8
}

// DefaultTTL lets the mesh layer apply its configured default TTL.
const DefaultTTL uint8 = 0xFF

// Mesh is the publish primitive of the mesh access layer.
type Mesh interface {
	// Send queues one access message.
	// Delivery is not confirmed.
	Send(mctx MsgCtx, op gpcmsg.Opcode, payload []byte) error
}

// ConnHandle refers to a live proxy connection.
// The zero value means no connection.
type ConnHandle uint32

// Transport opens and closes proxy connections to peers.
//
// Outcomes are reported asynchronously as [LinkChange] values.
// A connection attempt that fails must be reported
// as a [LinkDisconnected] change so that the entry is retried.
type Transport interface {
	Connect(addr uint16, netIdx uint8) error
	Disconnect(h ConnHandle) error
}

// LinkLister is optionally implemented by a [Transport]
// that can report connections which survived a restart of the server.
type LinkLister interface {
	Links() []LinkChange
}

// LinkChangeKind identifies a proxy connection lifecycle event.
type LinkChangeKind uint8

const (
	// The connection is established.
	LinkConnected LinkChangeKind = iota + 1

	// The proxy client finished configuring the connection (filter setup).
	LinkConfigured

	// The connection was closed, or a connection attempt failed.
	LinkDisconnected
)

func (k LinkChangeKind) String() string {
	switch k {
	case LinkConnected:
		return "connected"
	case LinkConfigured:
		return "configured"
	case LinkDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LinkChange is an asynchronous lifecycle notification from the [Transport].
type LinkChange struct {
	Kind LinkChangeKind

	Addr   uint16
	NetIdx uint8

	// Set for LinkConnected,
	// and for the LinkDisconnected that ends the same connection.
	// Zero for a LinkDisconnected reporting a failed attempt.
	Conn ConnHandle
}

// Advertiser controls the proxy service advertisement.
type Advertiser interface {
	// SetAdvertising applies mode on the subnet netIdx,
	// or on every subnet if netIdx is [AllSubnets].
	SetAdvertising(mode gpcmsg.AdvMode, netIdx uint8) error
}

// Storage persists the server's state blob.
type Storage interface {
	// Load returns the last saved blob,
	// or a nil slice and nil error if nothing has been saved.
	Load(ctx context.Context) ([]byte, error)

	Save(ctx context.Context, blob []byte) error
}

// Indicator is the local output driven by test messages.
type Indicator interface {
	SetIndicator(on bool)
}
