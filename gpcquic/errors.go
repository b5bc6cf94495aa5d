package gpcquic

import "errors"

var (
	// ErrUnknownPeer is returned when a mesh address has no entry in [Config.Peers].
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrNoRoute is returned by [*Bearer.Send] for a unicast destination
	// without a live mesh connection.
	ErrNoRoute = errors.New("no connection to destination")

	ErrUnknownHandle = errors.New("unknown connection handle")
)
