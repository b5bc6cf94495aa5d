// Package gpc contains the core APIs of the GATT proxy configuration protocol.
//
// GPC lets one network-wide controller command individual mesh nodes to
// advertise a proxy service,
// keep proxy connections to chosen peers,
// and report which peers they can hear directly.
//
// A node runs a [Server], which owns the persisted list of desired
// proxy connections and retries them until they are established.
// A controller uses a [Client] to send requests and collect responses.
//
// Both sides are transport agnostic:
// they exchange access messages through a [gpchost.Mesh]
// and receive messages through their HandleMessage methods.
// The gpcquic package provides an IP implementation of the host collaborators.
package gpc
