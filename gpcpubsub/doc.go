// Package gpcpubsub contains a single-writer, many-reader value stream.
//
// The proxy configuration client uses a [Stream] to deliver Status messages,
// so that every subscriber observes the same sequence of notices
// without the client having to track subscribers.
package gpcpubsub
