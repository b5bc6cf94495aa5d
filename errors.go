package gpc

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gpc/internal/gk"
)

// ErrStopped is returned by [*Server] methods
// after the server's context has been cancelled.
var ErrStopped = gk.ErrKernelStopped

// ErrFetchInProgress is returned from [*Client.LinkFetch]
// when a fetch to the same destination is already outstanding.
var ErrFetchInProgress = errors.New("link fetch already in progress")

// FetchTimeoutError is returned from [*Client.LinkFetch]
// when the destination does not answer in time.
type FetchTimeoutError struct {
	Dst uint16
}

func (e FetchTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for link fetch response from 0x%04x", e.Dst)
}
