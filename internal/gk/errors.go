package gk

import "errors"

// ErrKernelStopped is returned when submitting to a kernel
// whose main loop has exited.
var ErrKernelStopped = errors.New("kernel stopped")
