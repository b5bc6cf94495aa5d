// Package gtest contains helpers shared by tests across the module.
package gtest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
)

// ScheduleDuration is how long the channel helpers wait
// for another goroutine to make progress.
const ScheduleDuration = 50 * time.Millisecond

// NewLogger returns a debug-level logger that writes through t.Log.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slogt.New(t, slogt.Factory(func(w io.Writer) slog.Handler {
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}))
}

// ReceiveSoon returns the next value from ch,
// failing the test if nothing arrives within ScheduleDuration.
func ReceiveSoon[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	timer := time.NewTimer(ScheduleDuration)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", ScheduleDuration)
	}

	panic("unreachable")
}

// ReceiveWithin is like ReceiveSoon with a caller-chosen deadline,
// for values that depend on a timer firing.
func ReceiveWithin[T any](t *testing.T, ch <-chan T, d time.Duration) T {
	t.Helper()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v
	case <-timer.C:
		t.Fatalf("no value received within %s", d)
	}

	panic("unreachable")
}

// NotSending fails the test if ch is ready to receive from.
func NotSending[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, received %v", v)
	default:
	}
}

// NotSendingWithin fails the test if a value arrives on ch within d.
func NotSendingWithin[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case v := <-ch:
		t.Fatalf("expected no value, received %v", v)
	case <-timer.C:
	}
}
