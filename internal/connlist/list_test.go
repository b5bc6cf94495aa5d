package connlist_test

import (
	"errors"
	"testing"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpchost/gpchosttest"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/connlist"
	"github.com/stretchr/testify/require"
)

func TestList_Insert_capacity(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	for i := range connlist.Capacity {
		idx, err := l.Insert(uint16(0x0100+i), 0)
		require.NoError(t, err)
		require.Equal(t, i, idx)
	}
	require.Equal(t, connlist.Capacity, l.Len())

	_, err := l.Insert(0x0200, 0)
	require.ErrorIs(t, err, connlist.ErrCapacityExceeded)
	require.Equal(t, connlist.Capacity, l.Len())

	// Existing pairs are still accepted when full.
	idx, err := l.Insert(0x0103, 0)
	require.ErrorIs(t, err, connlist.ErrAlreadyPresent)
	require.Equal(t, 3, idx)
}

func TestList_Insert_idempotent(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	_, err := l.Insert(0x0005, 1)
	require.NoError(t, err)
	require.True(t, l.MarkActive(0x0005, 1, 42))

	_, err = l.Insert(0x0005, 1)
	require.ErrorIs(t, err, connlist.ErrAlreadyPresent)
	require.Equal(t, 1, l.Len())

	e, ok := l.Find(0x0005, 1)
	require.True(t, ok)
	require.Equal(t, connlist.Active, e.State)
	require.Equal(t, gpchost.ConnHandle(42), e.Conn)

	// Same address on another subnet is a distinct entry.
	_, err = l.Insert(0x0005, 2)
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())
}

func TestList_mark_absent(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	require.False(t, l.MarkActive(1, 0, 1))
	require.False(t, l.MarkInactive(1, 0))

	_, ok := l.Find(1, 0)
	require.False(t, ok)
}

func TestList_NextInactive_roundRobin(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	for _, a := range []uint16{0x10, 0x11, 0x12} {
		_, err := l.Insert(a, 0)
		require.NoError(t, err)
	}

	i, ok := l.NextInactive()
	require.True(t, ok)
	require.Equal(t, 0, i)
	require.Equal(t, 1, l.Cursor())

	// Leave slot 1 inactive but skip it by making it active.
	require.True(t, l.MarkActive(0x11, 0, 7))

	i, ok = l.NextInactive()
	require.True(t, ok)
	require.Equal(t, 2, i)

	// Wraps back around to slot 0, which is still inactive.
	i, ok = l.NextInactive()
	require.True(t, ok)
	require.Equal(t, 0, i)

	l.MarkPending(0)
	require.True(t, l.MarkActive(0x12, 0, 8))

	_, ok = l.NextInactive()
	require.False(t, ok)
}

func TestList_NextInactive_skipsUnassigned(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	_, err := l.Insert(gpchost.AddrUnassigned, 0)
	require.NoError(t, err)

	_, ok := l.NextInactive()
	require.False(t, ok)
}

func TestList_MarkPending_requiresInactive(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	idx, err := l.Insert(3, 0)
	require.NoError(t, err)

	l.MarkPending(idx)
	require.Equal(t, connlist.Pending, l.At(idx).State)

	require.Panics(t, func() { l.MarkPending(idx) })
	require.Panics(t, func() { l.MarkPending(5) })
}

func TestList_Reset(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	_, err := l.Insert(0x21, 0)
	require.NoError(t, err)
	_, err = l.Insert(0x22, 0)
	require.NoError(t, err)
	require.True(t, l.MarkActive(0x22, 0, 99))

	tr := gpchosttest.NewTransport()
	n, err := l.Reset(tr)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []gpchost.ConnHandle{99}, tr.Disconnects())

	require.Zero(t, l.Len())
	require.Empty(t, l.Entries())
	require.Zero(t, l.Cursor())

	// Nothing left to disconnect.
	n, err = l.Reset(tr)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, tr.Disconnects(), 1)
}

type failingDisconnector struct {
	calls int
}

func (d *failingDisconnector) Disconnect(gpchost.ConnHandle) error {
	d.calls++
	return errors.New("link busy")
}

func TestList_Reset_disconnectErrors(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	for i := range 3 {
		a := uint16(0x30 + i)
		_, err := l.Insert(a, 0)
		require.NoError(t, err)
		require.True(t, l.MarkActive(a, 0, gpchost.ConnHandle(i+1)))
	}

	d := new(failingDisconnector)
	n, err := l.Reset(d)
	require.Error(t, err)
	require.ErrorContains(t, err, "link busy")
	require.Equal(t, 3, n)
	require.Equal(t, 3, d.calls)
	require.Zero(t, l.Len())
}

func TestList_state_roundTrip(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	_, err := l.Insert(0x1234, 1)
	require.NoError(t, err)
	_, err = l.Insert(0x0042, 0)
	require.NoError(t, err)
	require.True(t, l.MarkActive(0x0042, 0, 5))
	_, ok := l.NextInactive()
	require.True(t, ok)

	b := l.MarshalState(gpcmsg.AdvNetworkID)
	require.Len(t, b, connlist.StateSize)
	require.Equal(t, 34, connlist.StateSize)

	// Cursor, then the first slot in little-endian order.
	require.Equal(t, byte(1), b[0])
	require.Equal(t, []byte{0x34, 0x12, 0x01, 0x01}, b[1:5])
	require.Equal(t, byte(gpcmsg.AdvNetworkID), b[33])

	restored := connlist.New()
	mode, err := restored.UnmarshalState(b)
	require.NoError(t, err)
	require.Equal(t, gpcmsg.AdvNetworkID, mode)
	require.Equal(t, 1, restored.Cursor())

	require.Equal(t, []connlist.Entry{
		{Addr: 0x1234, NetIdx: 1, State: connlist.Inactive},
		{Addr: 0x0042, NetIdx: 0, State: connlist.Inactive},
	}, restored.Entries())
}

func TestList_UnmarshalState_invalid(t *testing.T) {
	t.Parallel()

	l := connlist.New()
	_, err := l.Insert(9, 0)
	require.NoError(t, err)

	good := connlist.New().MarshalState(gpcmsg.AdvDisabled)

	for name, mutate := range map[string]func([]byte) []byte{
		"short":  func(b []byte) []byte { return b[:10] },
		"cursor": func(b []byte) []byte { b[0] = connlist.Capacity; return b },
		"mode":   func(b []byte) []byte { b[33] = 9; return b },
		"marker": func(b []byte) []byte { b[4] = 0x40; return b },
		"duplicate": func(b []byte) []byte {
			copy(b[1:5], []byte{1, 0, 0, 1})
			copy(b[5:9], []byte{1, 0, 0, 1})
			return b
		},
	} {
		b := mutate(append([]byte(nil), good...))
		_, err := l.UnmarshalState(b)
		require.ErrorIs(t, err, connlist.ErrBadState, name)
	}

	// Failed restores leave the list alone.
	require.Equal(t, 1, l.Len())
}
