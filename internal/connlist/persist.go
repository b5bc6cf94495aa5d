package connlist

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordian-engine/gpc/gpcmsg"
)

// StateSize is the length of the blob produced by [*List.MarshalState].
//
// Layout: cursor u8, then Capacity entries of
// {addr u16 little-endian, net_idx u8, slot u8},
// then the idle advertising mode u8.
const StateSize = 1 + Capacity*entrySize + 1

const entrySize = 4

// Slot byte values.
// Occupied slots store slotUsed plus the State at save time.
const (
	slotEmpty byte = 0
	slotUsed  byte = 1
)

// ErrBadState is wrapped by errors from [*List.UnmarshalState].
var ErrBadState = errors.New("invalid connection list state")

// MarshalState encodes the list and the idle advertising mode
// into a [StateSize]-byte blob.
func (l *List) MarshalState(mode gpcmsg.AdvMode) []byte {
	b := make([]byte, 0, StateSize)
	b = append(b, l.cursor)

	for i := range l.entries {
		if !l.used.Test(uint(i)) {
			b = append(b, 0, 0, 0, slotEmpty)
			continue
		}

		e := l.entries[i]
		b = binary.LittleEndian.AppendUint16(b, e.Addr)
		b = append(b, e.NetIdx, slotUsed+byte(e.State))
	}

	return append(b, byte(mode))
}

// UnmarshalState replaces the contents of l with the blob from MarshalState,
// returning the stored advertising mode.
//
// Live connections do not survive a restart,
// so every restored entry is Inactive.
// On error, l is left unchanged.
func (l *List) UnmarshalState(b []byte) (gpcmsg.AdvMode, error) {
	if len(b) != StateSize {
		return 0, fmt.Errorf(
			"%w: got %d bytes, want %d", ErrBadState, len(b), StateSize,
		)
	}

	cursor := b[0]
	if cursor >= Capacity {
		return 0, fmt.Errorf("%w: cursor %d out of range", ErrBadState, cursor)
	}

	mode := gpcmsg.AdvMode(b[StateSize-1])
	if !mode.Valid() {
		return 0, fmt.Errorf("%w: advertising mode %d", ErrBadState, b[StateSize-1])
	}

	var entries [Capacity]Entry
	var slots []uint
	raw := b[1 : StateSize-1]
	for i := range entries {
		r := raw[i*entrySize : (i+1)*entrySize]

		switch slot := r[3]; {
		case slot == slotEmpty:
			continue
		case slot > slotUsed+byte(Active):
			return 0, fmt.Errorf("%w: slot %d has marker %d", ErrBadState, i, slot)
		}

		e := Entry{
			Addr:   binary.LittleEndian.Uint16(r),
			NetIdx: r[2],
		}
		for _, s := range slots {
			prev := entries[s]
			if prev.Addr == e.Addr && prev.NetIdx == e.NetIdx {
				return 0, fmt.Errorf(
					"%w: duplicate entry 0x%04x/%d", ErrBadState, e.Addr, e.NetIdx,
				)
			}
		}

		entries[i] = e
		slots = append(slots, uint(i))
	}

	l.entries = entries
	l.used.ClearAll()
	for _, s := range slots {
		l.used.Set(s)
	}
	l.cursor = cursor

	return mode, nil
}
