// Package connlist contains the bounded list of desired proxy connections.
//
// The list is a fixed arena of [Capacity] slots.
// Slot occupancy is tracked in a bitset,
// and entries are never evicted:
// the only way to remove entries is [*List.Reset].
//
// A List is not safe for concurrent use.
// It is owned by the orchestrator's kernel goroutine.
package connlist

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/gpc/gpchost"
)

// Capacity is the fixed number of slots in a [List].
const Capacity = 8

var (
	// ErrAlreadyPresent is returned from [*List.Insert]
	// when the (address, subnet) pair is already in the list.
	// Callers should treat it as success.
	ErrAlreadyPresent = errors.New("connection entry already present")

	// ErrCapacityExceeded is returned from [*List.Insert] when every slot is used.
	ErrCapacityExceeded = errors.New("connection list full")

	// ErrNotActive is returned when releasing an entry
	// that has no live connection.
	ErrNotActive = errors.New("connection entry not active")
)

// State is the activity state of an [Entry].
type State uint8

const (
	Inactive State = iota
	Pending
	Active
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Pending:
		return "pending"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Entry is one desired proxy connection.
type Entry struct {
	Addr   uint16
	NetIdx uint8

	State State

	// Only set while State is Active.
	Conn gpchost.ConnHandle
}

// Disconnector closes live connections during [*List.Reset].
// Any [gpchost.Transport] satisfies it.
type Disconnector interface {
	Disconnect(gpchost.ConnHandle) error
}

// List is the fixed-capacity connection list.
type List struct {
	entries [Capacity]Entry
	used    *bitset.BitSet

	// Round-robin position for NextInactive.
	cursor uint8
}

func New() *List {
	return &List{
		used: bitset.New(Capacity),
	}
}

// Len returns the number of occupied slots.
func (l *List) Len() int {
	return int(l.used.Count())
}

// Cursor returns the slot where the next retry scan starts.
func (l *List) Cursor() int {
	return int(l.cursor)
}

// Insert adds a new Inactive entry for the given pair,
// returning the slot index.
//
// If the pair is already present, the existing slot index is returned
// along with [ErrAlreadyPresent], and the entry is left unchanged.
// If there is no free slot, Insert returns [ErrCapacityExceeded].
func (l *List) Insert(addr uint16, netIdx uint8) (int, error) {
	if i, ok := l.index(addr, netIdx); ok {
		return i, ErrAlreadyPresent
	}

	free, ok := l.used.NextClear(0)
	if !ok || free >= Capacity {
		return -1, ErrCapacityExceeded
	}

	l.entries[free] = Entry{Addr: addr, NetIdx: netIdx, State: Inactive}
	l.used.Set(free)
	return int(free), nil
}

// Find returns a copy of the entry for the given pair.
func (l *List) Find(addr uint16, netIdx uint8) (Entry, bool) {
	i, ok := l.index(addr, netIdx)
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// At returns the entry at slot i.
// It panics if the slot is not occupied.
func (l *List) At(i int) Entry {
	if i < 0 || i >= Capacity || !l.used.Test(uint(i)) {
		panic(fmt.Errorf("BUG: connection list slot %d is not occupied", i))
	}
	return l.entries[i]
}

// Entries returns a copy of the occupied entries in slot order.
func (l *List) Entries() []Entry {
	out := make([]Entry, 0, l.Len())
	for i, ok := l.used.NextSet(0); ok; i, ok = l.used.NextSet(i + 1) {
		out = append(out, l.entries[i])
	}
	return out
}

// MarkActive records the live connection for the given pair.
// It reports whether an entry was found.
func (l *List) MarkActive(addr uint16, netIdx uint8, h gpchost.ConnHandle) bool {
	i, ok := l.index(addr, netIdx)
	if !ok {
		return false
	}
	l.entries[i].State = Active
	l.entries[i].Conn = h
	return true
}

// MarkInactive returns the given pair to the Inactive state,
// forgetting any connection handle.
// It reports whether an entry was found.
func (l *List) MarkInactive(addr uint16, netIdx uint8) bool {
	i, ok := l.index(addr, netIdx)
	if !ok {
		return false
	}
	l.entries[i].State = Inactive
	l.entries[i].Conn = 0
	return true
}

// MarkPending moves the Inactive entry at slot i to Pending.
// It panics if the entry is not Inactive,
// because only the retry scan may select an entry.
func (l *List) MarkPending(i int) {
	e := l.At(i)
	if e.State != Inactive {
		panic(fmt.Errorf(
			"BUG: attempted to mark %s entry at slot %d as pending", e.State, i,
		))
	}
	l.entries[i].State = Pending
}

// NextInactive scans the occupied slots starting at the cursor,
// wrapping around once,
// for the first Inactive entry with a non-zero address.
// If one is found, the cursor moves past it.
func (l *List) NextInactive() (int, bool) {
	start := uint(l.cursor)

	for i, ok := l.used.NextSet(start); ok && i < Capacity; i, ok = l.used.NextSet(i + 1) {
		if l.retryable(i) {
			l.cursor = uint8((i + 1) % Capacity)
			return int(i), true
		}
	}
	for i, ok := l.used.NextSet(0); ok && i < start; i, ok = l.used.NextSet(i + 1) {
		if l.retryable(i) {
			l.cursor = uint8((i + 1) % Capacity)
			return int(i), true
		}
	}

	return -1, false
}

func (l *List) retryable(i uint) bool {
	e := l.entries[i]
	return e.State == Inactive && e.Addr != gpchost.AddrUnassigned
}

// Reset disconnects every Active entry through d, then clears the list.
// The returned int is the number of disconnect requests issued.
// Disconnect errors do not stop the reset; they are joined and returned.
func (l *List) Reset(d Disconnector) (int, error) {
	var n int
	var errs error
	for i, ok := l.used.NextSet(0); ok; i, ok = l.used.NextSet(i + 1) {
		h, err := l.release(int(i))
		if err != nil {
			// Inactive or Pending entries have nothing to close.
			continue
		}

		n++
		if err := d.Disconnect(h); err != nil {
			errs = errors.Join(errs, fmt.Errorf(
				"failed to disconnect 0x%04x: %w", l.entries[i].Addr, err,
			))
		}
	}

	l.entries = [Capacity]Entry{}
	l.used.ClearAll()
	l.cursor = 0

	return n, errs
}

// release returns the connection handle of the Active entry at slot i
// and marks the entry Inactive.
func (l *List) release(i int) (gpchost.ConnHandle, error) {
	e := &l.entries[i]
	if e.State != Active {
		return 0, ErrNotActive
	}

	h := e.Conn
	e.State = Inactive
	e.Conn = 0
	return h, nil
}

func (l *List) index(addr uint16, netIdx uint8) (int, bool) {
	for i, ok := l.used.NextSet(0); ok; i, ok = l.used.NextSet(i + 1) {
		e := l.entries[i]
		if e.Addr == addr && e.NetIdx == netIdx {
			return int(i), true
		}
	}
	return -1, false
}
