package gpc

import (
	"fmt"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/internal/connlist"
	"github.com/gordian-engine/gpc/internal/gk"
)

// ConnState is the state of one entry in the connection list.
type ConnState uint8

const (
	ConnInactive ConnState = iota
	ConnPending
	ConnActive
)

func (s ConnState) String() string {
	switch s {
	case ConnInactive:
		return "inactive"
	case ConnPending:
		return "pending"
	case ConnActive:
		return "active"
	default:
		return fmt.Sprintf("ConnState(%d)", uint8(s))
	}
}

func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Connection is one desired proxy connection.
type Connection struct {
	Addr   uint16             `json:"addr"`
	NetIdx uint8              `json:"net_idx"`
	State  ConnState          `json:"state"`
	Conn   gpchost.ConnHandle `json:"conn,omitempty"`
}

// Campaign is the state of the current or most recent link campaign.
type Campaign struct {
	Active    bool  `json:"active"`
	Remaining uint8 `json:"remaining"`

	Observations []gpcmsg.LinkEntry `json:"observations"`
}

// Snapshot is a copy of the [Server] state.
type Snapshot struct {
	Connections []Connection `json:"connections"`
	RetryCursor int          `json:"retry_cursor"`

	Campaign Campaign `json:"campaign"`

	IdleMode gpcmsg.AdvMode `json:"idle_mode"`
}

func snapshotFromKernel(ks gk.Snapshot) Snapshot {
	s := Snapshot{
		RetryCursor: ks.Cursor,
		Campaign: Campaign{
			Active:       ks.Campaign.Active,
			Remaining:    ks.Campaign.Remaining,
			Observations: ks.Campaign.LinkEntries(),
		},
		IdleMode: ks.IdleMode,
	}

	s.Connections = make([]Connection, len(ks.Entries))
	for i, e := range ks.Entries {
		s.Connections[i] = Connection{
			Addr:   e.Addr,
			NetIdx: e.NetIdx,
			State:  connState(e.State),
			Conn:   e.Conn,
		}
	}

	return s
}

func connState(s connlist.State) ConnState {
	switch s {
	case connlist.Inactive:
		return ConnInactive
	case connlist.Pending:
		return ConnPending
	case connlist.Active:
		return ConnActive
	default:
		panic(fmt.Errorf("BUG: unknown connection state %s", s))
	}
}
