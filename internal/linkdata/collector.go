// Package linkdata records which peers a node hears during a link campaign.
//
// A campaign is started by a LinkInit request.
// While it runs, the node broadcasts its own address on every tick
// and counts the broadcasts it hears from its neighbors.
package linkdata

import (
	"errors"
	"slices"

	"github.com/gordian-engine/gpc/gpcmsg"
)

// Capacity is the maximum number of distinct peers recorded per campaign.
const Capacity = gpcmsg.MaxLinkEntries

// ErrCampaignFull is returned from [*Collector.Observe]
// when a new peer is heard after Capacity peers were already recorded.
var ErrCampaignFull = errors.New("link campaign observations full")

// Observation is the number of broadcasts heard from one peer.
// Count saturates at 255.
type Observation struct {
	Addr  uint16
	Count uint8
}

// Snapshot is a copy of the collector state.
type Snapshot struct {
	Active    bool
	Remaining uint8

	Observations []Observation
}

// LinkEntries converts the observations to their wire form.
func (s Snapshot) LinkEntries() []gpcmsg.LinkEntry {
	if len(s.Observations) == 0 {
		return nil
	}

	out := make([]gpcmsg.LinkEntry, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = gpcmsg.LinkEntry{Addr: o.Addr, Count: o.Count}
	}
	return out
}

// Collector holds the current or most recent link campaign.
// It is not safe for concurrent use.
type Collector struct {
	self uint16

	active    bool
	remaining uint8

	obs [Capacity]Observation
	n   int
}

// New returns an idle collector for the node at address self.
// Broadcasts from self are never recorded.
func New(self uint16) *Collector {
	return &Collector{self: self}
}

// Start discards previous observations and begins a campaign
// of count broadcasts.
func (c *Collector) Start(count uint8) {
	c.obs = [Capacity]Observation{}
	c.n = 0
	c.remaining = count
	c.active = true
}

// Active reports whether a campaign is running.
func (c *Collector) Active() bool {
	return c.active
}

// Observe records one broadcast heard from addr.
// It is a no-op if no campaign is running or if addr is the local node.
func (c *Collector) Observe(addr uint16) error {
	if !c.active || addr == c.self {
		return nil
	}

	for i := range c.obs[:c.n] {
		o := &c.obs[i]
		if o.Addr == addr {
			if o.Count < 255 {
				o.Count++
			}
			return nil
		}
	}

	if c.n == Capacity {
		return ErrCampaignFull
	}

	c.obs[c.n] = Observation{Addr: addr, Count: 1}
	c.n++
	return nil
}

// Tick advances the running campaign by one period.
//
// While broadcasts remain, Tick consumes one and reports broadcast=true.
// done is true exactly once, on the tick that ends the campaign.
// A campaign started with a zero count ends on its first tick
// without a broadcast.
// Ticking an idle collector does nothing.
func (c *Collector) Tick() (broadcast, done bool) {
	if !c.active {
		return false, false
	}

	if c.remaining > 0 {
		c.remaining--
		broadcast = true
	}
	if c.remaining == 0 {
		c.active = false
		done = true
	}
	return broadcast, done
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		Active:    c.active,
		Remaining: c.remaining,
	}
	if c.n > 0 {
		s.Observations = slices.Clone(c.obs[:c.n])
	}
	return s
}
