package gk

import (
	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
)

// Event is a unit of work for the [Kernel] main loop.
// The set of events is closed.
type Event interface {
	isEvent()
}

// MessageEvent carries one received access message.
type MessageEvent struct {
	Ctx     gpchost.MsgCtx
	Op      gpcmsg.Opcode
	Payload []byte
}

// LinkEvent carries one transport lifecycle notification.
type LinkEvent struct {
	Change gpchost.LinkChange
}

// timerEvent reports an elapsed task deadline.
// Gen is compared against the kernel's current generation for the task,
// so that deadlines replaced or cancelled after firing are ignored.
type timerEvent struct {
	Task TaskID
	Gen  uint64
}

// snapshotEvent requests a copy of the orchestrator state.
// Resp must be buffered.
type snapshotEvent struct {
	Resp chan Snapshot
}

func (MessageEvent) isEvent()  {}
func (LinkEvent) isEvent()     {}
func (timerEvent) isEvent()    {}
func (snapshotEvent) isEvent() {}
