package gpcmsg

import (
	"encoding/binary"
	"fmt"
)

// Message is implemented by every message type in this package.
type Message interface {
	Opcode() Opcode

	// AppendPayload appends the encoded payload to dst.
	AppendPayload(dst []byte) []byte
}

// AdvMode is the advertising mode applied to the node's proxy service.
type AdvMode uint8

const (
	AdvDisabled     AdvMode = 0
	AdvNodeIdentity AdvMode = 1
	AdvNetworkID    AdvMode = 2
)

// Valid reports whether m is one of the defined modes.
func (m AdvMode) Valid() bool {
	return m <= AdvNetworkID
}

func (m AdvMode) String() string {
	switch m {
	case AdvDisabled:
		return "disabled"
	case AdvNodeIdentity:
		return "node_identity"
	case AdvNetworkID:
		return "network_id"
	default:
		return fmt.Sprintf("AdvMode(%d)", uint8(m))
	}
}

// StatusType is the first field of a [Status] message.
type StatusType uint8

const (
	StatusLinkUpdateStarted StatusType = 0
	StatusLinkUpdateEnded   StatusType = 1
	StatusConnAdd           StatusType = 2
	StatusConnReset         StatusType = 3
)

func (t StatusType) String() string {
	switch t {
	case StatusLinkUpdateStarted:
		return "link_update_started"
	case StatusLinkUpdateEnded:
		return "link_update_ended"
	case StatusConnAdd:
		return "conn_add"
	case StatusConnReset:
		return "conn_reset"
	default:
		return fmt.Sprintf("StatusType(%d)", uint8(t))
	}
}

// Error codes carried in [Status.ErrCode].
const (
	ErrCodeSuccess          uint8 = 0x00
	ErrCodeCapacityExceeded uint8 = 0x01
	ErrCodeStorage          uint8 = 0x02
)

// AdvSet requests node identity advertising on a single subnet.
type AdvSet struct {
	On     bool
	NetIdx uint8
}

func (AdvSet) Opcode() Opcode { return OpAdvSet }

func (m AdvSet) AppendPayload(dst []byte) []byte {
	return append(dst, boolByte(m.On), m.NetIdx)
}

// ConnSet requests a persistent proxy connection to Addr on subnet NetIdx.
type ConnSet struct {
	Addr   uint16
	NetIdx uint8
}

func (ConnSet) Opcode() Opcode { return OpConnSet }

func (m ConnSet) AppendPayload(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, m.Addr)
	return append(dst, m.NetIdx)
}

// AdvEnable sets the persisted global advertising mode.
type AdvEnable struct {
	Mode AdvMode
}

func (AdvEnable) Opcode() Opcode { return OpAdvEnable }

func (m AdvEnable) AppendPayload(dst []byte) []byte {
	return append(dst, byte(m.Mode))
}

// LinkUpdate is broadcast during a link campaign
// so that neighbors can count how often they hear Addr.
type LinkUpdate struct {
	Addr uint16
}

func (LinkUpdate) Opcode() Opcode { return OpLinkUpdate }

func (m LinkUpdate) AppendPayload(dst []byte) []byte {
	return binary.LittleEndian.AppendUint16(dst, m.Addr)
}

// LinkInit starts a link campaign of BroadcastCount announcements.
type LinkInit struct {
	BroadcastCount uint8
}

func (LinkInit) Opcode() Opcode { return OpLinkInit }

func (m LinkInit) AppendPayload(dst []byte) []byte {
	return append(dst, m.BroadcastCount)
}

// LinkFetch requests the observations of the last link campaign.
type LinkFetch struct{}

func (LinkFetch) Opcode() Opcode { return OpLinkFetch }

func (LinkFetch) AppendPayload(dst []byte) []byte { return dst }

// LinkEntry is one observed peer in a [LinkFetchRsp].
type LinkEntry struct {
	Addr  uint16
	Count uint8
}

// LinkFetchRsp reports which peers Src heard during its last link campaign.
type LinkFetchRsp struct {
	Src     uint16
	Entries []LinkEntry
}

func (LinkFetchRsp) Opcode() Opcode { return OpLinkFetchRsp }

// AppendPayload panics if m holds more than [MaxLinkEntries] entries.
func (m LinkFetchRsp) AppendPayload(dst []byte) []byte {
	if len(m.Entries) > MaxLinkEntries {
		panic(fmt.Errorf(
			"BUG: attempted to encode LinkFetchRsp with %d entries (limit %d)",
			len(m.Entries), MaxLinkEntries,
		))
	}

	dst = binary.LittleEndian.AppendUint16(dst, m.Src)
	for _, e := range m.Entries {
		dst = binary.LittleEndian.AppendUint16(dst, e.Addr)
		dst = append(dst, e.Count)
	}
	return dst
}

// ConnListReset clears the connection list and drops active proxy connections.
type ConnListReset struct{}

func (ConnListReset) Opcode() Opcode { return OpConnListReset }

func (ConnListReset) AppendPayload(dst []byte) []byte { return dst }

// Status is the server's answer to ConnSet, ConnListReset and LinkInit.
type Status struct {
	Type    StatusType
	ErrCode uint8
}

func (Status) Opcode() Opcode { return OpStatus }

func (m Status) AppendPayload(dst []byte) []byte {
	return append(dst, byte(m.Type), m.ErrCode)
}

// TestMsgInit asks the receiver to broadcast a [TestMsg].
type TestMsgInit struct {
	On bool
}

func (TestMsgInit) Opcode() Opcode { return OpTestMsgInit }

func (m TestMsgInit) AppendPayload(dst []byte) []byte {
	return append(dst, boolByte(m.On))
}

// TestMsg drives the receiver's test indicator.
type TestMsg struct {
	On bool
}

func (TestMsg) Opcode() Opcode { return OpTestMsg }

func (m TestMsg) AppendPayload(dst []byte) []byte {
	return append(dst, boolByte(m.On))
}

// Encode returns the payload of m, without the opcode.
func Encode(m Message) []byte {
	op := m.Opcode()
	_, max, ok := lengthBounds(op)
	if !ok {
		panic(fmt.Errorf("BUG: attempted to encode message with unknown opcode %s", op))
	}
	return m.AppendPayload(make([]byte, 0, max))
}

// Decode parses payload as the message identified by op.
//
// The returned error is a [*LengthMismatchError] if the payload size is wrong,
// an [*InvalidFieldError] if a field is out of range,
// or an [*UnknownOpcodeError] if op is not part of this protocol.
func Decode(op Opcode, payload []byte) (Message, error) {
	min, max, ok := lengthBounds(op)
	if !ok {
		return nil, &UnknownOpcodeError{Op: op}
	}

	n := len(payload)
	if n < min || n > max {
		return nil, &LengthMismatchError{Op: op, Got: n, Min: min, Max: max}
	}

	switch op {
	case OpAdvSet:
		on, err := decodeBool(op, "on_off", payload[0])
		if err != nil {
			return nil, err
		}
		return AdvSet{On: on, NetIdx: payload[1]}, nil

	case OpConnSet:
		return ConnSet{
			Addr:   binary.LittleEndian.Uint16(payload),
			NetIdx: payload[2],
		}, nil

	case OpAdvEnable:
		mode := AdvMode(payload[0])
		if !mode.Valid() {
			return nil, &InvalidFieldError{Op: op, Field: "mode", Value: payload[0]}
		}
		return AdvEnable{Mode: mode}, nil

	case OpLinkUpdate:
		return LinkUpdate{Addr: binary.LittleEndian.Uint16(payload)}, nil

	case OpLinkInit:
		return LinkInit{BroadcastCount: payload[0]}, nil

	case OpLinkFetch:
		return LinkFetch{}, nil

	case OpLinkFetchRsp:
		return decodeLinkFetchRsp(payload)

	case OpConnListReset:
		return ConnListReset{}, nil

	case OpStatus:
		return Status{Type: StatusType(payload[0]), ErrCode: payload[1]}, nil

	case OpTestMsgInit:
		on, err := decodeBool(op, "on_off", payload[0])
		if err != nil {
			return nil, err
		}
		return TestMsgInit{On: on}, nil

	case OpTestMsg:
		on, err := decodeBool(op, "on_off", payload[0])
		if err != nil {
			return nil, err
		}
		return TestMsg{On: on}, nil

	default:
		panic(fmt.Errorf("BUG: opcode %s has length bounds but no decoder", op))
	}
}

func decodeLinkFetchRsp(payload []byte) (LinkFetchRsp, error) {
	rest := payload[MinLenFetchRsp:]
	if len(rest)%linkEntrySize != 0 {
		return LinkFetchRsp{}, &LengthMismatchError{
			Op:  OpLinkFetchRsp,
			Got: len(payload),
			Min: MinLenFetchRsp,
			Max: MaxLenFetchRsp,
		}
	}

	m := LinkFetchRsp{Src: binary.LittleEndian.Uint16(payload)}

	n := len(rest) / linkEntrySize
	if n == 0 {
		return m, nil
	}

	m.Entries = make([]LinkEntry, n)
	for i := range m.Entries {
		m.Entries[i] = LinkEntry{
			Addr:  binary.LittleEndian.Uint16(rest),
			Count: rest[2],
		}
		rest = rest[linkEntrySize:]
	}
	return m, nil
}

func decodeBool(op Opcode, field string, b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, &InvalidFieldError{Op: op, Field: field, Value: b}
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
