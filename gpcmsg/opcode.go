package gpcmsg

import "fmt"

// Opcode identifies a message on the mesh access layer.
type Opcode uint32

const (
	// Not using iota here, to avoid possibility of values changing across the wire.
	// These are 2-byte opcodes in the access layer encoding.

	OpStatus        Opcode = 0x820D
	OpAdvSet        Opcode = 0x820E
	OpConnSet       Opcode = 0x820F
	OpAdvEnable     Opcode = 0x8210
	OpLinkUpdate    Opcode = 0x8211
	OpLinkInit      Opcode = 0x8212
	OpLinkFetch     Opcode = 0x8213
	OpLinkFetchRsp  Opcode = 0x8214
	OpConnListReset Opcode = 0x8215
	OpTestMsgInit   Opcode = 0x8216
	OpTestMsg       Opcode = 0x8217
)

// Vendor identifiers for the client and server models.
const (
	CompanyID     uint16 = 0x0059
	ClientModelID uint16 = 0x1500
	ServerModelID uint16 = 0x1501
)

// Payload lengths for each opcode.
const (
	LenAdvSet        = 2
	LenConnSet       = 3
	LenAdvEnable     = 1
	LenLinkUpdate    = 2
	LenLinkInit      = 1
	LenLinkFetch     = 0
	MinLenFetchRsp   = 2
	MaxLenFetchRsp   = 98
	LenConnListReset = 0
	LenStatus        = 2
	LenTestMsgInit   = 1
	LenTestMsg       = 1
)

// MaxLinkEntries is the maximum number of entries in a [LinkFetchRsp].
const MaxLinkEntries = (MaxLenFetchRsp - MinLenFetchRsp) / linkEntrySize

const linkEntrySize = 3

func (o Opcode) String() string {
	switch o {
	case OpStatus:
		return "Status"
	case OpAdvSet:
		return "AdvSet"
	case OpConnSet:
		return "ConnSet"
	case OpAdvEnable:
		return "AdvEnable"
	case OpLinkUpdate:
		return "LinkUpdate"
	case OpLinkInit:
		return "LinkInit"
	case OpLinkFetch:
		return "LinkFetch"
	case OpLinkFetchRsp:
		return "LinkFetchRsp"
	case OpConnListReset:
		return "ConnListReset"
	case OpTestMsgInit:
		return "TestMsgInit"
	case OpTestMsg:
		return "TestMsg"
	default:
		return fmt.Sprintf("Opcode(0x%X)", uint32(o))
	}
}

// lengthBounds reports the accepted payload length range for o.
// ok is false for opcodes outside this protocol.
func lengthBounds(o Opcode) (min, max int, ok bool) {
	switch o {
	case OpStatus:
		return LenStatus, LenStatus, true
	case OpAdvSet:
		return LenAdvSet, LenAdvSet, true
	case OpConnSet:
		return LenConnSet, LenConnSet, true
	case OpAdvEnable:
		return LenAdvEnable, LenAdvEnable, true
	case OpLinkUpdate:
		return LenLinkUpdate, LenLinkUpdate, true
	case OpLinkInit:
		return LenLinkInit, LenLinkInit, true
	case OpLinkFetch:
		return LenLinkFetch, LenLinkFetch, true
	case OpLinkFetchRsp:
		return MinLenFetchRsp, MaxLenFetchRsp, true
	case OpConnListReset:
		return LenConnListReset, LenConnListReset, true
	case OpTestMsgInit:
		return LenTestMsgInit, LenTestMsgInit, true
	case OpTestMsg:
		return LenTestMsg, LenTestMsg, true
	default:
		return 0, 0, false
	}
}

// AppendOpcode appends the access layer encoding of o to dst.
//
// One-byte opcodes are below 0x7F,
// two-byte opcodes have the top two bits set to 0b10,
// and three-byte vendor opcodes have the top two bits set to 0b11
// followed by the little-endian company ID.
func AppendOpcode(dst []byte, o Opcode) []byte {
	switch {
	case o < 0x7F:
		return append(dst, byte(o))
	case o <= 0xFFFF:
		return append(dst, byte(o>>8), byte(o))
	default:
		// Vendor opcodes keep the first byte in bits 16-23
		// and the company ID in the low 16 bits.
		return append(dst, byte(o>>16), byte(o), byte(o>>8))
	}
}

// ParseOpcode reads an access layer opcode from the front of b,
// returning the opcode and the remaining bytes.
func ParseOpcode(b []byte) (Opcode, []byte, error) {
	if len(b) == 0 {
		return 0, nil, fmt.Errorf("%w: empty access payload", ErrMalformedOpcode)
	}

	switch b[0] >> 6 {
	case 0b00, 0b01:
		if b[0] == 0x7F {
			// Reserved for future use.
			return 0, nil, fmt.Errorf("%w: reserved opcode 0x7F", ErrMalformedOpcode)
		}
		return Opcode(b[0]), b[1:], nil
	case 0b10:
		if len(b) < 2 {
			return 0, nil, fmt.Errorf("%w: truncated 2-byte opcode", ErrMalformedOpcode)
		}
		return Opcode(b[0])<<8 | Opcode(b[1]), b[2:], nil
	default:
		if len(b) < 3 {
			return 0, nil, fmt.Errorf("%w: truncated vendor opcode", ErrMalformedOpcode)
		}
		return Opcode(b[0])<<16 | Opcode(b[2])<<8 | Opcode(b[1]), b[3:], nil
	}
}
