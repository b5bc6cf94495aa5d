package gpcquic

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
)

const frameVersion byte = 1

// version, src, dst, app index, ttl.
const frameHeaderSize = 1 + 2 + 2 + 2 + 1

// ErrBadFrame is returned by [ParseFrame] for datagrams
// that do not hold a complete frame.
var ErrBadFrame = errors.New("bad frame")

// Frame is one access message as carried in a QUIC datagram.
type Frame struct {
	Ctx gpchost.MsgCtx

	Op      gpcmsg.Opcode
	Payload []byte
}

// AppendFrame appends the wire form of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	dst = append(dst, frameVersion)
	dst = binary.LittleEndian.AppendUint16(dst, f.Ctx.Src)
	dst = binary.LittleEndian.AppendUint16(dst, f.Ctx.Dst)
	dst = binary.LittleEndian.AppendUint16(dst, f.Ctx.AppIdx)
	dst = append(dst, f.Ctx.TTL)
	dst = gpcmsg.AppendOpcode(dst, f.Op)
	return append(dst, f.Payload...)
}

// ParseFrame parses a datagram.
// The returned payload aliases b.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < frameHeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadFrame, len(b))
	}
	if b[0] != frameVersion {
		return Frame{}, fmt.Errorf("%w: unknown version %d", ErrBadFrame, b[0])
	}

	f := Frame{
		Ctx: gpchost.MsgCtx{
			Src:    binary.LittleEndian.Uint16(b[1:]),
			Dst:    binary.LittleEndian.Uint16(b[3:]),
			AppIdx: binary.LittleEndian.Uint16(b[5:]),
			TTL:    b[7],
		},
	}

	op, rest, err := gpcmsg.ParseOpcode(b[frameHeaderSize:])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	f.Op = op
	f.Payload = rest

	return f, nil
}
