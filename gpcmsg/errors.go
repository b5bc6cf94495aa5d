package gpcmsg

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch is matched by every [*LengthMismatchError].
var ErrLengthMismatch = errors.New("payload length mismatch")

// ErrMalformedOpcode is returned from [ParseOpcode]
// when the access payload does not begin with a valid opcode.
var ErrMalformedOpcode = errors.New("malformed opcode")

// LengthMismatchError is returned from [Decode]
// when the payload length is not acceptable for the opcode.
type LengthMismatchError struct {
	Op Opcode

	Got      int
	Min, Max int
}

func (e *LengthMismatchError) Error() string {
	if e.Min == e.Max {
		return fmt.Sprintf(
			"%s: payload length %d, want exactly %d", e.Op, e.Got, e.Min,
		)
	}
	return fmt.Sprintf(
		"%s: payload length %d, want %d..%d in whole link entries",
		e.Op, e.Got, e.Min, e.Max,
	)
}

func (e *LengthMismatchError) Is(target error) bool {
	return target == ErrLengthMismatch
}

// InvalidFieldError is returned from [Decode]
// when a field holds a value outside its domain,
// such as an on/off byte other than 0 or 1.
type InvalidFieldError struct {
	Op    Opcode
	Field string
	Value uint8
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s: invalid %s value %d", e.Op, e.Field, e.Value)
}

// UnknownOpcodeError is returned from [Decode]
// for opcodes that do not belong to this protocol.
type UnknownOpcodeError struct {
	Op Opcode
}

func (e *UnknownOpcodeError) Error() string {
	return "unknown opcode " + e.Op.String()
}
