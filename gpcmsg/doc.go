// Package gpcmsg contains the wire codec for the GATT proxy configuration protocol.
//
// Every message has an [Opcode] and a fixed-layout payload.
// All multi-byte integers are little-endian.
// Payload lengths are checked exactly,
// except for [LinkFetchRsp] which carries a variable number of link entries.
//
// The codec has no side effects.
// Routing of opcodes to the correct model is the mesh access layer's job;
// [Decode] only reports [UnknownOpcodeError] as a safeguard.
package gpcmsg
