package gpcmsg_test

import (
	"errors"
	"testing"

	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/stretchr/testify/require"
)

func TestDecode_roundTrip(t *testing.T) {
	t.Parallel()

	full := make([]gpcmsg.LinkEntry, gpcmsg.MaxLinkEntries)
	for i := range full {
		full[i] = gpcmsg.LinkEntry{Addr: uint16(0x100 + i), Count: uint8(i)}
	}

	for _, m := range []gpcmsg.Message{
		gpcmsg.AdvSet{On: true, NetIdx: 3},
		gpcmsg.AdvSet{On: false, NetIdx: 0},
		gpcmsg.ConnSet{Addr: 0xBEEF, NetIdx: 2},
		gpcmsg.AdvEnable{Mode: gpcmsg.AdvNetworkID},
		gpcmsg.LinkUpdate{Addr: 0x0102},
		gpcmsg.LinkInit{BroadcastCount: 20},
		gpcmsg.LinkFetch{},
		gpcmsg.LinkFetchRsp{Src: 7},
		gpcmsg.LinkFetchRsp{Src: 7, Entries: []gpcmsg.LinkEntry{{Addr: 9, Count: 255}}},
		gpcmsg.LinkFetchRsp{Src: 0xFFFE, Entries: full},
		gpcmsg.ConnListReset{},
		gpcmsg.Status{Type: gpcmsg.StatusConnAdd, ErrCode: gpcmsg.ErrCodeCapacityExceeded},
		gpcmsg.TestMsgInit{On: true},
		gpcmsg.TestMsg{On: true},
	} {
		t.Run(m.Opcode().String(), func(t *testing.T) {
			b := gpcmsg.Encode(m)

			got, err := gpcmsg.Decode(m.Opcode(), b)
			require.NoError(t, err)
			require.Equal(t, m, got)
		})
	}
}

func TestEncode_lengths(t *testing.T) {
	t.Parallel()

	require.Len(t, gpcmsg.Encode(gpcmsg.AdvSet{}), gpcmsg.LenAdvSet)
	require.Len(t, gpcmsg.Encode(gpcmsg.ConnSet{}), gpcmsg.LenConnSet)
	require.Len(t, gpcmsg.Encode(gpcmsg.AdvEnable{}), gpcmsg.LenAdvEnable)
	require.Len(t, gpcmsg.Encode(gpcmsg.LinkUpdate{}), gpcmsg.LenLinkUpdate)
	require.Len(t, gpcmsg.Encode(gpcmsg.LinkInit{}), gpcmsg.LenLinkInit)
	require.Empty(t, gpcmsg.Encode(gpcmsg.LinkFetch{}))
	require.Empty(t, gpcmsg.Encode(gpcmsg.ConnListReset{}))
	require.Len(t, gpcmsg.Encode(gpcmsg.Status{}), gpcmsg.LenStatus)
	require.Len(t, gpcmsg.Encode(gpcmsg.TestMsgInit{}), gpcmsg.LenTestMsgInit)
	require.Len(t, gpcmsg.Encode(gpcmsg.TestMsg{}), gpcmsg.LenTestMsg)

	// Empty fetch response is just the source address.
	require.Equal(t, []byte{0x34, 0x12}, gpcmsg.Encode(gpcmsg.LinkFetchRsp{Src: 0x1234}))

	// Little-endian address, then net index.
	require.Equal(t, []byte{0xEF, 0xBE, 0x02}, gpcmsg.Encode(gpcmsg.ConnSet{Addr: 0xBEEF, NetIdx: 2}))
}

func TestEncode_tooManyLinkEntries(t *testing.T) {
	t.Parallel()

	m := gpcmsg.LinkFetchRsp{
		Entries: make([]gpcmsg.LinkEntry, gpcmsg.MaxLinkEntries+1),
	}
	require.Panics(t, func() { _ = gpcmsg.Encode(m) })
}

func TestDecode_lengthMismatch(t *testing.T) {
	t.Parallel()

	for _, c := range []struct {
		op  gpcmsg.Opcode
		len int
	}{
		{op: gpcmsg.OpAdvSet, len: 1},
		{op: gpcmsg.OpAdvSet, len: 3},
		{op: gpcmsg.OpConnSet, len: 2},
		{op: gpcmsg.OpAdvEnable, len: 0},
		{op: gpcmsg.OpLinkUpdate, len: 3},
		{op: gpcmsg.OpLinkInit, len: 2},
		{op: gpcmsg.OpLinkFetch, len: 1},
		{op: gpcmsg.OpConnListReset, len: 1},
		{op: gpcmsg.OpStatus, len: 1},
		{op: gpcmsg.OpTestMsgInit, len: 0},
		{op: gpcmsg.OpTestMsg, len: 2},
		{op: gpcmsg.OpLinkFetchRsp, len: 1},
		{op: gpcmsg.OpLinkFetchRsp, len: 99},

		// In range, but not a whole number of entries.
		{op: gpcmsg.OpLinkFetchRsp, len: 4},
	} {
		_, err := gpcmsg.Decode(c.op, make([]byte, c.len))
		require.Error(t, err, "op=%s len=%d", c.op, c.len)
		require.ErrorIs(t, err, gpcmsg.ErrLengthMismatch)

		var lme *gpcmsg.LengthMismatchError
		require.True(t, errors.As(err, &lme))
		require.Equal(t, c.op, lme.Op)
		require.Equal(t, c.len, lme.Got)
	}
}

func TestDecode_invalidFields(t *testing.T) {
	t.Parallel()

	var ife *gpcmsg.InvalidFieldError

	_, err := gpcmsg.Decode(gpcmsg.OpAdvSet, []byte{2, 0})
	require.ErrorAs(t, err, &ife)
	require.Equal(t, "on_off", ife.Field)

	_, err = gpcmsg.Decode(gpcmsg.OpAdvEnable, []byte{3})
	require.ErrorAs(t, err, &ife)
	require.Equal(t, "mode", ife.Field)

	_, err = gpcmsg.Decode(gpcmsg.OpTestMsg, []byte{0xFF})
	require.ErrorAs(t, err, &ife)
}

func TestDecode_unknownOpcode(t *testing.T) {
	t.Parallel()

	_, err := gpcmsg.Decode(0x8201, nil)
	var uoe *gpcmsg.UnknownOpcodeError
	require.ErrorAs(t, err, &uoe)
	require.Equal(t, gpcmsg.Opcode(0x8201), uoe.Op)
}

func TestOpcode_accessEncoding(t *testing.T) {
	t.Parallel()

	for _, c := range []struct {
		op   gpcmsg.Opcode
		wire []byte
	}{
		{op: 0x02, wire: []byte{0x02}},
		{op: gpcmsg.OpConnSet, wire: []byte{0x82, 0x0F}},
		{op: 0xCA0059, wire: []byte{0xCA, 0x59, 0x00}},
	} {
		b := gpcmsg.AppendOpcode(nil, c.op)
		require.Equal(t, c.wire, b)

		got, rest, err := gpcmsg.ParseOpcode(append(b, 0xAA))
		require.NoError(t, err)
		require.Equal(t, c.op, got)
		require.Equal(t, []byte{0xAA}, rest)
	}

	_, _, err := gpcmsg.ParseOpcode(nil)
	require.ErrorIs(t, err, gpcmsg.ErrMalformedOpcode)

	_, _, err = gpcmsg.ParseOpcode([]byte{0x7F})
	require.ErrorIs(t, err, gpcmsg.ErrMalformedOpcode)

	_, _, err = gpcmsg.ParseOpcode([]byte{0x82})
	require.ErrorIs(t, err, gpcmsg.ErrMalformedOpcode)
}
