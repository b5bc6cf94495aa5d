package gpcquic_test

import (
	"testing"

	"github.com/gordian-engine/gpc/gpchost"
	"github.com/gordian-engine/gpc/gpcmsg"
	"github.com/gordian-engine/gpc/gpcquic"
	"github.com/stretchr/testify/require"
)

func TestFrame_roundTrip(t *testing.T) {
	t.Parallel()

	f := gpcquic.Frame{
		Ctx: gpchost.MsgCtx{Src: 0x0010, Dst: gpchost.AddrAllNodes, AppIdx: 3, TTL: 0},
		Op:  gpcmsg.OpLinkUpdate,

		Payload: gpcmsg.Encode(gpcmsg.LinkUpdate{Addr: 0x0010}),
	}

	b := gpcquic.AppendFrame(nil, f)
	require.Len(t, b, 8+2+gpcmsg.LenLinkUpdate)

	got, err := gpcquic.ParseFrame(b)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestParseFrame_bad(t *testing.T) {
	t.Parallel()

	good := gpcquic.AppendFrame(nil, gpcquic.Frame{Op: gpcmsg.OpLinkFetch})

	for name, b := range map[string][]byte{
		"empty":       nil,
		"short":       good[:5],
		"no opcode":   good[:8],
		"bad version": append([]byte{9}, good[1:]...),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := gpcquic.ParseFrame(b)
			require.ErrorIs(t, err, gpcquic.ErrBadFrame)
		})
	}
}
