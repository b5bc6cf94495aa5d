package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gordian-engine/gpc"
	"github.com/gordian-engine/gpc/cmd/internal/gpcflag"
	"github.com/gordian-engine/gpc/gpcmsg"
)

// command is one parsed gpcctl invocation.
type command struct {
	Send func(c *gpc.Client, dst uint16) error

	// LinkFetch instead of Send.
	Fetch bool

	// Wait for a Status reply after sending.
	ExpectStatus bool

	// Keep printing statuses until one of type EndType arrives.
	UntilEnded bool
	EndType    gpcmsg.StatusType
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, errors.New("missing command")
	}

	name, rest := args[0], args[1:]
	arg := func(i int, def string) string {
		if i < len(rest) {
			return rest[i]
		}
		return def
	}

	switch name {
	case "conn-set":
		if len(rest) == 0 {
			return command{}, errors.New("conn-set needs an address")
		}
		addr, err := gpcflag.ParseAddr(rest[0])
		if err != nil {
			return command{}, err
		}
		netIdx, err := parseUint8(arg(1, "0"))
		if err != nil {
			return command{}, err
		}
		return command{
			Send: func(c *gpc.Client, dst uint16) error {
				return c.ConnSet(dst, addr, netIdx)
			},
			ExpectStatus: true,
		}, nil

	case "adv-set":
		on, err := parseOnOff(arg(0, ""))
		if err != nil {
			return command{}, err
		}
		netIdx, err := parseUint8(arg(1, "0"))
		if err != nil {
			return command{}, err
		}
		return command{
			Send: func(c *gpc.Client, dst uint16) error {
				return c.AdvSet(dst, on, netIdx)
			},
		}, nil

	case "adv-enable":
		mode, err := parseUint8(arg(0, ""))
		if err != nil {
			return command{}, err
		}
		if !gpcmsg.AdvMode(mode).Valid() {
			return command{}, fmt.Errorf("invalid advertising mode %d", mode)
		}
		return command{
			Send: func(c *gpc.Client, dst uint16) error {
				return c.AdvEnable(dst, gpcmsg.AdvMode(mode))
			},
		}, nil

	case "link-init":
		count, err := parseUint8(arg(0, ""))
		if err != nil {
			return command{}, err
		}
		return command{
			Send: func(c *gpc.Client, dst uint16) error {
				return c.LinkInit(dst, count)
			},
			ExpectStatus: true,
			UntilEnded:   true,
			EndType:      gpcmsg.StatusLinkUpdateEnded,
		}, nil

	case "link-fetch":
		return command{Fetch: true}, nil

	case "conn-reset":
		return command{
			Send: func(c *gpc.Client, dst uint16) error {
				return c.ConnReset(dst)
			},
			ExpectStatus: true,
		}, nil

	case "test-msg":
		on, err := parseOnOff(arg(0, ""))
		if err != nil {
			return command{}, err
		}
		return command{
			Send: func(c *gpc.Client, dst uint16) error {
				return c.TestMsgInit(dst, on)
			},
		}, nil

	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func parseUint8(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint8(n), nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off (got %q)", s)
	}
}
