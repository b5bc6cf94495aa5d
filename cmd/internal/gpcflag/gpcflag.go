// Package gpcflag has the flag and environment handling
// shared by the gpc commands.
package gpcflag

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads ./.env into the environment if it exists.
// Variables already set in the environment take precedence.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// Env returns the value of the environment variable key, or def if unset.
func Env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// ParseAddr parses a mesh address in decimal or 0x-prefixed hex.
func ParseAddr(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid mesh address %q: %w", s, err)
	}
	return uint16(n), nil
}

// ParsePeers parses a comma-separated list of addr=host:port pairs.
func ParsePeers(s string) (map[uint16]net.Addr, error) {
	out := make(map[uint16]net.Addr)
	if s == "" {
		return out, nil
	}

	for _, kv := range strings.Split(s, ",") {
		a, hp, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return nil, fmt.Errorf("peer %q must have the form addr=host:port", kv)
		}

		addr, err := ParseAddr(a)
		if err != nil {
			return nil, err
		}

		ua, err := net.ResolveUDPAddr("udp", hp)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve peer 0x%04x: %w", addr, err)
		}
		out[addr] = ua
	}
	return out, nil
}

// NewLogger returns a text logger on stderr at the named level.
func NewLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
