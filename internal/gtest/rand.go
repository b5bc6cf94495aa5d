package gtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// RandomBytes returns sz pseudorandom bytes
// seeded from the test name, so reruns see the same data.
func RandomBytes(t *testing.T, sz int) []byte {
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)

	out := make([]byte, sz)
	if _, err := chacha.Read(out); err != nil {
		panic(err)
	}
	return out
}
