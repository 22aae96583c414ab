package codec

import (
	"math/rand"
	"testing"

	"puffer/internal/testutil"
)

// TestMalformedInputNeverPanics exercises ReadVarLong/ReadMap against
// arbitrary byte garbage: neither should ever panic or hang,
// regardless of how badly truncated or oversized the encoded lengths
// claim to be.
func TestMalformedInputNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	testutil.WithTimeout(t, 0, func() {
		for i := 0; i < 2000; i++ {
			buf := make([]byte, rng.Intn(32))
			rng.Read(buf)
			buf = testutil.CapBytes(buf, testutil.DefaultMaxFuzzBytes)

			_, _, _ = ReadVarLong(buf, 0)
			_, _, _ = ReadMap(buf, 0)
		}
	})
}
