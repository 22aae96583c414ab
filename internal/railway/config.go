package railway

// Config carries the multiplexer's tunable defaults, following the
// same Options-struct convention as bundle.Config.
type Config struct {
	WindowBits    uint64 // replay bitmap width, must be a multiple of 8, default 64
	DestroyTimeoutMS int64 // channel GC idle threshold
	PoolSize      int    // size of the pre-generated channel-id pool, default 32
}

const (
	defaultWindowBits    = 64
	defaultDestroyTimeoutMS = 24000
	defaultPoolSize      = 32

	// maxChannelID is the largest value a 3-byte big-endian channel id
	// can hold (2^24 - 1).
	maxChannelID = 1<<24 - 1
)

func (c Config) withDefaults() Config {
	if c.WindowBits == 0 {
		c.WindowBits = defaultWindowBits
	}
	if c.WindowBits%8 != 0 {
		c.WindowBits += 8 - c.WindowBits%8
	}
	if c.DestroyTimeoutMS <= 0 {
		c.DestroyTimeoutMS = defaultDestroyTimeoutMS
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	return c
}
