package espb

import "github.com/espb-vm/espb/internal/execctx"

// Config holds the compile-time configured constants of spec §6
// ("Configurable constants"), set once on a Runtime and applied to every
// module it loads.
type Config struct {
	minMemoryBytes       uint32
	memoryLimitBytes      uint32
	shadowStackSize       int
	shadowStackIncrement  int
}

// NewConfig returns a Config with the spec's documented defaults: no
// minimum memory beyond what a module declares, no memory limit, and the
// Execution Context's default shadow-stack sizing.
func NewConfig() Config {
	return Config{
		shadowStackSize:      execctx.DefaultShadowStackSize,
		shadowStackIncrement: execctx.DefaultShadowStackIncrement,
	}
}

// WithMinMemoryBytes sets the compile-time minimum linear memory size,
// rounded up to a 64 KiB page at instantiation (spec §4.3 step 1).
func (c Config) WithMinMemoryBytes(n uint32) Config {
	c.minMemoryBytes = n
	return c
}

// WithMemoryLimitBytes caps the effective memory size of every instance
// loaded under this Config, regardless of what a module declares.
func (c Config) WithMemoryLimitBytes(n uint32) Config {
	c.memoryLimitBytes = n
	return c
}

// WithShadowStack overrides the Execution Context's initial size and
// growth increment for the start function and every exported-function call
// made through the resulting Instance.
func (c Config) WithShadowStack(size, increment int) Config {
	c.shadowStackSize = size
	c.shadowStackIncrement = increment
	return c
}
