package faas

import "context"

// Defaults from spec §4.5's Builder: vcpus=1, total_memory=2 MiB x 100,
// max_functions=100.
const (
	defaultVCPUs        = 1
	defaultMemoryCap    = 2 * 1024 * 1024 * 100
	defaultMaxFunctions = 100
)

// Builder is spec §4.5's fluent configuration object: accumulates vcpus,
// total memory budget, and max_functions, then materializes a Runtime.
type Builder struct {
	vcpus        int
	totalMemory  uint64
	maxFunctions int
}

// NewBuilder returns a Builder seeded with spec.md's defaults.
func NewBuilder() *Builder {
	return &Builder{
		vcpus:        defaultVCPUs,
		totalMemory:  defaultMemoryCap,
		maxFunctions: defaultMaxFunctions,
	}
}

// WithVCPUs sets the number of engines in the Engine Pool.
func (b *Builder) WithVCPUs(n int) *Builder {
	b.vcpus = n
	return b
}

// WithTotalMemory sets the total memory budget in bytes; per-function
// cap is derived as total_memory / max_functions.
func (b *Builder) WithTotalMemory(bytes uint64) *Builder {
	b.totalMemory = bytes
	return b
}

// WithMaxFunctions sets the cap on concurrent FunctionHandles.
func (b *Builder) WithMaxFunctions(n int) *Builder {
	b.maxFunctions = n
	return b
}

// Build compiles all engines up front. Failure returns errors.EngineInitError.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	return build(ctx, b.vcpus, b.totalMemory, b.maxFunctions)
}
