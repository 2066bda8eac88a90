// Package enginepool implements the fixed-size rotation of compiler/JIT
// engines the Runtime builds once at startup (spec §4.1). Each engine is a
// wazero-backed component compilation/execution context; the pool hands
// them out round-robin and tracks a per-engine epoch counter used for
// cooperative preemption.
package enginepool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/limes-faas/engine"
	"github.com/wippyai/limes-faas/errors"
)

// Slot pairs a pooled engine with its own epoch counter (spec §4.1's
// "increment_epoch(engine)"; each engine owns an independent counter).
type Slot struct {
	Engine *engine.WazeroEngine
	epoch  atomic.Uint64
}

// Epoch returns the slot's current epoch value.
func (s *Slot) Epoch() uint64 {
	return s.epoch.Load()
}

// IncrementEpoch advances this slot's epoch counter by one, ticking every
// guest execution tied to this engine at its next preemption yield point.
func (s *Slot) IncrementEpoch() uint64 {
	next := s.epoch.Add(1)
	Logger().Debug("epoch incremented", zap.Uint64("epoch", next))
	return next
}

// Pool is the Engine Pool of spec §4.1. All N engines share one
// wazero.CompilationCache so that re-loading a registered module's bytes
// (done once per Lambda call to obtain an isolated instance) reuses cached
// machine code instead of recompiling it per call.
type Pool struct {
	slots  []*Slot
	cache  wazero.CompilationCache
	cursor uint64
	mu     sync.Mutex
}

// New constructs a Pool of n engines (n is the configured vCPU count).
// Fails with errors.EngineInitError if any engine cannot be built.
func New(ctx context.Context, n int) (*Pool, error) {
	if n < 1 {
		n = 1
	}

	cache := wazero.NewCompilationCache()
	slots := make([]*Slot, n)
	for i := 0; i < n; i++ {
		eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
			CompilationCache: cache,
		})
		if err != nil {
			for _, s := range slots[:i] {
				s.Engine.Close(ctx)
			}
			cache.Close(ctx)
			return nil, errors.EngineInitError(err)
		}
		slots[i] = &Slot{Engine: eng}
	}

	return &Pool{slots: slots, cache: cache}, nil
}

// Len returns the number of engines in the pool.
func (p *Pool) Len() int {
	return len(p.slots)
}

// Next returns the slot chosen by the rotating cursor (spec §4.1
// next_engine). The cursor advances by one and wraps modulo N; concurrent
// callers observe a monotonic sequence modulo N under the pool's short
// critical section.
func (p *Pool) Next() *Slot {
	p.mu.Lock()
	idx := p.cursor % uint64(len(p.slots))
	p.cursor++
	p.mu.Unlock()
	Logger().Debug("engine selected", zap.Int("engine_idx", int(idx)))
	return p.slots[idx]
}

// Slot returns the slot at a given index, e.g. to re-select the engine a
// Module was originally compiled on.
func (p *Pool) Slot(idx int) *Slot {
	return p.slots[idx]
}

// Cache returns the compilation cache shared by every engine in the pool.
// Lambda.Run builds one transient, per-call engine sharing this cache so
// each invocation gets its own store and memory limiter (spec §4.4's
// "fresh store" requirement) without losing the benefit of compiling a
// registered module's bytes only once.
func (p *Pool) Cache() wazero.CompilationCache {
	return p.cache
}

// Close closes every pooled engine and the shared compilation cache.
func (p *Pool) Close(ctx context.Context) error {
	var firstErr error
	for _, s := range p.slots {
		if err := s.Engine.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.cache.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
