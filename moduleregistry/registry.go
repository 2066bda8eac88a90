// Package moduleregistry implements the Module Registry of spec §4.2: a
// concurrent map from ModuleId to a compiled, reusable component plus its
// content hash, deduplicating registrations that carry identical bytes.
package moduleregistry

import (
	"context"
	"hash/crc32"
	"sync"

	"github.com/google/uuid"

	"github.com/wippyai/limes-faas/component"
	"github.com/wippyai/limes-faas/enginepool"
	"github.com/wippyai/limes-faas/errors"
)

// Handle is spec §3's ModuleHandle: a shared, immutable reference to a
// compiled component plus its content hash. Raw holds the original bytes
// so that Lambda.run can build a fresh per-call instance (§4.4) by
// reloading them against the same engine slot, reusing compiled machine
// code via the pool's shared compilation cache.
type Handle struct {
	Raw       []byte
	Hash      uint32
	EngineIdx int
}

// Registry is the Module Registry. The underlying map supports concurrent
// readers and writers: lookups during exec must not block a concurrent
// register (spec §4.2).
type Registry struct {
	pool   *enginepool.Pool
	byID   map[string]*Handle
	byHash map[uint32]string
	mu     sync.RWMutex
}

// New creates a registry backed by pool for engine selection on register.
func New(pool *enginepool.Pool) *Registry {
	return &Registry{
		pool:   pool,
		byID:   make(map[string]*Handle),
		byHash: make(map[uint32]string),
	}
}

// Register selects an engine via the pool, computes the CRC-32 content
// hash, compiles the bytes into a component to validate them, allocates a
// fresh ModuleId, inserts, and returns the id.
//
// Duplicate content is deduplicated (spec §4.2's normative policy, chosen
// over the source's alternative reject-on-collision variant per §9 open
// question 1): if the same hash is already registered, the existing
// ModuleId is returned instead of compiling and inserting again.
func (r *Registry) Register(ctx context.Context, bytes []byte) (string, error) {
	hash := crc32.ChecksumIEEE(bytes)

	r.mu.RLock()
	if id, ok := r.byHash[hash]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	if !component.IsComponent(bytes) {
		return "", errors.ComponentBuildError(errors.InvalidInput(errors.PhaseLoad, "not a valid component binary"))
	}
	if _, err := component.DecodeAndValidate(bytes); err != nil {
		return "", errors.ComponentBuildError(err)
	}

	slot := r.pool.Next()
	engineIdx := r.engineIndexOf(slot)

	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock: a concurrent Register with the same
	// bytes may have won the race while we compiled.
	if existing, ok := r.byHash[hash]; ok {
		return existing, nil
	}

	r.byID[id] = &Handle{Raw: bytes, Hash: hash, EngineIdx: engineIdx}
	r.byHash[hash] = id
	return id, nil
}

// engineIndexOf finds slot's position in the pool so later Lambda
// construction can pin back onto the same engine it was validated on.
func (r *Registry) engineIndexOf(slot *enginepool.Slot) int {
	for i := 0; i < r.pool.Len(); i++ {
		if r.pool.Slot(i) == slot {
			return i
		}
	}
	return 0
}

// Get returns the handle for id, or ok=false if not registered.
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// Remove removes the entry if present; fails with errors.ModuleNotRegistered
// otherwise. Any Lambda already derived from the component continues to
// function because it holds its own shared reference to the raw bytes
// (spec §4.2, invariant 1).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[id]
	if !ok {
		return errors.ModuleNotRegistered(id)
	}
	delete(r.byID, id)
	delete(r.byHash, h.Hash)
	return nil
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
