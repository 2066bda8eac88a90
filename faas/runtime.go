// Package faas implements the Runtime of spec §4.5: the top-level control
// plane holding the Engine Pool, Module Registry, and Function Registry,
// and exposing register/remove module plus init/remove/exec/stop function.
package faas

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/limes-faas/enginepool"
	"github.com/wippyai/limes-faas/errors"
	"github.com/wippyai/limes-faas/faas/metrics"
	"github.com/wippyai/limes-faas/lambda"
	"github.com/wippyai/limes-faas/moduleregistry"
)

// Status is a FunctionHandle's logical state (spec §4.4 "State machine").
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusStopped
)

// handle is spec §3's FunctionHandle: { Lambda, status }.
type handle struct {
	fn     *lambda.Lambda
	mu     sync.RWMutex
	status Status
}

// Runtime is the control plane. Holds the Engine Pool, Module Registry,
// Function Registry, configuration, and the allocated-functions counter.
type Runtime struct {
	pool      *enginepool.Pool
	modules   *moduleregistry.Registry
	funcs     sync.Map // FunctionId -> *handle
	maxFuncs  int
	totalMem  uint64
	allocated int
	allocMu   sync.Mutex
	metrics   *metrics.Registry
}

// build assembles a Runtime from already-validated Builder settings.
// Compiles all engines up front; failure returns errors.EngineInitError
// (surfaced by enginepool.New itself).
func build(ctx context.Context, vcpus int, totalMemory uint64, maxFunctions int) (*Runtime, error) {
	pool, err := enginepool.New(ctx, vcpus)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		pool:     pool,
		modules:  moduleregistry.New(pool),
		maxFuncs: maxFunctions,
		totalMem: totalMemory,
	}, nil
}

// Close releases every pooled engine and its shared compilation cache.
// Callers must ensure no exec_function is in flight.
func (r *Runtime) Close(ctx context.Context) error {
	return r.pool.Close(ctx)
}

// Shutdown stops every running FunctionHandle and waits, bounded by ctx,
// for each to observe its termination flag and return before closing the
// Engine Pool. Safe to call even if no function is running.
func (r *Runtime) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	r.funcs.Range(func(_, v any) bool {
		h := v.(*handle)
		g.Go(func() error {
			h.mu.RLock()
			running := h.status == StatusRunning
			h.mu.RUnlock()
			if !running {
				return nil
			}
			if err := h.fn.Stop(); err != nil && !isAlreadyStopped(err) {
				return err
			}
			r.noteEpochTick()
			return waitStopped(gctx, h)
		})
		return true
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return r.pool.Close(ctx)
}

func isAlreadyStopped(err error) bool {
	fe, ok := err.(*errors.Error)
	return ok && fe.Kind == errors.KindFunctionNotRunning
}

// waitStopped polls a handle's status until it reports Stopped or ctx is
// done; ExecFunction's run loop is the only writer of StatusStopped, so
// this just waits for that loop to observe the termination flag.
func waitStopped(ctx context.Context, h *handle) error {
	const pollInterval = 5 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		h.mu.RLock()
		status := h.status
		h.mu.RUnlock()
		if status != StatusRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RegisterModule delegates to the Module Registry (spec §4.2). Returns
// the existing ModuleId if identical bytes were already registered.
func (r *Runtime) RegisterModule(ctx context.Context, bytes []byte) (string, error) {
	return r.modules.Register(ctx, bytes)
}

// RemoveModule delegates to the Module Registry (spec §4.2). Any Lambda
// already derived from the component continues to function: FunctionHandles
// hold their own copy of the raw bytes, not a back-reference to the registry.
func (r *Runtime) RemoveModule(id string) error {
	return r.modules.Remove(id)
}

// InitFunction constructs a Lambda from moduleID and inserts a fresh
// FunctionHandle (spec §4.5 init_function).
func (r *Runtime) InitFunction(ctx context.Context, moduleID string, permittedIP netip.Addr, wasi lambda.WASIConfig) (string, error) {
	if !r.admit() {
		Logger().Warn("function admission rejected", zap.Int("max_functions", r.maxFuncs))
		return "", errors.MaxFunctionDeplaymentReached(r.maxFuncs)
	}

	h, err := r.newHandle(moduleID, permittedIP, wasi)
	if err != nil {
		r.release()
		return "", errors.FunctionInitError(err)
	}

	id := uuid.NewString()
	r.funcs.Store(id, h)
	r.observeMetrics()
	return id, nil
}

// admit checks-and-increments the allocated-functions counter under a
// short critical section, preventing overshoot of max_functions under
// concurrent init (spec §4.5 Concurrency, §9 open question 2: the counter
// is decremented on any failure path after the increment, via release()).
func (r *Runtime) admit() bool {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()
	if r.allocated >= r.maxFuncs {
		return false
	}
	r.allocated++
	return true
}

func (r *Runtime) release() {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()
	r.allocated--
}

func (r *Runtime) newHandle(moduleID string, permittedIP netip.Addr, wasi lambda.WASIConfig) (*handle, error) {
	mh, ok := r.modules.Get(moduleID)
	if !ok {
		return nil, errors.ComponentNotFound(moduleID)
	}

	perFuncMemory := r.totalMem / uint64(r.maxFuncs)

	l, err := lambda.New(r.pool, mh.EngineIdx, mh.Raw, perFuncMemory, permittedIP, lambda.WASIConfig{
		EgressCheckEnabled: wasi.EgressCheckEnabled,
		Preopens:           wasi.Preopens,
		Debug:              wasi.Debug,
	})
	if err != nil {
		return nil, err
	}

	return &handle{fn: l, status: StatusReady}, nil
}

// RemoveFunction removes the entry if present (spec §4.5 remove_function).
// Does not cancel an in-flight execution: per §9 open question 4, removal
// only detaches the entry from the Function Registry; any exec_function
// call already holding this *handle continues to completion, and
// subsequent lookups fail with errors.FunctionNotRegistered.
func (r *Runtime) RemoveFunction(id string) (bool, error) {
	v, ok := r.funcs.LoadAndDelete(id)
	if !ok {
		return false, nil
	}
	r.release()
	r.observeMetrics()
	return true, nil
}

// ExecFunction looks up the FunctionHandle, invokes its Lambda's run, and
// returns the guest-produced string (spec §4.5 exec_function). Any Lambda
// error is wrapped as errors.FunctionExecError unless it already carries
// the ForceStop kind.
func (r *Runtime) ExecFunction(ctx context.Context, id string, args string) (string, error) {
	h, err := r.lookup(id)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	h.status = StatusRunning
	h.mu.Unlock()

	result, runErr := h.fn.Run(ctx, args)

	h.mu.Lock()
	if h.fn.Stopped() {
		h.status = StatusStopped
	} else {
		h.status = StatusReady
	}
	h.mu.Unlock()

	if runErr != nil {
		r.noteForceStop(runErr)
		if fe, ok := runErr.(*errors.Error); ok && fe.Kind == errors.KindForceStop {
			Logger().Debug("function force-stopped", zap.String("function_id", id))
			return "", runErr
		}
		return "", errors.FunctionExecError(runErr)
	}
	return result, nil
}

// StopFunction looks up the FunctionHandle and invokes its Lambda's stop
// (spec §4.5 stop_function).
func (r *Runtime) StopFunction(id string) error {
	h, err := r.lookup(id)
	if err != nil {
		return err
	}
	if err := h.fn.Stop(); err != nil {
		return errors.FunctionStopError(err)
	}
	r.noteEpochTick()
	h.mu.Lock()
	h.status = StatusStopped
	h.mu.Unlock()
	return nil
}

// FunctionStatus returns the current logical status of id.
func (r *Runtime) FunctionStatus(id string) (Status, error) {
	h, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status, nil
}

func (r *Runtime) lookup(id string) (*handle, error) {
	v, ok := r.funcs.Load(id)
	if !ok {
		return nil, errors.FunctionNotRegistered(id)
	}
	return v.(*handle), nil
}

// Stats is a read-only snapshot of Runtime state for an operator console
// or metrics bridge.
type Stats struct {
	AllocatedFunctions int
	MaxFunctions       int
	ModuleCount        int
	EngineCount        int
}

// Stats returns a point-in-time snapshot (not part of spec.md's core
// operation set; supplements §6's external-collaborator surface).
func (r *Runtime) Stats() Stats {
	r.allocMu.Lock()
	allocated := r.allocated
	r.allocMu.Unlock()
	return Stats{
		AllocatedFunctions: allocated,
		MaxFunctions:       r.maxFuncs,
		ModuleCount:        r.modules.Len(),
		EngineCount:        r.pool.Len(),
	}
}
