// Package lambda implements spec §4.4: the per-function execution
// sandbox. A Lambda owns no live store; every call to Run builds a fresh
// WASI context, linker, and store, instantiates the guest component, and
// invokes its exported run(string) -> string entry point.
package lambda

import (
	"context"
	"net/netip"
	"os"
	"sync/atomic"

	"github.com/wippyai/limes-faas/egress"
	"github.com/wippyai/limes-faas/engine"
	"github.com/wippyai/limes-faas/enginepool"
	"github.com/wippyai/limes-faas/errors"
	"github.com/wippyai/limes-faas/runtime"
	"github.com/wippyai/limes-faas/wasi/preview2"
)

// minMemoryCap is the 2 MiB floor below which construction fails
// (spec §3 invariant 4, §4.4 construction step 1).
const minMemoryCap uint64 = 2 * 1024 * 1024

const wasmPageSize = 65536

// runInterface and runFunc name the guest ABI export path spec §6 fixes:
// every guest MUST export interface component:run/run with a single
// function run: func(args: string) -> string.
const (
	runInterface = "component:run/run"
	runFunc      = "run"
)

// WASIConfig is spec §3's WASI configuration, immutable after a Lambda is
// constructed.
type WASIConfig struct {
	// EgressCheckEnabled installs the Egress Policy predicate bound to
	// PermittedIP; when false, sockets may bind anywhere.
	EgressCheckEnabled bool
	// Preopens grants the stated directory/file permissions at the
	// stated guest path, one entry per preopened host directory.
	Preopens []preview2.Preopen
	// Debug inherits the host's standard streams after a call completes
	// (spec §4.4 step 3, "in debug builds").
	Debug bool
}

// Lambda is spec §4.4's sandbox object: { shared component reference,
// memory cap, permitted-egress IPv4, termination flag, WASI configuration }.
type Lambda struct {
	pool        *enginepool.Pool
	engineIdx   int
	component   []byte
	memoryCap   uint64
	permittedIP netip.Addr
	wasi        WASIConfig
	terminated  atomic.Bool
}

// New constructs a Lambda bound to the pool engine at engineIdx, running
// an already-validated component's raw bytes. Fails with
// errors.NotEnoughtMemory if memoryCap is below the 2 MiB floor.
func New(pool *enginepool.Pool, engineIdx int, component []byte, memoryCap uint64, permittedIP netip.Addr, wasi WASIConfig) (*Lambda, error) {
	if memoryCap < minMemoryCap {
		return nil, errors.NotEnoughtMemory(int(memoryCap))
	}
	return &Lambda{
		pool:        pool,
		engineIdx:   engineIdx,
		component:   component,
		memoryCap:   memoryCap,
		permittedIP: permittedIP,
		wasi:        wasi,
	}, nil
}

// Stopped reports whether Stop has already been requested.
func (l *Lambda) Stopped() bool {
	return l.terminated.Load()
}

// Stop trips the termination flag and advances the bound engine's epoch
// (spec §4.4 stop()). Returns errors.FunctionNotRunning if the flag was
// already set; this makes a second call deterministically fail.
func (l *Lambda) Stop() error {
	if !l.terminated.CompareAndSwap(false, true) {
		return errors.FunctionNotRunning()
	}
	l.pool.Slot(l.engineIdx).IncrementEpoch()
	return nil
}

// Run executes the guest's run(args) export (spec §4.4 run()).
func (l *Lambda) Run(ctx context.Context, args string) (string, error) {
	// The argument string alone has to fit in the guest's entire memory
	// budget before cabi_realloc, the guest's own heap, or anything else
	// gets a byte of it; fail fast rather than spend an instantiation on
	// a call that cannot possibly succeed.
	if uint64(len(args)) > l.memoryCap {
		return "", errors.ArgsOutOfMemory()
	}

	memPages := uint32((l.memoryCap + wasmPageSize - 1) / wasmPageSize)

	// Steps 1-2: a transient engine sharing the pool's compilation cache,
	// so the guest's machine code is reused across calls while this call
	// gets its own wazero.Runtime (our fresh "store") with its own
	// memory limiter.
	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
		MemoryLimitPages: memPages,
		CompilationCache: l.pool.Cache(),
	})
	if err != nil {
		return "", errors.WasiAsyncLinkerError(err)
	}
	defer eng.Close(ctx)

	rt := runtime.NewWithEngine(eng)

	// Step 3: fresh WASI context with the Egress Policy and preopens.
	wasiCtx := preview2.New()
	defer wasiCtx.Close()

	var policy egress.Checker = egress.AllowAll{}
	if l.wasi.EgressCheckEnabled {
		policy = egress.New(l.permittedIP)
	}
	if len(l.wasi.Preopens) > 0 {
		wasiCtx.WithPreopenEntries(l.wasi.Preopens)
	}

	if err := rt.RegisterWASIWithPolicy(wasiCtx, policy); err != nil {
		return "", errors.WasiAsyncLinkerError(err)
	}

	// Steps 4-6: fresh store, instantiate asynchronously against the linker.
	mod, err := rt.LoadComponent(ctx, l.component)
	if err != nil {
		return "", errors.InstanceBuilderError(err)
	}
	if err := mod.Compile(ctx); err != nil {
		return "", errors.InstanceBuilderError(err)
	}

	exportName, resolveErr := resolveRunExport(mod)
	if resolveErr != nil {
		return "", resolveErr
	}

	inst, err := mod.InstantiateWithAsyncify(ctx)
	if err != nil {
		return "", errors.InstanceBuilderError(err)
	}
	defer inst.Close(ctx)

	// Step 8: call asynchronously, checking the termination flag at
	// every suspension point.
	result, runErr := l.runToCompletion(ctx, inst, exportName, args)
	if runErr != nil {
		if l.terminated.Load() {
			return "", errors.ForceStop()
		}
		return "", errors.FunctionExecError(runErr)
	}

	if l.wasi.Debug {
		os.Stdout.Write(wasiCtx.Stdout())
		os.Stderr.Write(wasiCtx.Stderr())
	}

	return result, nil
}

// runToCompletion drives the asyncify step loop to completion. Unlike
// engine.Scheduler.Run's plain event loop, this checks the termination
// flag at every StepContinue yield — the substitute, in a wazero-backed
// runtime, for wasmtime's native per-instruction epoch-deadline callback
// (wazero has no equivalent; the Binaryen asyncify unwind/rewind points
// are the only suspension points this host can observe).
func (l *Lambda) runToCompletion(ctx context.Context, inst *runtime.Instance, exportName, args string) (string, error) {
	cs, err := inst.StartCall(ctx, exportName, args)
	if err != nil {
		return "", err
	}

	var yr *engine.YieldResult
	for {
		if l.terminated.Load() {
			return "", errors.ForceStop()
		}

		sr, err := cs.Step(ctx, yr)
		if err != nil {
			return "", err
		}

		switch sr.Status {
		case engine.StepDone:
			lifted, err := cs.LiftResult(ctx, sr.Results)
			if err != nil {
				return "", err
			}
			out, ok := lifted.(string)
			if !ok {
				return "", errors.FunctionRetrievError(nil)
			}
			return out, nil
		case engine.StepContinue:
			val, opErr := sr.PendingOp.Execute(ctx)
			yr = &engine.YieldResult{Value: val, Error: opErr}
		default:
			return "", errors.FunctionExecError(nil)
		}
	}
}

// resolveRunExport finds interface component:run/run's run function among
// the component's exports and returns its flattened lift name, or a
// spec §4.4-step-7 typed error describing what is missing.
func resolveRunExport(mod *runtime.Module) (string, error) {
	exact := runInterface + "#" + runFunc
	sawInterface := false

	for _, e := range mod.Exports() {
		if e.Name == exact {
			return exact, nil
		}
		if len(e.Name) >= len(runInterface) && e.Name[:len(runInterface)] == runInterface {
			sawInterface = true
		}
		if e.Name == runFunc {
			return runFunc, nil
		}
	}

	if !sawInterface {
		return "", errors.FunctionInterfaceError()
	}
	return "", errors.FunctionInterfaceRetrievError()
}
