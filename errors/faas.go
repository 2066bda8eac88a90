package errors

// PhaseFaaS covers the Runtime/Lambda orchestration layer: module
// registration, function lifecycle, and guest invocation.
const PhaseFaaS Phase = "faas"

// Kinds named directly after spec §7's error taxonomy, so that callers can
// switch on Kind instead of string-matching Detail.
const (
	KindEngineInit                  Kind = "engine_init"
	KindComponentBuild               Kind = "component_build"
	KindNotEnoughMemory               Kind = "not_enough_memory"
	KindWasiAsyncLinker               Kind = "wasi_async_linker"
	KindInstanceBuilder                Kind = "instance_builder"
	KindModuleNotRegistered            Kind = "module_not_registered"
	KindModuleAlreadyReg               Kind = "module_already_registered"
	KindComponentNotFound              Kind = "component_not_found"
	KindFunctionNotRegistered          Kind = "function_not_registered"
	KindFunctionInterface              Kind = "function_interface"
	KindFunctionInterfaceRetriev       Kind = "function_interface_retriev"
	KindFunctionRetriev                Kind = "function_retriev"
	KindMaxFunctionDeploymentReached   Kind = "max_function_deployment_reached"
	KindFunctionInit                   Kind = "function_init"
	KindFunctionExec                   Kind = "function_exec"
	KindForceStop                      Kind = "force_stop"
	KindMemoryFunction                 Kind = "memory_function"
	KindArgsOutOfMemory                Kind = "args_out_of_memory"
	KindFunctionNotRunning             Kind = "function_not_running"
	KindFunctionStop                   Kind = "function_stop"
)

// EngineInitError reports failure to construct one of the Engine Pool's
// engines (spec §4.1, §4.5 Builder.build).
func EngineInitError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindEngineInit, Detail: "initialize engine", Cause: cause}
}

// ComponentBuildError reports a guest component that failed to compile
// (spec §4.2 register_module).
func ComponentBuildError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindComponentBuild, Detail: "compile component bytes", Cause: cause}
}

// NotEnoughtMemory reports a Lambda memory cap below the 2 MiB floor
// (spec §3 invariant 4; kept the spec's original misspelling so callers
// matching on Kind string literals from the source taxonomy still work).
func NotEnoughtMemory(capBytes int) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindNotEnoughMemory, Detail: "memory cap below 2 MiB floor", Value: capBytes}
}

// WasiAsyncLinkerError reports failure to augment the linker with
// asynchronous WASI imports (spec §4.4 step 2).
func WasiAsyncLinkerError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindWasiAsyncLinker, Detail: "build async WASI linker", Cause: cause}
}

// InstanceBuilderError reports failure to instantiate a component against
// its linker (spec §4.4 step 6).
func InstanceBuilderError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindInstanceBuilder, Detail: "instantiate component", Cause: cause}
}

// ModuleNotRegistered reports a remove_module/init_function lookup miss
// (spec §4.2, §4.5).
func ModuleNotRegistered(id string) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindModuleNotRegistered, Detail: "module not registered", Value: id}
}

// ModuleAlreadyReg reports a duplicate-content registration under the
// non-dedup policy variant (spec §9 open question 1; unused by the
// normative dedup behavior this repo implements, kept for completeness).
func ModuleAlreadyReg(id string) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindModuleAlreadyReg, Detail: "module already registered", Value: id}
}

// ComponentNotFound reports init_function referencing an unknown module id
// (spec §4.5).
func ComponentNotFound(id string) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindComponentNotFound, Detail: "component not found", Value: id}
}

// FunctionNotRegistered reports exec_function/stop_function/remove_function
// on an unknown function id (spec §4.5).
func FunctionNotRegistered(id string) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionNotRegistered, Detail: "function not registered", Value: id}
}

// FunctionInterfaceError reports a guest missing the component:run/run
// interface (spec §4.4 step 7).
func FunctionInterfaceError() *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionInterface, Detail: "missing component:run/run interface"}
}

// FunctionInterfaceRetrievError reports a guest missing the run function
// within the component:run/run interface (spec §4.4 step 7).
func FunctionInterfaceRetrievError() *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionInterfaceRetriev, Detail: "missing run function export"}
}

// FunctionRetrievError reports a run export whose signature does not match
// (string) -> (string) (spec §4.4 step 7).
func FunctionRetrievError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionRetriev, Detail: "run export signature mismatch", Cause: cause}
}

// MaxFunctionDeplaymentReached reports init_function at the max_functions
// ceiling (spec §4.5; spelling kept verbatim from the source taxonomy).
func MaxFunctionDeplaymentReached(max int) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindMaxFunctionDeploymentReached, Detail: "max function deployment reached", Value: max}
}

// FunctionInitError wraps a Lambda construction failure surfaced through
// init_function (spec §4.5).
func FunctionInitError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionInit, Detail: "init function", Cause: cause}
}

// FunctionExecError wraps an exec_function failure that was not an
// operator-initiated stop (spec §4.4 step 8, §7).
func FunctionExecError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionExec, Detail: "exec function", Cause: cause}
}

// ForceStop reports a run() aborted by stop() (spec §4.4 step 8).
func ForceStop() *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindForceStop, Detail: "force stop"}
}

// MemoryFunctionError reports a guest allocation exceeding its memory cap
// (spec §8 property 7). Retained for the engine's error taxonomy; see
// DESIGN.md for why this wazero-backed runtime cannot currently surface
// it (unlike a wasmtime trap-code engine, wazero exposes no public,
// stable way to distinguish an out-of-memory trap from any other guest
// trap), mirroring errors.ModuleAlreadyReg's documented non-firing status.
func MemoryFunctionError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindMemoryFunction, Detail: "guest memory allocation failed", Cause: cause}
}

// ArgsOutOfMemory reports an argument string too large to encode into the
// guest's linear memory. Lambda.Run checks this before touching the guest
// at all: an args string longer than the entire memory cap can never be
// lowered, regardless of what else the guest allocates.
func ArgsOutOfMemory() *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindArgsOutOfMemory, Detail: "arguments exceed available guest memory"}
}

// FunctionNotRunning reports stop() called on an already-stopped Lambda
// (spec §4.4 stop(), §8 property 3).
func FunctionNotRunning() *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionNotRunning, Detail: "function not running"}
}

// FunctionStopError wraps a stop_function failure (spec §4.5).
func FunctionStopError(cause error) *Error {
	return &Error{Phase: PhaseFaaS, Kind: KindFunctionStop, Detail: "stop function", Cause: cause}
}
