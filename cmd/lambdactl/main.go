// Command lambdactl is the operator console for the faas.Runtime control
// plane: register a component, init a function from it, exec it with a
// string argument, and optionally stop it mid-run. Adapted from cmd/run's
// flag layout and interactive mode, driven by faas.Runtime instead of a
// bare runtime.Runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/wippyai/limes-faas/faas"
	"github.com/wippyai/limes-faas/lambda"
)

func main() {
	var (
		wasmFile     = flag.String("wasm", "", "Path to component wasm file")
		arg          = flag.String("arg", "", "String argument passed to run(args)")
		vcpus        = flag.Int("vcpus", 1, "Engine Pool size")
		memory       = flag.Uint64("memory", 2*1024*1024*100, "Total memory budget in bytes")
		maxFunctions = flag.Int("max-functions", 100, "Maximum concurrent functions")
		egressIP     = flag.String("egress", "", "Permitted egress IPv4 for socket binds (empty disables the check)")
		stopAfter    = flag.Duration("stop-after", 0, "Force-stop the function this long after exec starts (0 disables)")
		interactive  = flag.Bool("i", false, "Interactive console")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: lambdactl -wasm <file.wasm> [-arg string] [-vcpus n] [-memory bytes] [-max-functions n]")
		fmt.Fprintln(os.Stderr, "       lambdactl -wasm <file.wasm> -i  (interactive console)")
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(*wasmFile, *vcpus, *memory, *maxFunctions); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *arg, *vcpus, *memory, *maxFunctions, *egressIP, *stopAfter); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, arg string, vcpus int, memory uint64, maxFunctions int, egressIP string, stopAfter time.Duration) error {
	ctx := context.Background()

	rt, err := faas.NewBuilder().
		WithVCPUs(vcpus).
		WithTotalMemory(memory).
		WithMaxFunctions(maxFunctions).
		Build(ctx)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close(ctx)

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	moduleID, err := rt.RegisterModule(ctx, data)
	if err != nil {
		return fmt.Errorf("register module: %w", err)
	}
	fmt.Printf("Registered module %s\n", moduleID)

	var permittedIP netip.Addr
	wasiCfg := lambda.WASIConfig{}
	if egressIP != "" {
		permittedIP, err = netip.ParseAddr(egressIP)
		if err != nil {
			return fmt.Errorf("parse egress IP: %w", err)
		}
		wasiCfg.EgressCheckEnabled = true
	}

	functionID, err := rt.InitFunction(ctx, moduleID, permittedIP, wasiCfg)
	if err != nil {
		return fmt.Errorf("init function: %w", err)
	}
	fmt.Printf("Initialized function %s\n", functionID)

	if stopAfter > 0 {
		go func() {
			time.Sleep(stopAfter)
			if err := rt.StopFunction(functionID); err != nil {
				fmt.Fprintf(os.Stderr, "stop function: %v\n", err)
			}
		}()
	}

	fmt.Printf("Executing with arg %q...\n", arg)
	result, err := rt.ExecFunction(ctx, functionID, arg)
	if err != nil {
		return fmt.Errorf("exec function: %w", err)
	}
	fmt.Printf("Result: %s\n", result)

	stats := rt.Stats()
	fmt.Printf("\nRuntime stats: %d/%d functions allocated, %d modules, %d engines\n",
		stats.AllocatedFunctions, stats.MaxFunctions, stats.ModuleCount, stats.EngineCount)

	return nil
}
