// Package engine is the local execution engine that harness tests run
// processes against.
//
// # Overview
//
// The engine keeps three kinds of records in a stores.Store:
//
//   - Computer: an execution host. Codes can only be registered against a
//     computer that already exists; `procci run` seeds "localhost".
//   - Code: an executable registered under a label, produced by a resource
//     builder. The exec target is either a native executable (including
//     singularity images) or a WebAssembly module.
//   - Node: one process submission with its inputs, outputs and exit status.
//
// # Processes
//
// A Process is resolved from an entrypoint string by a loader (see
// pkg/plugins). Submit persists a node, runs the process in a scratch work
// directory and returns a ResultHandle:
//
//	node, err := eng.Submit(ctx, process, engine.Inputs{"value": 3})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(node.Outputs()["value"])
//
// A process error marks the node excepted and is returned wrapped in an
// EngineError, so callers keep access to the original cause via errors.As.
//
// # Executor
//
// Processes that run codes use the Executor. Native targets run through
// os/exec; targets ending in .wasm run under wazero with WASI, the work
// directory mounted as the guest root.
package engine
