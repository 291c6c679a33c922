package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openfroyo/procci/pkg/telemetry"
)

// ExecRequest describes one invocation of a code's exec target.
type ExecRequest struct {
	Target  string
	Args    []string
	Stdin   []byte
	WorkDir string
	Env     map[string]string
}

// ExecResult is the captured outcome of an invocation.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// Timeout bounds a single invocation. Zero means no bound beyond ctx.
	Timeout time.Duration

	// MemoryLimitPages caps guest memory for WebAssembly targets (64KiB pages).
	MemoryLimitPages uint32
}

// Executor runs exec targets on the local machine.
type Executor struct {
	cfg    ExecutorConfig
	logger *telemetry.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig, logger *telemetry.Logger) *Executor {
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Executor{cfg: cfg, logger: logger.NewComponentLogger("executor")}
}

// Run executes the request. A non-zero exit status is reported in the result,
// not as an error; errors mean the target could not be started at all.
func (e *Executor) Run(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	if req.Target == "" {
		return nil, NewValidationError("exec target is required", nil)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	e.logger.WithFields(map[string]interface{}{
		"target":   req.Target,
		"args":     req.Args,
		"work_dir": req.WorkDir,
	}).Debug("Running exec target")

	if strings.HasSuffix(req.Target, ".wasm") {
		return e.runWasm(ctx, req)
	}
	return e.runNative(ctx, req)
}

func (e *Executor) runNative(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, req.Target, req.Args...)

	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(req.Env)...)
	}
	if req.Stdin != nil {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, NewExecutionError("failed to start exec target", err).WithResource(req.Target)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}

func (e *Executor) runWasm(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	wasmBytes, err := os.ReadFile(req.Target)
	if err != nil {
		return nil, NewExecutionError("failed to read wasm module", err).WithResource(req.Target)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(e.cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	defer runtime.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, NewExecutionError("failed to instantiate WASI", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, NewExecutionError("failed to compile wasm module", err).WithResource(req.Target)
	}

	var stdin io.Reader = bytes.NewReader(nil)
	if req.Stdin != nil {
		stdin = bytes.NewReader(req.Stdin)
	}
	var stdout, stderr bytes.Buffer

	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{filepath.Base(req.Target)}, req.Args...)...).
		WithStdin(stdin).
		WithStdout(&stdout).
		WithStderr(&stderr)
	if req.WorkDir != "" {
		moduleConfig = moduleConfig.WithFSConfig(wazero.NewFSConfig().WithDirMount(req.WorkDir, "/"))
	}
	for _, kv := range sortedEnv(req.Env) {
		moduleConfig = moduleConfig.WithEnv(kv[0], kv[1])
	}

	start := time.Now()
	mod, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if mod != nil {
		_ = mod.Close(ctx)
	}

	result := &ExecResult{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) {
			return nil, NewExecutionError("wasm module trapped", err).WithResource(req.Target)
		}
		result.ExitCode = int(exitErr.ExitCode())
	}

	return result, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range sortedEnv(env) {
		out = append(out, fmt.Sprintf("%s=%s", kv[0], kv[1]))
	}
	return out
}

func sortedEnv(env map[string]string) [][2]string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, env[k]})
	}
	return out
}
