package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/openfroyo/procci/pkg/stores"
)

type funcProcess struct {
	entrypoint string
	run        func(ctx context.Context, rc *RunContext) (Outputs, error)
}

func (p *funcProcess) Entrypoint() string { return p.entrypoint }

func (p *funcProcess) Run(ctx context.Context, rc *RunContext) (Outputs, error) {
	return p.run(ctx, rc)
}

type valueError struct{ msg string }

func (e *valueError) Error() string { return e.msg }

func setupTestEngine(t *testing.T) (*LocalEngine, *stores.SQLiteStore) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eng := NewLocalEngine(store, nil, Options{WorkRoot: t.TempDir()}, nil)
	return eng, store
}

func TestRegisterCodeRequiresComputer(t *testing.T) {
	eng, _ := setupTestEngine(t)
	ctx := context.Background()

	_, err := eng.RegisterCode(ctx, "/bin/true", "doubler", CodeMetadata{})
	if err == nil {
		t.Fatal("expected error without computer record")
	}
	if !errors.Is(err, ErrComputerNotFound) {
		t.Errorf("expected ErrComputerNotFound, got %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("expected not_found class, got %v", err)
	}
}

func TestRegisterAndLoadCode(t *testing.T) {
	eng, _ := setupTestEngine(t)
	ctx := context.Background()

	if err := eng.EnsureComputer(ctx, DefaultComputer); err != nil {
		t.Fatalf("EnsureComputer failed: %v", err)
	}
	// Idempotent.
	if err := eng.EnsureComputer(ctx, DefaultComputer); err != nil {
		t.Fatalf("second EnsureComputer failed: %v", err)
	}

	md := CodeMetadata{InputPlugin: "core:templatereplacer", Builder: "local", Description: "doubles"}
	code, err := eng.RegisterCode(ctx, "/opt/doubler", "doubler", md)
	if err != nil {
		t.Fatalf("RegisterCode failed: %v", err)
	}
	if code.ID == "" {
		t.Error("expected code id")
	}
	if code.Computer != DefaultComputer {
		t.Errorf("expected computer %q, got %q", DefaultComputer, code.Computer)
	}

	loaded, err := eng.LoadCode(ctx, "doubler")
	if err != nil {
		t.Fatalf("LoadCode failed: %v", err)
	}
	if loaded.ID != code.ID || loaded.ExecTarget != "/opt/doubler" {
		t.Errorf("loaded code mismatch: %+v", loaded)
	}
	if loaded.Metadata.Builder != "local" || loaded.InputPlugin != "core:templatereplacer" {
		t.Errorf("metadata not round-tripped: %+v", loaded.Metadata)
	}

	if _, err := eng.LoadCode(ctx, "missing"); !errors.Is(err, ErrCodeMissing) {
		t.Errorf("expected ErrCodeMissing, got %v", err)
	}
}

func TestRegisterCodeValidation(t *testing.T) {
	eng, _ := setupTestEngine(t)
	if _, err := eng.RegisterCode(context.Background(), "", "x", CodeMetadata{}); err == nil {
		t.Fatal("expected validation error for empty exec target")
	}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name      string
		run       func(ctx context.Context, rc *RunContext) (Outputs, error)
		wantErr   bool
		wantState stores.NodeState
		check     func(t *testing.T, err error)
	}{
		{
			name: "finished",
			run: func(_ context.Context, rc *RunContext) (Outputs, error) {
				v := rc.Inputs["value"].(int)
				return Outputs{"value": v * 2}, nil
			},
			wantState: stores.NodeStateFinished,
		},
		{
			name: "process error keeps cause",
			run: func(context.Context, *RunContext) (Outputs, error) {
				return nil, &valueError{msg: "boom"}
			},
			wantErr:   true,
			wantState: stores.NodeStateExcepted,
			check: func(t *testing.T, err error) {
				var ve *valueError
				if !errors.As(err, &ve) {
					t.Errorf("expected cause to be reachable, got %v", err)
				}
				if !IsExecution(err) {
					t.Errorf("expected execution class, got %v", err)
				}
			},
		},
		{
			name: "panic recovered",
			run: func(context.Context, *RunContext) (Outputs, error) {
				panic("kaboom")
			},
			wantErr:   true,
			wantState: stores.NodeStateExcepted,
			check: func(t *testing.T, err error) {
				var ee *EngineError
				if !errors.As(err, &ee) {
					t.Fatalf("expected EngineError, got %T", err)
				}
				if ee.Code != ErrCodeProcessPanicked {
					t.Errorf("expected code %s, got %s", ErrCodeProcessPanicked, ee.Code)
				}
				if _, ok := ee.Details["stack"]; !ok {
					t.Error("expected stack detail")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, store := setupTestEngine(t)
			ctx := context.Background()

			proc := &funcProcess{entrypoint: "demo:test", run: tt.run}
			handle, err := eng.Submit(ctx, proc, Inputs{"value": 3})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Submit error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}

			nodes, err := store.ListNodes(ctx, 10, 0)
			if err != nil {
				t.Fatalf("ListNodes failed: %v", err)
			}
			if len(nodes) != 1 {
				t.Fatalf("expected 1 node, got %d", len(nodes))
			}
			if nodes[0].State != tt.wantState {
				t.Errorf("expected state %s, got %s", tt.wantState, nodes[0].State)
			}

			if handle != nil {
				if handle.Outputs()["value"] != 6 {
					t.Errorf("expected output 6, got %v", handle.Outputs()["value"])
				}
				node, err := eng.GetNode(ctx, handle.ID())
				if err != nil {
					t.Fatalf("GetNode failed: %v", err)
				}
				// Outputs come back from JSON.
				if node.Outputs()["value"] != float64(6) {
					t.Errorf("expected stored output 6, got %v", node.Outputs()["value"])
				}
				if !node.IsFinishedOK() {
					t.Error("expected node finished ok")
				}
			}
		})
	}
}

func TestSubmitExitStatus(t *testing.T) {
	eng, _ := setupTestEngine(t)

	proc := &funcProcess{
		entrypoint: "demo:exit",
		run: func(_ context.Context, rc *RunContext) (Outputs, error) {
			rc.ExitStatus = 3
			return Outputs{}, nil
		},
	}
	handle, err := eng.Submit(context.Background(), proc, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if handle.ExitStatus() != 3 {
		t.Errorf("expected exit status 3, got %d", handle.ExitStatus())
	}
	if handle.State() != stores.NodeStateFinished {
		t.Errorf("expected finished, got %s", handle.State())
	}
}

func TestSubmitWorkDir(t *testing.T) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	root := t.TempDir()
	eng := NewLocalEngine(store, nil, Options{WorkRoot: root, KeepWorkDirs: true}, nil)

	var seen string
	proc := &funcProcess{
		entrypoint: "demo:files",
		run: func(_ context.Context, rc *RunContext) (Outputs, error) {
			seen = rc.WorkDir
			return nil, os.WriteFile(filepath.Join(rc.WorkDir, "out.txt"), []byte("x"), 0o644)
		},
	}
	handle, err := eng.Submit(ctx, proc, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if seen != filepath.Join(root, handle.ID()) {
		t.Errorf("unexpected work dir %s", seen)
	}
	if _, err := os.Stat(filepath.Join(seen, "out.txt")); err != nil {
		t.Errorf("expected work dir kept: %v", err)
	}
}

func TestExecutorNative(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "code.sh")
	body := "#!/bin/sh\necho \"args:$1\"\ncat > stdin.txt\necho err >&2\nexit 4\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	exec := NewExecutor(ExecutorConfig{}, nil)
	res, err := exec.Run(context.Background(), ExecRequest{
		Target:  script,
		Args:    []string{"hello"},
		Stdin:   []byte("input"),
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 4 {
		t.Errorf("expected exit code 4, got %d", res.ExitCode)
	}
	if res.Stdout != "args:hello\n" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
	data, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	if err != nil || string(data) != "input" {
		t.Errorf("stdin not delivered: %q, %v", data, err)
	}
}

func TestExecutorErrors(t *testing.T) {
	exec := NewExecutor(ExecutorConfig{}, nil)
	ctx := context.Background()

	if _, err := exec.Run(ctx, ExecRequest{}); err == nil {
		t.Error("expected error for empty target")
	}
	if _, err := exec.Run(ctx, ExecRequest{Target: "/nonexistent/procci-code"}); !IsExecution(err) {
		t.Errorf("expected execution error for missing binary, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.wasm")
	if err := os.WriteFile(bad, []byte("not wasm"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.Run(ctx, ExecRequest{Target: bad}); !IsExecution(err) {
		t.Errorf("expected execution error for invalid module, got %v", err)
	}
}

func TestExecutorWasm(t *testing.T) {
	// (module (memory (export "memory") 1) (func (export "_start")))
	module := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x13, 0x02,
		0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00,
		0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x00,
		0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "noop.wasm")
	if err := os.WriteFile(target, module, 0o644); err != nil {
		t.Fatal(err)
	}

	exec := NewExecutor(ExecutorConfig{}, nil)
	res, err := exec.Run(context.Background(), ExecRequest{Target: target, WorkDir: dir})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
}
