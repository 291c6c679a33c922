package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openfroyo/procci/pkg/stores"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// DefaultComputer is the computer record codes are registered against when
// none is configured.
const DefaultComputer = "localhost"

// Options configures a LocalEngine.
type Options struct {
	// WorkRoot is the parent of per-node scratch directories.
	WorkRoot string

	// Computer is the computer record codes are registered against.
	Computer string

	// KeepWorkDirs leaves scratch directories in place after a node completes.
	KeepWorkDirs bool
}

// LocalEngine runs processes in-process and records them in a store.
type LocalEngine struct {
	store    stores.Store
	executor *Executor
	opts     Options
	logger   *telemetry.Logger
}

// NewLocalEngine creates an engine backed by store.
func NewLocalEngine(store stores.Store, executor *Executor, opts Options, logger *telemetry.Logger) *LocalEngine {
	if opts.Computer == "" {
		opts.Computer = DefaultComputer
	}
	if opts.WorkRoot == "" {
		opts.WorkRoot = filepath.Join(os.TempDir(), "procci-work")
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if executor == nil {
		executor = NewExecutor(ExecutorConfig{}, logger)
	}
	return &LocalEngine{
		store:    store,
		executor: executor,
		opts:     opts,
		logger:   logger.NewComponentLogger("engine"),
	}
}

// Computer returns the name of the computer codes are registered against.
func (e *LocalEngine) Computer() string {
	return e.opts.Computer
}

// EnsureComputer creates or refreshes the computer record name.
func (e *LocalEngine) EnsureComputer(ctx context.Context, name string) error {
	hostname, _ := os.Hostname()
	computer := &stores.Computer{
		Name:        name,
		Hostname:    hostname,
		Transport:   "local",
		WorkDir:     e.opts.WorkRoot,
		Description: "local execution host",
		CreatedAt:   time.Now(),
	}
	if err := e.store.UpsertComputer(ctx, computer); err != nil {
		return NewStorageError("failed to store computer", err).WithResource(name).WithOperation("ensure_computer")
	}
	return nil
}

// RegisterCode registers execTarget under label on the engine's computer.
func (e *LocalEngine) RegisterCode(ctx context.Context, execTarget, label string, md CodeMetadata) (*Code, error) {
	if execTarget == "" {
		return nil, NewValidationError("exec target is required", nil).WithResource(label)
	}

	if _, err := e.store.GetComputer(ctx, e.opts.Computer); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError(
				fmt.Sprintf("computer %q must exist before codes can be registered", e.opts.Computer),
				ErrComputerNotFound,
			).WithResource(label).WithOperation("register_code")
		}
		return nil, NewStorageError("failed to load computer", err).WithResource(label)
	}

	raw, err := json.Marshal(md)
	if err != nil {
		return nil, NewValidationError("code metadata is not serializable", err).WithResource(label)
	}

	code := &Code{
		ID:          uuid.New().String(),
		Label:       label,
		Computer:    e.opts.Computer,
		ExecTarget:  execTarget,
		InputPlugin: md.InputPlugin,
		Metadata:    md,
	}

	if err := e.store.CreateCode(ctx, &stores.Code{
		ID:          code.ID,
		Label:       code.Label,
		Computer:    code.Computer,
		ExecTarget:  code.ExecTarget,
		InputPlugin: code.InputPlugin,
		Builder:     md.Builder,
		Metadata:    string(raw),
		CreatedAt:   time.Now(),
	}); err != nil {
		return nil, NewStorageError("failed to store code", err).WithResource(label).WithOperation("register_code")
	}

	e.logger.WithFields(map[string]interface{}{
		"code_id":     code.ID,
		"label":       label,
		"exec_target": execTarget,
	}).Info("Registered code")

	return code, nil
}

// LoadCode returns the newest code registered under label.
func (e *LocalEngine) LoadCode(ctx context.Context, label string) (*Code, error) {
	rec, err := e.store.GetCodeByLabel(ctx, label, e.opts.Computer)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError("code not registered", ErrCodeMissing).WithResource(label)
		}
		return nil, NewStorageError("failed to load code", err).WithResource(label)
	}
	return codeFromRecord(rec)
}

func codeFromRecord(rec *stores.Code) (*Code, error) {
	code := &Code{
		ID:          rec.ID,
		Label:       rec.Label,
		Computer:    rec.Computer,
		ExecTarget:  rec.ExecTarget,
		InputPlugin: rec.InputPlugin,
	}
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &code.Metadata); err != nil {
			return nil, NewStorageError("corrupt code metadata", err).WithResource(rec.Label)
		}
	}
	return code, nil
}

// Submit runs process to completion with inputs and returns its node.
// A process error or panic marks the node excepted and is returned.
func (e *LocalEngine) Submit(ctx context.Context, process Process, inputs Inputs) (ResultHandle, error) {
	if process == nil {
		return nil, NewValidationError("process is required", nil)
	}
	entrypoint := process.Entrypoint()

	rawInputs, err := json.Marshal(inputs)
	if err != nil {
		return nil, NewValidationError("inputs are not serializable", err).WithResource(entrypoint)
	}

	nodeID := uuid.New().String()
	if err := e.store.CreateNode(ctx, &stores.Node{
		ID:         nodeID,
		Entrypoint: entrypoint,
		State:      stores.NodeStateRunning,
		Inputs:     string(rawInputs),
		CreatedAt:  time.Now(),
	}); err != nil {
		return nil, NewStorageError("failed to create node", err).WithResource(entrypoint)
	}

	workDir := filepath.Join(e.opts.WorkRoot, nodeID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, e.except(ctx, nodeID, entrypoint, NewExecutionError("failed to create work dir", err))
	}
	if !e.opts.KeepWorkDirs {
		defer os.RemoveAll(workDir)
	}

	logger := e.logger.WithFields(map[string]interface{}{
		"node_id":    nodeID,
		"entrypoint": entrypoint,
	})
	logger.Debug("Submitting process")

	op := telemetry.StartOperation(ctx, "engine.submit",
		telemetry.AttrEntrypoint.String(entrypoint),
		telemetry.AttrNodeID.String(nodeID),
	)

	rc := &RunContext{
		NodeID:   nodeID,
		Inputs:   inputs,
		WorkDir:  workDir,
		Executor: e.executor,
		Logger:   logger,
	}

	outputs, runErr := runProcess(op.Ctx, process, rc)
	op.End(runErr)
	if runErr != nil {
		logger.WithError(runErr).Warn("Process excepted")
		return nil, e.except(ctx, nodeID, entrypoint, runErr)
	}

	rawOutputs, err := json.Marshal(outputs)
	if err != nil {
		return nil, e.except(ctx, nodeID, entrypoint, NewValidationError("outputs are not serializable", err))
	}
	out := string(rawOutputs)
	exit := rc.ExitStatus
	if err := e.store.CompleteNode(ctx, nodeID, stores.NodeStateFinished, &out, &exit, nil); err != nil {
		return nil, NewStorageError("failed to complete node", err).WithResource(nodeID)
	}

	telemetry.MetricsFromContext(ctx).RecordSubmission(entrypoint, string(stores.NodeStateFinished))
	logger.WithField("exit_status", exit).Debug("Process finished")

	return &Node{
		id:         nodeID,
		entrypoint: entrypoint,
		state:      stores.NodeStateFinished,
		outputs:    outputs,
		exitStatus: exit,
	}, nil
}

// except records the node as excepted and returns the error wrapped as an
// execution EngineError, preserving the original cause.
func (e *LocalEngine) except(ctx context.Context, nodeID, entrypoint string, cause error) error {
	msg := cause.Error()
	if err := e.store.CompleteNode(ctx, nodeID, stores.NodeStateExcepted, nil, nil, &msg); err != nil {
		e.logger.WithError(err).WithField("node_id", nodeID).Error("Failed to record excepted node")
	}
	telemetry.MetricsFromContext(ctx).RecordSubmission(entrypoint, string(stores.NodeStateExcepted))

	var ee *EngineError
	if errors.As(cause, &ee) && ee.Resource == "" {
		return ee.WithResource(nodeID)
	} else if ee != nil {
		return ee
	}
	return NewExecutionError("process excepted", cause).WithResource(nodeID).WithOperation("submit")
}

func runProcess(ctx context.Context, process Process, rc *RunContext) (outputs Outputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewExecutionError("process panicked", errors.Errorf("%v", r)).
				WithCode(ErrCodeProcessPanicked).
				WithDetail("stack", string(debug.Stack()))
		}
	}()
	return process.Run(ctx, rc)
}

// GetNode loads a node record by id.
func (e *LocalEngine) GetNode(ctx context.Context, id string) (*Node, error) {
	rec, err := e.store.GetNode(ctx, id)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError("node not found", err).WithResource(id)
		}
		return nil, NewStorageError("failed to load node", err).WithResource(id)
	}

	node := &Node{id: rec.ID, entrypoint: rec.Entrypoint, state: rec.State}
	if rec.Outputs != nil {
		if err := json.Unmarshal([]byte(*rec.Outputs), &node.outputs); err != nil {
			return nil, NewStorageError("corrupt node outputs", err).WithResource(id)
		}
	}
	if rec.ExitStatus != nil {
		node.exitStatus = *rec.ExitStatus
	}
	if rec.Error != nil {
		node.failure = *rec.Error
	}
	return node, nil
}
