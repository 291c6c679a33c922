package engine

import (
	"context"

	"github.com/openfroyo/procci/pkg/stores"
	"github.com/openfroyo/procci/pkg/telemetry"
)

// Inputs are the named inputs of a process submission.
type Inputs map[string]any

// Outputs are the named outputs a process produced.
type Outputs map[string]any

// Process is a runnable process type resolved from an entrypoint.
type Process interface {
	// Entrypoint returns the "group:name" string the process is registered under.
	Entrypoint() string

	// Run executes the process. A returned error marks the node excepted.
	Run(ctx context.Context, rc *RunContext) (Outputs, error)
}

// RunContext is handed to a running process.
type RunContext struct {
	NodeID   string
	Inputs   Inputs
	WorkDir  string
	Executor *Executor
	Logger   *telemetry.Logger

	// ExitStatus may be set by the process; it is persisted with the node.
	ExitStatus int
}

// ResultHandle is the terminal view of a submitted process.
type ResultHandle interface {
	ID() string
	Entrypoint() string
	State() stores.NodeState
	Outputs() Outputs
	ExitStatus() int
}

// Node is a finished or excepted process submission.
type Node struct {
	id         string
	entrypoint string
	state      stores.NodeState
	outputs    Outputs
	exitStatus int
	failure    string
}

// ID returns the node id.
func (n *Node) ID() string { return n.id }

// Entrypoint returns the entrypoint of the process that ran.
func (n *Node) Entrypoint() string { return n.entrypoint }

// State returns the terminal node state.
func (n *Node) State() stores.NodeState { return n.state }

// Outputs returns the process outputs. Excepted nodes have none.
func (n *Node) Outputs() Outputs { return n.outputs }

// ExitStatus returns the exit status recorded by the process.
func (n *Node) ExitStatus() int { return n.exitStatus }

// Failure returns the error message of an excepted node.
func (n *Node) Failure() string { return n.failure }

// IsFinishedOK reports whether the node finished with exit status 0.
func (n *Node) IsFinishedOK() bool {
	return n.state == stores.NodeStateFinished && n.exitStatus == 0
}

// CodeMetadata is the descriptive part of a code registration.
type CodeMetadata struct {
	InputPlugin string         `json:"input_plugin,omitempty"`
	Builder     string         `json:"builder,omitempty"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Code is an executable registered with the engine.
type Code struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	Computer    string       `json:"computer"`
	ExecTarget  string       `json:"exec_target"`
	InputPlugin string       `json:"input_plugin,omitempty"`
	Metadata    CodeMetadata `json:"metadata"`
}
