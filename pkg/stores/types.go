package stores

import (
	"context"
	"database/sql"
	"time"
)

// NodeState is the lifecycle state of a submitted process.
type NodeState string

const (
	NodeStateCreated  NodeState = "created"
	NodeStateRunning  NodeState = "running"
	NodeStateFinished NodeState = "finished"
	NodeStateExcepted NodeState = "excepted"
)

// Computer is an execution host that codes are registered against.
type Computer struct {
	Name        string    `json:"name"`
	Hostname    string    `json:"hostname"`
	Transport   string    `json:"transport"` // local, ssh
	WorkDir     string    `json:"work_dir"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Code is an executable registered with the engine under a label.
type Code struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Computer    string    `json:"computer"`
	ExecTarget  string    `json:"exec_target"`
	InputPlugin string    `json:"input_plugin"`
	Builder     string    `json:"builder"`
	Metadata    string    `json:"metadata"` // JSON blob
	CreatedAt   time.Time `json:"created_at"`
}

// Node is the persisted record of one process submission.
type Node struct {
	ID          string     `json:"id"`
	Entrypoint  string     `json:"entrypoint"`
	State       NodeState  `json:"state"`
	Inputs      string     `json:"inputs"`            // JSON blob
	Outputs     *string    `json:"outputs,omitempty"` // JSON blob
	ExitStatus  *int       `json:"exit_status,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TestRun is one execution of one suite.
type TestRun struct {
	ID          string     `json:"id"`
	Suite       string     `json:"suite"`
	Halted      bool       `json:"halted"`
	Resources   string     `json:"resources"` // JSON blob of the provisioning report
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TestResult is the terminal status of one test within a run.
type TestResult struct {
	ID                 int64   `json:"id"`
	RunID              string  `json:"run_id"`
	Test               string  `json:"test"`
	Status             string  `json:"status"`
	ExceptionClass     *string `json:"exception_class,omitempty"`
	ExceptionMessage   *string `json:"exception_message,omitempty"`
	ExceptionTraceback *string `json:"exception_traceback,omitempty"`
	RetCode            *int    `json:"ret_code,omitempty"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Computers
	UpsertComputer(ctx context.Context, computer *Computer) error
	GetComputer(ctx context.Context, name string) (*Computer, error)
	ListComputers(ctx context.Context) ([]*Computer, error)

	// Codes
	CreateCode(ctx context.Context, code *Code) error
	GetCode(ctx context.Context, id string) (*Code, error)
	GetCodeByLabel(ctx context.Context, label, computer string) (*Code, error)
	ListCodes(ctx context.Context, limit, offset int) ([]*Code, error)

	// Nodes
	CreateNode(ctx context.Context, node *Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	CompleteNode(ctx context.Context, id string, state NodeState, outputs *string, exitStatus *int, errMsg *string) error
	ListNodes(ctx context.Context, limit, offset int) ([]*Node, error)

	// Test runs
	CreateTestRun(ctx context.Context, run *TestRun) error
	CompleteTestRun(ctx context.Context, id string, halted bool, resources string) error
	GetTestRun(ctx context.Context, id string) (*TestRun, error)
	ListTestRuns(ctx context.Context, suite *string, limit, offset int) ([]*TestRun, error)
	AddTestResults(ctx context.Context, results []*TestResult) error
	ListTestResults(ctx context.Context, runID string) ([]*TestResult, error)

	HealthCheck(ctx context.Context) error
}
