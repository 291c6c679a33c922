package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openfroyo/procci/pkg/builders"
	"github.com/openfroyo/procci/pkg/engine"
	"github.com/openfroyo/procci/pkg/stores"
)

type funcProcess struct {
	entrypoint string
	run        func(ctx context.Context, rc *engine.RunContext) (engine.Outputs, error)
}

func (p *funcProcess) Entrypoint() string { return p.entrypoint }

func (p *funcProcess) Run(ctx context.Context, rc *engine.RunContext) (engine.Outputs, error) {
	return p.run(ctx, rc)
}

func doubler() *funcProcess {
	return &funcProcess{
		entrypoint: "demo:doubler",
		run: func(_ context.Context, rc *engine.RunContext) (engine.Outputs, error) {
			v, ok := rc.Inputs["value"].(int)
			if !ok {
				return nil, fmt.Errorf("value must be an int")
			}
			return engine.Outputs{"result": 2 * v}, nil
		},
	}
}

type fakeNode struct {
	id         string
	entrypoint string
	state      stores.NodeState
	outputs    engine.Outputs
	exitStatus int
}

func (n *fakeNode) ID() string              { return n.id }
func (n *fakeNode) Entrypoint() string      { return n.entrypoint }
func (n *fakeNode) State() stores.NodeState { return n.state }
func (n *fakeNode) Outputs() engine.Outputs { return n.outputs }
func (n *fakeNode) ExitStatus() int         { return n.exitStatus }

// mockEngine runs processes in-line and counts submissions.
type mockEngine struct {
	mu        sync.Mutex
	submitted []string
	err       error
}

func (m *mockEngine) Submit(ctx context.Context, process engine.Process, inputs engine.Inputs) (engine.ResultHandle, error) {
	m.mu.Lock()
	m.submitted = append(m.submitted, process.Entrypoint())
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	out, err := process.Run(ctx, &engine.RunContext{Inputs: inputs})
	if err != nil {
		return nil, engine.NewExecutionError("process excepted", err)
	}
	return &fakeNode{
		id:         fmt.Sprintf("node-%d", len(m.submitted)),
		entrypoint: process.Entrypoint(),
		state:      stores.NodeStateFinished,
		outputs:    out,
	}, nil
}

func (m *mockEngine) submissions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

type mockLoader map[string]engine.Process

func (l mockLoader) Resolve(entrypoint string) (engine.Process, error) {
	p, ok := l[entrypoint]
	if !ok {
		return nil, fmt.Errorf("unknown entrypoint %q", entrypoint)
	}
	return p, nil
}

type mockRegistrar struct {
	mu     sync.Mutex
	labels []string
	err    error
}

func (m *mockRegistrar) RegisterCode(_ context.Context, execTarget, label string, md engine.CodeMetadata) (*engine.Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.labels = append(m.labels, label)
	return &engine.Code{
		ID:          "code-" + label,
		Label:       label,
		Computer:    engine.DefaultComputer,
		ExecTarget:  execTarget,
		InputPlugin: md.InputPlugin,
	}, nil
}

type fakeBuilder struct {
	target   string
	buildErr error
	panicMsg string
}

func (b *fakeBuilder) Build(context.Context) error {
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	return b.buildErr
}

func (b *fakeBuilder) ExecTarget() (string, error) { return b.target, nil }

var errConstructor = errors.New("constructor failed")

// testRegistry has "ok", "broken" (constructor fails), "nobuild" (build
// fails) and "panics" (build panics).
func testRegistry() *builders.Registry {
	variant := func(tag string, b *fakeBuilder, err error) builders.Variant {
		return builders.Variant{
			Tag: tag,
			New: func(params map[string]any, _ builders.Options) (builders.Builder, error) {
				if err != nil {
					return nil, err
				}
				return b, nil
			},
		}
	}
	return builders.NewRegistry(builders.Options{},
		variant("ok", &fakeBuilder{target: "/opt/codes/ok"}, nil),
		variant("broken", nil, errConstructor),
		variant("nobuild", &fakeBuilder{buildErr: errors.New("pull failed")}, nil),
		variant("panics", &fakeBuilder{panicMsg: "builder exploded"}, nil),
	)
}

// sampleSuite is a suite whose table is chosen per test.
type sampleSuite struct {
	Base
	name  string
	table *TestTable[*sampleSuite]
	value int
}

func (s *sampleSuite) Name() string    { return s.name }
func (s *sampleSuite) Tests() []Member { return s.table.Bind(s) }

// setupSuite adds a SetupResources hook.
type setupSuite struct {
	*sampleSuite
	err    error
	called bool
}

func (s *setupSuite) SetupResources(context.Context) error {
	s.called = true
	s.value = 21
	return s.err
}

func generateValue(s *sampleSuite) (engine.Inputs, error) {
	return engine.Inputs{"value": s.value}, nil
}

func checkDoubled(s *sampleSuite, node engine.ResultHandle) (int, error) {
	if node.Outputs()["result"] != 2*s.value {
		return 1, nil
	}
	return 0, nil
}

func newRunner(eng Engine, loader Loader, registrar CodeRegistrar, opts ...RunnerOption) *Runner {
	p := NewProvisioner(testRegistry(), registrar)
	return NewRunner(eng, loader, p, opts...)
}
