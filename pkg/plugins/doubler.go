package plugins

import (
	"context"

	"github.com/openfroyo/procci/pkg/engine"
)

// Doubler doubles inputs.value without running a code.
type Doubler struct{}

// Entrypoint implements engine.Process.
func (Doubler) Entrypoint() string { return "demo:doubler" }

// Run implements engine.Process.
func (Doubler) Run(_ context.Context, rc *engine.RunContext) (engine.Outputs, error) {
	v, err := intInput(rc.Inputs, "value")
	if err != nil {
		return nil, err
	}
	return engine.Outputs{"value": 2 * v}, nil
}
