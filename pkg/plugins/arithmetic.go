package plugins

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/openfroyo/procci/pkg/engine"
)

// ArithmeticAdd runs a code with the operands x and y as arguments and
// reads their sum from its standard output.
type ArithmeticAdd struct{}

// Entrypoint implements engine.Process.
func (ArithmeticAdd) Entrypoint() string { return "core:arithmetic.add" }

// Run implements engine.Process.
func (ArithmeticAdd) Run(ctx context.Context, rc *engine.RunContext) (engine.Outputs, error) {
	code, err := codeInput(rc.Inputs)
	if err != nil {
		return nil, err
	}
	x, err := intInput(rc.Inputs, "x")
	if err != nil {
		return nil, err
	}
	y, err := intInput(rc.Inputs, "y")
	if err != nil {
		return nil, err
	}

	res, err := rc.Executor.Run(ctx, engine.ExecRequest{
		Target:  code.ExecTarget,
		Args:    []string{strconv.FormatInt(x, 10), strconv.FormatInt(y, 10)},
		WorkDir: rc.WorkDir,
	})
	if err != nil {
		return nil, err
	}
	rc.ExitStatus = res.ExitCode
	if res.ExitCode != 0 {
		return nil, engine.NewExecutionError(
			fmt.Sprintf("code %s exited with status %d", code.Label, res.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(res.Stderr)),
		)
	}

	sum, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return nil, &ParseError{Parser: "arithmetic.add", Err: err}
	}
	return engine.Outputs{"sum": sum}, nil
}
