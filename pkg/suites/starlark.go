package suites

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/procci/pkg/telemetry"
)

// DefaultTimeout bounds a single script call.
const DefaultTimeout = 30 * time.Second

// ScriptError is a failure raised while evaluating a suite script.
type ScriptError struct {
	Script   string
	Function string
	Err      error
}

func (e *ScriptError) Error() string {
	if e.Function == "" {
		return fmt.Sprintf("%s: %v", e.Script, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Script, e.Function, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Class reports script failures, fail() included, under one name.
func (e *ScriptError) Class() string { return "ScriptError" }

// Traceback returns the Starlark backtrace when the error carries one.
func (e *ScriptError) Traceback() string {
	if ee, ok := e.Err.(*starlark.EvalError); ok {
		return ee.Backtrace()
	}
	return e.Error()
}

// Script is an executed Starlark file whose globals are frozen.
type Script struct {
	path    string
	globals starlark.StringDict
	timeout time.Duration
	logger  *telemetry.Logger
}

// LoadScript executes the file at path once to collect its globals.
func LoadScript(ctx context.Context, path string, timeout time.Duration, logger *telemetry.Logger) (*Script, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	s := &Script{path: path, timeout: timeout, logger: logger}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	var globals starlark.StringDict
	err := s.withThread(ctx, "load", func(thread *starlark.Thread) error {
		var err error
		globals, err = starlark.ExecFile(thread, path, nil, predeclared)
		return err
	})
	if err != nil {
		return nil, &ScriptError{Script: path, Err: err}
	}
	s.globals = globals
	return s, nil
}

// Has reports whether the script defines a callable named fn.
func (s *Script) Has(fn string) bool {
	_, ok := s.globals[fn].(starlark.Callable)
	return ok
}

// Functions returns the names of the callables the script defines.
func (s *Script) Functions() []string {
	var names []string
	for name, v := range s.globals {
		if _, ok := v.(starlark.Callable); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Call invokes fn with args converted to Starlark and returns the result
// converted back to Go.
func (s *Script) Call(ctx context.Context, fn string, args ...interface{}) (interface{}, error) {
	callable, ok := s.globals[fn].(starlark.Callable)
	if !ok {
		return nil, &ScriptError{Script: s.path, Function: fn, Err: fmt.Errorf("function %q is not defined", fn)}
	}

	sargs := make(starlark.Tuple, 0, len(args))
	for _, a := range args {
		v, err := toStarlark(a)
		if err != nil {
			return nil, &ScriptError{Script: s.path, Function: fn, Err: err}
		}
		sargs = append(sargs, v)
	}

	var result starlark.Value
	err := s.withThread(ctx, fn, func(thread *starlark.Thread) error {
		var err error
		result, err = starlark.Call(thread, callable, sargs, nil)
		return err
	})
	if err != nil {
		return nil, &ScriptError{Script: s.path, Function: fn, Err: err}
	}

	out, err := toGo(result)
	if err != nil {
		return nil, &ScriptError{Script: s.path, Function: fn, Err: err}
	}
	return out, nil
}

// withThread runs fn on a fresh thread that is cancelled when ctx is done
// or the timeout elapses.
func (s *Script) withThread(ctx context.Context, name string, fn func(*starlark.Thread) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.WithField("script", s.path).Debug(msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(fmt.Sprintf("execution timeout after %v", s.timeout))
	})
	defer stop()

	return fn(thread)
}
