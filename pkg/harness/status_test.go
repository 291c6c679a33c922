package harness

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"github.com/openfroyo/procci/pkg/engine"
)

type classedError struct{}

func (classedError) Error() string { return "classed" }
func (classedError) Class() string { return "Custom" }

type scriptedError struct{}

func (scriptedError) Error() string { return "scripted" }
func (scriptedError) Traceback() string {
	return "Traceback (most recent call last):\n  test.star:3:5: in body"
}

func TestExceptionClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unexported type", errors.New("x"), "Error"},
		{"exported pointer type", &ValueError{msg: "x"}, "ValueError"},
		{"wrapped keeps innermost", fmt.Errorf("outer: %w", &ValueError{msg: "x"}), "ValueError"},
		{"pkg/errors wrap", pkgerrors.Wrap(&ValueError{msg: "x"}, "context"), "ValueError"},
		{"class method wins", fmt.Errorf("outer: %w", classedError{}), "Custom"},
		{"engine error", engine.NewExecutionError("process excepted", &ValueError{msg: "x"}), "ValueError"},
		{"panic", &panicError{value: "boom"}, "panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExceptionClass(tt.err); got != tt.want {
				t.Errorf("ExceptionClass() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTraceback(t *testing.T) {
	err := pkgerrors.New("with stack")
	if tb := traceback(err); !strings.Contains(tb, "TestTraceback") {
		t.Errorf("traceback does not name the origin:\n%s", tb)
	}

	wrapped := fmt.Errorf("body: %w", scriptedError{})
	if tb := traceback(wrapped); !strings.HasPrefix(tb, "Traceback (most recent call last):") {
		t.Errorf("traceback ignored the carried backtrace: %q", tb)
	}

	plain := errors.New("no stack")
	if tb := traceback(plain); !strings.HasPrefix(tb, "no stack") {
		t.Errorf("traceback = %q", tb)
	}
}

func TestGuard(t *testing.T) {
	err := guard(func() error { panic("kaboom") })
	var p *panicError
	if !errors.As(err, &p) {
		t.Fatalf("guard() = %v, want panicError", err)
	}
	if err.Error() != "kaboom" {
		t.Errorf("message = %q", err.Error())
	}
	if !strings.Contains(string(p.stack), "goroutine") {
		t.Error("stack not captured")
	}

	if err := guard(func() error { return nil }); err != nil {
		t.Errorf("guard() = %v", err)
	}
}
