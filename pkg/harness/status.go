package harness

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"unicode"

	pkgerrors "github.com/pkg/errors"
)

// StatusKind is the terminal classification of a test or resource.
type StatusKind string

// Test statuses.
const (
	StatusSuccess                 StatusKind = "SUCCESS"
	StatusTestFailed              StatusKind = "TEST_FAILED"
	StatusEntrypointLoadingFailed StatusKind = "CALCULATION_ENTRYPOINT_LOADING_FAILED"
	StatusGenerateInputsFailed    StatusKind = "GENERATE_INPUTS_FAILED"
	StatusEngineRunExcepted       StatusKind = "ENGINE_RUN_EXCEPTED"
	StatusTestFunctionExcepted    StatusKind = "TEST_FUNCTION_EXCEPTED"
)

// Resource statuses.
const (
	StatusFetchingBuilderFailed StatusKind = "FETCHING_BUILDER_FAILED"
	StatusBuildingCodeFailed    StatusKind = "BUILDING_CODE_FAILED"
	StatusSetupCodeFailed       StatusKind = "SETUP_AIIDA_CODE_FAILED"
)

// StatusRecord is the outcome of one test or one resource.
// Fields are declared in key order so encoded reports have sorted keys.
type StatusRecord struct {
	ExceptionClass     string         `json:"exception_class,omitempty" yaml:"exception_class,omitempty"`
	ExceptionMessage   string         `json:"exception_message,omitempty" yaml:"exception_message,omitempty"`
	ExceptionTraceback string         `json:"exception_traceback,omitempty" yaml:"exception_traceback,omitempty"`
	Payload            map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	RetCode            *int           `json:"ret_code,omitempty" yaml:"ret_code,omitempty"`
	Status             StatusKind     `json:"status" yaml:"status"`
}

// OK reports whether the record is a success.
func (r StatusRecord) OK() bool {
	return r.Status == StatusSuccess
}

// failureRecord converts err into a record of kind.
func failureRecord(kind StatusKind, err error) StatusRecord {
	return StatusRecord{
		Status:             kind,
		ExceptionClass:     ExceptionClass(err),
		ExceptionMessage:   err.Error(),
		ExceptionTraceback: traceback(err),
	}
}

type classer interface {
	Class() string
}

// tracebacker is implemented by errors that carry their own backtrace,
// such as script evaluation errors.
type tracebacker interface {
	Traceback() string
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// ExceptionClass names err for status records. The first error in the
// chain with a Class method wins; otherwise the innermost exported type
// name is used, falling back to "Error".
func ExceptionClass(err error) string {
	name := "Error"
	for e := err; e != nil; e = errors.Unwrap(e) {
		if c, ok := e.(classer); ok {
			return c.Class()
		}
		if n := exportedTypeName(e); n != "" {
			name = n
		}
	}
	return name
}

func exportedTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	n := t.Name()
	if n == "" || !unicode.IsUpper([]rune(n)[0]) {
		return ""
	}
	return n
}

// traceback renders the deepest stack carried by err, or the current
// stack when it carries none.
func traceback(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return string(p.stack)
	}

	var tb tracebacker
	if errors.As(err, &tb) {
		return tb.Traceback()
	}

	var st stackTracer
	for e := err; e != nil; e = errors.Unwrap(e) {
		if s, ok := e.(stackTracer); ok {
			st = s
		}
	}
	if st != nil {
		return fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
	}
	return fmt.Sprintf("%+v", pkgerrors.WithStack(err))
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprint(p.value)
}

func (p *panicError) Class() string { return "panic" }

// guard runs fn, converting a panic into a panicError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}
