package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassValidation indicates invalid input to the engine.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound indicates a missing prerequisite record.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassExecution indicates a process or code failed while running.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassStorage indicates the persistent store failed.
	ErrorClassStorage ErrorClass = "storage"
)

// Sentinel errors wrapped by EngineError values.
var (
	ErrComputerNotFound = errors.New("computer not found")
	ErrCodeMissing      = errors.New("code not found")
)

// EngineError is the error type returned by engine operations. Class and
// Code classify it; errors.Is matches another EngineError on both.
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Code    string     `json:"code,omitempty"`
	Message string     `json:"message"`

	// Resource is the node, code or computer the error is about.
	Resource  string `json:"resource,omitempty"`
	Operation string `json:"operation,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *EngineError) Error() string {
	var ctx []string
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}

	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if len(ctx) > 0 {
		msg += " (" + strings.Join(ctx, ", ") + ")"
	}
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return msg + ": " + cause
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err, Code: ErrCodeValidation}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassNotFound, Message: message, Err: err, Code: ErrCodeNotFound}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassExecution, Message: message, Err: err, Code: ErrCodeProcessExcepted}
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassStorage, Message: message, Err: err, Code: ErrCodeInternal}
}

// WithResource, WithOperation, WithCode and WithDetail annotate e in place
// and return it for chaining.
func (e *EngineError) WithResource(id string) *EngineError {
	e.Resource = id
	return e
}

func (e *EngineError) WithOperation(op string) *EngineError {
	e.Operation = op
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func classOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsNotFound reports whether err is a not-found EngineError.
func IsNotFound(err error) bool { return classOf(err) == ErrorClassNotFound }

// IsExecution reports whether err is an execution EngineError.
func IsExecution(err error) bool { return classOf(err) == ErrorClassExecution }

// Error codes carried in EngineError.Code.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeProcessExcepted = "PROCESS_EXCEPTED"
	ErrCodeProcessPanicked = "PROCESS_PANICKED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)
