package plugins

import (
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/procci/pkg/engine"
)

// InputError reports a missing or malformed process input.
type InputError struct {
	Input  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input %q: %s", e.Input, e.Reason)
}

// Class names the error in status records.
func (e *InputError) Class() string { return "InputValidationError" }

// intInput reads an integral input. Floats are accepted when integral.
func intInput(inputs engine.Inputs, key string) (int64, error) {
	v, ok := inputs[key]
	if !ok {
		return 0, &InputError{Input: key, Reason: "required"}
	}
	n, err := toInt(v)
	if err != nil {
		return 0, &InputError{Input: key, Reason: err.Error()}
	}
	return n, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

// mapInput reads a nested mapping input. A missing input is an empty map.
func mapInput(inputs engine.Inputs, key string) (map[string]any, error) {
	v, ok := inputs[key]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case engine.Inputs:
		return m, nil
	default:
		return nil, &InputError{Input: key, Reason: fmt.Sprintf("expected a mapping, got %T", v)}
	}
}

// codeInput reads the code a process should run.
func codeInput(inputs engine.Inputs) (*engine.Code, error) {
	switch c := inputs["code"].(type) {
	case *engine.Code:
		if c == nil {
			break
		}
		return c, nil
	case engine.Code:
		return &c, nil
	case map[string]any:
		target, _ := c["exec_target"].(string)
		if target == "" {
			return nil, &InputError{Input: "code", Reason: "exec_target is required"}
		}
		label, _ := c["label"].(string)
		plugin, _ := c["input_plugin"].(string)
		return &engine.Code{Label: label, ExecTarget: target, InputPlugin: plugin}, nil
	case nil:
	default:
		return nil, &InputError{Input: "code", Reason: fmt.Sprintf("expected a code, got %T", c)}
	}
	return nil, &InputError{Input: "code", Reason: "required"}
}

// decodeInput converts a loosely typed input into out through YAML.
func decodeInput(v any, key string, out any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return &InputError{Input: key, Reason: err.Error()}
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return &InputError{Input: key, Reason: err.Error()}
	}
	return nil
}
