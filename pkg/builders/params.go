package builders

import (
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParamError reports resource parameters a variant cannot accept.
type ParamError struct {
	Builder string
	Err     error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s parameters: %v", e.Builder, e.Err)
}

func (e *ParamError) Unwrap() error { return e.Err }

// Class names the error in status records.
func (e *ParamError) Class() string { return "ParamError" }

// decodeParams decodes params into out, rejecting unknown keys, and then
// validates out's struct tags.
func decodeParams(builder string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}

	raw, err := yaml.Marshal(params)
	if err != nil {
		return &ParamError{Builder: builder, Err: err}
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return &ParamError{Builder: builder, Err: err}
	}

	if err := validate.Struct(out); err != nil {
		return &ParamError{Builder: builder, Err: err}
	}
	return nil
}
