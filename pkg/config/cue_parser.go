package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// CUEParser loads manifests written in CUE and validates them against the
// registry's schemas.
type CUEParser struct {
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a parser sharing the registry's CUE context.
func NewCUEParser(sr *SchemaRegistry) *CUEParser {
	if sr == nil {
		sr = NewSchemaRegistry()
	}
	return &CUEParser{schemaRegistry: sr}
}

// DecodeFile loads path, unifies it with the named schema and decodes the
// result into out.
func (cp *CUEParser) DecodeFile(ctx context.Context, path, schemaName string, out interface{}) error {
	val, err := cp.loadFile(path)
	if err != nil {
		return err
	}

	unified, err := cp.schemaRegistry.unify(schemaName, val)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := unified.Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode: %w", path, err)
	}
	return nil
}

// ParseInline compiles inline CUE content and unifies it with the named schema.
func (cp *CUEParser) ParseInline(ctx context.Context, content, schemaName string, out interface{}) error {
	val := cp.schemaRegistry.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified, err := cp.schemaRegistry.unify(schemaName, val)
	if err != nil {
		return err
	}
	return unified.Decode(out)
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, ValidationErrors{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := cp.schemaRegistry.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}
	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error(), Severity: "error"})
	}

	return validationErrors
}
