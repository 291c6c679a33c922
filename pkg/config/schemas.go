package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaSuite    = "suite"
	SchemaResource = "resource"
	SchemaTest     = "test"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		SchemaSuite:    "#Suite",
		SchemaResource: "#Resource",
		SchemaTest:     "#Test",
	} {
		if err := sr.RegisterSchema(name, builtinSuiteSchema, def); err != nil {
			panic(fmt.Sprintf("config: built-in schema %s: %v", name, err))
		}
	}
}

// RegisterSchema compiles schema and registers its definition def under name.
// An empty def registers the whole compiled value.
func (sr *SchemaRegistry) RegisterSchema(name, schema, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s does not define %s", name, def)
		}
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	_, err := sr.unify(schemaName, sr.ctx.Encode(data))
	return err
}

// Decode validates data against a named schema and decodes the unified
// value, schema defaults included, into out.
func (sr *SchemaRegistry) Decode(ctx context.Context, schemaName string, data interface{}, out interface{}) error {
	unified, err := sr.unify(schemaName, sr.ctx.Encode(data))
	if err != nil {
		return err
	}
	if err := unified.Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", schemaName, err)
	}
	return nil
}

func (sr *SchemaRegistry) unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, fmt.Errorf("validation failed: %w", convertCUEErrors(err))
	}
	return unified, nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSuiteSchema = `
#Identifier: =~"^[A-Za-z_][A-Za-z0-9_]*$"

// Suite is a scripted test suite manifest.
#Suite: {
	name:         #Identifier
	description?: string

	// script is the Starlark file holding generators, bodies and hooks,
	// relative to the manifest.
	script: string & !=""

	codes?: [string]: #Resource
	tests: [string]:  #Test
}

// Resource declares one code the suite needs.
#Resource: {
	// type is a builder registry tag.
	type:               string & !=""
	parameters?:        {...}
	input_plugin_name?: string
}

// Test declares one test of the suite.
#Test: {
	priority:   *0 | (int & >=0)
	entrypoint: =~"^[^:]+:[^:]+$"
	generate:   #Identifier

	// body defaults to the function named after the test.
	body?: #Identifier
}
`
