package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	if got := sr.ListSchemas(); !reflect.DeepEqual(got, []string{"resource", "suite", "test"}) {
		t.Errorf("ListSchemas() = %v", got)
	}
	for _, name := range sr.ListSchemas() {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	if err := sr.RegisterSchema("custom", "#Custom: {field1: string, field2: int}", "#Custom"); err != nil {
		t.Fatalf("RegisterSchema() error = %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "custom", map[string]interface{}{"field1": "a", "field2": 1}); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "custom", map[string]interface{}{"field1": "a"}); err == nil {
		t.Error("incomplete data accepted")
	}

	if err := sr.RegisterSchema("broken", "#Broken: {", ""); err == nil {
		t.Error("expected a compile error")
	}
	if err := sr.RegisterSchema("nodef", "#A: string", "#B"); err == nil {
		t.Error("expected an error for a missing definition")
	}
	if err := sr.ValidateAgainstSchema(ctx, "unknown", nil); err == nil {
		t.Error("expected an error for an unknown schema")
	}
}

func TestSchemaRegistry_ValidateTest(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "valid",
			data: map[string]interface{}{"priority": 400, "entrypoint": "core:templatereplacer", "generate": "get_inputs"},
		},
		{
			name: "priority defaults",
			data: map[string]interface{}{"entrypoint": "demo:doubler", "generate": "gen"},
		},
		{
			name:    "entrypoint without group",
			data:    map[string]interface{}{"entrypoint": "doubler", "generate": "gen"},
			wantErr: true,
		},
		{
			name:    "generator is not an identifier",
			data:    map[string]interface{}{"entrypoint": "demo:doubler", "generate": "gen-inputs"},
			wantErr: true,
		},
		{
			name:    "priority is not an int",
			data:    map[string]interface{}{"priority": "high", "entrypoint": "demo:doubler", "generate": "gen"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateAgainstSchema(ctx, SchemaTest, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAgainstSchema() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type testDecl struct {
	Priority   int    `json:"priority"`
	Entrypoint string `json:"entrypoint"`
	Generate   string `json:"generate"`
}

func TestSchemaRegistry_DecodeAppliesDefaults(t *testing.T) {
	sr := NewSchemaRegistry()

	var decl testDecl
	err := sr.Decode(context.Background(), SchemaTest, map[string]interface{}{
		"entrypoint": "demo:doubler",
		"generate":   "gen",
	}, &decl)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decl.Priority != 0 || decl.Entrypoint != "demo:doubler" {
		t.Errorf("decoded = %+v", decl)
	}
}

func TestCUEParser_DecodeFile(t *testing.T) {
	dir := t.TempDir()
	parser := NewCUEParser(nil)
	ctx := context.Background()

	good := filepath.Join(dir, "test_good.cue")
	if err := os.WriteFile(good, []byte(`
priority:   7
entrypoint: "demo:doubler"
generate:   "gen"
`), 0o644); err != nil {
		t.Fatal(err)
	}

	var decl testDecl
	if err := parser.DecodeFile(ctx, good, SchemaTest, &decl); err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if decl.Priority != 7 {
		t.Errorf("Priority = %d", decl.Priority)
	}

	bad := filepath.Join(dir, "test_bad.cue")
	if err := os.WriteFile(bad, []byte("entrypoint: \"demo:doubler\"\ngenerate: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := parser.DecodeFile(ctx, bad, SchemaTest, &decl)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}

	if err := parser.DecodeFile(ctx, filepath.Join(dir, "missing.cue"), SchemaTest, &decl); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser(nil)

	var decl testDecl
	err := parser.ParseInline(context.Background(), `entrypoint: "demo:doubler", generate: "gen"`, SchemaTest, &decl)
	if err != nil {
		t.Fatalf("ParseInline() error = %v", err)
	}

	err = parser.ParseInline(context.Background(), `entrypoint: `, SchemaTest, &decl)
	if err == nil || !strings.Contains(err.Error(), "inline") {
		t.Errorf("expected a positioned syntax error, got %v", err)
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{File: "test_a.cue", Line: 3, Column: 5, Path: "tests.test_1", Message: "conflicting values"}
	if got := e.String(); got != "test_a.cue:3:5: tests.test_1: conflicting values" {
		t.Errorf("String() = %q", got)
	}
}
