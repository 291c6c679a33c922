package suites

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
)

const doublerManifest = `name: DoublerTest
description: doubles a value
script: doubler.star
codes:
  doubler:
    type: singularityhub
    parameters:
      username: giovannipizzi
      reponame: singularity-doubler
    input_plugin_name: core:templatereplacer
tests:
  test_1:
    priority: 400
    entrypoint: core:templatereplacer
    generate: generate_inputs
  test_2:
    entrypoint: demo:doubler
    generate: generate_value
    body: check_value
`

func TestLoadYAMLManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test_doubler.yaml", doublerManifest)

	m, err := NewManifestLoader(nil).LoadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if m.Name != "DoublerTest" {
		t.Errorf("Name = %q", m.Name)
	}
	if m.ScriptPath() != filepath.Join(dir, "doubler.star") {
		t.Errorf("ScriptPath() = %q", m.ScriptPath())
	}
	if got := m.TestNames(); !reflect.DeepEqual(got, []string{"test_1", "test_2"}) {
		t.Errorf("TestNames() = %v", got)
	}

	t1 := m.Tests["test_1"]
	if t1.Priority != 400 || t1.Body != "test_1" {
		t.Errorf("test_1 = %+v, want priority 400 and body defaulted to its name", t1)
	}
	t2 := m.Tests["test_2"]
	if t2.Priority != 0 {
		t.Errorf("test_2 priority = %d, want schema default 0", t2.Priority)
	}
	if t2.Body != "check_value" {
		t.Errorf("test_2 body = %q", t2.Body)
	}

	code := m.Codes["doubler"]
	if code.Type != "singularityhub" || code.InputPlugin != "core:templatereplacer" {
		t.Errorf("code = %+v", code)
	}
	if code.Parameters["reponame"] != "singularity-doubler" {
		t.Errorf("parameters = %v", code.Parameters)
	}
}

func TestLoadCUEManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "test_adder.cue", `
name:   "AdderTest"
script: "adder.star"
tests: test_sum: {
	priority:   10
	entrypoint: "core:arithmetic.add"
	generate:   "generate_operands"
}
`)

	m, err := NewManifestLoader(nil).LoadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if m.Name != "AdderTest" {
		t.Errorf("Name = %q", m.Name)
	}
	if decl := m.Tests["test_sum"]; decl.Priority != 10 || decl.Entrypoint != "core:arithmetic.add" {
		t.Errorf("test_sum = %+v", decl)
	}
	if len(m.Codes) != 0 {
		t.Errorf("Codes = %v, want none", m.Codes)
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "missing script",
			file:    "test_a.yaml",
			content: "name: A\ntests: {}\n",
		},
		{
			name: "malformed entrypoint",
			file: "test_b.yaml",
			content: `name: B
script: b.star
tests:
  test_x:
    entrypoint: nocolon
    generate: gen
`,
		},
		{
			name: "negative priority",
			file: "test_c.yaml",
			content: `name: C
script: c.star
tests:
  test_x:
    priority: -1
    entrypoint: demo:doubler
    generate: gen
`,
		},
		{
			name: "unknown field",
			file: "test_d.yaml",
			content: `name: D
script: d.star
tests: {}
timeout: 3
`,
		},
		{
			name:    "bad suite name",
			file:    "test_e.yaml",
			content: "name: not a name\nscript: e.star\ntests: {}\n",
		},
		{
			name:    "broken yaml",
			file:    "test_f.yaml",
			content: "name: [unclosed\n",
		},
		{
			name:    "broken cue",
			file:    "test_g.cue",
			content: "name: \"G\"\nscript: \n",
		},
		{
			name:    "unsupported extension",
			file:    "test_h.json",
			content: "{}",
		},
	}

	dir := t.TempDir()
	loader := NewManifestLoader(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			if _, err := loader.LoadFromFile(context.Background(), path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFindManifests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "test_b.yaml", "")
	writeFile(t, dir, "test_a.cue", "")
	writeFile(t, dir, "test_c.yml", "")
	writeFile(t, dir, "helper.yaml", "")
	writeFile(t, dir, "test_d.star", "")

	files, err := FindManifests(dir)
	if err != nil {
		t.Fatalf("FindManifests() error = %v", err)
	}

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	want := []string{"test_a.cue", "test_b.yaml", "test_c.yml"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("FindManifests() = %v, want %v", names, want)
	}
}
