package policy

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestAdmit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no-sftp.rego"), denySFTP)

	adm, err := NewAdmission(context.Background(), AdmissionConfig{
		AllowedBuilders:   []string{"singularityhub", "local", "sftp"},
		AllowedRegistries: []string{"singularity-hub.org"},
		Paths:             []string{dir},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAdmission() error: %v", err)
	}

	tests := []struct {
		name     string
		resource string
		builder  string
		params   map[string]any
		denied   string
	}{
		{"admitted", "doubler", "singularityhub", map[string]any{"username": "giovannipizzi", "reponame": "singularity-doubler"}, ""},
		{"nil params", "tool", "local", nil, ""},
		{"allowlist", "module", "wasm", nil, "builder-allowlist"},
		{"custom policy", "remote", "sftp", nil, "no-sftp"},
		{"registry", "doubler", "singularityhub", map[string]any{"registry": "other.org"}, "singularity-registries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := adm.Admit(context.Background(), tt.resource, tt.builder, tt.params)
			if tt.denied == "" {
				if err != nil {
					t.Fatalf("Admit() error: %v", err)
				}
				return
			}

			var denied *DeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("Admit() = %v, want DeniedError", err)
			}
			if denied.Class() != "PolicyDenied" || denied.Resource != tt.resource {
				t.Errorf("denied = %+v", denied)
			}
			if !strings.Contains(err.Error(), tt.denied) {
				t.Errorf("error %q does not name %s", err.Error(), tt.denied)
			}
		})
	}
}

func TestNewAdmissionBadPath(t *testing.T) {
	_, err := NewAdmission(context.Background(), AdmissionConfig{Paths: []string{filepath.Join(t.TempDir(), "missing")}}, zerolog.Nop())
	if err == nil {
		t.Error("expected error for missing policy path")
	}
}
