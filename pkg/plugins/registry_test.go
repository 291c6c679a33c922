package plugins

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/openfroyo/procci/pkg/engine"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default(nil)

	want := []string{"core:arithmetic.add", "core:templatereplacer", "demo:doubler"}
	if got := r.Entrypoints(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entrypoints() = %v, want %v", got, want)
	}

	for _, ep := range want {
		p, err := r.Resolve(ep)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", ep, err)
			continue
		}
		if p.Entrypoint() != ep {
			t.Errorf("Resolve(%q) returned %q", ep, p.Entrypoint())
		}
	}
}

func TestResolveErrors(t *testing.T) {
	r := Default(nil)

	tests := []string{
		"",
		"doubler",
		":doubler",
		"demo:",
		"demo:doubler:extra",
		"demo:tripler",
		"aiida.calculations:templatereplacer",
	}
	for _, ep := range tests {
		t.Run(ep, func(t *testing.T) {
			_, err := r.Resolve(ep)
			if !errors.Is(err, ErrUnknownEntrypoint) {
				t.Fatalf("Resolve(%q) = %v, want ErrUnknownEntrypoint", ep, err)
			}
			var uerr *UnknownEntrypointError
			if !errors.As(err, &uerr) || uerr.Entrypoint != ep {
				t.Errorf("error does not carry the entrypoint: %v", err)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(Doubler{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Doubler{}); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func writeExecutable(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "tripler")
	if err := os.MkdirAll(good, 0o755); err != nil {
		t.Fatal(err)
	}
	writeExecutable(t, good, "tripler.sh", "#!/bin/sh\necho $(($1 * 3))\n")
	manifest := `entrypoint: demo:tripler
executable: tripler.sh
args: ["{value}"]
output: integer
`
	if err := os.WriteFile(filepath.Join(good, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	bad := filepath.Join(dir, "broken")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	writeExecutable(t, bad, "run.sh", "#!/bin/sh\n")
	badManifest := "entrypoint: demo:broken\nexecutable: run.sh\nchecksum: " +
		"0000000000000000000000000000000000000000000000000000000000000000\n"
	if err := os.WriteFile(filepath.Join(bad, "manifest.yaml"), []byte(badManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry(nil)
	n, err := r.ScanDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ScanDirectory() error: %v", err)
	}
	if n != 1 {
		t.Errorf("loaded %d manifests, want 1", n)
	}
	if _, err := r.Resolve("demo:broken"); err == nil {
		t.Error("manifest with bad checksum was registered")
	}

	p, err := r.Resolve("demo:tripler")
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Run(context.Background(), newRunContext(t, engine.Inputs{"value": 4}))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out["value"] != int64(12) {
		t.Errorf("outputs = %v", out)
	}
}

func TestScanDirectoryMissing(t *testing.T) {
	if _, err := NewRegistry(nil).ScanDirectory(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}
