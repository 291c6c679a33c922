package builders

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeSingularity writes a shell script standing in for the singularity
// binary. Each invocation appends its arguments to calls.log.
func fakeSingularity(t *testing.T, body string) (bin, logFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}

	dir := t.TempDir()
	logFile = filepath.Join(dir, "calls.log")
	bin = filepath.Join(dir, "singularity")
	script := "#!/bin/sh\necho \"$@\" >> " + logFile + "\n" + body
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake singularity: %v", err)
	}
	return bin, logFile
}

func countCalls(t *testing.T, logFile string) int {
	t.Helper()
	data, err := os.ReadFile(logFile)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Count(string(data), "\n")
}

func TestSingularityHubNaming(t *testing.T) {
	tests := []struct {
		name     string
		params   map[string]any
		wantFile string
		wantURI  string
	}{
		{
			name:     "minimal",
			params:   map[string]any{"username": "giovannipizzi", "reponame": "singularity-doubler"},
			wantFile: "giovannipizzi-singularity-doubler-latest.simg",
			wantURI:  "shub://giovannipizzi/singularity-doubler",
		},
		{
			name:     "tag",
			params:   map[string]any{"username": "u", "reponame": "r", "tag": "v1"},
			wantFile: "u-r-v1.simg",
			wantURI:  "shub://u/r:v1",
		},
		{
			name: "registry tag and commit",
			params: map[string]any{
				"registry": "singularity-hub.org", "username": "u", "reponame": "r",
				"tag": "v1", "commit": "abc123",
			},
			wantFile: "singularity-hub.org-u-r-v1-abc123.simg",
			wantURI:  "shub://singularity-hub.org/u/r:v1@abc123",
		},
		{
			name:     "commit without tag",
			params:   map[string]any{"username": "u", "reponame": "r", "commit": "abc"},
			wantFile: "u-r-latest-abc.simg",
			wantURI:  "shub://u/r@abc",
		},
	}

	cache := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewSingularityHub(tt.params, Options{CacheDir: cache})
			if err != nil {
				t.Fatalf("NewSingularityHub failed: %v", err)
			}
			if got := b.ImageFilename(); got != tt.wantFile {
				t.Errorf("ImageFilename() = %q, want %q", got, tt.wantFile)
			}
			if got := b.PullURI(); got != tt.wantURI {
				t.Errorf("PullURI() = %q, want %q", got, tt.wantURI)
			}
			target, err := b.ExecTarget()
			if err != nil {
				t.Fatal(err)
			}
			if target != filepath.Join(cache, tt.wantFile) {
				t.Errorf("ExecTarget() = %q", target)
			}
		})
	}
}

func TestSingularityHubExecCommandNotImplemented(t *testing.T) {
	_, err := NewSingularityHub(map[string]any{
		"username": "u", "reponame": "r", "exec_command": "pw.x",
	}, Options{})
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented, got %v", err)
	}
}

func TestSingularityHubBuild(t *testing.T) {
	// Writes the file named by --name in the working directory.
	bin, logFile := fakeSingularity(t, "echo image > \"$3\"\n")
	cache := filepath.Join(t.TempDir(), "images")

	b, err := NewSingularityHub(map[string]any{"username": "u", "reponame": "r"},
		Options{CacheDir: cache, SingularityBin: bin})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := b.Build(ctx); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	first, _ := b.ExecTarget()

	if err := b.Build(ctx); err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	second, _ := b.ExecTarget()

	if first != second {
		t.Errorf("exec target changed between builds: %s vs %s", first, second)
	}
	if _, err := os.Stat(first); err != nil {
		t.Errorf("image missing: %v", err)
	}
	if n := countCalls(t, logFile); n != 1 {
		t.Errorf("expected 1 pull, got %d", n)
	}

	data, _ := os.ReadFile(logFile)
	if want := "pull --name u-r-latest.simg shub://u/r"; !strings.Contains(string(data), want) {
		t.Errorf("expected invocation %q, got %q", want, data)
	}
}

func TestSingularityHubBuildFailures(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, err error)
	}{
		{
			name: "pull fails",
			body: "echo 'registry unreachable' >&2\nexit 2\n",
			check: func(t *testing.T, err error) {
				var ce *CommandError
				if !errors.As(err, &ce) {
					t.Fatalf("expected CommandError, got %T", err)
				}
				if ce.ExitCode != 2 {
					t.Errorf("expected exit code 2, got %d", ce.ExitCode)
				}
				if !strings.Contains(ce.Output, "registry unreachable") {
					t.Errorf("expected output captured, got %q", ce.Output)
				}
			},
		},
		{
			name: "pull leaves an empty image",
			body: ": > \"$3\"\n",
			check: func(t *testing.T, err error) {
				var am *ArtifactMissingError
				if !errors.As(err, &am) {
					t.Fatalf("expected ArtifactMissingError, got %T", err)
				}
			},
		},
		{
			name: "pull succeeds without image",
			body: "exit 0\n",
			check: func(t *testing.T, err error) {
				var am *ArtifactMissingError
				if !errors.As(err, &am) {
					t.Fatalf("expected ArtifactMissingError, got %T", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bin, _ := fakeSingularity(t, tt.body)
			b, err := NewSingularityHub(map[string]any{"username": "u", "reponame": "r"},
				Options{CacheDir: t.TempDir(), SingularityBin: bin})
			if err != nil {
				t.Fatal(err)
			}
			err = b.Build(context.Background())
			if err == nil {
				t.Fatal("expected build error")
			}
			tt.check(t, err)
		})
	}
}

func TestSingularityHubRepullsEmptyImage(t *testing.T) {
	bin, logFile := fakeSingularity(t, "exit 1\n")
	cache := t.TempDir()
	b, err := NewSingularityHub(map[string]any{"username": "u", "reponame": "r"},
		Options{CacheDir: cache, SingularityBin: bin})
	if err != nil {
		t.Fatal(err)
	}

	// Left behind by an interrupted pull.
	if err := os.WriteFile(filepath.Join(cache, "u-r-latest.simg"), nil, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := b.Build(context.Background()); err == nil {
		t.Fatal("expected Build to reject the empty image")
	}
	if n := countCalls(t, logFile); n != 1 {
		t.Errorf("expected a fresh pull, got %d calls", n)
	}
}

func TestSingularityStatus(t *testing.T) {
	ok, _ := fakeSingularity(t, "echo 3.8.0\n")
	broken, _ := fakeSingularity(t, "exit 1\n")

	tests := []struct {
		name string
		bin  string
		want string
	}{
		{name: "version", bin: ok, want: "version 3.8.0"},
		{name: "error", bin: broken, want: "'singularity --version' returned an error"},
		{name: "missing", bin: filepath.Join(t.TempDir(), "nope"), want: "'singularity' binary not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := singularityStatus(context.Background(), Options{SingularityBin: tt.bin})
			if got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}
