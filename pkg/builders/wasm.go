package builders

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/tetratelabs/wazero"
)

// WasmTag is the registry tag of the WebAssembly variant.
const WasmTag = "wasm"

// WasmParams are the resource parameters of the wasm variant.
// Exactly one of URL and Path is required.
type WasmParams struct {
	URL    string `yaml:"url,omitempty" validate:"required_without=Path,excluded_with=Path"`
	Path   string `yaml:"path,omitempty" validate:"required_without=URL"`
	SHA256 string `yaml:"sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Name   string `yaml:"name,omitempty" validate:"omitempty,excludesall=/"`
}

// Wasm fetches a WebAssembly module into the cache directory.
type Wasm struct {
	params WasmParams
	opts   Options
}

// WasmVariant returns the registry entry for wasm.
func WasmVariant() Variant {
	return Variant{
		Tag: WasmTag,
		New: func(params map[string]any, opts Options) (Builder, error) {
			return NewWasm(params, opts)
		},
		Status: func(context.Context, Options) string {
			return fmt.Sprintf("wazero runtime (%s/%s), WASI preview 1", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// NewWasm creates a wasm builder.
func NewWasm(params map[string]any, opts Options) (*Wasm, error) {
	var p WasmParams
	if err := decodeParams(WasmTag, params, &p); err != nil {
		return nil, err
	}
	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, &ParamError{Builder: WasmTag, Err: fmt.Errorf("url must be an absolute http(s) URL: %q", p.URL)}
		}
	}
	p.SHA256 = strings.ToLower(p.SHA256)
	if p.Name == "" {
		source := p.Path
		if p.URL != "" {
			source = path.Base(p.URL)
		}
		p.Name = strings.TrimSuffix(filepath.Base(source), ".wasm")
	}
	return &Wasm{params: p, opts: opts.withDefaults()}, nil
}

// ModuleFilename returns <name>-<sha256 prefix>.wasm. Without a pinned
// checksum the prefix is derived from the source location.
func (w *Wasm) ModuleFilename() string {
	digest := w.params.SHA256
	if digest == "" {
		sum := sha256.Sum256([]byte(w.params.URL + w.params.Path))
		digest = hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("%s-%s.wasm", w.params.Name, digest[:12])
}

// Build fetches and verifies the module unless a matching copy is cached.
func (w *Wasm) Build(ctx context.Context) error {
	target, err := w.opts.cachePath(w.ModuleFilename())
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	logger := w.opts.Logger.WithFields(map[string]interface{}{
		"builder": WasmTag,
		"module":  target,
	})

	if fileExists(target) {
		if err := w.verify(target); err == nil {
			logger.Debug("Module already cached, skipping fetch")
			return nil
		}
		logger.Warn("Cached module failed verification, fetching again")
	}

	if err := os.MkdirAll(w.opts.CacheDir, 0o755); err != nil {
		return pkgerrors.Wrap(err, "failed to create cache directory")
	}

	tmp, err := os.CreateTemp(w.opts.CacheDir, ".fetch-*.wasm")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name())

	if err := w.fetch(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.WithStack(err)
	}

	if err := w.verify(tmp.Name()); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return pkgerrors.Wrap(err, "failed to move module into cache")
	}

	if err := assertRegularFile(target); err != nil {
		return pkgerrors.WithStack(err)
	}
	logger.Info("Fetched wasm module")
	return nil
}

func (w *Wasm) fetch(ctx context.Context, dst io.Writer) error {
	if w.params.Path != "" {
		src, err := os.Open(w.params.Path)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to open module")
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return pkgerrors.Wrap(err, "failed to copy module")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.params.URL, nil)
	if err != nil {
		return pkgerrors.WithStack(err)
	}
	resp, err := w.opts.HTTPClient.Do(req)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to fetch %s", w.params.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pkgerrors.Errorf("failed to fetch %s: %s", w.params.URL, resp.Status)
	}
	_, err = io.Copy(dst, resp.Body)
	return pkgerrors.Wrap(err, "failed to download module")
}

// verify checks the pinned checksum and that the file compiles.
func (w *Wasm) verify(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	if w.params.SHA256 != "" {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != w.params.SHA256 {
			return pkgerrors.WithStack(&ChecksumError{Expected: w.params.SHA256, Actual: got})
		}
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	if _, err := r.CompileModule(ctx, data); err != nil {
		return pkgerrors.Wrap(err, "module does not compile")
	}
	return nil
}

// ExecTarget returns the absolute path of the cached module.
func (w *Wasm) ExecTarget() (string, error) {
	return w.opts.cachePath(w.ModuleFilename())
}

// ChecksumError reports a module whose digest does not match the pinned one.
type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}
