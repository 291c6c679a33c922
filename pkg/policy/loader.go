package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/ast"
	"github.com/rs/zerolog"
)

// reloadDebounce is the quiet period after the last change before policies
// are reloaded.
const reloadDebounce = 500 * time.Millisecond

// policyDecoders maps policy file extensions to their decoders.
var policyDecoders = map[string]func(path string, data []byte) (*Policy, error){
	".rego": decodeRego,
	".json": decodeJSON,
}

func isPolicyFile(path string) bool {
	_, ok := policyDecoders[filepath.Ext(path)]
	return ok
}

// Loader reads admission policies from .rego and .json files. Decoded
// files are cached by path until a watched change evicts them.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]*Policy

	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads the policy files and directory trees in paths. A
// missing path or a broken file named directly is an error; broken files
// found inside a directory are logged and skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}
		if !info.IsDir() {
			p, err := l.loadFromFile(path)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		files, err := policyFiles(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}
		for _, file := range files {
			p, err := l.loadFromFile(file)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", file).Msg("Skipping policy file")
				continue
			}
			policies = append(policies, *p)
		}
	}

	l.logger.Debug().
		Int("policies", len(policies)).
		Strs("paths", paths).
		Msg("Loaded admission policies")
	return policies, nil
}

// policyFiles lists the policy files below dir in lexical order.
func policyFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	decode, ok := policyDecoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("unsupported policy file %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	p, err := decode(path, data)
	if err != nil {
		return nil, err
	}

	p.Source = path
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.cache[path] = p
	l.mu.Unlock()
	return p, nil
}

// decodeRego names the policy after its file. Header comments carry
// "severity:" and "tags:" directives; other comment lines form the
// description.
func decodeRego(path string, data []byte) (*Policy, error) {
	src := string(data)
	if _, err := ast.ParseModule(path, src); err != nil {
		return nil, fmt.Errorf("invalid rego in %s: %w", path, err)
	}

	p := &Policy{
		Name:    strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:    src,
		Enabled: true,
		Tags:    []string{},
	}

	var description []string
	for _, line := range headerComments(src) {
		key, value, found := strings.Cut(line, ":")
		switch {
		case found && strings.TrimSpace(key) == "severity":
			p.Severity = Severity(strings.TrimSpace(value))
		case found && strings.TrimSpace(key) == "tags":
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					p.Tags = append(p.Tags, tag)
				}
			}
		default:
			description = append(description, line)
		}
	}
	p.Description = strings.Join(description, " ")

	if err := p.Severity.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// decodeJSON reads a full Policy document. The name is required.
func decodeJSON(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy %s: %w", path, err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("JSON policy %s has no name", path)
	}
	if _, err := ast.ParseModule(path, p.Rego); err != nil {
		return nil, fmt.Errorf("invalid rego in %s: %w", path, err)
	}
	if err := p.Severity.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

// headerComments returns the first block of non-empty comment lines, with
// the leading "#" stripped. Code before the block, such as the package
// clause, is skipped.
func headerComments(src string) []string {
	var lines []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && len(lines) > 0 {
				break
			}
			continue
		}
		if comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#")); comment != "" {
			lines = append(lines, comment)
		}
	}
	return lines
}

// Watch reloads the policies in paths whenever a policy file below them
// changes, handing the full set to reload. Files are watched through their
// directory so that editors replacing a file are noticed. Watching stops
// when ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reload func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		if err := addWatch(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Not watching policy path")
		}
	}
	l.watcher = watcher

	go l.watchLoop(ctx, watcher, paths, reload)

	l.logger.Info().Int("paths", len(paths)).Msg("Watching policy paths")
	return nil
}

// addWatch watches every directory in path's tree, or the parent of a file.
func addWatch(w *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, paths []string, reload func([]Policy) error) {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addWatch(w, event.Name); err != nil {
						l.logger.Warn().Err(err).Str("path", event.Name).Msg("Not watching new directory")
					}
					continue
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			l.forget(event.Name)
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			policies, err := l.LoadFromPaths(ctx, paths)
			if err == nil {
				err = reload(policies)
			}
			if err != nil {
				l.logger.Error().Err(err).Msg("Failed to reload policies")
				continue
			}
			l.logger.Info().Int("policies", len(policies)).Msg("Policies reloaded")

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) forget(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

// StopWatching stops a running Watch.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// ClearCache drops every cached policy.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}
