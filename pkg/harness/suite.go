package harness

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/procci/pkg/engine"
)

// Suite is a collection of tests for plugin process types.
type Suite interface {
	// Name identifies the suite in reports.
	Name() string

	// SuiteBase returns the suite's resource state. Embedding Base provides it.
	SuiteBase() *Base

	// Tests returns the suite's test table bound to this instance.
	Tests() []Member
}

// ResourceSetter is implemented by suites that prepare shared data after
// codes are provisioned and before the first test runs.
type ResourceSetter interface {
	SetupResources(ctx context.Context) error
}

// ContextBinder is implemented by suites whose tests need the run context.
// Test members take no context, so the runner binds it before the first
// call.
type ContextBinder interface {
	BindContext(ctx context.Context)
}

// customResourceReporter lets suites that always implement ResourceSetter
// report whether the hook does anything.
type customResourceReporter interface {
	DefinesCustomResources() bool
}

// DefinesCustomResources reports whether s has a SetupResources hook.
func DefinesCustomResources(s Suite) bool {
	if r, ok := s.(customResourceReporter); ok {
		return r.DefinesCustomResources()
	}
	_, ok := s.(ResourceSetter)
	return ok
}

// ResourceSpec declares one code resource a suite needs.
type ResourceSpec struct {
	// Type is the builder registry tag.
	Type string `yaml:"type" json:"type" validate:"required"`

	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// InputPlugin is the process type the code is meant for.
	InputPlugin string `yaml:"input_plugin_name,omitempty" json:"input_plugin_name,omitempty"`
}

// ResourceHandle is a provisioned code.
type ResourceHandle struct {
	Name       string
	Builder    string
	ExecTarget string
	Code       *engine.Code
}

// Base holds the resource state every suite embeds.
type Base struct {
	// CodeResources declares the codes the suite needs, keyed by name.
	CodeResources map[string]ResourceSpec

	// Codes is filled by the runner once provisioning finishes.
	Codes map[string]*ResourceHandle
}

// SuiteBase returns b.
func (b *Base) SuiteBase() *Base { return b }

// Code returns the engine code provisioned for name.
func (b *Base) Code(name string) (*engine.Code, error) {
	h, ok := b.Codes[name]
	if !ok || h.Code == nil {
		return nil, fmt.Errorf("code %q was not provisioned", name)
	}
	return h.Code, nil
}

// SuiteFactory creates a fresh suite instance.
type SuiteFactory func() Suite

var (
	suitesMu sync.RWMutex
	suites   = map[string]SuiteFactory{}
)

// RegisterSuite makes a Go suite discoverable. It is meant to be called
// from init and panics on duplicate names.
func RegisterSuite(name string, factory SuiteFactory) {
	suitesMu.Lock()
	defer suitesMu.Unlock()

	if factory == nil {
		panic("harness: RegisterSuite factory is nil")
	}
	if _, dup := suites[name]; dup {
		panic(fmt.Sprintf("harness: RegisterSuite called twice for %q", name))
	}
	suites[name] = factory
}

// RegisteredSuites returns the registered suite names in sorted order.
func RegisteredSuites() []string {
	suitesMu.RLock()
	defer suitesMu.RUnlock()

	names := make([]string, 0, len(suites))
	for name := range suites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSuite instantiates the registered suite name.
func NewSuite(name string) (Suite, error) {
	suitesMu.RLock()
	factory, ok := suites[name]
	suitesMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("suite %q is not registered", name)
	}
	return factory(), nil
}
