package harness

import (
	"sort"
	"strings"

	"github.com/openfroyo/procci/pkg/engine"
)

// TestPrefix marks members eligible for discovery.
const TestPrefix = "test_"

// TestSpec is one planned test.
type TestSpec struct {
	Priority   int
	Name       string
	Entrypoint string
	Generator  string

	generate func() (engine.Inputs, error)
	body     func(engine.ResultHandle) (int, error)
}

// ExecutionPlan is the ordered list of tests of one suite.
type ExecutionPlan []TestSpec

// Names returns the test names in plan order.
func (p ExecutionPlan) Names() []string {
	names := make([]string, len(p))
	for i, t := range p {
		names[i] = t.Name
	}
	return names
}

// Discover builds the execution plan of s: every "test_" member carrying
// registration metadata, sorted by priority and then by name.
func Discover(s Suite) ExecutionPlan {
	plan := ExecutionPlan{}
	for _, m := range s.Tests() {
		if !strings.HasPrefix(m.Name, TestPrefix) || m.Meta == nil {
			continue
		}
		plan = append(plan, TestSpec{
			Priority:   m.Meta.Priority,
			Name:       m.Name,
			Entrypoint: m.Meta.Entrypoint,
			Generator:  m.Meta.Generator,
			generate:   m.Generate,
			body:       m.Call,
		})
	}

	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Priority != plan[j].Priority {
			return plan[i].Priority < plan[j].Priority
		}
		return plan[i].Name < plan[j].Name
	})
	return plan
}
