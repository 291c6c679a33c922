package harness

import (
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"github.com/openfroyo/procci/pkg/engine"
)

// Generator produces the inputs of a test's process submission.
type Generator[S any] func(S) (engine.Inputs, error)

// Body checks the finished node. A return code of 0 is a pass.
type Body[S any] func(S, engine.ResultHandle) (int, error)

// Metadata is what registration attaches to a test body.
type Metadata struct {
	Priority   int
	Entrypoint string
	Generator  string
}

// Annotation carries registration metadata until it is applied to a body.
type Annotation[S any] struct {
	meta Metadata
	gen  Generator[S]
}

// Register creates an annotation. Nothing is validated or invoked here.
func Register[S any](priority int, entrypoint string, gen Generator[S]) Annotation[S] {
	return Annotation[S]{
		meta: Metadata{
			Priority:   priority,
			Entrypoint: entrypoint,
			Generator:  funcName(gen),
		},
		gen: gen,
	}
}

// WithGeneratorName overrides the generator name shown by Describe.
func (a Annotation[S]) WithGeneratorName(name string) Annotation[S] {
	a.meta.Generator = name
	return a
}

// Apply attaches the annotation to a body taking the suite instance.
func (a Annotation[S]) Apply(body Body[S]) Method[S] {
	meta := a.meta
	return Method[S]{meta: &meta, gen: a.gen, body: body}
}

// ApplyFunc attaches the annotation to a body that ignores the instance.
func (a Annotation[S]) ApplyFunc(body func(engine.ResultHandle) (int, error)) Method[S] {
	return a.Apply(func(_ S, node engine.ResultHandle) (int, error) {
		return body(node)
	})
}

// Plain wraps a body without registration metadata. Discovery skips it.
func Plain[S any](body Body[S]) Method[S] {
	return Method[S]{body: body}
}

// Method is a test body, optionally carrying registration metadata.
type Method[S any] struct {
	meta *Metadata
	gen  Generator[S]
	body Body[S]
}

// Call invokes the body unchanged.
func (m Method[S]) Call(s S, node engine.ResultHandle) (int, error) {
	return m.body(s, node)
}

// Metadata returns the registration metadata, if any.
func (m Method[S]) Metadata() (Metadata, bool) {
	if m.meta == nil {
		return Metadata{}, false
	}
	return *m.meta, true
}

// Member is a test table entry bound to a suite instance.
type Member struct {
	Name     string
	Meta     *Metadata
	Generate func() (engine.Inputs, error)
	Call     func(engine.ResultHandle) (int, error)
}

// TestTable is the per-suite-type table of test members, keyed by name.
// It is populated at package initialisation and read-only afterwards.
type TestTable[S any] struct {
	names   []string
	methods map[string]Method[S]
}

// Add registers a member. Duplicate names panic.
func (t *TestTable[S]) Add(name string, m Method[S]) *TestTable[S] {
	if t.methods == nil {
		t.methods = make(map[string]Method[S])
	}
	if _, dup := t.methods[name]; dup {
		panic(fmt.Sprintf("harness: duplicate test member %q", name))
	}
	t.names = append(t.names, name)
	t.methods[name] = m
	return t
}

// Len returns the number of members.
func (t *TestTable[S]) Len() int {
	return len(t.names)
}

// Bind returns the members bound to s, in insertion order.
func (t *TestTable[S]) Bind(s S) []Member {
	members := make([]Member, 0, len(t.names))
	for _, name := range t.names {
		m := t.methods[name]
		member := Member{
			Name: name,
			Call: func(node engine.ResultHandle) (int, error) { return m.Call(s, node) },
		}
		if meta, ok := m.Metadata(); ok {
			member.Meta = &meta
			gen := m.gen
			member.Generate = func() (engine.Inputs, error) {
				if gen == nil {
					return nil, fmt.Errorf("test %s has no input generator", name)
				}
				return gen(s)
			}
		}
		members = append(members, member)
	}
	return members
}

// funcName returns the short name of fn, e.g. "GenerateInputs" for the
// method expression (*CustomTest).GenerateInputs.
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.IsNil() {
		return "<nil>"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "<unknown>"
	}
	name := f.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
