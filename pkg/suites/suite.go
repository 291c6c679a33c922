package suites

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/procci/pkg/engine"
	"github.com/openfroyo/procci/pkg/harness"
)

// SetupHook is the script function run after codes are provisioned.
const SetupHook = "setup_resources"

// ScriptSuite is a suite whose generators, bodies and setup hook are
// Starlark functions.
//
// Every function receives the suite as its first argument, a struct with
// the fields name, codes (code name to {id, label, computer, exec_target,
// input_plugin}) and resources (whatever setup_resources returned). Bodies
// additionally receive the node as a struct with the fields id,
// entrypoint, state, outputs and exit_status.
type ScriptSuite struct {
	harness.Base

	manifest  *Manifest
	script    *Script
	resources map[string]interface{}

	// ctx bounds script calls made from test members, which take no context.
	// It is the load context until a runner binds its own.
	ctx context.Context
}

// NewScriptSuite binds a manifest to its loaded script. Every generator
// and body the manifest names must be defined by the script.
func NewScriptSuite(ctx context.Context, m *Manifest, script *Script) (*ScriptSuite, error) {
	for _, name := range m.TestNames() {
		decl := m.Tests[name]
		for _, fn := range []string{decl.Generate, decl.Body} {
			if !script.Has(fn) {
				return nil, fmt.Errorf("suite %s: test %s: function %q is not defined in %s", m.Name, name, fn, m.Script)
			}
		}
	}

	s := &ScriptSuite{
		manifest:  m,
		script:    script,
		resources: map[string]interface{}{},
		ctx:       ctx,
	}
	s.CodeResources = make(map[string]harness.ResourceSpec, len(m.Codes))
	for name, spec := range m.Codes {
		s.CodeResources[name] = spec
	}
	return s, nil
}

// BindContext makes ctx bound every later generator and body call.
func (s *ScriptSuite) BindContext(ctx context.Context) { s.ctx = ctx }

// Name returns the manifest name.
func (s *ScriptSuite) Name() string { return s.manifest.Name }

// Manifest returns the manifest the suite was built from.
func (s *ScriptSuite) Manifest() *Manifest { return s.manifest }

// DefinesCustomResources reports whether the script has a setup hook.
func (s *ScriptSuite) DefinesCustomResources() bool {
	return s.script.Has(SetupHook)
}

// SetupResources runs the setup hook, if any. A dict result becomes the
// suite's resources; None leaves them empty.
func (s *ScriptSuite) SetupResources(ctx context.Context) error {
	if !s.DefinesCustomResources() {
		return nil
	}
	out, err := s.script.Call(ctx, SetupHook, s.value())
	if err != nil {
		return err
	}
	switch res := out.(type) {
	case nil:
	case map[string]interface{}:
		s.resources = res
	default:
		return &ScriptError{
			Script:   s.manifest.Script,
			Function: SetupHook,
			Err:      fmt.Errorf("must return a dict or None, got %T", out),
		}
	}
	return nil
}

// Tests returns one member per declared test.
func (s *ScriptSuite) Tests() []harness.Member {
	members := make([]harness.Member, 0, len(s.manifest.Tests))
	for _, name := range s.manifest.TestNames() {
		decl := s.manifest.Tests[name]
		members = append(members, harness.Member{
			Name: name,
			Meta: &harness.Metadata{
				Priority:   decl.Priority,
				Entrypoint: decl.Entrypoint,
				Generator:  decl.Generate,
			},
			Generate: func() (engine.Inputs, error) { return s.generate(decl.Generate) },
			Call:     func(node engine.ResultHandle) (int, error) { return s.body(decl.Body, node) },
		})
	}
	return members
}

func (s *ScriptSuite) generate(fn string) (engine.Inputs, error) {
	out, err := s.script.Call(s.ctx, fn, s.value())
	if err != nil {
		return nil, err
	}
	inputs, ok := out.(map[string]interface{})
	if !ok {
		return nil, &ScriptError{Script: s.manifest.Script, Function: fn, Err: fmt.Errorf("must return a dict, got %T", out)}
	}
	return engine.Inputs(inputs), nil
}

// body runs a check function. None and 0 pass.
func (s *ScriptSuite) body(fn string, node engine.ResultHandle) (int, error) {
	out, err := s.script.Call(s.ctx, fn, s.value(), nodeValue(node))
	if err != nil {
		return 0, err
	}
	switch ret := out.(type) {
	case nil:
		return 0, nil
	case int64:
		return int(ret), nil
	default:
		return 0, &ScriptError{Script: s.manifest.Script, Function: fn, Err: fmt.Errorf("must return an int or None, got %T", out)}
	}
}

// value is the suite as seen from the script.
func (s *ScriptSuite) value() starlark.Value {
	codes := make(map[string]interface{}, len(s.Codes))
	for name, h := range s.Codes {
		if h != nil && h.Code != nil {
			codes[name] = codeDict(h.Code)
		}
	}
	return s.structOf(map[string]interface{}{
		"name":      s.manifest.Name,
		"codes":     codes,
		"resources": s.resources,
	})
}

func nodeValue(node engine.ResultHandle) starlark.Value {
	outputs := map[string]interface{}(node.Outputs())
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	fields := map[string]interface{}{
		"id":          node.ID(),
		"entrypoint":  node.Entrypoint(),
		"state":       string(node.State()),
		"outputs":     outputs,
		"exit_status": node.ExitStatus(),
	}
	v, err := toStarlark(fields)
	if err != nil {
		// Outputs a script cannot represent are hidden rather than failing the body.
		fields["outputs"] = map[string]interface{}{}
		v, _ = toStarlark(fields)
	}
	return dictToStruct(v)
}

func (s *ScriptSuite) structOf(fields map[string]interface{}) starlark.Value {
	v, err := toStarlark(fields)
	if err != nil {
		panic(fmt.Sprintf("suites: converting suite value: %v", err))
	}
	return dictToStruct(v)
}

// dictToStruct turns a string-keyed dict into a struct so scripts can use
// attribute access.
func dictToStruct(v starlark.Value) starlark.Value {
	dict, ok := v.(*starlark.Dict)
	if !ok {
		return v
	}
	fields := make(starlark.StringDict, dict.Len())
	for _, item := range dict.Items() {
		if k, ok := item[0].(starlark.String); ok {
			fields[string(k)] = item[1]
		}
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields)
}
