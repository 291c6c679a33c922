package suites

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/procci/pkg/engine"
)

// toStarlark converts the JSON-like Go values suites exchange with scripts.
// Map keys are inserted in sorted order so dict iteration is stable.
func toStarlark(v interface{}) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case bool:
		return starlark.Bool(v), nil
	case string:
		return starlark.String(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int32:
		return starlark.MakeInt64(int64(v)), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case float32:
		return starlark.Float(v), nil
	case float64:
		return starlark.Float(v), nil
	case []string:
		elems := make([]interface{}, len(v))
		for i, s := range v {
			elems[i] = s
		}
		return listOf(elems)
	case []interface{}:
		return listOf(v)
	case map[string]string:
		m := make(map[string]interface{}, len(v))
		for k, s := range v {
			m[k] = s
		}
		return dictOf(m)
	case engine.Inputs:
		return dictOf(v)
	case engine.Outputs:
		return dictOf(v)
	case map[string]interface{}:
		return dictOf(v)
	case *engine.Code:
		return dictOf(codeDict(v))
	}
	return nil, fmt.Errorf("cannot pass %T to a script", v)
}

func listOf(elems []interface{}) (starlark.Value, error) {
	out := make([]starlark.Value, 0, len(elems))
	for i, e := range elems {
		sv, err := toStarlark(e)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, sv)
	}
	return starlark.NewList(out), nil
}

func dictOf(m map[string]interface{}) (starlark.Value, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := starlark.NewDict(len(m))
	for _, k := range keys {
		sv, err := toStarlark(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if err := d.SetKey(starlark.String(k), sv); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// toGo converts a script result back to Go. Lists and tuples become
// []interface{}; dicts and structs become map[string]interface{}, and dict
// keys must be strings.
func toGo(v starlark.Value) (interface{}, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Float:
		return float64(v), nil
	case starlark.Int:
		n, ok := v.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s overflows int64", v)
		}
		return n, nil
	case starlark.Indexable:
		// *starlark.List and starlark.Tuple
		out := make([]interface{}, v.Len())
		for i := range out {
			gv, err := toGo(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, v.Len())
		for _, kv := range v.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", kv[0].Type())
			}
			gv, err := toGo(kv[1])
			if err != nil {
				return nil, err
			}
			out[k] = gv
		}
		return out, nil
	case *starlarkstruct.Struct:
		out := make(map[string]interface{})
		for _, name := range v.AttrNames() {
			attr, err := v.Attr(name)
			if err != nil || attr == nil {
				continue
			}
			gv, err := toGo(attr)
			if err != nil {
				return nil, err
			}
			out[name] = gv
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
}

// codeDict is how a provisioned code is seen from a script.
func codeDict(c *engine.Code) map[string]interface{} {
	return map[string]interface{}{
		"id":           c.ID,
		"label":        c.Label,
		"computer":     c.Computer,
		"exec_target":  c.ExecTarget,
		"input_plugin": c.InputPlugin,
	}
}
