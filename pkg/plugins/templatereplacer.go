package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/procci/pkg/engine"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Template configures a templatereplacer run.
type Template struct {
	CmdlineParams          []string `yaml:"cmdline_params"`
	InputFileTemplate      string   `yaml:"input_file_template"`
	InputFileName          string   `yaml:"input_file_name" validate:"omitempty,excludesall=/\\"`
	OutputFileName         string   `yaml:"output_file_name" validate:"omitempty,excludesall=/\\"`
	RetrieveTemporaryFiles []string `yaml:"retrieve_temporary_files" validate:"dive,required,excludesall=/\\"`
}

// runOptions is the subset of metadata.options a templatereplacer reads.
type runOptions struct {
	ParserName string `yaml:"parser_name"`
}

var placeholder = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {key} placeholders with parameter values. "{{" and
// "}}" produce literal braces. A placeholder without a parameter is an error.
func Render(tmpl string, params map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		switch m {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		key := m[1 : len(m)-1]
		v, ok := params[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template references unknown parameters: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// TemplateReplacer renders an input file, runs a code on it and parses
// the output file.
type TemplateReplacer struct {
	Parsers Parsers
}

// Entrypoint implements engine.Process.
func (TemplateReplacer) Entrypoint() string { return "core:templatereplacer" }

// Run implements engine.Process.
func (t TemplateReplacer) Run(ctx context.Context, rc *engine.RunContext) (engine.Outputs, error) {
	code, err := codeInput(rc.Inputs)
	if err != nil {
		return nil, err
	}
	params, err := mapInput(rc.Inputs, "parameters")
	if err != nil {
		return nil, err
	}

	var tmpl Template
	if err := decodeInput(rc.Inputs["template"], "template", &tmpl); err != nil {
		return nil, err
	}
	if err := validate.Struct(tmpl); err != nil {
		return nil, &InputError{Input: "template", Reason: err.Error()}
	}

	metadata, err := mapInput(rc.Inputs, "metadata")
	if err != nil {
		return nil, err
	}
	var opts runOptions
	if err := decodeInput(metadata["options"], "metadata.options", &opts); err != nil {
		return nil, err
	}

	var parser Parser
	if opts.ParserName != "" {
		var ok bool
		if parser, ok = t.Parsers[opts.ParserName]; !ok {
			return nil, &InputError{Input: "metadata.options.parser_name", Reason: fmt.Sprintf("unknown parser %q", opts.ParserName)}
		}
	}

	rendered, err := Render(tmpl.InputFileTemplate, params)
	if err != nil {
		return nil, &InputError{Input: "template", Reason: err.Error()}
	}

	req := engine.ExecRequest{
		Target:  code.ExecTarget,
		Args:    tmpl.CmdlineParams,
		WorkDir: rc.WorkDir,
		Stdin:   []byte(rendered),
	}
	if tmpl.InputFileName != "" {
		if err := os.WriteFile(filepath.Join(rc.WorkDir, tmpl.InputFileName), []byte(rendered), 0o644); err != nil {
			return nil, fmt.Errorf("writing input file: %w", err)
		}
	}

	res, err := rc.Executor.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	rc.ExitStatus = res.ExitCode
	if res.ExitCode != 0 {
		return nil, engine.NewExecutionError(
			fmt.Sprintf("code %s exited with status %d", code.Label, res.ExitCode),
			fmt.Errorf("%s", strings.TrimSpace(res.Stderr)),
		).WithDetail("exit_code", res.ExitCode)
	}

	retrieved := map[string]string{}
	if tmpl.OutputFileName != "" {
		retrieved[tmpl.OutputFileName] = res.Stdout
		if err := os.WriteFile(filepath.Join(rc.WorkDir, tmpl.OutputFileName), []byte(res.Stdout), 0o644); err != nil {
			return nil, fmt.Errorf("writing output file: %w", err)
		}
	}

	temporary := map[string]any{}
	names := append([]string(nil), tmpl.RetrieveTemporaryFiles...)
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(rc.WorkDir, name))
		if err != nil {
			if rc.Logger != nil {
				rc.Logger.WithField("file", name).Debug("Temporary file not produced")
			}
			continue
		}
		temporary[name] = string(data)
	}

	outputs := engine.Outputs{}
	if parser != nil {
		if outputs, err = parser(retrieved, tmpl.OutputFileName); err != nil {
			return nil, err
		}
	} else {
		outputs["retrieved"] = retrieved
	}
	outputs["retrieved_temporary_files"] = temporary
	return outputs, nil
}
