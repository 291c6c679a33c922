package harness

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Report formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidateFormat rejects report formats EncodeReport cannot write.
func ValidateFormat(format string) error {
	switch format {
	case "", FormatJSON, FormatYAML:
		return nil
	}
	return fmt.Errorf("unsupported report format %q", format)
}

// EncodeReport writes v with sorted keys: indented JSON or YAML.
func EncodeReport(w io.Writer, v any, format string) error {
	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return ValidateFormat(format)
	}
}
