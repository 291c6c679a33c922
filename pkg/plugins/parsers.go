package plugins

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/openfroyo/procci/pkg/engine"
)

// Parser turns the retrieved files of a finished code into outputs.
type Parser func(retrieved map[string]string, outputFile string) (engine.Outputs, error)

// Parsers maps parser names to parsers.
type Parsers map[string]Parser

// DefaultParsers returns the built-in parsers.
func DefaultParsers() Parsers {
	return Parsers{
		"templatereplacer.doubler": parseDoubler,
	}
}

// Names lists parser names in sorted order.
func (p Parsers) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseError reports output that a parser could not understand.
type ParseError struct {
	Parser string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parser %s: %v", e.Parser, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Class names the error in status records.
func (e *ParseError) Class() string { return "OutputParsingError" }

// parseDoubler reads a single integer from the output file.
func parseDoubler(retrieved map[string]string, outputFile string) (engine.Outputs, error) {
	content, ok := retrieved[outputFile]
	if !ok {
		return nil, &ParseError{Parser: "templatereplacer.doubler", Err: fmt.Errorf("output file %q not retrieved", outputFile)}
	}
	value, err := strconv.ParseInt(strings.TrimSpace(content), 10, 64)
	if err != nil {
		return nil, &ParseError{Parser: "templatereplacer.doubler", Err: err}
	}
	return engine.Outputs{
		"output_parameters": map[string]any{"value": value},
	}, nil
}
