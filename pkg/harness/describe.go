package harness

import (
	"fmt"
	"io"
	"sort"
)

// Describe prints what running s would do: custom resource setup, the codes
// to provision and the planned tests.
func Describe(w io.Writer, s Suite) {
	if DefinesCustomResources(s) {
		fmt.Fprintln(w, "  * Test will setup custom resources")
	}

	resources := s.SuiteBase().CodeResources
	if len(resources) > 0 {
		fmt.Fprintln(w, "  * Codes to setup:")
		names := make([]string, 0, len(resources))
		for name := range resources {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "    - %s (%s)\n", name, resources[name].Type)
		}
	}

	plan := Discover(s)
	if len(plan) > 0 {
		fmt.Fprintln(w, "  * Test methods:")
		for _, t := range plan {
			fmt.Fprintf(w, "    - %s (priority %d)\n", t.Name, t.Priority)
			fmt.Fprintf(w, "      Generating inputs for entrypoint '%s' via function '%s'\n", t.Entrypoint, t.Generator)
		}
	}
}
