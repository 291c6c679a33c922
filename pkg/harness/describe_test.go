package harness

import (
	"bytes"
	"testing"
)

func TestDescribe(t *testing.T) {
	table := &TestTable[*sampleSuite]{}
	table.Add("test_2", Register(10, "demo:doubler", generateValue).Apply(checkDoubled))
	table.Add("test_1", Register(400, "core:arithmetic.add", generateValue).WithGeneratorName("add_inputs").Apply(checkDoubled))
	table.Add("helper", Plain(checkDoubled))

	s := &setupSuite{sampleSuite: &sampleSuite{name: "describe", table: table}}
	s.CodeResources = map[string]ResourceSpec{
		"zeta":    {Type: "local"},
		"doubler": {Type: "singularityhub"},
	}

	var buf bytes.Buffer
	Describe(&buf, s)

	want := "  * Test will setup custom resources\n" +
		"  * Codes to setup:\n" +
		"    - doubler (singularityhub)\n" +
		"    - zeta (local)\n" +
		"  * Test methods:\n" +
		"    - test_2 (priority 10)\n" +
		"      Generating inputs for entrypoint 'demo:doubler' via function 'generateValue'\n" +
		"    - test_1 (priority 400)\n" +
		"      Generating inputs for entrypoint 'core:arithmetic.add' via function 'add_inputs'\n"
	if buf.String() != want {
		t.Errorf("Describe() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestDescribeEmpty(t *testing.T) {
	var buf bytes.Buffer
	Describe(&buf, &sampleSuite{name: "empty", table: &TestTable[*sampleSuite]{}})
	if buf.Len() != 0 {
		t.Errorf("Describe() = %q, want nothing", buf.String())
	}
}
