// Package harness discovers, provisions and runs test suites for plugin
// process types.
//
// # Suites
//
// A suite is a Go type that embeds Base and exposes a test table:
//
//	type CustomTest struct {
//	    harness.Base
//	}
//
//	var customTests = new(harness.TestTable[*CustomTest]).
//	    Add("test_1", harness.Register(400, "demo:doubler", (*CustomTest).GenerateInputs).
//	        Apply((*CustomTest).Check))
//
//	func (s *CustomTest) Tests() []harness.Member { return customTests.Bind(s) }
//
// Register attaches priority, entrypoint and input generator metadata to a
// test body without changing how the body is called. Discover turns the
// table into an ExecutionPlan ordered by (priority, name); members whose
// name lacks the "test_" prefix or that carry no metadata are skipped.
//
// # Running
//
// Runner.Run provisions the suite's code resources through a Provisioner,
// calls the optional SetupResources hook and then drives every planned test
// through four stages: entrypoint resolution, input generation, engine
// submission and the test body. A failure at any stage is recorded as a
// StatusRecord with the matching StatusKind; one test never aborts the run.
// If any resource fails to provision the run halts before the first test.
package harness
