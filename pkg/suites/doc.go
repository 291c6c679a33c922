// Package suites loads scripted test suites and watches them for changes.
//
// A scripted suite is a manifest named test_*.yaml (or test_*.cue) next to
// a Starlark script:
//
//	name: DoublerTest
//	script: doubler.star
//	codes:
//	  doubler:
//	    type: local
//	    parameters: {path: ./bin/doubler}
//	    input_plugin_name: core:templatereplacer
//	tests:
//	  test_double:
//	    priority: 10
//	    entrypoint: demo:doubler
//	    generate: generate_value
//
// The script defines the generator and body functions the manifest names
// and, optionally, setup_resources:
//
//	def generate_value(suite):
//	    return {"value": 3}
//
//	def test_double(suite, node):
//	    if node.outputs["value"] != 6:
//	        fail("expected 6, got %d" % node.outputs["value"])
//
// A body returning None or 0 passes, a non-zero int fails the test, and
// fail() or any runtime error is reported as a ScriptError.
package suites
