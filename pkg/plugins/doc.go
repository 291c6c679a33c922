// Package plugins resolves entrypoint strings of the form "group:name" to
// process types the engine can run.
//
// Three process types are built in:
//
//   - demo:doubler doubles inputs.value in Go.
//   - core:templatereplacer renders an input file from a template, runs a
//     code and parses its output file.
//   - core:arithmetic.add runs a code with two operands and parses the sum.
//
// Further process types can be declared with a manifest.yaml next to an
// executable or WebAssembly module and loaded with ScanDirectory.
package plugins
