// Package stores provides the SQLite persistence layer behind the local
// execution engine: computers, registered codes, process nodes, and the
// history of suite runs with their per-test results.
package stores
