// Package policy admits or denies code resources with Open Policy Agent.
//
// Every resource a suite declares is evaluated against the loaded Rego
// policies before its builder is constructed. Policies live in a package
// and contribute to a "deny" set:
//
//	package procci.admission
//
//	import rego.v1
//
//	deny contains violation if {
//		input.resource.type == "sftp"
//		violation := {"message": "remote fetches are disabled", "severity": "error"}
//	}
//
// The input document has two keys. "resource" carries the resource name,
// type, parameters and input plugin. "config" carries the configured
// allowlists (allowed_builders, allowed_registries).
//
// Violations with severity "error" or "critical" deny the resource; the
// rest are logged as warnings.
//
// # Built-in Policies
//
//   - builder-allowlist: the resource type must be in allowed_builders
//     when that list is non-empty.
//   - singularity-registries: singularityhub resources must pull from a
//     registry in allowed_registries when that list is non-empty.
//   - resource-naming: resource names should be lowercase identifiers
//     (warning only).
//
// # Loading and Watching
//
// Additional policies are loaded from .rego files or JSON policy
// definitions with Engine.LoadPolicies. Loader.Watch reloads them when the
// files change.
package policy
