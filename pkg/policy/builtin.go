package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		builderAllowlistPolicy(),
		singularityRegistriesPolicy(),
		resourceNamingPolicy(),
	}
}

// builderAllowlistPolicy restricts resource types to the configured builders.
func builderAllowlistPolicy() Policy {
	return Policy{
		Name:        "builder-allowlist",
		Description: "Resource types must be in the configured builder allowlist",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builders"},
		CreatedAt:   time.Now(),
		Rego: `package procci.admission

import rego.v1

deny contains violation if {
	count(input.config.allowed_builders) > 0
	not input.resource.type in input.config.allowed_builders
	violation := {
		"message": sprintf("builder type '%s' is not allowed", [input.resource.type]),
		"severity": "error",
	}
}`,
	}
}

// singularityRegistriesPolicy restricts where singularity images come from.
func singularityRegistriesPolicy() Policy {
	return Policy{
		Name:        "singularity-registries",
		Description: "Singularity images must come from an allowed registry",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"builders", "singularity"},
		CreatedAt:   time.Now(),
		Rego: `package procci.admission

import rego.v1

registry := object.get(object.get(input.resource, "parameters", {}), "registry", "singularity-hub.org")

deny contains violation if {
	input.resource.type == "singularityhub"
	count(input.config.allowed_registries) > 0
	not registry in input.config.allowed_registries
	violation := {
		"message": sprintf("registry '%s' is not allowed", [registry]),
		"severity": "error",
	}
}`,
	}
}

// resourceNamingPolicy warns about resource names that are awkward in
// image file names and code labels.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource names should be lowercase letters, digits, hyphens and underscores",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		Rego: `package procci.admission

import rego.v1

deny contains violation if {
	not regex.match("^[a-z0-9][a-z0-9_-]*$", input.resource.name)
	violation := {
		"message": sprintf("resource name '%s' should contain only lowercase letters, digits, hyphens and underscores", [input.resource.name]),
		"severity": "warning",
	}
}

deny contains violation if {
	count(input.resource.name) > 63
	violation := {
		"message": sprintf("resource name '%s' must not exceed 63 characters", [input.resource.name]),
		"severity": "warning",
	}
}`,
	}
}
