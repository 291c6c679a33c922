// Package config loads the procci configuration file and validates suite
// manifests.
//
// # Configuration
//
// Load reads procci.yaml (YAML), fills in defaults, applies environment
// overrides and validates the result with struct tags:
//
//	test_dir: ./suites
//	cache_dir: /tmp/singularity-images
//	computer: localhost
//	store:
//	  path: .procci/procci.db
//	policy:
//	  enabled: true
//	  allowed_builders: [singularityhub, local]
//	telemetry:
//	  logging:
//	    level: debug
//
// The environment variables PROCCI_TEST_DIR, PROCCI_CACHE_DIR, PROCCI_STORE,
// PROCCI_PLUGIN_DIR and LOG_LEVEL take precedence over the file.
//
// # Manifest schemas
//
// SchemaRegistry holds CUE definitions for suite manifests (#Suite, #Resource,
// #Test). Manifests written in YAML are encoded into CUE and unified with the
// definition; manifests written in CUE are loaded by CUEParser and unified the
// same way. Defaults declared in the schema (such as a test priority of 0) are
// filled in when the unified value is decoded.
package config
