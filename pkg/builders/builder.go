// Package builders turns declarative resource specifications into runnable
// code artifacts.
//
// Each resource type tag maps to a Variant in a Registry. A Variant
// constructs a Builder from the resource parameters; Build fetches or
// produces the artifact and ExecTarget reports the path the engine should
// invoke. Builds are idempotent in effect: an artifact that is already
// present under its deterministic name is left in place.
package builders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/openfroyo/procci/pkg/telemetry"
)

// DefaultCacheDir is where fetched artifacts are stored.
const DefaultCacheDir = "/tmp/singularity-images"

// Builder produces one code artifact.
type Builder interface {
	// Build fetches or builds the artifact and asserts it exists afterwards.
	Build(ctx context.Context) error

	// ExecTarget returns the absolute path the engine invokes.
	ExecTarget() (string, error)
}

// Sentinel errors.
var (
	ErrNotImplemented = &NotImplementedError{Feature: "feature"}
	ErrUnknownBuilder = errors.New("unknown builder type")
)

// NotImplementedError is returned for parameters that are accepted by the
// schema but not supported yet.
type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s is not implemented", e.Feature)
}

// Is matches any NotImplementedError against ErrNotImplemented.
func (e *NotImplementedError) Is(target error) bool {
	_, ok := target.(*NotImplementedError)
	return ok
}

// UnknownBuilderError reports a resource type tag missing from the registry.
type UnknownBuilderError struct {
	Tag string
}

func (e *UnknownBuilderError) Error() string {
	return fmt.Sprintf("unknown builder type %q", e.Tag)
}

// Is matches ErrUnknownBuilder.
func (e *UnknownBuilderError) Is(target error) bool {
	return target == ErrUnknownBuilder
}

// ArtifactMissingError is returned when a build step finished but the
// expected artifact is not on disk.
type ArtifactMissingError struct {
	Path string
}

func (e *ArtifactMissingError) Error() string {
	return fmt.Sprintf("no artifact was built at %s", e.Path)
}

// CommandError reports a failed external command.
type CommandError struct {
	Command  []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("command %v exited with status %d: %s", e.Command, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("command %v failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Class names the error in status records.
func (e *CommandError) Class() string { return "CommandError" }

// Options carries the process-wide settings shared by all variants.
type Options struct {
	// CacheDir holds fetched artifacts. Created on first build.
	CacheDir string

	// SingularityBin is the singularity executable (default "singularity").
	SingularityBin string

	// HTTPClient fetches remote artifacts. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// DialSFTP opens a fetcher for the sftp variant. Defaults to an SSH client.
	DialSFTP SFTPDialer

	Logger *telemetry.Logger
}

func (o Options) withDefaults() Options {
	if o.CacheDir == "" {
		o.CacheDir = DefaultCacheDir
	}
	if o.SingularityBin == "" {
		o.SingularityBin = "singularity"
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.DialSFTP == nil {
		o.DialSFTP = dialSSH
	}
	if o.Logger == nil {
		o.Logger = telemetry.NopLogger()
	}
	return o
}

// cachePath returns the absolute path of name inside the cache directory.
func (o Options) cachePath(name string) (string, error) {
	return filepath.Abs(filepath.Join(o.CacheDir, name))
}

// assertRegularFile fails with ArtifactMissingError unless path is a
// non-empty regular file.
func assertRegularFile(path string) error {
	if !fileExists(path) {
		return &ArtifactMissingError{Path: path}
	}
	return nil
}

// fileExists reports whether path is a non-empty regular file. An
// interrupted download or pull leaves an empty file behind.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
