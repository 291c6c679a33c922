// Package ssh fetches code artifacts from remote hosts over SSH/SFTP.
package ssh

import (
	"context"
	"time"
)

// Fetcher retrieves files from a remote host.
type Fetcher interface {
	// Connect establishes the SSH connection. It is a no-op when connected.
	Connect(ctx context.Context) error

	// Close releases the connection.
	Close() error

	// Stat reports the size and mode of a remote file.
	Stat(ctx context.Context, remotePath string) (*RemoteFile, error)

	// Download copies remotePath to localPath and applies mode.
	Download(ctx context.Context, remotePath, localPath string, mode uint32) (*FetchResult, error)
}

// RemoteFile describes a remote file.
type RemoteFile struct {
	Path    string
	Size    int64
	Mode    uint32
	ModTime time.Time
}

// FetchResult represents the result of a download.
type FetchResult struct {
	// BytesTransferred is the number of bytes written locally
	BytesTransferred int64

	// Checksum is the SHA256 checksum of the downloaded file
	Checksum string

	Duration time.Duration
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "download")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
