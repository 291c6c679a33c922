package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is a Fetcher holding one SSH connection and one SFTP session on
// top of it.
type Client struct {
	config *Config

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

var _ Fetcher = (*Client)(nil)

// NewClient validates config. No connection is made until Connect.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

func opError(op string, err error, temporary bool) *TransportError {
	return &TransportError{Op: op, Err: err, IsTemporary: temporary}
}

// Connect dials the host and opens the SFTP subsystem. Dialing honours
// ctx as well as the configured timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	clientConfig, err := c.config.ClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	addr := c.config.Address()
	logger := log.With().Str("address", addr).Str("user", c.config.User).Logger()
	logger.Debug().Msg("Dialing SSH host")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return opError("connect", err, true)
	}

	// The handshake itself does not watch ctx; closing the socket aborts it.
	stop := context.AfterFunc(ctx, func() { netConn.Close() })
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientConfig)
	stop()
	if err != nil {
		netConn.Close()
		if ctx.Err() != nil {
			return opError("connect", ctx.Err(), true)
		}
		return &TransportError{
			Op:          "connect",
			Err:         err,
			IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
		}
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return opError("sftp-init", fmt.Errorf("failed to start sftp subsystem: %w", err), true)
	}

	c.conn, c.sftp = conn, sftpClient
	logger.Info().Msg("SSH connection established")
	return nil
}

// Close ends the SFTP session and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	c.sftp.Close()
	err := c.conn.Close()
	c.conn, c.sftp = nil, nil
	if err != nil {
		return opError("disconnect", err, false)
	}
	return nil
}

func (c *Client) session(op string) (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp == nil {
		return nil, opError(op, fmt.Errorf("not connected"), false)
	}
	return c.sftp, nil
}

// Stat reports the size and mode of a remote file.
func (c *Client) Stat(_ context.Context, remotePath string) (*RemoteFile, error) {
	s, err := c.session("stat")
	if err != nil {
		return nil, err
	}
	info, err := s.Stat(remotePath)
	if err != nil {
		return nil, opError("stat", fmt.Errorf("failed to stat %s: %w", remotePath, err), false)
	}
	return &RemoteFile{
		Path:    remotePath,
		Size:    info.Size(),
		Mode:    uint32(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}, nil
}

// Download copies remotePath to localPath with the given mode. Data lands
// in a hidden sibling first so localPath never holds a partial file.
func (c *Client) Download(ctx context.Context, remotePath, localPath string, mode uint32) (*FetchResult, error) {
	s, err := c.session("download")
	if err != nil {
		return nil, err
	}
	start := time.Now()

	src, err := s.Open(remotePath)
	if err != nil {
		return nil, opError("download", fmt.Errorf("failed to open remote file: %w", err), true)
	}
	defer src.Close()

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, opError("download", fmt.Errorf("failed to create local directory: %w", err), false)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*")
	if err != nil {
		return nil, opError("download", fmt.Errorf("failed to create local file: %w", err), false)
	}
	defer os.Remove(tmp.Name())

	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, sum), &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil && cerr != nil {
		return nil, opError("download", cerr, false)
	}
	if err != nil {
		return nil, opError("download", fmt.Errorf("failed to copy file: %w", err), true)
	}

	if err := os.Chmod(tmp.Name(), os.FileMode(mode)); err != nil {
		return nil, opError("download", fmt.Errorf("failed to set permissions: %w", err), false)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return nil, opError("download", fmt.Errorf("failed to move file into place: %w", err), false)
	}

	res := &FetchResult{
		BytesTransferred: n,
		Checksum:         hex.EncodeToString(sum.Sum(nil)),
		Duration:         time.Since(start),
	}
	log.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", n).
		Dur("duration", res.Duration).
		Msg("Downloaded remote file")
	return res, nil
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
