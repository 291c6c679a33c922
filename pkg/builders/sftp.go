package builders

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	pkgerrors "github.com/pkg/errors"

	"github.com/openfroyo/procci/pkg/transports/ssh"
)

// SFTPTag is the registry tag of the sftp variant.
const SFTPTag = "sftp"

// SFTPDialer opens a connected fetcher for cfg.
type SFTPDialer func(ctx context.Context, cfg *ssh.Config) (ssh.Fetcher, error)

// SFTPParams are the resource parameters of the sftp variant.
type SFTPParams struct {
	Host       string `yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port       int    `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User       string `yaml:"user" validate:"required"`
	KeyFile    string `yaml:"key_file,omitempty" validate:"excluded_with=Password"`
	Password   string `yaml:"password,omitempty"`
	KnownHosts string `yaml:"known_hosts,omitempty"`
	RemotePath string `yaml:"remote_path" validate:"required"`

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool `yaml:"insecure_ignore_host_key,omitempty"`
}

// SFTP downloads an executable from a remote host.
type SFTP struct {
	params SFTPParams
	config *ssh.Config
	opts   Options
}

// SFTPVariant returns the registry entry for sftp.
func SFTPVariant() Variant {
	return Variant{
		Tag: SFTPTag,
		New: func(params map[string]any, opts Options) (Builder, error) {
			return NewSFTP(params, opts)
		},
		Status: sftpStatus,
	}
}

// NewSFTP creates an sftp builder.
func NewSFTP(params map[string]any, opts Options) (*SFTP, error) {
	var p SFTPParams
	if err := decodeParams(SFTPTag, params, &p); err != nil {
		return nil, err
	}

	cfg := ssh.DefaultConfig(p.Host, p.User)
	if p.Port != 0 {
		cfg.Port = p.Port
	}
	switch {
	case p.Password != "":
		cfg.AuthMethod = ssh.AuthMethodPassword
		cfg.Password = p.Password
	case p.KeyFile != "":
		cfg.AuthMethod = ssh.AuthMethodKey
		cfg.PrivateKeyPath = p.KeyFile
	default:
		cfg.AuthMethod = ssh.AuthMethodAgent
	}
	if p.KnownHosts != "" {
		cfg.KnownHostsPath = p.KnownHosts
	}
	cfg.StrictHostKeyChecking = !p.InsecureIgnoreHostKey

	return &SFTP{params: p, config: cfg, opts: opts.withDefaults()}, nil
}

// LocalFilename returns <host>-<basename of remote path>.
func (s *SFTP) LocalFilename() string {
	return fmt.Sprintf("%s-%s", s.params.Host, path.Base(s.params.RemotePath))
}

// Build downloads the remote file unless a copy of the same size is cached.
func (s *SFTP) Build(ctx context.Context) error {
	target, err := s.opts.cachePath(s.LocalFilename())
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	logger := s.opts.Logger.WithFields(map[string]interface{}{
		"builder": SFTPTag,
		"host":    s.params.Host,
		"remote":  s.params.RemotePath,
	})

	fetcher, err := s.opts.DialSFTP(ctx, s.config)
	if err != nil {
		return pkgerrors.WithStack(err)
	}
	defer fetcher.Close()

	remote, err := fetcher.Stat(ctx, s.params.RemotePath)
	if err != nil {
		return pkgerrors.WithStack(err)
	}
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() && info.Size() == remote.Size {
		logger.Debug("Executable already cached, skipping download")
		return nil
	}

	if err := os.MkdirAll(s.opts.CacheDir, 0o755); err != nil {
		return pkgerrors.Wrap(err, "failed to create cache directory")
	}
	result, err := fetcher.Download(ctx, s.params.RemotePath, target, 0o755)
	if err != nil {
		return pkgerrors.WithStack(err)
	}

	if err := assertRegularFile(target); err != nil {
		return pkgerrors.WithStack(err)
	}
	logger.WithField("checksum", result.Checksum).Info("Downloaded executable")
	return nil
}

// ExecTarget returns the absolute path of the downloaded executable.
func (s *SFTP) ExecTarget() (string, error) {
	return s.opts.cachePath(s.LocalFilename())
}

func dialSSH(ctx context.Context, cfg *ssh.Config) (ssh.Fetcher, error) {
	client, err := ssh.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func sftpStatus(context.Context, Options) string {
	agent := "not available"
	if os.Getenv("SSH_AUTH_SOCK") != "" {
		agent = "available"
	}
	knownHosts := filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
	hosts := "missing"
	if _, err := os.Stat(knownHosts); err == nil {
		hosts = "found"
	}
	return fmt.Sprintf("ssh agent %s, known_hosts %s (%s)", agent, hosts, knownHosts)
}
