// Package remote drives a measurement host over SSH: one control connection
// carrying command sessions and an SFTP channel for uploading test binaries.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/sarchlab/bpscope/logging"
	"github.com/sarchlab/bpscope/runner"
)

// DefaultPort is the SSH port used when Config.Port is zero.
const DefaultPort = 22

// ErrClosed is returned for operations on a session whose connection is
// gone.
var ErrClosed = errors.New("ssh session is closed")

// TempPrefix is the prefix of the per-session directory on the remote host.
const TempPrefix = "/tmp/bpscope-"

// Config holds the connection parameters.
type Config struct {
	Host     string
	Port     int
	Username string

	// KeyPath is a private key file. When the key is encrypted, Password is
	// used as its passphrase.
	KeyPath string
	// Password is used for password authentication, and as key passphrase.
	Password string
	// KnownHosts is an OpenSSH known_hosts file. When empty any host key is
	// accepted.
	KnownHosts string

	// DialTimeout bounds the TCP connect and SSH handshake.
	DialTimeout time.Duration
}

// Addr returns host:port.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Session is an open connection to the remote host.
type Session struct {
	client *ssh.Client
	files  *sftp.Client
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Dial connects and authenticates, then opens the SFTP subsystem on the same
// connection.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Session, error) {
	logger = logging.OrDiscard(logger)

	clientCfg, err := clientConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr(), err)
	}

	if cfg.DialTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.DialTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), clientCfg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", cfg.Addr(), err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)

	files, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open sftp channel: %w", err)
	}

	logger.Debug("remote session opened", "addr", cfg.Addr(), "user", cfg.Username)

	return &Session{client: client, files: files, logger: logger}, nil
}

func clientConfig(cfg Config, logger *slog.Logger) (*ssh.ClientConfig, error) {
	if cfg.Host == "" {
		return nil, errors.New("remote host is not set")
	}

	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		signer, err := loadKey(cfg.KeyPath, cfg.Password)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials: set a key file or a password")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to read known hosts: %w", err)
		}
		hostKey = cb
	} else {
		logger.Debug("accepting any host key", "addr", cfg.Addr())
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.DialTimeout,
	}, nil
}

func loadKey(path, passphrase string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
	}

	return signer, nil
}

// MkdirTemp creates a uniquely named directory under /tmp on the remote host.
func (s *Session) MkdirTemp() (string, error) {
	dir := TempPrefix + uuid.NewString()
	if err := s.files.Mkdir(dir); err != nil {
		return "", fmt.Errorf("failed to create remote dir %s: %w", dir, err)
	}
	return dir, nil
}

// Upload copies a local file to remotePath and makes it executable.
func (s *Session) Upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() { _ = src.Close() }()

	dst, err := s.files.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	if err := s.files.Chmod(remotePath, 0o775); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", remotePath, err)
	}

	s.logger.Debug("uploaded", "local", localPath, "remote", remotePath)
	return nil
}

// UploadTo copies a local file into remoteDir keeping its base name and
// returns the remote path.
func (s *Session) UploadTo(localPath, remoteDir string) (string, error) {
	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	return remotePath, s.Upload(localPath, remotePath)
}

// Run executes argv in a new session and waits for it. The exit status of a
// command that ran is returned in the Result. If ctx is cancelled the remote
// command is sent SIGINT and its session closed.
func (s *Session) Run(ctx context.Context, argv []string) (runner.Result, error) {
	if len(argv) == 0 {
		return runner.Result{}, errors.New("empty command line")
	}
	if s.closed.Load() {
		return runner.Result{}, ErrClosed
	}

	sess, err := s.client.NewSession()
	if err != nil {
		if isClosed(err) {
			return runner.Result{}, ErrClosed
		}
		return runner.Result{}, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	line := shellescape.QuoteCommand(argv)
	s.logger.Debug("remote run", "command", line)

	done := make(chan error, 1)
	go func() { done <- sess.Run(line) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGINT)
		_ = sess.Close()
		err = <-done
	}

	res := runner.Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
		return res, nil
	case errors.As(err, &missing):
		res.ExitCode = -1
		return res, nil
	default:
		return res, fmt.Errorf("remote command %s failed: %w", argv[0], err)
	}
}

// RemoveAll deletes a remote directory tree.
func (s *Session) RemoveAll(ctx context.Context, dir string) error {
	res, err := s.Run(ctx, []string{"rm", "-rf", dir})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to remove remote dir %s: exit status %d: %s",
			dir, res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return nil
}

// Close shuts the SFTP channel and the connection. It is safe to call more
// than once; a connection the peer already dropped is not an error.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = errors.Join(
			ignoreClosed(s.files.Close()),
			ignoreClosed(s.client.Close()),
		)
	})
	return s.closeErr
}

func ignoreClosed(err error) error {
	if err == nil || isClosed(err) {
		return nil
	}
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, ErrClosed)
}
