// Package archiver optionally mirrors saved report blobs to a remote SFTP
// server. It never touches captured images (out of scope per the
// controller's purpose) and never blocks or fails the local report store's
// own save — the local store is always authoritative; archiving is
// best-effort and logged on failure.
package archiver

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/fieldcam/camctl/internal/logger"
	"github.com/fieldcam/camctl/internal/resource"
)

// Config configures the remote archive target.
type Config struct {
	Enabled bool

	Host     string
	Port     int
	Username string
	Password string
	BasePath string

	TimeoutConnectSeconds int
}

func (c Config) port() int {
	if c.Port == 0 {
		return 22
	}
	return c.Port
}

func (c Config) timeout() time.Duration {
	if c.TimeoutConnectSeconds == 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutConnectSeconds) * time.Second
}

// Archiver mirrors report blobs to an SFTP remote. Safe for concurrent use:
// a mutex serializes connect/upload per archiver, matching the one-shot
// dial-upload-close lifecycle of each Mirror call.
type Archiver struct {
	mu      sync.Mutex
	cfg     Config
	limiter *resource.Limiter
}

// New creates an Archiver. Mirror is a no-op when cfg.Enabled is false.
// limiter may be nil; when set, Mirror backs off under system pressure
// before dialing, so a mirror upload never competes with an in-progress
// shot on a resource-constrained device.
func New(cfg Config, limiter *resource.Limiter) *Archiver {
	return &Archiver{cfg: cfg, limiter: limiter}
}

// Mirror uploads a report blob under its report ID. It never returns an
// error to a caller that only wants best-effort mirroring; use MirrorErr
// when the caller needs to know.
func (a *Archiver) Mirror(reportID string, data []byte) {
	if err := a.MirrorErr(reportID, data); err != nil {
		logger.Default().Warn("report archive mirror failed", "report_id", reportID, "error", err)
	}
}

// MirrorErr uploads a report blob and returns any failure. No-op (nil error)
// when archiving is disabled.
func (a *Archiver) MirrorErr(reportID string, data []byte) error {
	if !a.cfg.Enabled {
		return nil
	}

	if a.limiter != nil {
		if delay := a.limiter.GetThrottleDelay(); delay > 0 {
			time.Sleep(delay)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sshClient, sftpClient, err := a.dial()
	if err != nil {
		return fmt.Errorf("archive connect: %w", err)
	}
	defer sftpClient.Close()
	defer sshClient.Close()

	remotePath := reportID + ".json"
	if a.cfg.BasePath != "" {
		remotePath = path.Join(a.cfg.BasePath, remotePath)
	}

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		// best-effort: directory may already exist, or permissions may only
		// allow writing to an existing one
		_ = err
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", remotePath, time.Now().UnixNano())

	remote, err := sftpClient.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create remote file: %w", err)
	}
	_, writeErr := remote.Write(data)
	remote.Close()
	if writeErr != nil {
		sftpClient.Remove(tmpPath)
		return fmt.Errorf("write remote file: %w", writeErr)
	}

	if err := sftpClient.Rename(tmpPath, remotePath); err != nil {
		sftpClient.Remove(tmpPath)
		return fmt.Errorf("rename remote file: %w", err)
	}
	return nil
}

// TestConnection verifies credentials and reachability without uploading
// anything.
func (a *Archiver) TestConnection() error {
	if !a.cfg.Enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	sshClient, sftpClient, err := a.dial()
	if err != nil {
		return err
	}
	defer sftpClient.Close()
	defer sshClient.Close()

	testPath := "."
	if a.cfg.BasePath != "" {
		testPath = a.cfg.BasePath
	}
	if _, err := sftpClient.Stat(testPath); err != nil {
		return fmt.Errorf("archive connection test failed (path: %s): %w", testPath, err)
	}
	return nil
}

func (a *Archiver) dial() (*ssh.Client, *sftp.Client, error) {
	sshConfig := &ssh.ClientConfig{
		User: a.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(a.cfg.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         a.cfg.timeout(),
	}

	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.port())
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh dial: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("sftp session: %w", err)
	}

	return sshClient, sftpClient, nil
}
