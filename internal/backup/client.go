// Package backup orchestrates per-router configuration backups: it fans
// out one task per router onto a bounded worker pool, downloads the
// matched export files over SFTP, optionally mirrors and encrypts the
// artifacts, and runs the retention pass once all tasks finished.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/nmuller/rosbak/internal/crypto"
	"github.com/nmuller/rosbak/internal/inventory"
	"github.com/nmuller/rosbak/internal/sshclient"
	"github.com/nmuller/rosbak/internal/storage"
)

// TargetFiles are the well-known export names fetched from every router.
var TargetFiles = []string{"latest.rsc", "latest.backup"}

// timestampLayout is the run-wide timestamp encoded in artifact names.
const timestampLayout = "20060102-150405"

// Options configures a backup client.
type Options struct {
	BackupDir  string
	RemoteDir  string
	Targets    []string
	Workers    int
	MaxAgeDays int

	// Mirror, when set, receives a second copy of every artifact.
	Mirror storage.Backend

	// Encrypt writes artifacts AES-256-GCM encrypted with Password.
	Encrypt  bool
	Password string

	// ShowProgress renders transfer progress bars on the terminal.
	ShowProgress bool
}

// Client runs backup passes.
type Client struct {
	dialer sshclient.Dialer
	opts   Options
	log    zerolog.Logger
}

// NewClient creates a backup client and ensures the backup directory
// exists.
func NewClient(dialer sshclient.Dialer, opts Options, log zerolog.Logger) (*Client, error) {
	if opts.BackupDir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if err := os.MkdirAll(opts.BackupDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	if opts.RemoteDir == "" {
		opts.RemoteDir = "/"
	}
	if len(opts.Targets) == 0 {
		opts.Targets = TargetFiles
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Encrypt && opts.Password == "" {
		return nil, fmt.Errorf("encryption password is required")
	}

	return &Client{
		dialer: dialer,
		opts:   opts,
		log:    log,
	}, nil
}

// ArtifactName computes the deterministic destination filename for a
// downloaded export file.
func ArtifactName(router inventory.Router, remoteName, runTimestamp string) string {
	return fmt.Sprintf("%s_%s_%s", router.Name, remoteName, runTimestamp)
}

// download streams one remote file into the backup directory and
// returns the artifact name. An existing file at the destination is
// overwritten; the name encodes the run timestamp, so a collision can
// only be the same router and file within the same run.
func (c *Client) download(sess sshclient.Session, router inventory.Router, file sshclient.RemoteFile, runTimestamp string) (string, error) {
	name := ArtifactName(router, file.Name, runTimestamp)
	localPath := filepath.Join(c.opts.BackupDir, name)

	src, err := sess.Open(file)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(localPath) // #nosec G304 - controlled backup storage path
	if err != nil {
		return "", &sshclient.TransferError{File: file.Name, Err: err}
	}

	var reader io.Reader = src
	if c.opts.Encrypt {
		encReader, header, err := crypto.NewEncryptReader(src, c.opts.Password)
		if err != nil {
			dst.Close()
			os.Remove(localPath)
			return "", &sshclient.TransferError{File: file.Name, Err: err}
		}
		if err := crypto.WriteEncryptionHeader(dst, header); err != nil {
			dst.Close()
			os.Remove(localPath)
			return "", &sshclient.TransferError{File: file.Name, Err: err}
		}
		reader = encReader
	}

	var progress *ProgressReader
	if c.opts.ShowProgress && file.Size > 0 {
		progress = NewProgressReader(reader, file.Size, fmt.Sprintf("%s %s", router.Name, file.Name))
		reader = progress
		defer progress.Close()
	}

	if _, err := io.Copy(dst, reader); err != nil {
		// The destination may be truncated; remove it rather than leave
		// a partial artifact behind.
		dst.Close()
		os.Remove(localPath)
		return "", &sshclient.TransferError{File: file.Name, Err: err}
	}
	// A close failure can mean unflushed data, which would leave a
	// truncated artifact reported as success.
	if err := dst.Close(); err != nil {
		os.Remove(localPath)
		return "", &sshclient.TransferError{File: file.Name, Err: err}
	}

	return name, nil
}

// mirror uploads the stored artifact to the configured mirror backend.
func (c *Client) mirror(ctx context.Context, router inventory.Router, name, sourceFile, runTimestamp string) error {
	localPath := filepath.Join(c.opts.BackupDir, name)

	f, err := os.Open(localPath) // #nosec G304 - controlled backup storage path
	if err != nil {
		return fmt.Errorf("open artifact for mirroring: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact for mirroring: %w", err)
	}

	var reader io.Reader = f
	if c.opts.ShowProgress && stat.Size() > 0 {
		progress := NewProgressReader(f, stat.Size(), fmt.Sprintf("mirror %s", name))
		reader = progress
		defer progress.Close()
	}

	artifact := &storage.Artifact{
		ID: name,
		Metadata: storage.ArtifactMetadata{
			ID:           name,
			RouterName:   router.Name,
			RouterAddr:   router.Address,
			SourceFile:   sourceFile,
			Size:         stat.Size(),
			CreatedAt:    time.Now(),
			RunTimestamp: runTimestamp,
			Encrypted:    c.opts.Encrypt,
		},
		DataReader: reader,
	}

	return c.opts.Mirror.Store(ctx, artifact)
}

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string, confirm bool) string {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}

	password := string(bytePassword)

	if confirm {
		fmt.Print("Confirm password: ")
		byteConfirm, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return ""
		}
		if password != string(byteConfirm) {
			fmt.Println("Passwords do not match")
			return ""
		}
	}

	return password
}
