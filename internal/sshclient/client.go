// Package sshclient manages SSH connections to routers and exposes the
// SFTP operations the backup workflow needs: listing the export
// directory and streaming files down.
package sshclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// RemoteFile is one matched entry in the remote export directory.
type RemoteFile struct {
	Name string
	Path string
	Size int64
}

// Session is an authenticated connection to a single router with an
// open file-transfer channel. The caller owns it and must Close on all
// exit paths.
type Session interface {
	// ListMatching lists remoteDir and returns entries whose name
	// exactly equals one of names. No globbing, no recursion.
	ListMatching(remoteDir string, names []string) ([]RemoteFile, error)

	// Open opens a remote file for reading.
	Open(file RemoteFile) (io.ReadCloser, error)

	Close() error
}

// Dialer opens sessions. The backup orchestrator depends on this
// interface so tests can substitute an in-memory implementation.
type Dialer interface {
	Connect(ctx context.Context, addr string) (Session, error)
}

// Config carries everything needed to dial one router.
type Config struct {
	User     string
	Password string
	Port     int
	Timeout  time.Duration

	// HostKey decides whether a router's host key is trusted.
	// See InsecureHostKey and KnownHosts.
	HostKey ssh.HostKeyCallback
}

// InsecureHostKey accepts any host key. This reproduces the historical
// trust-everything behavior and should only be used on closed networks.
func InsecureHostKey() ssh.HostKeyCallback {
	return ssh.InsecureIgnoreHostKey()
}

// KnownHosts verifies host keys against an OpenSSH known_hosts file.
func KnownHosts(path string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

type sshDialer struct {
	cfg Config
}

// NewDialer returns a Dialer that opens one TCP connection plus one
// SFTP subsystem channel per Connect call.
func NewDialer(cfg Config) Dialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.HostKey == nil {
		cfg.HostKey = InsecureHostKey()
	}
	return &sshDialer{cfg: cfg}
}

func (d *sshDialer) Connect(ctx context.Context, addr string) (Session, error) {
	sshCfg := &ssh.ClientConfig{
		User: d.cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(d.cfg.Password),
		},
		HostKeyCallback: d.cfg.HostKey,
		Timeout:         d.cfg.Timeout,
	}

	hostPort := net.JoinHostPort(addr, fmt.Sprintf("%d", d.cfg.Port))

	// Dial in a goroutine so the context can bound the whole handshake,
	// not just the TCP connect.
	var client *ssh.Client
	var dialErr error
	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", hostPort, sshCfg)
	}()

	select {
	case <-ctx.Done():
		go func() {
			<-dialDone
			if client != nil {
				client.Close()
			}
		}()
		return nil, &ConnectError{Addr: hostPort, Err: ctx.Err()}
	case <-dialDone:
		if dialErr != nil {
			return nil, &ConnectError{Addr: hostPort, Err: dialErr}
		}
	}

	ftp, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, &ConnectError{Addr: hostPort, Err: fmt.Errorf("open sftp channel: %w", err)}
	}

	return &session{conn: client, ftp: ftp}, nil
}

type session struct {
	conn *ssh.Client
	ftp  *sftp.Client
}

func (s *session) ListMatching(remoteDir string, names []string) ([]RemoteFile, error) {
	entries, err := s.ftp.ReadDir(remoteDir)
	if err != nil {
		return nil, &ListError{Dir: remoteDir, Err: err}
	}

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	var files []RemoteFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := wanted[entry.Name()]; !ok {
			continue
		}
		files = append(files, RemoteFile{
			Name: entry.Name(),
			Path: path.Join(remoteDir, entry.Name()),
			Size: entry.Size(),
		})
	}
	return files, nil
}

func (s *session) Open(file RemoteFile) (io.ReadCloser, error) {
	src, err := s.ftp.Open(file.Path)
	if err != nil {
		return nil, &TransferError{File: file.Name, Err: err}
	}
	return src, nil
}

func (s *session) Close() error {
	ftpErr := s.ftp.Close()
	connErr := s.conn.Close()
	if ftpErr != nil {
		return ftpErr
	}
	return connErr
}
