package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nmuller/rosbak/internal/inventory"
	"github.com/nmuller/rosbak/internal/sshclient"
	"github.com/nmuller/rosbak/internal/storage"
)

// fakeDialer serves in-memory routers keyed by address. Addresses
// listed in failing refuse the connection.
type fakeDialer struct {
	mu      sync.Mutex
	files   map[string]map[string]string // addr -> file name -> contents
	failing map[string]bool
	broken  map[string]bool // file names whose reads fail mid-transfer

	opened  []string // file names opened across all sessions
	current atomic.Int32
	peak    atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		files:   make(map[string]map[string]string),
		failing: make(map[string]bool),
	}
}

func (d *fakeDialer) addRouter(addr string, files map[string]string) {
	d.files[addr] = files
}

func (d *fakeDialer) Connect(ctx context.Context, addr string) (sshclient.Session, error) {
	if d.failing[addr] {
		return nil, &sshclient.ConnectError{Addr: addr, Err: errors.New("connection refused")}
	}
	files, ok := d.files[addr]
	if !ok {
		return nil, &sshclient.ConnectError{Addr: addr, Err: errors.New("unknown host")}
	}

	cur := d.current.Add(1)
	for {
		peak := d.peak.Load()
		if cur <= peak || d.peak.CompareAndSwap(peak, cur) {
			break
		}
	}

	return &fakeSession{dialer: d, files: files}, nil
}

type fakeSession struct {
	dialer *fakeDialer
	files  map[string]string
	closed bool
}

func (s *fakeSession) ListMatching(remoteDir string, names []string) ([]sshclient.RemoteFile, error) {
	var out []sshclient.RemoteFile
	for _, name := range names {
		data, ok := s.files[name]
		if !ok {
			continue
		}
		out = append(out, sshclient.RemoteFile{
			Name: name,
			Path: remoteDir + "/" + name,
			Size: int64(len(data)),
		})
	}
	return out, nil
}

func (s *fakeSession) Open(file sshclient.RemoteFile) (io.ReadCloser, error) {
	data, ok := s.files[file.Name]
	if !ok {
		return nil, &sshclient.TransferError{File: file.Name, Err: os.ErrNotExist}
	}
	s.dialer.mu.Lock()
	s.dialer.opened = append(s.dialer.opened, file.Name)
	s.dialer.mu.Unlock()

	// Session work takes a moment so peak-concurrency tracking has
	// something to observe.
	time.Sleep(time.Millisecond)
	if s.dialer.broken[file.Name] {
		return io.NopCloser(&failingReader{}), nil
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

// failingReader yields a few bytes, then errors.
type failingReader struct {
	reads int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.reads == 0 {
		r.reads++
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func (s *fakeSession) Close() error {
	if !s.closed {
		s.closed = true
		s.dialer.current.Add(-1)
	}
	return nil
}

func newTestClient(t *testing.T, dialer sshclient.Dialer, opts Options) *Client {
	t.Helper()
	if opts.BackupDir == "" {
		opts.BackupDir = t.TempDir()
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 6
	}
	c, err := NewClient(dialer, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestRunDownloadsMatchedFiles(t *testing.T) {
	dialer := newFakeDialer()
	dialer.addRouter("10.0.0.1", map[string]string{
		"latest.rsc":    "/export config",
		"unrelated.txt": "should never be fetched",
	})

	dir := t.TempDir()
	client := newTestClient(t, dialer, Options{BackupDir: dir, Workers: 1})

	report := client.Run(context.Background(), []inventory.Router{
		{Address: "10.0.0.1", Name: "core-r1"},
	})

	if report.Failed() != 0 {
		t.Fatalf("expected no failures, got %d", report.Failed())
	}
	res := report.Results[0]
	if res.State != StateDone {
		t.Fatalf("expected done state, got %s", res.State)
	}
	if len(res.Artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %v", res.Artifacts)
	}

	name := res.Artifacts[0]
	if !strings.HasPrefix(name, "core-r1_latest.rsc_") {
		t.Errorf("unexpected artifact name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "/export config" {
		t.Errorf("artifact contents = %q", data)
	}

	for _, opened := range dialer.opened {
		if opened == "unrelated.txt" {
			t.Error("non-target file was opened")
		}
	}
}

func TestRunIsolatesFailedRouters(t *testing.T) {
	dialer := newFakeDialer()
	dialer.addRouter("10.0.0.1", map[string]string{"latest.rsc": "a"})
	dialer.failing["10.0.0.2"] = true
	dialer.addRouter("10.0.0.3", map[string]string{"latest.backup": "b"})

	client := newTestClient(t, dialer, Options{Workers: 2})

	report := client.Run(context.Background(), []inventory.Router{
		{Address: "10.0.0.1", Name: "r1"},
		{Address: "10.0.0.2", Name: "r2"},
		{Address: "10.0.0.3", Name: "r3"},
	})

	if report.Failed() != 1 {
		t.Fatalf("expected 1 failure, got %d", report.Failed())
	}
	if report.Succeeded() != 2 {
		t.Fatalf("expected 2 successes, got %d", report.Succeeded())
	}
	for _, res := range report.Results {
		if res.Router.Name == "r2" {
			if res.State != StateFailed {
				t.Errorf("r2 state = %s, want failed", res.State)
			}
			var connErr *sshclient.ConnectError
			if !errors.As(res.Err, &connErr) {
				t.Errorf("r2 error = %v, want *sshclient.ConnectError", res.Err)
			}
		} else if res.State != StateDone {
			t.Errorf("%s state = %s, want done", res.Router.Name, res.State)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	dialer := newFakeDialer()
	var routers []inventory.Router
	for i := 0; i < 50; i++ {
		addr := fmt.Sprintf("10.0.0.%d", i+1)
		dialer.addRouter(addr, map[string]string{"latest.rsc": "data"})
		routers = append(routers, inventory.Router{Address: addr, Name: fmt.Sprintf("r%d", i+1)})
	}

	client := newTestClient(t, dialer, Options{Workers: 5})

	report := client.Run(context.Background(), routers)

	if report.Failed() != 0 {
		t.Fatalf("expected no failures, got %d", report.Failed())
	}
	if peak := dialer.peak.Load(); peak > 5 {
		t.Errorf("peak concurrent sessions = %d, want <= 5", peak)
	}
}

func TestRunSharesOneTimestamp(t *testing.T) {
	dialer := newFakeDialer()
	dialer.addRouter("10.0.0.1", map[string]string{
		"latest.rsc":    "a",
		"latest.backup": "b",
	})

	client := newTestClient(t, dialer, Options{Workers: 2})

	report := client.Run(context.Background(), []inventory.Router{
		{Address: "10.0.0.1", Name: "r1"},
	})

	res := report.Results[0]
	if len(res.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %v", res.Artifacts)
	}

	stamp := ""
	for _, name := range res.Artifacts {
		idx := strings.LastIndex(name, "_")
		if idx < 0 {
			t.Fatalf("artifact %q has no timestamp", name)
		}
		if stamp == "" {
			stamp = name[idx+1:]
		} else if name[idx+1:] != stamp {
			t.Errorf("timestamps differ within one run: %v", res.Artifacts)
		}
	}
	if _, err := time.Parse("20060102-150405", stamp); err != nil {
		t.Errorf("timestamp %q does not parse: %v", stamp, err)
	}
}

func TestRunMirrorsArtifacts(t *testing.T) {
	dialer := newFakeDialer()
	dialer.addRouter("10.0.0.1", map[string]string{"latest.rsc": "mirror me"})

	mirrorDir := t.TempDir()
	mirror, err := storage.NewBackend(context.Background(), &storage.Config{
		Type:  "local",
		Local: &storage.LocalConfig{BasePath: mirrorDir},
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	client := newTestClient(t, dialer, Options{Workers: 1, Mirror: mirror})

	report := client.Run(context.Background(), []inventory.Router{
		{Address: "10.0.0.1", Name: "r1"},
	})

	if report.Failed() != 0 {
		t.Fatalf("expected no failures, got %d", report.Failed())
	}

	name := report.Results[0].Artifacts[0]
	artifact, err := mirror.Retrieve(context.Background(), name)
	if err != nil {
		t.Fatalf("mirror does not hold artifact: %v", err)
	}
	defer artifact.DataReader.(io.Closer).Close()

	data, err := io.ReadAll(artifact.DataReader)
	if err != nil {
		t.Fatalf("read mirrored artifact: %v", err)
	}
	if string(data) != "mirror me" {
		t.Errorf("mirrored contents = %q", data)
	}
	if artifact.Metadata.RouterName != "r1" {
		t.Errorf("metadata router = %q", artifact.Metadata.RouterName)
	}
	if artifact.Metadata.SourceFile != "latest.rsc" {
		t.Errorf("metadata source = %q", artifact.Metadata.SourceFile)
	}
}

func TestRunRenamesAgedArtifacts(t *testing.T) {
	dialer := newFakeDialer()
	dialer.addRouter("10.0.0.1", map[string]string{"latest.rsc": "fresh"})

	dir := t.TempDir()
	stale := filepath.Join(dir, "r1_latest.rsc_20240101-000000")
	if err := os.WriteFile(stale, []byte("stale"), 0o640); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	client := newTestClient(t, dialer, Options{BackupDir: dir, Workers: 1, MaxAgeDays: 6})

	report := client.Run(context.Background(), []inventory.Router{
		{Address: "10.0.0.1", Name: "r1"},
	})

	if report.Renamed != 1 {
		t.Errorf("expected 1 retention rename, got %d", report.Renamed)
	}
	if _, err := os.Stat(stale + "-old"); err != nil {
		t.Errorf("stale artifact not renamed: %v", err)
	}
	// The artifact downloaded this run must keep its name.
	name := report.Results[0].Artifacts[0]
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("fresh artifact missing: %v", err)
	}
}

func TestRunRemovesPartialArtifactOnTransferFailure(t *testing.T) {
	dialer := newFakeDialer()
	dialer.addRouter("10.0.0.1", map[string]string{"latest.rsc": "full contents"})
	dialer.broken = map[string]bool{"latest.rsc": true}

	dir := t.TempDir()
	client := newTestClient(t, dialer, Options{BackupDir: dir, Workers: 1})

	report := client.Run(context.Background(), []inventory.Router{
		{Address: "10.0.0.1", Name: "r1"},
	})

	if report.Failed() != 1 {
		t.Fatalf("expected 1 failure, got %d", report.Failed())
	}
	var transferErr *sshclient.TransferError
	if !errors.As(report.Results[0].Err, &transferErr) {
		t.Fatalf("error = %v, want *sshclient.TransferError", report.Results[0].Err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("partial artifact left behind: %v", entries)
	}
}

func TestArtifactName(t *testing.T) {
	router := inventory.Router{Address: "10.0.0.1", Name: "core-r1"}
	got := ArtifactName(router, "latest.rsc", "20260831-120000")
	want := "core-r1_latest.rsc_20260831-120000"
	if got != want {
		t.Errorf("ArtifactName = %q, want %q", got, want)
	}
}

func TestNewClientRequiresEncryptionPassword(t *testing.T) {
	_, err := NewClient(newFakeDialer(), Options{
		BackupDir: t.TempDir(),
		Encrypt:   true,
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error when encrypting without a password")
	}
}
