package sshclient

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConnectUnreachableHost(t *testing.T) {
	dialer := NewDialer(Config{
		User:     "backup",
		Password: "secret",
		Port:     2222,
		Timeout:  200 * time.Millisecond,
	})

	// Reserved TEST-NET address; nothing answers there.
	_, err := dialer.Connect(context.Background(), "192.0.2.1")
	if err == nil {
		t.Fatal("expected connection failure")
	}

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %T, want *ConnectError", err)
	}
	if connErr.Addr != "192.0.2.1:2222" {
		t.Errorf("addr = %q", connErr.Addr)
	}
}

func TestConnectHonorsContextCancellation(t *testing.T) {
	dialer := NewDialer(Config{
		User:     "backup",
		Password: "secret",
		Timeout:  30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := dialer.Connect(ctx, "192.0.2.1")
	if err == nil {
		t.Fatal("expected error from cancelled dial")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Connect did not return promptly after cancellation: %v", elapsed)
	}

	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %T, want *ConnectError", err)
	}
}

func TestNewDialerDefaults(t *testing.T) {
	d := NewDialer(Config{User: "backup", Password: "secret"})
	sd, ok := d.(*sshDialer)
	if !ok {
		t.Fatalf("unexpected dialer type %T", d)
	}
	if sd.cfg.Port != 22 {
		t.Errorf("default port = %d, want 22", sd.cfg.Port)
	}
	if sd.cfg.HostKey == nil {
		t.Error("default host key callback not set")
	}
}

func TestKnownHostsMissingFile(t *testing.T) {
	if _, err := KnownHosts("/nonexistent/known_hosts"); err == nil {
		t.Fatal("expected error for missing known_hosts file")
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
	}{
		{"connect", &ConnectError{Addr: "10.0.0.1:22", Err: base}},
		{"list", &ListError{Dir: "/", Err: base}},
		{"transfer", &TransferError{File: "latest.rsc", Err: base}},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, base) {
			t.Errorf("%s error does not unwrap to its cause", tt.name)
		}
		if tt.err.Error() == "" {
			t.Errorf("%s error has empty message", tt.name)
		}
	}
}
