package config

import (
	"errors"
	"testing"
	"time"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("SSH_USERNAME", "backup")
	t.Setenv("SSH_PASSWORD", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setCredentials(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Credentials.Username != "backup" {
		t.Errorf("username = %q", cfg.Credentials.Username)
	}
	if cfg.InventoryPath != "rt.csv" {
		t.Errorf("inventory path = %q, want rt.csv", cfg.InventoryPath)
	}
	if cfg.BackupDir != "./backups" {
		t.Errorf("backup dir = %q", cfg.BackupDir)
	}
	if cfg.RemoteDir != "/" {
		t.Errorf("remote dir = %q", cfg.RemoteDir)
	}
	if cfg.SSHPort != 22 {
		t.Errorf("ssh port = %d", cfg.SSHPort)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("connect timeout = %v", cfg.ConnectTimeout)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if cfg.MaxAgeDays != 6 {
		t.Errorf("max age days = %d", cfg.MaxAgeDays)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCredentials(t)
	t.Setenv("ROSBAK_INVENTORY", "routers.csv")
	t.Setenv("ROSBAK_WORKERS", "8")
	t.Setenv("ROSBAK_CONNECT_TIMEOUT", "30s")
	t.Setenv("ROSBAK_MAX_AGE_DAYS", "14")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.InventoryPath != "routers.csv" {
		t.Errorf("inventory path = %q", cfg.InventoryPath)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers = %d", cfg.Workers)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("connect timeout = %v", cfg.ConnectTimeout)
	}
	if cfg.MaxAgeDays != 14 {
		t.Errorf("max age days = %d", cfg.MaxAgeDays)
	}
}

func TestLoadWithoutCredentials(t *testing.T) {
	t.Setenv("SSH_USERNAME", "")
	t.Setenv("SSH_PASSWORD", "")
	t.Setenv("ROSBAK_BACKUP_DIR", "/var/backups/routers")

	// Load itself must succeed so commands that never dial a router
	// can still read the environment.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackupDir != "/var/backups/routers" {
		t.Errorf("backup dir = %q", cfg.BackupDir)
	}

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error when credentials are missing")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %T, want *config.Error", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Credentials: Credentials{Username: "backup", Password: "secret"},
			Workers:     4,
			MaxAgeDays:  6,
			SSHPort:     22,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty password", func(c *Config) { c.Credentials.Password = "" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative max age", func(c *Config) { c.MaxAgeDays = -1 }},
		{"zero port", func(c *Config) { c.SSHPort = 0 }},
		{"port too large", func(c *Config) { c.SSHPort = 70000 }},
	}
	for _, tt := range tests {
		cfg := valid()
		tt.mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", tt.name)
			continue
		}
		var cfgErr *Error
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: error = %T, want *config.Error", tt.name, err)
		}
	}
}

func TestErrorMessageOmitsPassword(t *testing.T) {
	cfg := &Config{
		Credentials: Credentials{Username: "backup", Password: ""},
		Workers:     4,
		SSHPort:     22,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if msg := err.Error(); msg == "" {
		t.Fatal("empty error message")
	}
}
