// Package config builds the process-wide configuration once at startup.
// Components receive the resulting Config explicitly; nothing reads the
// environment after Load returns.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Error marks a fatal configuration problem detected before any
// connection attempt is made.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Credentials holds the SSH login shared by all routers. The password
// must never be written to logs or reports at any verbosity.
type Credentials struct {
	Username string
	Password string
}

// Config is the immutable startup configuration.
type Config struct {
	Credentials Credentials

	InventoryPath string
	BackupDir     string
	RemoteDir     string
	LogFile       string

	SSHPort        int
	ConnectTimeout time.Duration
	Workers        int
	MaxAgeDays     int
}

// envSettings mirrors the environment surface. Every knob has a default
// and can be overridden by CLI flags; Validate enforces the credentials
// for operations that dial routers.
type envSettings struct {
	Username       string        `envconfig:"SSH_USERNAME"`
	Password       string        `envconfig:"SSH_PASSWORD"`
	InventoryPath  string        `envconfig:"ROSBAK_INVENTORY" default:"rt.csv"`
	BackupDir      string        `envconfig:"ROSBAK_BACKUP_DIR" default:"./backups"`
	RemoteDir      string        `envconfig:"ROSBAK_REMOTE_DIR" default:"/"`
	LogFile        string        `envconfig:"ROSBAK_LOG_FILE" default:""`
	SSHPort        int           `envconfig:"ROSBAK_SSH_PORT" default:"22"`
	ConnectTimeout time.Duration `envconfig:"ROSBAK_CONNECT_TIMEOUT" default:"10s"`
	Workers        int           `envconfig:"ROSBAK_WORKERS" default:"4"`
	MaxAgeDays     int           `envconfig:"ROSBAK_MAX_AGE_DAYS" default:"6"`
}

// Load reads an optional .env file and the process environment. It does
// not validate; commands that need credentials call Validate after
// applying their flag overrides, commands that never dial skip it.
func Load() (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	var s envSettings
	if err := envconfig.Process("", &s); err != nil {
		return nil, &Error{Reason: "read environment", Err: err}
	}

	cfg := &Config{
		Credentials: Credentials{
			Username: s.Username,
			Password: s.Password,
		},
		InventoryPath:  s.InventoryPath,
		BackupDir:      s.BackupDir,
		RemoteDir:      s.RemoteDir,
		LogFile:        s.LogFile,
		SSHPort:        s.SSHPort,
		ConnectTimeout: s.ConnectTimeout,
		Workers:        s.Workers,
		MaxAgeDays:     s.MaxAgeDays,
	}

	return cfg, nil
}

// Validate checks the invariants flags may have broken after Load.
func (c *Config) Validate() error {
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		return &Error{Reason: "SSH_USERNAME and SSH_PASSWORD must be set"}
	}
	if c.Workers < 1 {
		return &Error{Reason: fmt.Sprintf("worker count must be at least 1, got %d", c.Workers)}
	}
	if c.MaxAgeDays < 0 {
		return &Error{Reason: fmt.Sprintf("max age days must not be negative, got %d", c.MaxAgeDays)}
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		return &Error{Reason: fmt.Sprintf("invalid SSH port %d", c.SSHPort)}
	}
	return nil
}
