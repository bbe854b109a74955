package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/nmuller/rosbak/internal/backup"
	"github.com/nmuller/rosbak/internal/config"
	"github.com/nmuller/rosbak/internal/inventory"
	"github.com/nmuller/rosbak/internal/logging"
	"github.com/nmuller/rosbak/internal/retention"
	"github.com/nmuller/rosbak/internal/sshclient"
	"github.com/nmuller/rosbak/internal/storage"
	"github.com/nmuller/rosbak/pkg/version"
)

// Global variables for CLI flags
var (
	backupDir string
	verbose   bool
	quiet     bool
	logFile   string

	inventoryPath   string
	remoteDir       string
	workers         int
	maxAgeDays      int
	connectTimeout  time.Duration
	strict          bool
	insecureHostKey bool
	knownHostsPath  string
	schedule        string

	// Encryption flags
	encrypt  bool
	password string

	// Mirror storage flags
	mirrorType   string
	mirrorDir    string
	gcsBucket    string
	gcsProject   string
	gcsCredsFile string
	s3Bucket     string
	s3Region     string
	s3Endpoint   string
	s3AccessKey  string
	s3SecretKey  string
)

func buildMirrorConfig() (*storage.Config, error) {
	if mirrorType == "" {
		return nil, nil
	}

	cfg := &storage.Config{
		Type: mirrorType,
	}

	switch mirrorType {
	case "local":
		if mirrorDir == "" {
			return nil, fmt.Errorf("--mirror-dir is required when using a local mirror")
		}
		cfg.Local = &storage.LocalConfig{
			BasePath: mirrorDir,
		}
	case "gcs":
		if gcsBucket == "" {
			return nil, fmt.Errorf("GCS bucket is required when using a GCS mirror")
		}
		cfg.GCS = &storage.GCSConfig{
			Bucket:      gcsBucket,
			ProjectID:   gcsProject,
			Credentials: gcsCredsFile,
		}
	case "s3":
		if s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required when using an S3 mirror")
		}
		cfg.S3 = &storage.S3Config{
			Bucket:    s3Bucket,
			Region:    s3Region,
			Endpoint:  s3Endpoint,
			AccessKey: s3AccessKey,
			SecretKey: s3SecretKey,
		}
	default:
		return nil, fmt.Errorf("unsupported mirror type: %s", mirrorType)
	}

	return cfg, nil
}

func main() {
	var rootCmd = &cobra.Command{
		Use:     "rosbak",
		Short:   "RouterOS configuration backup tool",
		Long:    "rosbak backs up configuration export files from RouterOS devices over SSH, stores them locally with timestamped names, and ages out stale backups",
		Version: version.Version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "./backups", "Directory to store backups")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append log output to this file as well")

	rootCmd.AddCommand(createRunCommand())
	rootCmd.AddCommand(createDecryptCommand())
	rootCmd.AddCommand(createRetentionCommand())
	rootCmd.AddCommand(createListCommand())
	rootCmd.AddCommand(createVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backup pass over all routers in the inventory",
		Long:  "Connect to every router in the inventory, download its configuration export files, and age out stale local backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, closer, err := logging.Setup(cfg.LogFile, verbose)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			routers, err := inventory.Load(cfg.InventoryPath, log)
			if err != nil {
				return &config.Error{Reason: "load inventory", Err: err}
			}

			hostKey, err := buildHostKeyPolicy(log)
			if err != nil {
				return err
			}

			dialer := sshclient.NewDialer(sshclient.Config{
				User:     cfg.Credentials.Username,
				Password: cfg.Credentials.Password,
				Port:     cfg.SSHPort,
				Timeout:  cfg.ConnectTimeout,
				HostKey:  hostKey,
			})

			var mirror storage.Backend
			mirrorCfg, err := buildMirrorConfig()
			if err != nil {
				return err
			}
			if mirrorCfg != nil {
				mirror, err = storage.NewBackend(cmd.Context(), mirrorCfg)
				if err != nil {
					return err
				}
			}

			if encrypt && password == "" {
				password = backup.PromptPassword("Enter encryption password: ", true)
				if password == "" {
					return fmt.Errorf("encryption password is required")
				}
			}

			client, err := backup.NewClient(dialer, backup.Options{
				BackupDir:    cfg.BackupDir,
				RemoteDir:    cfg.RemoteDir,
				Workers:      cfg.Workers,
				MaxAgeDays:   cfg.MaxAgeDays,
				Mirror:       mirror,
				Encrypt:      encrypt,
				Password:     password,
				ShowProgress: verbose && !quiet,
			}, log)
			if err != nil {
				return err
			}

			runOnce := func() error {
				report := client.Run(context.Background(), routers)
				if strict && report.Failed() > 0 {
					return fmt.Errorf("%d of %d router backups failed", report.Failed(), len(report.Results))
				}
				return nil
			}

			if schedule != "" {
				return runScheduled(cmd.Context(), schedule, runOnce, log)
			}
			return runOnce()
		},
	}

	cmd.Flags().StringVarP(&inventoryPath, "inventory", "i", "", "Router inventory CSV (address,name per line)")
	cmd.Flags().StringVar(&remoteDir, "remote-dir", "", "Remote directory holding the export files")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent router backups")
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", -1, "Age in days after which a backup is marked old")
	cmd.Flags().DurationVar(&connectTimeout, "timeout", 0, "SSH connect timeout per router")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any router backup fails")
	cmd.Flags().BoolVar(&insecureHostKey, "insecure-host-key", false, "Trust any host key (matches historical behavior; unsafe outside closed networks)")
	cmd.Flags().StringVar(&knownHostsPath, "known-hosts", "", "known_hosts file for host key verification (default ~/.ssh/known_hosts)")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression; keep running and execute passes on this schedule")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt backup artifacts with AES-256")
	cmd.Flags().StringVar(&password, "password", "", "Password for encryption (will prompt if not provided)")

	// Mirror flags
	cmd.Flags().StringVar(&mirrorType, "mirror", "", "Mirror backend type (local, gcs, s3)")
	cmd.Flags().StringVar(&mirrorDir, "mirror-dir", "", "Directory for the local mirror")
	cmd.Flags().StringVar(&gcsBucket, "gcs-bucket", "", "GCS bucket name")
	cmd.Flags().StringVar(&gcsProject, "gcs-project", "", "GCS project ID")
	cmd.Flags().StringVar(&gcsCredsFile, "gcs-creds", "", "Path to GCS credentials file")
	cmd.Flags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket name")
	cmd.Flags().StringVar(&s3Region, "s3-region", "us-east-1", "S3 region")
	cmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3 endpoint (for S3-compatible services)")
	cmd.Flags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key")
	cmd.Flags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")

	return cmd
}

func createDecryptCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "decrypt <backup-file>",
		Short: "Decrypt an encrypted backup artifact",
		Long:  "Write the plaintext of a backup artifact to a destination file, prompting for the password when the artifact is encrypted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			dst := output
			if dst == "" {
				dst = src + ".decrypted"
			}

			encrypted, err := backup.ArtifactEncrypted(src)
			if err != nil {
				return err
			}

			pw := password
			if encrypted && pw == "" {
				pw = backup.PromptPassword("Enter decryption password: ", false)
				if pw == "" {
					return fmt.Errorf("decryption password is required")
				}
			}

			if err := backup.DecryptArtifact(src, dst, pw); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Decrypted %s to %s\n", src, dst)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path (default: <backup-file>.decrypted)")
	cmd.Flags().StringVar(&password, "password", "", "Password for decryption (will prompt if not provided)")

	return cmd
}

func createRetentionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Run the retention pass only",
		Long:  "Scan the backup directory and rename backups older than the age threshold with an -old suffix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd, cfg)

			log, closer, err := logging.Setup(cfg.LogFile, verbose)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			renamed, err := retention.AgeOut(cfg.BackupDir, retention.Policy{MaxAgeDays: cfg.MaxAgeDays}, log)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Renamed %d old backup(s) in %s\n", renamed, cfg.BackupDir)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 6, "Age in days after which a backup is marked old")

	return cmd
}

func createListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local backup artifacts",
		Long:  "List all backup files in the backup directory with size, age and retention mark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(backupDir)
			if err != nil {
				return fmt.Errorf("failed to read backup directory: %w", err)
			}

			if len(entries) == 0 {
				fmt.Printf("No backups found in %s\n", backupDir)
				return nil
			}

			fmt.Printf("Backups in %s:\n", backupDir)
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}

				mark := ""
				if filepath.Ext(entry.Name()) == ".json" {
					continue
				}
				if len(entry.Name()) > len(retention.Suffix) &&
					entry.Name()[len(entry.Name())-len(retention.Suffix):] == retention.Suffix {
					mark = "  (old)"
				}

				age := time.Since(info.ModTime()).Round(time.Hour)
				fmt.Printf("  %s  %0.1f KB  %s ago%s\n",
					entry.Name(),
					float64(info.Size())/1024,
					age,
					mark)
			}
			return nil
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}
}

// applyFlagOverrides lets explicitly set CLI flags win over environment
// configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("inventory") {
		cfg.InventoryPath = inventoryPath
	}
	if cmd.Flags().Changed("backup-dir") || cmd.InheritedFlags().Changed("backup-dir") {
		cfg.BackupDir = backupDir
	}
	if cmd.Flags().Changed("remote-dir") {
		cfg.RemoteDir = remoteDir
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("max-age-days") {
		cfg.MaxAgeDays = maxAgeDays
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ConnectTimeout = connectTimeout
	}
	if cmd.InheritedFlags().Changed("log-file") {
		cfg.LogFile = logFile
	}
}

// buildHostKeyPolicy picks the host key verification strategy. Strict
// known_hosts verification is the default; --insecure-host-key restores
// the historical trust-everything stance.
func buildHostKeyPolicy(log zerolog.Logger) (ssh.HostKeyCallback, error) {
	if insecureHostKey {
		log.Warn().Msg("host key verification disabled, any host key will be trusted")
		return sshclient.InsecureHostKey(), nil
	}

	path := knownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate home directory for known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return sshclient.KnownHosts(path)
}

// runScheduled keeps the process alive and executes passes on a cron
// schedule until the context is cancelled or the process receives
// SIGINT/SIGTERM. The pass itself never returns an error here; failures
// are reported through the log, matching single-run behavior.
func runScheduled(ctx context.Context, expr string, pass func() error, log zerolog.Logger) error {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		if err := pass(); err != nil {
			log.Error().Err(err).Msg("scheduled backup pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", expr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("schedule", expr).Msg("running on schedule, press Ctrl-C to stop")
	c.Start()
	<-ctx.Done()

	log.Info().Msg("stopping scheduler")
	// Stop returns once any in-flight pass has finished.
	<-c.Stop().Done()
	return nil
}
