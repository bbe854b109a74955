// Package retention ages out old backup artifacts by renaming them.
package retention

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Suffix marks an aged-out artifact. Once a file carries it the file is
// never re-evaluated.
const Suffix = "-old"

// Policy controls a retention pass.
type Policy struct {
	MaxAgeDays int

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// AgeOut scans dir (non-recursive) and renames every file older than
// the threshold with the "-old" suffix. Age is measured against the
// file's modification time and must strictly exceed MaxAgeDays; a file
// exactly at the boundary is kept. Files already carrying the suffix
// and directories are skipped, so the pass is idempotent. A failed
// rename is logged and does not stop the scan. Returns the number of
// files renamed.
func AgeOut(dir string, policy Policy, log zerolog.Logger) (int, error) {
	now := time.Now
	if policy.Now != nil {
		now = policy.Now
	}
	cutoff := now().Add(-time.Duration(policy.MaxAgeDays) * 24 * time.Hour)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	renamed := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn().Str("file", entry.Name()).Err(err).Msg("retention: cannot stat file, skipping")
			continue
		}

		// Strictly older than the threshold; the boundary is kept.
		if !info.ModTime().Before(cutoff) {
			continue
		}

		oldPath := filepath.Join(dir, entry.Name())
		newPath := oldPath + Suffix
		if err := os.Rename(oldPath, newPath); err != nil {
			log.Warn().Str("file", entry.Name()).Err(err).Msg("retention: rename failed, skipping")
			continue
		}

		renamed++
		log.Info().Str("file", entry.Name()).Str("renamed_to", filepath.Base(newPath)).
			Msg("retention: marked old backup")
	}

	return renamed, nil
}
