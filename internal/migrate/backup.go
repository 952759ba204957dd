package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// BackupTrigger records why a backup was taken.
type BackupTrigger string

const (
	TriggerMigration BackupTrigger = "migration"
	TriggerDaily     BackupTrigger = "daily"
	TriggerManual    BackupTrigger = "manual"
)

// Backup describes one verified, write-once backup file. Backups are never
// mutated after creation and are pruned only by age.
type Backup struct {
	SourcePath string
	Path       string
	TakenAt    time.Time
	Checksum   string
	Trigger    BackupTrigger
}

// backupDirName is the subdirectory of the store's location holding backups.
const backupDirName = ".backups"

// DefaultBackupDir returns the backup directory for the given store file.
func DefaultBackupDir(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), backupDirName)
}

// backupDateLayout encodes two-digit year, month, day.
const backupDateLayout = "060102"

// CreateBackup copies the store byte-for-byte into destDir, named by date
// with a letter suffix to disambiguate same-day backups, and verifies the
// copy's SHA-256 digest against the source. A mismatched copy is deleted and
// reported as BackupVerificationError: an unverified backup must never be
// relied on, so callers abort before applying any patch.
func CreateBackup(dbPath, destDir string, trigger BackupTrigger) (*Backup, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database file does not exist: %s: %w", dbPath, err)
	}
	if destDir == "" {
		destDir = DefaultBackupDir(dbPath)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	now := time.Now()
	base := filepath.Base(dbPath) + "." + now.Format(backupDateLayout)

	var destPath string
	for letter := 'a'; letter <= 'z'; letter++ {
		candidate := filepath.Join(destDir, base+string(letter))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			destPath = candidate
			break
		}
	}
	if destPath == "" {
		return nil, fmt.Errorf("exhausted backup slots for %s[a-z]", base)
	}

	// Digest the live store before copying so a concurrent mutation during
	// the copy surfaces as a verification failure.
	sourceSum, err := sha256File(dbPath)
	if err != nil {
		return nil, fmt.Errorf("checksum source: %w", err)
	}

	if err := copyFileFn(dbPath, destPath); err != nil {
		return nil, fmt.Errorf("copy to %s: %w", destPath, err)
	}

	destSum, err := sha256File(destPath)
	if err != nil {
		return nil, fmt.Errorf("checksum backup: %w", err)
	}
	if destSum != sourceSum {
		_ = os.Remove(destPath)
		return nil, &BackupVerificationError{
			Source:      dbPath,
			Destination: destPath,
			SourceSum:   sourceSum,
			DestSum:     destSum,
		}
	}

	return &Backup{
		SourcePath: dbPath,
		Path:       destPath,
		TakenAt:    now,
		Checksum:   destSum,
		Trigger:    trigger,
	}, nil
}

// copyFileFn is swapped in tests to simulate a corrupted copy.
var copyFileFn = copyFile

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
