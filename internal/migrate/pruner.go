package migrate

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Housekeeper takes the once-per-day backup and prunes expired ones. It is
// best-effort housekeeping: prune IO failures are logged and skipped, never
// fatal to the caller.
type Housekeeper struct {
	dbPath     string
	backupDir  string
	retainDays int
	logger     *slog.Logger
}

func NewHousekeeper(dbPath, backupDir string, retainDays int, logger *slog.Logger) *Housekeeper {
	if backupDir == "" {
		backupDir = DefaultBackupDir(dbPath)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Housekeeper{
		dbPath:     dbPath,
		backupDir:  backupDir,
		retainDays: retainDays,
		logger:     logger,
	}
}

// backupNamePattern matches <store-file>.<YYMMDD><letter>.
var backupNamePattern = regexp.MustCompile(`\.(\d{6})[a-z]$`)

// DailyBackup takes the calendar day's backup if none exists yet. Invoking
// it repeatedly on the same day produces exactly one backup file for that
// day. Returns nil when the day's backup already exists.
func (h *Housekeeper) DailyBackup(ctx context.Context) (*Backup, error) {
	today := time.Now().Format(backupDateLayout)
	entries, err := os.ReadDir(h.backupDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	prefix := filepath.Base(h.dbPath) + "."
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if m := backupNamePattern.FindStringSubmatch(entry.Name()); m != nil && m[1] == today {
			return nil, nil
		}
	}

	backup, err := CreateBackup(h.dbPath, h.backupDir, TriggerDaily)
	if err != nil {
		return nil, err
	}
	h.logger.Info("daily backup created", "backup", backup.Path)
	return backup, nil
}

// Prune deletes backup files older than the retention window, measured in
// whole days from the date encoded in the filename. Failures to delete are
// logged and skipped. Returns the number of files removed.
func (h *Housekeeper) Prune(ctx context.Context) int {
	if h.retainDays <= 0 {
		return 0
	}
	entries, err := os.ReadDir(h.backupDir)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn("backup prune: read directory", "dir", h.backupDir, "error", err)
		}
		return 0
	}

	cutoff := time.Now().AddDate(0, 0, -h.retainDays)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := backupNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		taken, err := time.ParseInLocation(backupDateLayout, m[1], time.Local)
		if err != nil {
			continue
		}
		if !taken.Before(cutoff) {
			continue
		}
		path := filepath.Join(h.backupDir, entry.Name())
		if err := os.Remove(path); err != nil {
			h.logger.Warn("backup prune: remove failed", "path", path, "error", err)
			continue
		}
		h.logger.Info("expired backup pruned", "path", path)
		removed++
	}
	return removed
}
