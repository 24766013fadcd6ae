package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/sysex-librarian/internal/util"
)

const (
	// Keep at least this many backups whatever their size
	minBackupsKept = 3
	// Trim older backups once the set exceeds this many bytes
	maxBackupBytes int64 = 500_000_000
)

// makeBackup copies the database to a sibling file carrying the suffix
// and a timestamp, returning the path written. A copy is a consistent
// snapshot because the store holds the single writer connection.
func (s *Store) makeBackup(suffix string) (string, error) {
	if _, err := os.Stat(s.path); err != nil {
		return "", fmt.Errorf("no database file to back up: %w", err)
	}
	// Flush the WAL so the main file is complete on its own
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		util.DebugLog("WAL checkpoint before backup failed: %v", err)
	}

	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(s.path, ext)
	stamp := time.Now().Format("20060102-150405")
	target := util.NonexistentSibling(fmt.Sprintf("%s%s-%s", base, suffix, stamp), ext)

	err := util.Retry(nil, func() error {
		return util.CopyFile(s.path, target)
	}, fmt.Sprintf("backup(%s)", filepath.Base(target)))
	if err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	util.DebugLog("Catalog backed up to %s", target)
	return target, nil
}

// Backup copies the database to an explicit target, overwriting it
func (s *Store) Backup(target string) error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		util.DebugLog("WAL checkpoint before backup failed: %v", err)
	}
	err := util.Retry(nil, func() error {
		return util.CopyFile(s.path, target)
	}, fmt.Sprintf("backup(%s)", filepath.Base(target)))
	if err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// manageBackupDiskspace trims the automatic backup set: the newest
// three always survive, older ones go once the running total passes
// the size cap.
func (s *Store) manageBackupDiskspace() {
	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(filepath.Base(s.path), ext)
	dir := filepath.Dir(s.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type backupFile struct {
		path    string
		size    int64
		modTime time.Time
	}
	var backups []backupFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, base+backupSuffix) || !strings.HasSuffix(name, ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{
			path:    filepath.Join(dir, name),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	// Newest first, so the keep counter protects the most recent ones
	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.After(backups[j].modTime) })

	var totalSize, keptSize int64
	kept := 0
	for _, b := range backups {
		totalSize += b.size
		if totalSize > maxBackupBytes && kept >= minBackupsKept {
			if err := os.Remove(b.path); err != nil {
				util.ErrorLog("Failed to remove old backup %s, please check file permissions: %v", b.path, err)
			}
		} else {
			kept++
			keptSize += b.size
		}
	}
	if totalSize != keptSize {
		util.InfoLog("Removed all but %d backup files reducing disk space used from %s to %s",
			kept, humanize.Bytes(uint64(totalSize)), humanize.Bytes(uint64(keptSize)))
	}
}
