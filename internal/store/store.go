package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	// DatabaseFileName is the default catalog file name
	DatabaseFileName = "SysexDatabaseOfAllPatches.db3"

	backupSuffix          = "-backup"
	beforeMigrationSuffix = "-before-migration"
)

// OpenMode selects read-only or read-write catalog access
type OpenMode int

const (
	ReadWrite OpenMode = iota
	ReadOnly
)

// Store is the patch catalog: an embedded relational database keyed by
// (synth, fingerprint).
type Store struct {
	db     *sql.DB
	path   string
	mode   OpenMode
	synths map[string]*synth.Synth

	// In-memory category cache, reloaded lazily from the table
	catMu      sync.Mutex
	categories []librarian.Category
}

// DefaultLocation returns the per-user catalog path under the app data
// directory.
func DefaultLocation() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user app data directory: %w", err)
	}
	dir := filepath.Join(configDir, "KnobKraft")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create app data directory: %w", err)
	}
	return filepath.Join(dir, DatabaseFileName), nil
}

// Open opens or creates the catalog. Read-write mode trims old backups
// and migrates the schema forward; read-only mode touches nothing. A
// database written by a newer version refuses to open.
func Open(path string, mode OpenMode, synths map[string]*synth.Synth) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_timeout=5000&_busy_timeout=5000", path)
	if mode == ReadOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db, path: path, mode: mode, synths: synths}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if mode == ReadWrite {
		store.manageBackupDiskspace()
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := store.Categories(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the catalog. In read-write mode a timestamped backup
// sibling is produced first.
func (s *Store) Close() error {
	if s.mode == ReadWrite {
		if _, err := s.makeBackup(backupSuffix); err != nil {
			util.WarnLog("Failed to write closing backup: %v", err)
		}
	}
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// wrapStoreError maps driver errors onto the catalog's sentinel errors
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "readonly") || strings.Contains(msg, "read-only") {
		return fmt.Errorf("%s: %w", op, util.ErrReadOnlyDatabase)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Transaction executes fn inside a transaction. When tx is non-nil the
// function composes into that outer transaction instead of opening its
// own, which is how merge nests inside reindex.
func (s *Store) Transaction(tx *sql.Tx, fn func(tx *sql.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	own, err := s.db.Begin()
	if err != nil {
		return wrapStoreError("failed to begin transaction", err)
	}
	defer own.Rollback()

	if err := fn(own); err != nil {
		return err
	}
	if err := own.Commit(); err != nil {
		return wrapStoreError("failed to commit transaction", err)
	}
	return nil
}

// migrate brings the schema forward to the current version. The
// database is copied aside before the first migrating step runs.
func (s *Store) migrate() error {
	version, fresh, err := s.schemaVersion()
	if err != nil {
		return err
	}

	if fresh {
		if s.mode == ReadOnly {
			return fmt.Errorf("cannot create schema in read-only mode: %w", util.ErrReadOnlyDatabase)
		}
		return s.createSchema()
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database %s has schema version %d, this build understands %d: %w",
			s.path, version, currentSchemaVersion, util.ErrSchemaFromFuture)
	}
	if version == currentSchemaVersion {
		return nil
	}
	if s.mode == ReadOnly {
		// An old schema needs a migration, which read-only mode cannot
		// run, so the open is refused
		return fmt.Errorf("database %s needs migration from version %d: %w", s.path, version, util.ErrReadOnlyDatabase)
	}

	backedUp := false
	for _, step := range migrationSteps() {
		if version >= step.toVersion {
			continue
		}
		if !backedUp {
			if _, err := s.makeBackup(beforeMigrationSuffix); err != nil {
				return fmt.Errorf("refusing to migrate without a safety copy: %w", err)
			}
			backedUp = true
		}
		if destructiveSteps[step.toVersion] {
			if _, err := s.db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
				return wrapStoreError("failed to disable foreign keys", err)
			}
		}
		err := s.Transaction(nil, func(tx *sql.Tx) error {
			if err := step.apply(tx); err != nil {
				return fmt.Errorf("migration to version %d failed: %w", step.toVersion, err)
			}
			if _, err := tx.Exec("UPDATE schema_version SET version = ?", step.toVersion); err != nil {
				return fmt.Errorf("failed to advance schema version: %w", err)
			}
			return nil
		})
		if destructiveSteps[step.toVersion] {
			if _, ferr := s.db.Exec("PRAGMA foreign_keys = ON"); ferr != nil && err == nil {
				err = wrapStoreError("failed to re-enable foreign keys", ferr)
			}
		}
		if err != nil {
			return err
		}
		util.InfoLog("Migrated catalog to schema version %d", step.toVersion)
	}
	return nil
}

// schemaVersion reads the stored version; fresh is true for an empty
// database with no schema at all.
func (s *Store) schemaVersion() (int, bool, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, false, wrapStoreError("failed to inspect schema", err)
	}
	if exists == 0 {
		return 0, true, nil
	}

	var version sql.NullInt64
	err = s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, wrapStoreError("failed to read schema version", err)
	}
	if !version.Valid {
		return 0, true, nil
	}
	return int(version.Int64), false, nil
}

func (s *Store) synthByName(name string) *synth.Synth {
	if s.synths == nil {
		return nil
	}
	return s.synths[name]
}
