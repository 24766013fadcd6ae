package store

import (
	"database/sql"
	"fmt"
)

// Schema history:
//  1 - initial schema: patches, categories, lists, patch_in_list, schema_version
//  2 - hidden flag on patches
//  3 - data type integer on patches, NULL rows backfilled to 0
//  4 - bank number column for better sorting of multi-bank imports
//  5 - regular flag on patches
//  6 - table rebuild adding the foreign key from patch_in_list to patches
//  7 - lookup indexes and the partial index over visible patches
//  8 - comment, author and info columns on patches
const currentSchemaVersion = 8

const createPatchesTableV1 = `
CREATE TABLE IF NOT EXISTS patches (
  synth TEXT NOT NULL,
  md5 TEXT NOT NULL,
  name TEXT,
  data BLOB,
  favorite INTEGER,
  source_name TEXT,
  source_info TEXT,
  midi_program_no INTEGER,
  categories INTEGER,
  category_user_decision INTEGER,
  PRIMARY KEY (synth, md5)
)`

const createPatchesTable = `
CREATE TABLE IF NOT EXISTS patches (
  synth TEXT NOT NULL,
  md5 TEXT NOT NULL,
  name TEXT,
  type INTEGER,
  data BLOB,
  favorite INTEGER,
  regular INTEGER,
  hidden INTEGER,
  source_name TEXT,
  source_info TEXT,
  midi_bank_no INTEGER,
  midi_program_no INTEGER,
  categories INTEGER,
  category_user_decision INTEGER,
  comment TEXT,
  author TEXT,
  info TEXT,
  PRIMARY KEY (synth, md5)
)`

const createCategoriesTable = `
CREATE TABLE IF NOT EXISTS categories (
  bit_index INTEGER UNIQUE,
  name TEXT,
  color TEXT,
  active INTEGER,
  sort_order INTEGER
)`

const createListsTable = `
CREATE TABLE IF NOT EXISTS lists (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  synth TEXT,
  midi_bank_number INTEGER,
  last_synced INTEGER,
  list_type INTEGER NOT NULL DEFAULT 0
)`

const createPatchInListTable = `
CREATE TABLE IF NOT EXISTS patch_in_list (
  id TEXT NOT NULL,
  synth TEXT NOT NULL,
  md5 TEXT NOT NULL,
  order_num INTEGER NOT NULL,
  FOREIGN KEY (synth, md5) REFERENCES patches (synth, md5)
)`

const createSchemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER
)`

var schemaIndexes = []string{
	"CREATE INDEX IF NOT EXISTS patch_synth_name_idx ON patches (synth, name)",
	"CREATE INDEX IF NOT EXISTS patch_in_list_order_idx ON patch_in_list (id, order_num, md5, synth)",
	"CREATE INDEX IF NOT EXISTS patch_in_list_import_idx ON patch_in_list (synth, md5, id)",
	"CREATE INDEX IF NOT EXISTS patch_visible_idx ON patches (synth, name) WHERE hidden = 0",
}

// createSchema builds a complete, current database in one transaction
func (s *Store) createSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		createPatchesTable,
		createCategoriesTable,
		createListsTable,
		createPatchInListTable,
		createSchemaVersionTable,
	}
	statements = append(statements, schemaIndexes...)
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if err := insertDefaultCategories(tx); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// migrationStep is one idempotent schema upgrade running in its own
// transaction.
type migrationStep struct {
	toVersion int
	apply     func(tx *sql.Tx) error
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{2, func(tx *sql.Tx) error {
			_, err := tx.Exec("ALTER TABLE patches ADD COLUMN hidden INTEGER")
			return err
		}},
		{3, func(tx *sql.Tx) error {
			if _, err := tx.Exec("ALTER TABLE patches ADD COLUMN type INTEGER"); err != nil {
				return err
			}
			_, err := tx.Exec("UPDATE patches SET type = 0 WHERE type IS NULL")
			return err
		}},
		{4, func(tx *sql.Tx) error {
			_, err := tx.Exec("ALTER TABLE patches ADD COLUMN midi_bank_no INTEGER")
			return err
		}},
		{5, func(tx *sql.Tx) error {
			_, err := tx.Exec("ALTER TABLE patches ADD COLUMN regular INTEGER")
			return err
		}},
		{6, migrateAddForeignKey},
		{7, func(tx *sql.Tx) error {
			for _, stmt := range schemaIndexes {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		}},
		{8, func(tx *sql.Tx) error {
			for _, column := range []string{"comment", "author", "info"} {
				if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE patches ADD COLUMN %s TEXT", column)); err != nil {
					return err
				}
			}
			return nil
		}},
	}
}

// migrateAddForeignKey rebuilds patch_in_list with the referential
// constraint. The rebuild copies the old rows and drops the renamed
// original; foreign keys are disabled around it by the caller.
func migrateAddForeignKey(tx *sql.Tx) error {
	statements := []string{
		"ALTER TABLE patch_in_list RENAME TO patch_in_list_old",
		createPatchInListTable,
		"INSERT INTO patch_in_list (id, synth, md5, order_num) SELECT id, synth, md5, order_num FROM patch_in_list_old",
		"DROP TABLE patch_in_list_old",
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// destructiveSteps rebuild tables and need foreign keys off
var destructiveSteps = map[int]bool{6: true}

func insertDefaultCategories(tx *sql.Tx) error {
	for _, c := range defaultCategorySeed() {
		if _, err := tx.Exec("INSERT INTO categories (bit_index, name, color, active, sort_order) VALUES (?, ?, ?, ?, ?)",
			c.BitIndex, c.Name, c.Color, c.Active, c.SortOrder); err != nil {
			return fmt.Errorf("failed to insert default category %s: %w", c.Name, err)
		}
	}
	return nil
}
