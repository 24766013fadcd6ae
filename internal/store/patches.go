package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/synth"
	"github.com/franz/sysex-librarian/internal/util"
)

// Field masks for UpdatePatch and MergePatches
const (
	UpdateName = 1 << iota
	UpdateCategories
	UpdateHidden
	UpdateData
	UpdateFavorite
	UpdateRegular
	UpdateComment
	UpdateAuthor
	UpdateInfo

	UpdateAll = UpdateName | UpdateCategories | UpdateHidden | UpdateData |
		UpdateFavorite | UpdateRegular | UpdateComment | UpdateAuthor | UpdateInfo
)

const patchColumns = `synth, md5, name, type, data, favorite, regular, hidden,
	source_name, source_info, midi_bank_no, midi_program_no,
	categories, category_user_decision, comment, author, info`

// patchSelectColumns qualifies every column so queries stay valid when
// patch_in_list is joined in.
const patchSelectColumns = `patches.synth, patches.md5, patches.name, patches.type, patches.data,
	patches.favorite, patches.regular, patches.hidden,
	patches.source_name, patches.source_info, patches.midi_bank_no, patches.midi_program_no,
	patches.categories, patches.category_user_decision, patches.comment, patches.author, patches.info`

// PutPatch strictly inserts one patch row; a duplicate (synth, md5) is
// an error. Updates go through UpdatePatch.
func (s *Store) PutPatch(tx *sql.Tx, holder *librarian.PatchHolder) error {
	return s.Transaction(tx, func(tx *sql.Tx) error {
		var bankNo any
		if holder.Bank.IsValid() {
			bankNo = holder.Bank.ToZeroBased()
		}
		var programNo any
		if holder.Program.IsValid() {
			programNo = holder.Program.ToZeroBasedWithBank()
		}
		typeID := 0
		if holder.Patch != nil {
			typeID = holder.Patch.TypeID
		}
		var data []byte
		if holder.Patch != nil {
			data = holder.Patch.Data
		}
		_, err := tx.Exec(`
			INSERT INTO patches (`+patchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			holder.SynthName(), holder.MD5(), holder.Name(), typeID, data,
			int(holder.Favorite), boolToInt(holder.Regular), boolToInt(holder.Hidden),
			holder.SourceInfo.DisplayString(holder.Synth, false), holder.SourceInfo.ToJSON(),
			bankNo, programNo,
			holder.Categories.Bitfield(), holder.UserDecisions.Bitfield(),
			holder.Comment, holder.Author, holder.Info,
		)
		return wrapStoreError("failed to insert patch", err)
	})
}

// UpdatePatch rewrites the selected fields of an existing patch row,
// applying the merge policies for categories, favorite and free text.
func (s *Store) UpdatePatch(tx *sql.Tx, newPatch, existing *librarian.PatchHolder, fields uint) error {
	if fields == 0 {
		return nil
	}
	return s.Transaction(tx, func(tx *sql.Tx) error {
		setClause := ""
		var args []any
		add := func(clause string, vals ...any) {
			if setClause != "" {
				setClause += ", "
			}
			setClause += clause
			args = append(args, vals...)
		}

		if fields&UpdateCategories != 0 {
			merged := mergeCategories(newPatch, existing)
			add("categories = ?, category_user_decision = ?",
				merged.Categories.Bitfield(), merged.UserDecisions.Bitfield())
		}
		if fields&UpdateName != 0 {
			add("name = ?", newPatch.Name())
		}
		if fields&UpdateData != 0 {
			add("data = ?", newPatch.Patch.Data)
		}
		if fields&UpdateHidden != 0 {
			add("hidden = ?", boolToInt(newPatch.Hidden))
		}
		if fields&UpdateFavorite != 0 {
			// An unknown incoming favorite keeps the existing ruling
			merged := newPatch.Favorite
			if merged == librarian.FavoriteUnknown {
				merged = existing.Favorite
			}
			add("favorite = ?", int(merged))
		}
		if fields&UpdateRegular != 0 {
			add("regular = ?", boolToInt(newPatch.Regular))
		}
		if fields&UpdateComment != 0 {
			add("comment = ?", firstNonEmpty(newPatch.Comment, existing.Comment))
		}
		if fields&UpdateAuthor != 0 {
			add("author = ?", firstNonEmpty(newPatch.Author, existing.Author))
		}
		if fields&UpdateInfo != 0 {
			add("info = ?", firstNonEmpty(newPatch.Info, existing.Info))
		}

		args = append(args, newPatch.MD5(), newPatch.SynthName())
		result, err := tx.Exec("UPDATE patches SET "+setClause+" WHERE md5 = ? AND synth = ?", args...)
		if err != nil {
			return wrapStoreError("failed to update patch", err)
		}
		if rows, err := result.RowsAffected(); err == nil && rows != 1 {
			return fmt.Errorf("patch update matched %d rows, refusing to continue", rows)
		}
		return nil
	})
}

// mergeCategories combines the category data of a new and an existing
// instance of the same patch. User decisions stick: a category ruled on
// by the user survives unless a newer user decision overrides it.
func mergeCategories(newPatch, existing *librarian.PatchHolder) *librarian.PatchHolder {
	newUserDecided := librarian.Intersection(newPatch.Categories, newPatch.UserDecisions)
	newAutomatic := librarian.Difference(newPatch.Categories, newPatch.UserDecisions)
	oldUserDecided := librarian.Intersection(existing.Categories, existing.UserDecisions)

	newAutomaticWithoutOverride := librarian.Difference(newAutomatic, existing.UserDecisions)
	oldUserDecidedWithoutOverride := librarian.Difference(oldUserDecided, newPatch.UserDecisions)

	merged := newPatch.Clone()
	merged.Categories = librarian.Union(
		librarian.Union(newUserDecided, newAutomaticWithoutOverride),
		oldUserDecidedWithoutOverride)
	merged.UserDecisions = librarian.Union(newPatch.UserDecisions, existing.UserDecisions)
	return merged
}

// MergeResult reports what a merge did
type MergeResult struct {
	Inserted     []*librarian.PatchHolder
	UpdatedNames int
}

// MergePatches is the import entry point: existing patches are updated
// field by field under the update policy, new ones are inserted and
// grouped into an import list per provenance. Everything happens in a
// single transaction; pass a non-nil tx to compose into an outer one.
func (s *Store) MergePatches(tx *sql.Tx, patches []*librarian.PatchHolder, fields uint) (*MergeResult, error) {
	return s.mergePatches(tx, patches, fields, true)
}

// mergePatches lets reindexing skip the import-list bookkeeping, since
// the reinserted patches keep their rewritten list entries.
func (s *Store) mergePatches(tx *sql.Tx, patches []*librarian.PatchHolder, fields uint, growImportLists bool) (*MergeResult, error) {
	result := &MergeResult{}
	err := s.Transaction(tx, func(tx *sql.Tx) error {
		known, err := s.bulkGetPatches(tx, patches)
		if err != nil {
			return err
		}

		for _, patch := range patches {
			md5 := patch.MD5()
			existing, exists := known[md5]
			if !exists {
				result.Inserted = append(result.Inserted, patch)
				continue
			}
			// Never let a default name like INIT overwrite a manually
			// given or better imported name
			fieldsForThis := fields
			if patch.HasDefaultName() {
				fieldsForThis &^= UpdateName
			}
			if fieldsForThis&UpdateName != 0 && patch.Name() != existing.Name() {
				result.UpdatedNames++
				util.InfoLog("Renaming %s with better name %s", existing.Name(), patch.Name())
			}
			if err := s.UpdatePatch(tx, patch, existing, fieldsForThis); err != nil {
				return err
			}
		}

		if result.UpdatedNames > 0 {
			util.InfoLog("Updated %d patches in the database with new names", result.UpdatedNames)
		}

		// Deduplicate the insert set by fingerprint; a later instance
		// with a real name beats an earlier default-named one
		inserted := make(map[string]*librarian.PatchHolder)
		var uniqueInserts []*librarian.PatchHolder
		for _, patch := range result.Inserted {
			md5 := patch.MD5()
			if duplicate, seen := inserted[md5]; seen {
				if duplicate.HasDefaultName() && !patch.HasDefaultName() {
					if err := s.UpdatePatch(tx, patch, duplicate, UpdateName); err != nil {
						return err
					}
					util.InfoLog("Updating patch name %s to better one: %s", duplicate.Name(), patch.Name())
				} else {
					util.InfoLog("Skipping patch %s because it is a duplicate of %s", patch.Name(), duplicate.Name())
				}
				continue
			}
			if err := s.PutPatch(tx, patch); err != nil {
				return err
			}
			inserted[md5] = patch
			uniqueInserts = append(uniqueInserts, patch)
		}
		result.Inserted = uniqueInserts

		if !growImportLists {
			return nil
		}
		return s.appendToImportLists(tx, uniqueInserts)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// appendToImportLists grows one import list per (synth, provenance).
// Edit-buffer imports of a synth share one stable list.
func (s *Store) appendToImportLists(tx *sql.Tx, inserted []*librarian.PatchHolder) error {
	for _, patch := range inserted {
		if patch.SourceInfo == nil {
			// No source info, probably from a 3rd party system
			continue
		}
		var listID, listName string
		if librarian.IsEditBufferImport(patch.SourceInfo) {
			listID = fmt.Sprintf("import:%s:EditBufferImport", patch.SynthName())
			listName = "Edit buffer imports"
		} else {
			listID = fmt.Sprintf("import:%s:%s", patch.SynthName(), patch.SourceInfo.ImportID(patch.Synth))
			listName = patch.SourceInfo.DisplayString(patch.Synth, true)
		}
		if err := s.ensureList(tx, listID, listName, patch.SynthName(), librarian.ListTypeImport); err != nil {
			return err
		}
		if err := s.appendPatchToList(tx, listID, patch.SynthName(), patch.MD5()); err != nil {
			return err
		}
	}
	return nil
}

// bulkGetPatches fetches the already-stored instances of the given
// patches, keyed by fingerprint.
func (s *Store) bulkGetPatches(tx *sql.Tx, patches []*librarian.PatchHolder) (map[string]*librarian.PatchHolder, error) {
	result := make(map[string]*librarian.PatchHolder)
	for _, patch := range patches {
		md5 := patch.MD5()
		if _, seen := result[md5]; seen {
			continue
		}
		existing, err := s.getSinglePatchTx(tx, patch.Synth, md5)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			result[md5] = existing
		}
	}
	return result, nil
}

// GetSinglePatch loads one patch by (synth, fingerprint)
func (s *Store) GetSinglePatch(sy *synth.Synth, md5 string) (*librarian.PatchHolder, error) {
	return s.getSinglePatchTx(nil, sy, md5)
}

func (s *Store) getSinglePatchTx(tx *sql.Tx, sy *synth.Synth, md5 string) (*librarian.PatchHolder, error) {
	query := "SELECT " + patchSelectColumns + " FROM patches WHERE md5 = ? AND synth = ?"
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRow(query, md5, sy.Name)
	} else {
		row = s.db.QueryRow(query, md5, sy.Name)
	}
	holder, _, err := s.scanPatchRow(rowScanner{row: row})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreError("failed to load patch", err)
	}
	return holder, nil
}

// CountPatches returns how many patches match the filter
func (s *Store) CountPatches(filter PatchFilter) (int, error) {
	c := filter.compile(false)
	query := fmt.Sprintf("%sSELECT count(*) FROM patches%s%s", c.cte, c.join, c.where)
	var count int
	if err := s.db.QueryRow(query, c.args...).Scan(&count); err != nil {
		return 0, wrapStoreError("failed to count patches", err)
	}
	return count, nil
}

// ReindexEntry pairs a stored fingerprint with the reloaded holder
// whose recomputed fingerprint disagrees with it.
type ReindexEntry struct {
	StoredMD5 string
	Holder    *librarian.PatchHolder
}

// GetPatches runs a filtered, ordered, paged query. limit -1 means no
// paging. Rows whose recomputed fingerprint disagrees with the stored
// one are flagged for reindexing but still returned.
func (s *Store) GetPatches(filter PatchFilter, skip, limit int) ([]*librarian.PatchHolder, []ReindexEntry, error) {
	c := filter.compile(true)
	query := fmt.Sprintf("%sSELECT %s FROM patches%s%s%s", c.cte, patchSelectColumns, c.join, c.where, c.orderBy)
	args := append([]any{}, c.args...)
	if limit != -1 {
		query += " LIMIT :LIM OFFSET :OFS"
		args = append(args, sql.Named("LIM", limit), sql.Named("OFS", skip))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, nil, wrapStoreError("failed to query patches", err)
	}
	defer rows.Close()

	var result []*librarian.PatchHolder
	var needsReindex []ReindexEntry
	for rows.Next() {
		holder, storedMD5, err := s.scanPatchRow(rowScanner{rows: rows})
		if err != nil {
			return nil, nil, wrapStoreError("failed to scan patch", err)
		}
		if holder == nil {
			continue
		}
		result = append(result, holder)
		if holder.MD5() != storedMD5 {
			needsReindex = append(needsReindex, ReindexEntry{StoredMD5: storedMD5, Holder: holder})
		}
	}
	if len(needsReindex) > 0 {
		util.WarnLog("Found %d patches with inconsistent fingerprint - please run the reindex command for this synth", len(needsReindex))
	}
	return result, needsReindex, rows.Err()
}

// rowScanner lets one scan routine serve both Row and Rows
type rowScanner struct {
	row  *sql.Row
	rows *sql.Rows
}

func (r rowScanner) Scan(dest ...any) error {
	if r.row != nil {
		return r.row.Scan(dest...)
	}
	return r.rows.Scan(dest...)
}

func (s *Store) scanPatchRow(scanner rowScanner) (*librarian.PatchHolder, string, error) {
	var (
		synthName, storedMD5              string
		name, sourceName, sourceInfo      sql.NullString
		comment, author, info             sql.NullString
		typeID, favorite, regular, hidden sql.NullInt64
		bankNo, programNo                 sql.NullInt64
		categoryBits, userDecisionBits    sql.NullInt64
		data                              []byte
	)
	err := scanner.Scan(&synthName, &storedMD5, &name, &typeID, &data, &favorite, &regular, &hidden,
		&sourceName, &sourceInfo, &bankNo, &programNo, &categoryBits, &userDecisionBits,
		&comment, &author, &info)
	if err != nil {
		return nil, "", err
	}

	sy := s.synthByName(synthName)
	if sy == nil {
		util.WarnLog("Skipping patch for synth %s which is not configured", synthName)
		return nil, storedMD5, nil
	}

	var program synth.ProgramNumber
	var bank synth.BankNumber
	if bankNo.Valid {
		bank = sy.Bank(int(bankNo.Int64))
		relative := int(programNo.Int64) - bank.ToZeroBased()*bank.Size()
		if relative < 0 {
			relative = int(programNo.Int64)
		}
		program = synth.ProgramFromZeroBasedWithBank(bank, relative)
	} else if programNo.Valid {
		program = synth.ProgramFromZeroBased(int(programNo.Int64))
	}

	var patch *synth.DataFile
	if sy.Capabilities.PatchFromBytes != nil {
		patch, err = sy.Capabilities.PatchFromBytes(data, program)
		if err != nil {
			util.WarnLog("Failed to decode stored patch %s of %s: %v", storedMD5, synthName, err)
			return nil, storedMD5, nil
		}
	} else {
		patch = synth.NewDataFile(int(typeID.Int64), data)
	}

	source, err := librarian.ParseSourceInfo(sourceInfo.String)
	if err != nil {
		util.WarnLog("Patch %s carries unreadable source info: %v", storedMD5, err)
	}

	holder := librarian.NewPatchHolder(sy, source, patch)
	holder.Bank = bank
	holder.Program = program
	holder.SetName(name.String)
	if favorite.Valid {
		holder.Favorite = librarian.FavoriteFromInt(int(favorite.Int64))
	}
	holder.Hidden = hidden.Valid && hidden.Int64 == 1
	holder.Regular = regular.Valid && regular.Int64 == 1
	holder.Comment = comment.String
	holder.Author = author.String
	holder.Info = info.String

	defs, err := s.Categories()
	if err != nil {
		return nil, "", err
	}
	holder.Categories = librarian.SetFromBitfield(categoryBits.Int64, defs)
	holder.UserDecisions = librarian.SetFromBitfield(userDecisionBits.Int64, defs)

	return holder, storedMD5, nil
}

// DeletePatches removes everything matching the filter, except that a
// patch still referenced by a bank list is hidden instead of deleted.
// Orphan list rows are swept afterwards.
func (s *Store) DeletePatches(filter PatchFilter) (deleted, hidden int, err error) {
	c := filter.compile(false)
	err = s.Transaction(nil, func(tx *sql.Tx) error {
		// Drop matches from non-bank lists first, they never protect a
		// patch from deletion
		removeFromLists := fmt.Sprintf(`
			DELETE FROM patch_in_list WHERE ROWID IN (
				SELECT patch_in_list.ROWID FROM patches
				JOIN patch_in_list ON patches.md5 = patch_in_list.md5 AND patches.synth = patch_in_list.synth
				JOIN lists ON lists.id = patch_in_list.id
				%s AND lists.list_type NOT IN (%d, %d)
			)`, orWhere(c.where), librarian.ListTypeSynthBank, librarian.ListTypeUserBank)
		if _, err := tx.Exec(removeFromLists, c.args...); err != nil {
			return wrapStoreError("failed to remove patches from lists", err)
		}

		// Matches still referenced by a bank degrade to hidden
		hide := fmt.Sprintf(`
			UPDATE patches SET hidden = 1 WHERE ROWID IN (
				SELECT patches.ROWID FROM patches
				JOIN patch_in_list ON patches.md5 = patch_in_list.md5 AND patches.synth = patch_in_list.synth
				JOIN lists ON lists.id = patch_in_list.id
				%s AND lists.list_type IN (%d, %d)
			)`, orWhere(c.where), librarian.ListTypeSynthBank, librarian.ListTypeUserBank)
		hideResult, err := tx.Exec(hide, c.args...)
		if err != nil {
			return wrapStoreError("failed to hide patches", err)
		}
		hiddenRows, _ := hideResult.RowsAffected()
		hidden = int(hiddenRows)

		remove := fmt.Sprintf(`
			DELETE FROM patches WHERE ROWID IN (
				SELECT patches.ROWID FROM patches
				%s %s AND patch_in_list.id IS NULL
			)`, filter.compileJoin(true), orWhere(c.where))
		deleteResult, err := tx.Exec(remove, c.args...)
		if err != nil {
			return wrapStoreError("failed to delete patches", err)
		}
		deletedRows, _ := deleteResult.RowsAffected()
		deleted = int(deletedRows)

		return s.sweepOrphans(tx)
	})
	return deleted, hidden, err
}

// DeletePatchesByMD5 deletes specific patches of one synth, hiding
// those that still sit in a bank.
func (s *Store) DeletePatchesByMD5(tx *sql.Tx, synthName string, md5s []string) (deleted, hidden int, err error) {
	err = s.Transaction(tx, func(tx *sql.Tx) error {
		for _, md5 := range md5s {
			if _, err := tx.Exec(fmt.Sprintf(`
				DELETE FROM patch_in_list WHERE synth = ? AND md5 = ?
				AND EXISTS (SELECT 1 FROM lists WHERE id = patch_in_list.id AND list_type NOT IN (%d, %d))`,
				librarian.ListTypeSynthBank, librarian.ListTypeUserBank), synthName, md5); err != nil {
				return wrapStoreError("failed to remove patch from lists", err)
			}

			var inBank int
			if err := tx.QueryRow(fmt.Sprintf(`
				SELECT COUNT(*) FROM lists
				INNER JOIN patch_in_list AS pil ON lists.id = pil.id
				WHERE pil.synth = ? AND pil.md5 = ? AND lists.list_type IN (%d, %d)`,
				librarian.ListTypeSynthBank, librarian.ListTypeUserBank), synthName, md5).Scan(&inBank); err != nil {
				return wrapStoreError("failed to check bank membership", err)
			}

			if inBank > 0 {
				result, err := tx.Exec("UPDATE patches SET hidden = 1 WHERE synth = ? AND md5 = ?", synthName, md5)
				if err != nil {
					return wrapStoreError("failed to hide patch", err)
				}
				rows, _ := result.RowsAffected()
				hidden += int(rows)
			} else {
				result, err := tx.Exec("DELETE FROM patches WHERE synth = ? AND md5 = ?", synthName, md5)
				if err != nil {
					return wrapStoreError("failed to delete patch", err)
				}
				rows, _ := result.RowsAffected()
				deleted += int(rows)
			}
		}
		return s.sweepOrphans(tx)
	})
	return deleted, hidden, err
}

// ReindexPatches recomputes fingerprints after an adapter changed its
// fingerprint algorithm. Restricted to one synth; the reloaded patches
// are merge-reinserted under their new fingerprint, list references are
// rewritten, and the stale rows are removed with a count check.
func (s *Store) ReindexPatches(filter PatchFilter) (int, error) {
	if len(filter.Synths) != 1 {
		return -1, fmt.Errorf("reindexing requires exactly one synth: %w", util.ErrInvalidFilter)
	}
	synthName := filter.Synths[0]

	_, remaps, err := s.GetPatches(filter, 0, -1)
	if err != nil {
		return -1, err
	}
	if len(remaps) == 0 {
		util.InfoLog("None of the selected patches needed reindexing, skipping")
		return s.CountPatches(filter)
	}

	err = s.Transaction(nil, func(tx *sql.Tx) error {
		var toReinsert []*librarian.PatchHolder
		var toDelete []string
		for _, r := range remaps {
			toReinsert = append(toReinsert, r.Holder)
			toDelete = append(toDelete, r.StoredMD5)
		}

		// The merge logic handles patches that collapse onto the same
		// new fingerprint
		if _, err := s.mergePatches(tx, toReinsert, UpdateAll, false); err != nil {
			return err
		}

		for _, r := range remaps {
			result, err := tx.Exec("UPDATE patch_in_list SET md5 = ? WHERE synth = ? AND md5 = ?",
				r.Holder.MD5(), synthName, r.StoredMD5)
			if err != nil {
				return wrapStoreError("failed to rewrite list references", err)
			}
			if rows, err := result.RowsAffected(); err == nil && rows > 0 {
				util.DebugLog("Rewrote %d list entries from %s to %s", rows, r.StoredMD5, r.Holder.MD5())
			}
		}

		deleted, _, err := s.DeletePatchesByMD5(tx, synthName, toDelete)
		if err != nil {
			return err
		}
		if deleted != len(toDelete) {
			return fmt.Errorf("reindexing deleted %d rows but reloaded %d, aborting", deleted, len(toDelete))
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	return s.CountPatches(filter)
}

// orWhere turns an optional where clause into one that can take
// appended AND conditions.
func orWhere(where string) string {
	if where == "" {
		return " WHERE 1 = 1"
	}
	return where
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
