package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/util"
)

// ListInfo is the lightweight row of the lists table
type ListInfo struct {
	ID         string
	Name       string
	Synth      string
	BankNumber int
	LastSynced int64
	Type       librarian.ListType
}

// AllPatchLists returns every free-form user list
func (s *Store) AllPatchLists() ([]ListInfo, error) {
	return s.listsByQuery("SELECT id, name, COALESCE(synth, ''), COALESCE(midi_bank_number, -1), COALESCE(last_synced, 0), list_type FROM lists WHERE list_type = ?",
		librarian.ListTypeNormal)
}

// AllSynthBanks returns the live bank lists of a synth
func (s *Store) AllSynthBanks(synthName string) ([]ListInfo, error) {
	return s.listsByQuery("SELECT id, name, COALESCE(synth, ''), COALESCE(midi_bank_number, -1), COALESCE(last_synced, 0), list_type FROM lists WHERE synth = ? AND list_type = ?",
		synthName, librarian.ListTypeSynthBank)
}

// AllUserBanks returns the stored user banks of a synth
func (s *Store) AllUserBanks(synthName string) ([]ListInfo, error) {
	return s.listsByQuery("SELECT id, name, COALESCE(synth, ''), COALESCE(midi_bank_number, -1), COALESCE(last_synced, 0), list_type FROM lists WHERE synth = ? AND list_type = ?",
		synthName, librarian.ListTypeUserBank)
}

func (s *Store) listsByQuery(query string, args ...any) ([]ListInfo, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, wrapStoreError("failed to query lists", err)
	}
	defer rows.Close()

	var result []ListInfo
	for rows.Next() {
		var info ListInfo
		var listType int
		if err := rows.Scan(&info.ID, &info.Name, &info.Synth, &info.BankNumber, &info.LastSynced, &listType); err != nil {
			return nil, wrapStoreError("failed to scan list", err)
		}
		info.Type = librarian.ListType(listType)
		result = append(result, info)
	}
	return result, rows.Err()
}

// DoesListExist reports whether a list id is present
func (s *Store) DoesListExist(listID string) (bool, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM lists WHERE id = ?", listID).Scan(&count); err != nil {
		return false, wrapStoreError("failed to check list", err)
	}
	return count > 0, nil
}

// GetListInfo loads one lists row
func (s *Store) GetListInfo(listID string) (*ListInfo, error) {
	var info ListInfo
	var listType int
	err := s.db.QueryRow("SELECT id, name, COALESCE(synth, ''), COALESCE(midi_bank_number, -1), COALESCE(last_synced, 0), list_type FROM lists WHERE id = ?", listID).
		Scan(&info.ID, &info.Name, &info.Synth, &info.BankNumber, &info.LastSynced, &listType)
	if err == sql.ErrNoRows {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, wrapStoreError("failed to load list", err)
	}
	info.Type = librarian.ListType(listType)
	return &info, nil
}

// GetPatchList loads a list with its patches in order. Bank-typed rows
// come back as *librarian.SynthBank via GetSynthBank.
func (s *Store) GetPatchList(listID string) (*librarian.PatchList, error) {
	info, err := s.GetListInfo(listID)
	if err != nil {
		return nil, err
	}
	list := librarian.NewPatchListWithID(info.ID, info.Name)
	patches, err := s.listEntries(listID)
	if err != nil {
		return nil, err
	}
	list.SetPatches(patches)
	return list, nil
}

// GetSynthBank loads a bank-typed list into a SynthBank with its
// normalization applied.
func (s *Store) GetSynthBank(listID string) (*librarian.SynthBank, error) {
	info, err := s.GetListInfo(listID)
	if err != nil {
		return nil, err
	}
	if info.Type != librarian.ListTypeSynthBank && info.Type != librarian.ListTypeUserBank {
		return nil, fmt.Errorf("list %s is not a bank: %w", listID, util.ErrInvalidFilter)
	}
	sy := s.synthByName(info.Synth)
	if sy == nil {
		return nil, fmt.Errorf("cannot load bank of synth %s that is not configured: %w", info.Synth, util.ErrNotFound)
	}
	bankNo := sy.Bank(info.BankNumber)

	var bank *librarian.SynthBank
	if info.Type == librarian.ListTypeSynthBank {
		bank = librarian.NewSynthBank(sy, bankNo, time.UnixMilli(info.LastSynced))
	} else {
		bank = librarian.NewUserBank(info.ID, info.Name, sy, bankNo)
	}
	patches, err := s.listEntries(listID)
	if err != nil {
		return nil, err
	}
	bank.SetPatches(patches)
	return bank, nil
}

func (s *Store) listEntries(listID string) ([]*librarian.PatchHolder, error) {
	rows, err := s.db.Query("SELECT synth, md5 FROM patch_in_list WHERE id = ? ORDER BY order_num", listID)
	if err != nil {
		return nil, wrapStoreError("failed to query list entries", err)
	}
	defer rows.Close()

	type entry struct{ synth, md5 string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.synth, &e.md5); err != nil {
			return nil, wrapStoreError("failed to scan list entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var result []*librarian.PatchHolder
	for _, e := range entries {
		sy := s.synthByName(e.synth)
		if sy == nil {
			util.WarnLog("List %s references synth %s which is not configured, skipping entry", listID, e.synth)
			continue
		}
		holder, err := s.GetSinglePatch(sy, e.md5)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			result = append(result, holder)
		}
	}
	return result, nil
}

// PutPatchList stores a list and its content, overwriting any previous
// content under the same id.
func (s *Store) PutPatchList(list *librarian.PatchList, listType librarian.ListType) error {
	info := ListInfo{ID: list.ID(), Name: list.Name(), BankNumber: -1, Type: listType}
	return s.putList(info, list.Patches())
}

// PutSynthBank stores a bank list with its synth binding
func (s *Store) PutSynthBank(bank *librarian.SynthBank, listType librarian.ListType) error {
	info := ListInfo{
		ID:         bank.ID(),
		Name:       bank.Name(),
		Synth:      bank.Synth().Name,
		BankNumber: bank.BankNumber().ToZeroBased(),
		LastSynced: bank.LastSynced.UnixMilli(),
		Type:       listType,
	}
	return s.putList(info, bank.Patches())
}

func (s *Store) putList(info ListInfo, patches []*librarian.PatchHolder) error {
	return s.Transaction(nil, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRow("SELECT COUNT(*) FROM lists WHERE id = ?", info.ID).Scan(&existing); err != nil {
			return wrapStoreError("failed to check list", err)
		}
		exists := existing > 0
		if exists {
			if _, err := tx.Exec("UPDATE lists SET name = ?, last_synced = ? WHERE id = ?",
				info.Name, info.LastSynced, info.ID); err != nil {
				return wrapStoreError("failed to update list", err)
			}
			// This operation overwrites the content
			if _, err := tx.Exec("DELETE FROM patch_in_list WHERE id = ?", info.ID); err != nil {
				return wrapStoreError("failed to clear list", err)
			}
		} else {
			var synthName, bankNo, lastSynced any
			if info.Synth != "" {
				synthName = info.Synth
				bankNo = info.BankNumber
				lastSynced = info.LastSynced
			}
			if _, err := tx.Exec("INSERT INTO lists (id, name, synth, midi_bank_number, last_synced, list_type) VALUES (?, ?, ?, ?, ?, ?)",
				info.ID, info.Name, synthName, bankNo, lastSynced, int(info.Type)); err != nil {
				return wrapStoreError("failed to insert list", err)
			}
		}

		for i, patch := range patches {
			if patch.Patch == nil {
				// Empty bank slots are not persisted; the bank size
				// restores them on load
				continue
			}
			if err := s.insertListEntry(tx, info.ID, patch.SynthName(), patch.MD5(), i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ensureList(tx *sql.Tx, id, name, synthName string, listType librarian.ListType) error {
	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM lists WHERE id = ?", id).Scan(&count); err != nil {
		return wrapStoreError("failed to check list", err)
	}
	if count > 0 {
		return nil
	}
	var synthCol any
	if synthName != "" {
		synthCol = synthName
	}
	_, err := tx.Exec("INSERT INTO lists (id, name, synth, midi_bank_number, last_synced, list_type) VALUES (?, ?, ?, NULL, NULL, ?)",
		id, name, synthCol, int(listType))
	return wrapStoreError("failed to create list", err)
}

func (s *Store) insertListEntry(tx *sql.Tx, listID, synthName, md5 string, orderNum int) error {
	_, err := tx.Exec("INSERT INTO patch_in_list (id, synth, md5, order_num) VALUES (?, ?, ?, ?)",
		listID, synthName, md5, orderNum)
	return wrapStoreError("failed to insert list entry", err)
}

func (s *Store) appendPatchToList(tx *sql.Tx, listID, synthName, md5 string) error {
	var next int
	if err := tx.QueryRow("SELECT COALESCE(MAX(order_num) + 1, 0) FROM patch_in_list WHERE id = ?", listID).Scan(&next); err != nil {
		return wrapStoreError("failed to determine list end", err)
	}
	return s.insertListEntry(tx, listID, synthName, md5, next)
}

// AddPatchToList inserts a patch at an index, shifting later entries up
func (s *Store) AddPatchToList(listID string, patch *librarian.PatchHolder, insertIndex int) error {
	return s.Transaction(nil, func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE patch_in_list SET order_num = order_num + 1 WHERE id = ? AND order_num >= ?",
			listID, insertIndex); err != nil {
			return wrapStoreError("failed to make room in list", err)
		}
		return s.insertListEntry(tx, listID, patch.SynthName(), patch.MD5(), insertIndex)
	})
}

// MovePatchInList moves an entry to a new index and renumbers
func (s *Store) MovePatchInList(listID string, patch *librarian.PatchHolder, previousIndex, newIndex int) error {
	return s.Transaction(nil, func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE patch_in_list SET order_num = order_num + 1 WHERE id = ? AND order_num >= ?",
			listID, newIndex); err != nil {
			return wrapStoreError("failed to make room in list", err)
		}
		fromIndex := previousIndex
		if newIndex <= previousIndex {
			fromIndex = previousIndex + 1
		}
		if _, err := tx.Exec("UPDATE patch_in_list SET order_num = ? WHERE id = ? AND synth = ? AND md5 = ? AND order_num = ?",
			newIndex, listID, patch.SynthName(), patch.MD5(), fromIndex); err != nil {
			return wrapStoreError("failed to move list entry", err)
		}
		return s.renumList(tx, listID)
	})
}

// RemovePatchFromList deletes one entry and closes the gap
func (s *Store) RemovePatchFromList(listID, synthName, md5 string, orderNum int) error {
	return s.Transaction(nil, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM patch_in_list WHERE id = ? AND synth = ? AND md5 = ? AND order_num = ?",
			listID, synthName, md5, orderNum); err != nil {
			return wrapStoreError("failed to remove list entry", err)
		}
		return s.renumList(tx, listID)
	})
}

// DeletePatchList removes a list and its entries
func (s *Store) DeletePatchList(listID string) error {
	return s.Transaction(nil, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM patch_in_list WHERE id = ?", listID); err != nil {
			return wrapStoreError("failed to delete list entries", err)
		}
		if _, err := tx.Exec("DELETE FROM lists WHERE id = ?", listID); err != nil {
			return wrapStoreError("failed to delete list", err)
		}
		return nil
	})
}

// renumList rewrites order_num as a gap-free 0..n-1 sequence
func (s *Store) renumList(tx *sql.Tx, listID string) error {
	_, err := tx.Exec(`
		WITH po AS (
			SELECT ROWID AS rid, ROW_NUMBER() OVER (ORDER BY order_num) - 1 AS new_order
			FROM patch_in_list WHERE id = ?
		)
		UPDATE patch_in_list SET order_num = (SELECT new_order FROM po WHERE po.rid = patch_in_list.ROWID)
		WHERE id = ?`, listID, listID)
	return wrapStoreError("failed to renumber list", err)
}

// sweepOrphans removes list entries whose patch row is gone
func (s *Store) sweepOrphans(tx *sql.Tx) error {
	_, err := tx.Exec(`
		DELETE FROM patch_in_list WHERE NOT EXISTS (
			SELECT 1 FROM patches
			WHERE patches.md5 = patch_in_list.md5 AND patches.synth = patch_in_list.synth
		)`)
	return wrapStoreError("failed to sweep orphan list entries", err)
}
