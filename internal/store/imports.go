package store

import (
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/util"
)

// ImportInfo describes one import list of a synth with its patch count
type ImportInfo struct {
	ID         string
	Name       string
	PatchCount int
}

// ImportsForSynth lists every import of a synth, oldest first by row
// order, with the number of patches each one brought in.
func (s *Store) ImportsForSynth(synthName string) ([]ImportInfo, error) {
	rows, err := s.db.Query(`
		SELECT lists.id, lists.name, COUNT(pil.md5) AS patch_count
		FROM lists
		LEFT JOIN patch_in_list AS pil ON lists.id = pil.id
		WHERE lists.list_type = ? AND lists.synth = ?
		GROUP BY lists.id
		ORDER BY lists.ROWID`, librarian.ListTypeImport, synthName)
	if err != nil {
		return nil, wrapStoreError("failed to query imports", err)
	}
	defer rows.Close()

	var result []ImportInfo
	for rows.Next() {
		var info ImportInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.PatchCount); err != nil {
			return nil, wrapStoreError("failed to scan import", err)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// RenameImport gives an import list a new display name
func (s *Store) RenameImport(synthName, importID, newName string) error {
	result, err := s.db.Exec("UPDATE lists SET name = ? WHERE id = ? AND synth = ? AND list_type = ?",
		newName, importID, synthName, librarian.ListTypeImport)
	if err != nil {
		return wrapStoreError("failed to rename import", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return wrapStoreError("failed to rename import", err)
	}
	if rows == 0 {
		return fmt.Errorf("import %s: %w", importID, util.ErrNotFound)
	}
	if rows > 1 {
		return fmt.Errorf("import rename matched %d rows, database inconsistent", rows)
	}
	return nil
}
