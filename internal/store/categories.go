package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
	"github.com/franz/sysex-librarian/internal/util"
)

func defaultCategorySeed() []librarian.Category {
	return librarian.DefaultCategories()
}

// Categories returns the category definitions, served from the
// in-memory cache that Open populated. The cache exists so patch row
// loading never has to re-query the table mid-iteration.
func (s *Store) Categories() ([]librarian.Category, error) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	if s.categories == nil {
		cats, err := s.loadCategories()
		if err != nil {
			return nil, err
		}
		s.categories = cats
	}
	return append([]librarian.Category{}, s.categories...), nil
}

// ReloadCategories drops the cache and re-reads the table
func (s *Store) ReloadCategories() error {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	cats, err := s.loadCategories()
	if err != nil {
		return err
	}
	s.categories = cats
	return nil
}

func (s *Store) loadCategories() ([]librarian.Category, error) {
	rows, err := s.db.Query("SELECT bit_index, name, color, active, COALESCE(sort_order, bit_index) FROM categories ORDER BY bit_index")
	if err != nil {
		return nil, wrapStoreError("failed to query categories", err)
	}
	defer rows.Close()

	var result []librarian.Category
	for rows.Next() {
		var c librarian.Category
		var active int
		if err := rows.Scan(&c.BitIndex, &c.Name, &c.Color, &active, &c.SortOrder); err != nil {
			return nil, wrapStoreError("failed to scan category", err)
		}
		c.Active = active != 0
		result = append(result, c)
	}
	return result, rows.Err()
}

// ActiveCategories filters the definitions down to the active ones
func (s *Store) ActiveCategories() ([]librarian.Category, error) {
	all, err := s.Categories()
	if err != nil {
		return nil, err
	}
	var active []librarian.Category
	for _, c := range all {
		if c.Active {
			active = append(active, c)
		}
	}
	return active, nil
}

// NextBitIndex allocates the next free category bit. Bit indexes are
// never reused, so this is simply max+1 up to the 63 category limit.
func (s *Store) NextBitIndex() (int, error) {
	var next sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(bit_index) + 1 FROM categories").Scan(&next); err != nil {
		return -1, wrapStoreError("failed to determine next bit index", err)
	}
	if !next.Valid {
		return 0, nil
	}
	if next.Int64 >= 63 {
		util.WarnLog("You have exhausted the 63 possible categories, no new ones can be created in this database")
		return -1, fmt.Errorf("category bit indexes exhausted: %w", util.ErrInvalidFilter)
	}
	return int(next.Int64), nil
}

// UpdateCategories upserts category definitions by bit index and
// refreshes the cache. Categories are never deleted, only deactivated.
func (s *Store) UpdateCategories(defs []librarian.Category) error {
	err := s.Transaction(nil, func(tx *sql.Tx) error {
		for _, c := range defs {
			var count int
			if err := tx.QueryRow("SELECT COUNT(*) FROM categories WHERE bit_index = ?", c.BitIndex).Scan(&count); err != nil {
				return wrapStoreError("failed to check category", err)
			}
			if count > 0 {
				if _, err := tx.Exec("UPDATE categories SET name = ?, color = ?, active = ?, sort_order = ? WHERE bit_index = ?",
					c.Name, c.Color, boolToInt(c.Active), c.SortOrder, c.BitIndex); err != nil {
					return wrapStoreError("failed to update category", err)
				}
			} else {
				if _, err := tx.Exec("INSERT INTO categories (bit_index, name, color, active, sort_order) VALUES (?, ?, ?, ?, ?)",
					c.BitIndex, c.Name, c.Color, boolToInt(c.Active), c.SortOrder); err != nil {
					return wrapStoreError("failed to insert category", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.ReloadCategories()
}
