package store

import (
	"database/sql"
	"fmt"

	"github.com/franz/sysex-librarian/internal/librarian"
)

// Ordering selects how a query result is sorted
type Ordering int

const (
	OrderNone Ordering = iota
	OrderByName
	OrderByImport
	OrderByPlaceInList
	OrderByProgramNo
	OrderByBankNo
)

// PatchFilter describes one catalog query. Zero values mean "no
// restriction"; the visibility booleans combine as documented on
// compileWhere.
type PatchFilter struct {
	// Synths restricts to these synth names; empty means no restriction
	Synths []string

	ImportID string
	ListID   string
	// Name is a substring matched against name, comment, author, info
	Name string

	OnlyType bool
	TypeID   int

	OnlyFaves     bool
	ShowHidden    bool
	ShowRegular   bool
	ShowUndecided bool

	OnlyUntagged bool
	// Categories restricts by category membership
	Categories librarian.CategorySet
	// AndCategories requires all categories instead of any
	AndCategories bool

	OnlyDuplicateNames bool

	OrderBy Ordering
}

// NewPatchFilter creates a filter over the given synths
func NewPatchFilter(synths ...string) PatchFilter {
	return PatchFilter{Synths: synths, OrderBy: OrderByImport}
}

// TurnOnAll widens the visibility flags so every patch matches,
// favorites, undecided and hidden alike.
func (f *PatchFilter) TurnOnAll() {
	f.OnlyFaves = true
	f.ShowHidden = true
	f.ShowUndecided = true
}

// compiled is the rendered query fragment with its named bindings
type compiled struct {
	cte     string
	join    string
	where   string
	orderBy string
	args    []any
}

// needsListJoin reports whether the filter touches patch_in_list
func (f PatchFilter) needsListJoin() bool {
	return f.ImportID != "" || f.ListID != "" || f.OrderBy == OrderByPlaceInList
}

// compile translates the filter to SQL once. The where clause is built
// as an expression tree and rendered at the very end; all values are
// named parameters.
func (f PatchFilter) compile(needsCollate bool) compiled {
	var c compiled
	var clauses []sqlExpr

	if len(f.Synths) > 0 {
		var synthClauses []sqlExpr
		for i, name := range f.Synths {
			param := fmt.Sprintf("S%02d", i)
			synthClauses = append(synthClauses, atom("patches.synth = :"+param))
			c.args = append(c.args, sql.Named(param, name))
		}
		clauses = append(clauses, or(synthClauses...))
	}

	if f.ImportID != "" {
		clauses = append(clauses, atom("patch_in_list.id = :SID"))
		c.args = append(c.args, sql.Named("SID", f.ImportID))
	}
	if f.ListID != "" {
		clauses = append(clauses, atom("patch_in_list.id = :LID"))
		c.args = append(c.args, sql.Named("LID", f.ListID))
	}
	if f.Name != "" {
		like := "(patches.name LIKE :NAM OR comment LIKE :NAM OR author LIKE :NAM OR info LIKE :NAM)"
		if needsCollate {
			like += " COLLATE NOCASE"
		}
		clauses = append(clauses, atom(like))
		c.args = append(c.args, sql.Named("NAM", "%"+f.Name+"%"))
	}
	if f.OnlyType {
		clauses = append(clauses, atom("type = :TYP"))
		c.args = append(c.args, sql.Named("TYP", f.TypeID))
	}

	clauses = append(clauses, f.visibilityExpr())

	if f.OnlyUntagged {
		clauses = append(clauses, atom("categories = 0"))
	} else if len(f.Categories) > 0 {
		if f.AndCategories {
			clauses = append(clauses, atom("(categories & :CAT) = :CAT"))
		} else {
			clauses = append(clauses, atom("(categories & :CAT) != 0"))
		}
		c.args = append(c.args, sql.Named("CAT", f.Categories.Bitfield()))
	}
	if f.OnlyDuplicateNames {
		clauses = append(clauses, atom("patches_count.count > 1"))
	}

	where := and(clauses...)
	if where.isEmpty() {
		c.where = ""
	} else {
		c.where = " WHERE " + where.render()
	}

	c.cte = f.compileCTE()
	c.join = f.compileJoin(false)
	c.orderBy = f.compileOrder()
	return c
}

// visibilityExpr combines the visibility flags: the selected positive
// classes are OR-combined, and as long as hidden patches were not
// explicitly requested the complement hidden=0 is AND-combined. With
// no flag set the result is just the visible set.
func (f PatchFilter) visibilityExpr() sqlExpr {
	var positives []sqlExpr
	if f.OnlyFaves {
		positives = append(positives, atom("favorite = 1"))
	}
	if f.ShowHidden {
		positives = append(positives, atom("hidden = 1"))
	}
	if f.ShowRegular {
		positives = append(positives, atom("regular = 1"))
	}
	if f.ShowUndecided {
		positives = append(positives, atom("(favorite IS NULL OR favorite != 1)"))
	}

	var negatives []sqlExpr
	if !f.ShowHidden {
		negatives = append(negatives, atom("(hidden IS NULL OR hidden != 1)"))
	}

	return and(or(positives...), and(negatives...))
}

func (f PatchFilter) compileJoin(outer bool) string {
	join := ""
	kind := " INNER JOIN "
	if outer {
		kind = " LEFT JOIN "
	}
	if f.needsListJoin() || outer {
		join += kind + "patch_in_list ON patches.md5 = patch_in_list.md5 AND patches.synth = patch_in_list.synth"
	}
	if f.OnlyDuplicateNames {
		join += kind + "patches_count ON patches.synth = patches_count.synth AND patches.name = patches_count.dup_name"
	}
	return join
}

func (f PatchFilter) compileCTE() string {
	if f.OnlyDuplicateNames {
		return `WITH patches_count AS (
  SELECT synth, name AS dup_name, COUNT(*) AS count
  FROM patches
  GROUP BY synth, name
) `
	}
	return ""
}

func (f PatchFilter) compileOrder() string {
	switch f.OrderBy {
	case OrderNone:
		return ""
	case OrderByName:
		return " ORDER BY patches.name, midi_bank_no, midi_program_no"
	case OrderByImport:
		// Imports share their provenance display string, so it groups
		// a result the same way the import list would
		return " ORDER BY patches.source_name, midi_bank_no, midi_program_no"
	case OrderByPlaceInList:
		return " ORDER BY order_num"
	case OrderByProgramNo:
		return " ORDER BY midi_program_no, patches.name"
	case OrderByBankNo:
		return " ORDER BY midi_bank_no, midi_program_no, patches.name"
	default:
		return ""
	}
}
