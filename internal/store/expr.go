package store

import "strings"

// exprType discriminates the SQL expression tree nodes
type exprType int

const (
	exprAtom exprType = iota
	exprAnd
	exprOr
)

// sqlExpr is a small boolean expression tree. Filters are compiled
// into it and rendered to SQL exactly once at the bottom of the stack,
// with named parameters bound separately.
type sqlExpr struct {
	typ      exprType
	atom     string
	children []sqlExpr
}

func atom(sql string) sqlExpr {
	return sqlExpr{typ: exprAtom, atom: sql}
}

func and(children ...sqlExpr) sqlExpr {
	return sqlExpr{typ: exprAnd, children: compact(children)}
}

func or(children ...sqlExpr) sqlExpr {
	return sqlExpr{typ: exprOr, children: compact(children)}
}

// compact drops empty nodes so optional clauses can just be omitted
func compact(children []sqlExpr) []sqlExpr {
	result := make([]sqlExpr, 0, len(children))
	for _, c := range children {
		if c.isEmpty() {
			continue
		}
		result = append(result, c)
	}
	return result
}

func (e sqlExpr) isEmpty() bool {
	switch e.typ {
	case exprAtom:
		return e.atom == ""
	default:
		return len(e.children) == 0
	}
}

// render writes the expression as SQL
func (e sqlExpr) render() string {
	var sb strings.Builder
	e.renderTo(&sb)
	return sb.String()
}

func (e sqlExpr) renderTo(sb *strings.Builder) {
	switch e.typ {
	case exprAtom:
		sb.WriteString(e.atom)
	case exprAnd, exprOr:
		if len(e.children) == 0 {
			return
		}
		if len(e.children) == 1 {
			e.children[0].renderTo(sb)
			return
		}
		op := " AND "
		if e.typ == exprOr {
			op = " OR "
		}
		sb.WriteString("(")
		for i, child := range e.children {
			if i > 0 {
				sb.WriteString(op)
			}
			child.renderTo(sb)
		}
		sb.WriteString(")")
	}
}
