package sqlq

import (
	"fmt"
	"strings"
)

// allRows is the type of the All marker.
type allRows struct{}

// All is the explicit opt-in for an UPDATE or DELETE that touches every row.
// Passing nil where a WHERE argument is expected is an error; passing All
// states the intent and omits the clause.
var All allRows

// BuildInsert composes `INSERT INTO `t` SET `a` = 1,`b` = 'x'` from a table
// name and a column→value mapping. Values go through the instance transform
// table before generic escaping. Columns are emitted in lexical order. An
// empty mapping returns ErrEmptyValues.
func (d *DB) BuildInsert(table string, values map[string]any) (string, error) {
	set, err := buildSet(values, d.config.Transforms)
	if err != nil {
		return "", fmt.Errorf("%w: INSERT INTO %s", err, table)
	}
	return "INSERT INTO " + QuoteIdentifier(table) + " SET " + set, nil
}

// BuildUpdate composes `UPDATE `t` SET ... WHERE ...`. The where argument is
// required: a map becomes an AND-joined clause, a string passes through
// unchanged, All omits the clause (updating every row), and nil returns
// ErrMissingWhere.
func (d *DB) BuildUpdate(table string, values map[string]any, where any) (string, error) {
	set, err := buildSet(values, d.config.Transforms)
	if err != nil {
		return "", fmt.Errorf("%w: UPDATE %s", err, table)
	}
	clause, err := whereClause(where)
	if err != nil {
		return "", err
	}
	q := "UPDATE " + QuoteIdentifier(table) + " SET " + set
	if clause != "" {
		q += " " + clause
	}
	return q, nil
}

// BuildDelete composes `DELETE FROM `t` WHERE ...`. The where argument
// follows the same rules as BuildUpdate, including the All marker for a
// whole-table delete.
func (d *DB) BuildDelete(table string, where any) (string, error) {
	clause, err := whereClause(where)
	if err != nil {
		return "", err
	}
	q := "DELETE FROM " + QuoteIdentifier(table)
	if clause != "" {
		q += " " + clause
	}
	return q, nil
}

// BuildWhere renders a WHERE clause. A map yields `WHERE `a` = 1 AND `b` = 2`
// with generically escaped values (the transform table is never consulted
// here) and columns in lexical order. A string is returned verbatim — the
// caller owns its safety. Any other type returns ErrBadWhere.
func BuildWhere(cond any) (string, error) {
	switch c := cond.(type) {
	case string:
		return c, nil
	case map[string]any:
		if len(c) == 0 {
			return "", fmt.Errorf("%w: empty condition map", ErrBadWhere)
		}
		var b strings.Builder
		b.WriteString("WHERE ")
		for i, col := range sortedKeys(c) {
			if i > 0 {
				b.WriteString(" AND ")
			}
			lit, err := escapeValue(c[col])
			if err != nil {
				return "", fmt.Errorf("condition %s: %w", col, err)
			}
			b.WriteString(QuoteIdentifier(col))
			b.WriteString(" = ")
			b.WriteString(lit)
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: %T (want map[string]any, string or sqlq.All)", ErrBadWhere, cond)
	}
}

// whereClause resolves the where argument of the builders, enforcing the
// explicit all-rows opt-in.
func whereClause(where any) (string, error) {
	switch where.(type) {
	case nil:
		return "", ErrMissingWhere
	case allRows:
		return "", nil
	}
	return BuildWhere(where)
}

// buildSet renders the `col` = literal list shared by INSERT and UPDATE.
func buildSet(values map[string]any, transforms []Transform) (string, error) {
	if len(values) == 0 {
		return "", ErrEmptyValues
	}
	lits, err := transformValues(values, transforms)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, col := range sortedKeys(values) {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(QuoteIdentifier(col))
		b.WriteString(" = ")
		b.WriteString(lits[col])
	}
	return b.String(), nil
}
