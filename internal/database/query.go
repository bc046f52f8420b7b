package database

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", apperrors.Validation(fmt.Sprintf("invalid identifier %q", name))
	}
	return `"` + name + `"`, nil
}

// sqlQuery accumulates a statement with $n placeholders.
type sqlQuery struct {
	b    strings.Builder
	args []any
	// arrayArg wraps slice values for "= ANY($n)"; pgx takes slices as-is.
	arrayArg func(any) any
}

func (q *sqlQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *sqlQuery) String() string { return q.b.String() }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (q *sqlQuery) where(filter map[string]any) error {
	if len(filter) == 0 {
		return nil
	}
	var parts []string
	for _, k := range sortedKeys(filter) {
		col, err := quoteIdent(k)
		if err != nil {
			return err
		}
		v := filter[k]
		switch {
		case v == nil:
			parts = append(parts, col+" IS NULL")
		case isList(v):
			if q.arrayArg != nil {
				v = q.arrayArg(v)
			}
			parts = append(parts, fmt.Sprintf("%s = ANY(%s)", col, q.arg(v)))
		default:
			parts = append(parts, fmt.Sprintf("%s = %s", col, q.arg(sqlArg(v))))
		}
	}
	q.b.WriteString(" WHERE " + strings.Join(parts, " AND "))
	return nil
}

func isList(v any) bool {
	switch v.(type) {
	case []byte:
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Slice
}

func buildSelect(table string, opts QueryOptions, arrayArg func(any) any) (*sqlQuery, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	cols := "*"
	if len(opts.Select) > 0 {
		quoted := make([]string, 0, len(opts.Select))
		for _, c := range opts.Select {
			qc, err := quoteIdent(c)
			if err != nil {
				return nil, err
			}
			quoted = append(quoted, qc)
		}
		cols = strings.Join(quoted, ", ")
	}

	q := &sqlQuery{arrayArg: arrayArg}
	q.b.WriteString(fmt.Sprintf("SELECT %s FROM %s", cols, tbl))
	if err := q.where(opts.Filter); err != nil {
		return nil, err
	}
	if len(opts.Sort) > 0 {
		var order []string
		for _, s := range opts.Sort {
			col, err := quoteIdent(s.Field)
			if err != nil {
				return nil, err
			}
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			order = append(order, col+" "+dir)
		}
		q.b.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if opts.Limit > 0 {
		q.b.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.b.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q, nil
}

func buildCount(table string, filter map[string]any, arrayArg func(any) any) (*sqlQuery, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	q := &sqlQuery{arrayArg: arrayArg}
	q.b.WriteString("SELECT COUNT(*) FROM " + tbl)
	if err := q.where(filter); err != nil {
		return nil, err
	}
	return q, nil
}

// buildInsert writes one multi-row INSERT over the union of all columns.
func buildInsert(table string, rows []Record, value func(any) any) (*sqlQuery, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	colSet := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			colSet[k] = struct{}{}
		}
	}
	cols := sortedKeys(colSet)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if quoted[i], err = quoteIdent(c); err != nil {
			return nil, err
		}
	}

	q := &sqlQuery{}
	if len(cols) == 0 {
		q.b.WriteString(fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", tbl))
		return q, nil
	}
	q.b.WriteString(fmt.Sprintf("INSERT INTO %s (%s) VALUES ", tbl, strings.Join(quoted, ", ")))
	for i, r := range rows {
		if i > 0 {
			q.b.WriteString(", ")
		}
		ph := make([]string, len(cols))
		for j, c := range cols {
			v, ok := r[c]
			if !ok {
				ph[j] = "DEFAULT"
				continue
			}
			ph[j] = q.arg(value(v))
		}
		q.b.WriteString("(" + strings.Join(ph, ", ") + ")")
	}
	q.b.WriteString(" RETURNING *")
	return q, nil
}

func buildUpdate(table string, data Record, filter map[string]any, returning bool, value func(any) any, arrayArg func(any) any) (*sqlQuery, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, apperrors.Validation("no fields to update")
	}
	q := &sqlQuery{arrayArg: arrayArg}
	var sets []string
	for _, k := range sortedKeys(data) {
		if k == "id" {
			continue
		}
		col, err := quoteIdent(k)
		if err != nil {
			return nil, err
		}
		sets = append(sets, fmt.Sprintf("%s = %s", col, q.arg(value(data[k]))))
	}
	if len(sets) == 0 {
		return nil, apperrors.Validation("no fields to update")
	}
	q.b.WriteString(fmt.Sprintf("UPDATE %s SET %s", tbl, strings.Join(sets, ", ")))
	if err := q.where(filter); err != nil {
		return nil, err
	}
	if returning {
		q.b.WriteString(" RETURNING *")
	}
	return q, nil
}

func buildDelete(table string, filter map[string]any, arrayArg func(any) any) (*sqlQuery, error) {
	tbl, err := quoteIdent(table)
	if err != nil {
		return nil, err
	}
	q := &sqlQuery{arrayArg: arrayArg}
	q.b.WriteString("DELETE FROM " + tbl)
	if err := q.where(filter); err != nil {
		return nil, err
	}
	return q, nil
}
