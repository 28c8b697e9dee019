package database

import (
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default size and clamps out-of-range values.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Filter accumulates AND-ed WHERE conditions with numbered placeholders. Conditions are written
// with "?" and renumbered to $n as they are added.
type Filter struct {
	conds []string
	args  []any
}

// Add appends a condition. Each "?" in cond consumes one arg.
func (f *Filter) Add(cond string, args ...any) {
	var b strings.Builder
	next := 0
	for _, r := range cond {
		if r == '?' && next < len(args) {
			f.args = append(f.args, args[next])
			next++
			b.WriteString("$" + strconv.Itoa(len(f.args)))
			continue
		}
		b.WriteRune(r)
	}
	f.conds = append(f.conds, b.String())
}

// Visible is the soft-delete rule: a row is shown when it is active or the caller asked for
// inactive rows too. Filter.Active and ActiveOnly render it in SQL; lookups that load the row
// first, from the cache or under a row lock, call it directly.
func Visible(isActive, includeInactive bool) bool {
	return isActive || includeInactive
}

// Active hides soft-deleted rows unless includeInactive is set.
func (f *Filter) Active(column string, includeInactive bool) {
	if Visible(false, includeInactive) {
		return
	}
	f.conds = append(f.conds, column+" = TRUE")
}

// Where renders " WHERE ..." or an empty string.
func (f *Filter) Where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// Paginate appends LIMIT/OFFSET placeholders for p and returns the SQL suffix.
func (f *Filter) Paginate(p Page) string {
	p = p.Normalize()
	f.args = append(f.args, p.Limit, p.Offset)
	return " LIMIT $" + strconv.Itoa(len(f.args)-1) + " OFFSET $" + strconv.Itoa(len(f.args))
}

// Args returns the positional arguments collected so far.
func (f *Filter) Args() []any {
	return f.args
}

// ActiveOnly renders the soft-delete predicate for single-row lookups.
func ActiveOnly(column string, includeInactive bool) string {
	var f Filter
	f.Active(column, includeInactive)
	if len(f.conds) == 0 {
		return ""
	}
	return " AND " + f.conds[0]
}

// Contains escapes s for use in an ILIKE '%s%' pattern.
func Contains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
