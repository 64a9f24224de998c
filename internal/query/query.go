// Package query filters, sorts and pages flat rows for list endpoints.
package query

import (
	"cmp"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// Error fields.
const (
	FieldFiltering = "filtering"
	FieldSorting   = "sorting"
)

// Error is the 400 descriptor returned for a malformed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Fields  string `json:"fields"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Fields, e.Message)
}

func badRequest(fields, format string, args ...any) *Error {
	return &Error{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...), Fields: fields}
}

// Meta describes the returned page.
type Meta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalPages  int `json:"total_pages"`
	TotalCount  int `json:"total_count"`
}

// Page is the success envelope.
type Page struct {
	Meta   Meta             `json:"_meta"`
	Result []map[string]any `json:"result"`
}

var filterPattern = regexp.MustCompile(`^(.+?)(<=?|>=?|!=|==)(.+)$`)

// FilterData keeps the rows matching every filter, sorts them and returns
// page (1-based) of count rows; count -1 returns every row. Filters look like
// "col>=5"; sort directives like "+col" or "-col", where the first directive
// is the most significant. A leading "none" disables filtering or sorting.
// Columns are taken from the first row. The returned error is always *Error.
func FilterData(rows []map[string]any, filters, sorting []string, page, count int) (*Page, error) {
	if len(rows) == 0 {
		return paginate(rows, page, count), nil
	}
	columns := rows[0]

	if len(filters) > 0 && filters[0] != "none" {
		var err error
		rows, err = filter(rows, filters, columns)
		if err != nil {
			return nil, err
		}
	}
	if len(sorting) > 0 && sorting[0] != "none" {
		var err error
		rows, err = sortRows(rows, sorting, columns)
		if err != nil {
			return nil, err
		}
	}
	return paginate(rows, page, count), nil
}

type predicate struct {
	column string
	op     string
	value  string
}

func parseFilters(filters []string, columns map[string]any) ([]predicate, error) {
	var out []predicate
	for _, f := range filters {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		m := filterPattern.FindStringSubmatch(f)
		if m == nil {
			return nil, badRequest(FieldFiltering, "Encountered an invalid filter (%s)", f)
		}
		col := strings.TrimSpace(m[1])
		if _, ok := columns[col]; !ok {
			return nil, badRequest(FieldFiltering, "Unknown column name %s", col)
		}
		out = append(out, predicate{column: col, op: m[2], value: strings.TrimSpace(m[3])})
	}
	return out, nil
}

func filter(rows []map[string]any, filters []string, columns map[string]any) ([]map[string]any, error) {
	preds, err := parseFilters(filters, columns)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, p := range preds {
			ok, err := p.match(row[p.column])
			if err != nil {
				return nil, err
			}
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func (p predicate) match(v any) (bool, error) {
	if n, ok := number(v); ok {
		want, err := strconv.ParseFloat(p.value, 64)
		if err != nil {
			return false, badRequest(FieldFiltering, "Column %s is numeric but %q is not a number", p.column, p.value)
		}
		return compareWith(p.op, cmp.Compare(n, want)), nil
	}
	return compareWith(p.op, cmp.Compare(text(v), p.value)), nil
}

func compareWith(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">=":
		return c >= 0
	case ">":
		return c > 0
	}
	return false
}

// number reports whether v is a number or a string holding one. Booleans
// and nil are never numeric.
func number(v any) (float64, bool) {
	switch v.(type) {
	case nil, bool:
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func text(v any) string {
	if v == nil {
		return ""
	}
	return cast.ToString(v)
}

func sortRows(rows []map[string]any, sorting []string, columns map[string]any) ([]map[string]any, error) {
	type directive struct {
		column string
		desc   bool
	}
	dirs := make([]directive, 0, len(sorting))
	for _, s := range sorting {
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "-") {
			return nil, badRequest(FieldSorting,
				"Please indicate which direction you'd like to sort by by putting a + or - in front of the column name")
		}
		col := s[1:]
		if _, ok := columns[col]; !ok {
			return nil, badRequest(FieldSorting, "Unknown column name %s", col)
		}
		dirs = append(dirs, directive{column: col, desc: s[0] == '-'})
	}

	out := append([]map[string]any(nil), rows...)
	// Stable passes from the last directive to the first leave the first
	// directive as the primary key.
	for i := len(dirs) - 1; i >= 0; i-- {
		d := dirs[i]
		sort.SliceStable(out, func(a, b int) bool {
			c := compareValues(out[a][d.column], out[b][d.column])
			if d.desc {
				return c > 0
			}
			return c < 0
		})
	}
	return out, nil
}

// compareValues orders nil first, numbers numerically and everything else
// by its string form. Numbers sort before text.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		}
		return 1
	}
	na, aNum := number(a)
	nb, bNum := number(b)
	switch {
	case aNum && bNum:
		return cmp.Compare(na, nb)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return cmp.Compare(text(a), text(b))
}

func paginate(rows []map[string]any, page, count int) *Page {
	n := len(rows)
	if count < 0 {
		count = n
	}
	if page < 1 {
		page = 1
	}
	totalPages := 0
	if count > 0 {
		totalPages = (n + count - 1) / count
	}
	start := min(count*(page-1), n)
	end := min(count*page, n)
	result := make([]map[string]any, 0, end-start)
	result = append(result, rows[start:end]...)
	return &Page{
		Meta: Meta{
			CurrentPage: page,
			PerPage:     count,
			TotalPages:  totalPages,
			TotalCount:  n,
		},
		Result: result,
	}
}

// ParseList splits a comma separated query parameter, dropping blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
