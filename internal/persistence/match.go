package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"sort"
)

var fieldPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func validateQuery(filters []Filter, page Page) error {
	for _, f := range filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("filter field %q: %w", f.Field, ErrInvalidInput)
		}
		if f.Op != OpEq && f.Op != OpNe {
			return fmt.Errorf("filter op %q: %w", f.Op, ErrInvalidInput)
		}
	}
	for _, o := range page.OrderBy {
		if !fieldPattern.MatchString(o.Field) {
			return fmt.Errorf("order field %q: %w", o.Field, ErrInvalidInput)
		}
	}
	if page.Limit < 0 || page.Offset < 0 {
		return fmt.Errorf("negative page bounds: %w", ErrInvalidInput)
	}
	return nil
}

// fields is a decoded document with numbers kept verbatim.
type fields map[string]any

func decodeFields(data []byte) (fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f fields
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return f, nil
}

func textOf(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (f fields) matches(filters []Filter) bool {
	for _, flt := range filters {
		equal := textOf(f[flt.Field]) == textOf(flt.Value)
		if flt.Op == OpEq && !equal {
			return false
		}
		if flt.Op == OpNe && equal {
			return false
		}
	}
	return true
}

func numericOf(v any) (*big.Rat, bool) {
	if v == nil {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(textOf(v))
	return r, ok
}

// compareField orders numerically when both sides are numbers, else by text.
func compareField(a, b any) int {
	ra, okA := numericOf(a)
	rb, okB := numericOf(b)
	if okA && okB {
		return ra.Cmp(rb)
	}
	ta, tb := textOf(a), textOf(b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	return 0
}

type row struct {
	doc    Document
	fields fields
}

// sortRows orders rows by the page ordering, then by id.
func sortRows(rows []row, orders []Order) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range orders {
			c := compareField(rows[i].fields[o.Field], rows[j].fields[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return rows[i].doc.ID < rows[j].doc.ID
	})
}

func paginate(rows []row, page Page) []Document {
	if page.Offset >= len(rows) {
		return []Document{}
	}
	rows = rows[page.Offset:]
	if page.Limit > 0 && page.Limit < len(rows) {
		rows = rows[:page.Limit]
	}
	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out
}
