package remote

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpArrayContains Op = "array-contains"
	OpIn            Op = "in"
)

// Filter restricts a query to documents whose Field satisfies Op against Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where is shorthand for building a Filter.
func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// String renders the filter for logs and scope keys.
func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

// Query describes a filtered, optionally ordered and limited read.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// String renders the query for logs and scope keys.
func (q Query) String() string {
	parts := make([]string, 0, len(q.Filters)+2)
	for _, f := range q.Filters {
		parts = append(parts, f.String())
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		parts = append(parts, "order "+q.OrderBy+" "+dir)
	}
	if q.Limit > 0 {
		parts = append(parts, fmt.Sprintf("limit %d", q.Limit))
	}
	return strings.Join(parts, ", ")
}

// Validate checks that every filter uses a known operator.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("filter field is required")
		}
		switch f.Op {
		case OpEqual, OpNotEqual, OpArrayContains:
		case OpIn:
			if _, ok := ToSlice(f.Value); !ok {
				return fmt.Errorf("filter %s: in requires a list value", f.Field)
			}
		default:
			return fmt.Errorf("filter %s: unsupported operator %q", f.Field, f.Op)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative (got %d)", q.Limit)
	}
	return nil
}

// Matches reports whether doc satisfies the filter.
func (f Filter) Matches(doc Document) bool {
	value, ok := lookup(doc, f.Field)
	switch f.Op {
	case OpEqual:
		return ok && equal(value, f.Value)
	case OpNotEqual:
		return !ok || !equal(value, f.Value)
	case OpArrayContains:
		if !ok {
			return false
		}
		items, ok := ToSlice(value)
		if !ok {
			return false
		}
		for _, item := range items {
			if equal(item, f.Value) {
				return true
			}
		}
		return false
	case OpIn:
		if !ok {
			return false
		}
		candidates, ok := ToSlice(f.Value)
		if !ok {
			return false
		}
		for _, c := range candidates {
			if equal(value, c) {
				return true
			}
		}
		return false
	}
	return false
}

// Apply filters, orders and limits docs in memory. Stores without native
// query support use it to answer Query and to compute subscription snapshots.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		matched := true
		for _, f := range q.Filters {
			if !f.Matches(doc) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, doc)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := lookup(out[i], q.OrderBy)
			b, _ := lookup(out[j], q.OrderBy)
			if q.Descending {
				return less(b, a)
			}
			return less(a, b)
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func lookup(doc Document, field string) (any, bool) {
	if field == "id" || field == "_id" {
		return doc.ID, true
	}
	v, ok := doc.Fields[field]
	return v, ok
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}
	return reflect.DeepEqual(a, b)
}

func less(a, b any) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Before(tb)
		}
	}
	if isNumber(a) && isNumber(b) {
		return cast.ToFloat64(a) < cast.ToFloat64(b)
	}
	return cast.ToString(a) < cast.ToString(b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// ToSlice converts any slice or array value to []any.
func ToSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
