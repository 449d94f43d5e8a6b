package model

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/spf13/cast"
)

// NormalizeAssignees folds every historical representation of assignedTo
// into a deduplicated list of user ids, preserving first-seen order.
//
// Accepted inputs: nil (no assignees), a single id string, or any list of ids.
// Empty ids are dropped.
func NormalizeAssignees(v any) ([]string, error) {
	out := []string{}
	if v == nil {
		return out, nil
	}

	var raw []any
	switch t := v.(type) {
	case string:
		raw = []any{t}
	default:
		items, ok := remote.ToSlice(v)
		if !ok {
			return nil, fmt.Errorf("assignedTo: unsupported type %T", v)
		}
		raw = items
	}

	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		id, err := cast.ToStringE(item)
		if err != nil {
			return nil, fmt.Errorf("assignedTo: unsupported element type %T", item)
		}
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func (r *fieldReader) assignees(key string) []string {
	ids, err := NormalizeAssignees(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "%v", err))
		return []string{}
	}
	return ids
}

// Contains reports whether id is in ids.
func Contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Diff returns the ids present in next but not prev, and those present in
// prev but not next.
func Diff(prev, next []string) (added, removed []string) {
	for _, id := range next {
		if !Contains(prev, id) {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !Contains(next, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

func stringsToAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
