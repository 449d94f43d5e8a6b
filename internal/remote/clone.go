package remote

// CloneFields deep-copies a field map so callers cannot alias stored state.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices inside a document value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = CloneFields(item)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: CloneFields(d.Fields)}
}
