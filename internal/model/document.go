package model

import (
	"errors"
	"strings"
	"time"

	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/spf13/cast"
)

// fieldReader pulls typed values out of a raw field map, collecting every
// problem instead of stopping at the first one.
type fieldReader struct {
	fields map[string]any
	prefix string
	parent *fieldReader
	errs   []error
}

func newReader(fields map[string]any) *fieldReader {
	return &fieldReader{fields: fields}
}

func (r *fieldReader) child(fields map[string]any, prefix string) *fieldReader {
	return &fieldReader{fields: fields, prefix: r.prefix + prefix, parent: r}
}

func (r *fieldReader) name(key string) string {
	return r.prefix + key
}

func (r *fieldReader) fail(err error) {
	if r.parent != nil {
		r.parent.fail(err)
		return
	}
	r.errs = append(r.errs, err)
}

func (r *fieldReader) err() error {
	return errors.Join(r.errs...)
}

func (r *fieldReader) present(key string) bool {
	v, ok := r.fields[key]
	return ok && v != nil
}

func (r *fieldReader) requiredString(key string) string {
	if !r.present(key) {
		r.fail(missing(r.name(key)))
		return ""
	}
	s, err := cast.ToStringE(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected string"))
		return ""
	}
	if strings.TrimSpace(s) == "" {
		r.fail(missing(r.name(key)))
	}
	return s
}

func (r *fieldReader) optionalString(key string) string {
	if !r.present(key) {
		return ""
	}
	s, err := cast.ToStringE(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected string"))
	}
	return s
}

func (r *fieldReader) optionalInt(key string) int {
	if !r.present(key) {
		return 0
	}
	n, err := cast.ToIntE(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected integer"))
	}
	return n
}

func (r *fieldReader) optionalInt64(key string) int64 {
	if !r.present(key) {
		return 0
	}
	n, err := cast.ToInt64E(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected integer"))
	}
	return n
}

func (r *fieldReader) optionalFloat(key string) float64 {
	if !r.present(key) {
		return 0
	}
	f, err := cast.ToFloat64E(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected number"))
	}
	return f
}

func (r *fieldReader) optionalBool(key string) bool {
	if !r.present(key) {
		return false
	}
	b, err := cast.ToBoolE(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected bool"))
	}
	return b
}

func (r *fieldReader) requiredTime(key string) time.Time {
	if !r.present(key) {
		r.fail(missing(r.name(key)))
		return time.Time{}
	}
	t, err := cast.ToTimeE(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected timestamp"))
	}
	return t.UTC()
}

func (r *fieldReader) optionalTime(key string) *time.Time {
	if !r.present(key) {
		return nil
	}
	t, err := cast.ToTimeE(r.fields[key])
	if err != nil {
		r.fail(invalid(r.name(key), "expected timestamp"))
		return nil
	}
	t = t.UTC()
	return &t
}

func (r *fieldReader) stringList(key string) []string {
	if !r.present(key) {
		return []string{}
	}
	items, ok := remote.ToSlice(r.fields[key])
	if !ok {
		r.fail(invalid(r.name(key), "expected list"))
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := cast.ToStringE(item)
		if err != nil {
			r.fail(invalid(r.name(key), "expected list of strings"))
			continue
		}
		out = append(out, s)
	}
	return out
}

// objects returns the embedded array stored under key as a list of maps.
func (r *fieldReader) objects(key string) []map[string]any {
	if !r.present(key) {
		return nil
	}
	items, ok := remote.ToSlice(r.fields[key])
	if !ok {
		r.fail(invalid(r.name(key), "expected list"))
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			r.fail(invalid(r.name(key), "expected list of objects"))
			continue
		}
		out = append(out, m)
	}
	return out
}

func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
