// Package dates parses the due and start dates users type, either as
// timestamps or as natural language ("next friday", "in 3 days").
package dates

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse reads s relative to now. Empty input yields nil. Dates without a
// time of day are interpreted in now's location.
func Parse(s string, now time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}

	r, err := parser.Parse(s, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("unrecognized date %q", s)
	}
	t := r.Time.UTC()
	return &t, nil
}
