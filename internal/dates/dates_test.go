package dates

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC) // a Monday

	tests := []struct {
		in      string
		want    time.Time
		dayOnly bool
		wantNil bool
		wantErr bool
	}{
		{in: "", wantNil: true},
		{in: "   ", wantNil: true},
		{in: "2024-07-01", want: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2024-07-01T15:30:00Z", want: time.Date(2024, 7, 1, 15, 30, 0, 0, time.UTC)},
		{in: "2024-07-01 08:15", want: time.Date(2024, 7, 1, 8, 15, 0, 0, time.UTC)},
		{in: "tomorrow", want: time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), dayOnly: true},
		{in: "blorp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.in, err)
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("Parse(%q) = %v, want nil", tt.in, got)
				}
				return
			}
			if got != nil && tt.dayOnly {
				if d := got.Format("2006-01-02"); d != tt.want.Format("2006-01-02") {
					t.Errorf("Parse(%q) day = %s, want %s", tt.in, d, tt.want.Format("2006-01-02"))
				}
				return
			}
			if got == nil || !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
