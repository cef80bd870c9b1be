package search

import (
	"testing"
	"time"
)

var now = time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantName  string
		wantCell  string
		wantAfter string
		wantLimit int
	}{
		{"plain words", "formation cycle", "formation cycle", "", "", 0},
		{"cell filter", "cell:B12 aging", "aging", "B12", "", 0},
		{"iso date", "after:2024-05-01", "", "", "2024-05-01", 0},
		{"date alias", "date:2024/05/03 pulse", "pulse", "", "2024-05-03", 0},
		{"limit", "limit:5", "", "", "", 5},
		{"bad limit kept out", "limit:x", "", "", "", 0},
		{"unknown prefix stays in name", "note:hot", "note:hot", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parseQuery(tt.query, now)
			if f.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", f.Name, tt.wantName)
			}
			if f.CellRef != tt.wantCell {
				t.Errorf("CellRef = %q, want %q", f.CellRef, tt.wantCell)
			}
			if tt.wantAfter != "" {
				if !f.HasAfter {
					t.Fatalf("expected after date to be set")
				}
				if got := f.After.Format("2006-01-02"); got != tt.wantAfter {
					t.Errorf("After = %s, want %s", got, tt.wantAfter)
				}
			}
			if f.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", f.Limit, tt.wantLimit)
			}
		})
	}
}

func TestParseQuery_NaturalLanguage(t *testing.T) {
	f := parseQuery("before:yesterday machine:ch-3", now)
	if !f.HasBefore {
		t.Fatal("expected before date from 'yesterday'")
	}
	if got := f.Before.Format("2006-01-02"); got != "2024-06-11" {
		t.Errorf("Before = %s, want 2024-06-11", got)
	}
	if f.Machine != "ch-3" {
		t.Errorf("Machine = %q", f.Machine)
	}
	if f.Name != "" {
		t.Errorf("Name = %q, want empty", f.Name)
	}
}

func TestParseQuery_UnparseableDate(t *testing.T) {
	f := parseQuery("after:notadate", now)
	if f.HasAfter {
		t.Errorf("expected no after date, got %v", f.After)
	}
}
