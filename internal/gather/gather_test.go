package gather

import (
	"testing"
	"time"
)

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("2024-01-02", "2024-03-01")
	if err != nil {
		t.Fatalf("ParseDateRange returned error: %v", err)
	}
	if want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC); !r.Start.Equal(want) {
		t.Errorf("Start = %v, want %v", r.Start, want)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !r.End.Equal(want) {
		t.Errorf("End = %v, want %v", r.End, want)
	}
}

func TestParseDateRangeOpenEnd(t *testing.T) {
	r, err := ParseDateRange("2024-01-02", "")
	if err != nil {
		t.Fatalf("ParseDateRange returned error: %v", err)
	}
	if !r.End.IsZero() {
		t.Errorf("End = %v, want zero", r.End)
	}
}

func TestParseDateRangeInvalid(t *testing.T) {
	cases := [][2]string{
		{"01/02/2024", ""},
		{"2024-01-02", "tomorrow"},
		{"2024-03-01", "2024-01-02"},
	}
	for _, c := range cases {
		if _, err := ParseDateRange(c[0], c[1]); err == nil {
			t.Errorf("ParseDateRange(%q, %q) returned nil error", c[0], c[1])
		}
	}
}
