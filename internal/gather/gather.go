// Package gather defines the interface implemented by market data gatherers.
package gather

import (
	"context"
	"fmt"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run fetches data and persists it. It returns when the work is done or
	// ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents an inclusive range of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds. An empty end leaves End zero so
// the gatherer can pick the latest finished session itself.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	var err error
	if r.Start, err = time.Parse(time.DateOnly, start); err != nil {
		return r, fmt.Errorf("parsing start date %q: %w", start, err)
	}
	if end == "" {
		return r, nil
	}
	if r.End, err = time.Parse(time.DateOnly, end); err != nil {
		return r, fmt.Errorf("parsing end date %q: %w", end, err)
	}
	if r.End.Before(r.Start) {
		return r, fmt.Errorf("end date %s before start date %s", end, start)
	}
	return r, nil
}
