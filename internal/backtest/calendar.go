package backtest

import (
	"sort"
	"time"

	"stratlab/internal/domain"
)

// Calendar is the sorted union of the bar timestamps of every asset in a
// run.
type Calendar []time.Time

// UnifiedCalendar builds the calendar of series.
func UnifiedCalendar(series map[string][]domain.Bar) Calendar {
	seen := make(map[int64]time.Time)
	for _, bars := range series {
		for _, b := range bars {
			seen[b.Timestamp.UnixNano()] = b.Timestamp
		}
	}
	cal := make(Calendar, 0, len(seen))
	for _, ts := range seen {
		cal = append(cal, ts)
	}
	sort.Slice(cal, func(i, j int) bool { return cal[i].Before(cal[j]) })
	return cal
}

// Index returns the slot of ts, or -1.
func (c Calendar) Index(ts time.Time) int {
	i := sort.Search(len(c), func(i int) bool { return !c[i].Before(ts) })
	if i < len(c) && c[i].Equal(ts) {
		return i
	}
	return -1
}

// AlignedSeries is one asset's bars reindexed onto a Calendar.
type AlignedSeries struct {
	Bars []domain.Bar
	// Present is false for slots before the asset's first bar.
	Present []bool
	// Source maps each slot to the index of the asset's own bar on that
	// date, or -1 for forward-filled and absent slots.
	Source []int
}

// Align reindexes sorted bars onto cal. Slots without a bar of their own
// repeat the previous bar's O/H/L/C with zero volume; slots before the
// first bar stay absent.
func Align(cal Calendar, bars []domain.Bar) AlignedSeries {
	out := AlignedSeries{
		Bars:    make([]domain.Bar, len(cal)),
		Present: make([]bool, len(cal)),
		Source:  make([]int, len(cal)),
	}
	j := 0
	var last *domain.Bar
	for i, ts := range cal {
		out.Source[i] = -1
		for j < len(bars) && bars[j].Timestamp.Before(ts) {
			j++
		}
		if j < len(bars) && bars[j].Timestamp.Equal(ts) {
			out.Bars[i] = bars[j]
			out.Present[i] = true
			out.Source[i] = j
			last = &bars[j]
			continue
		}
		if last == nil {
			continue
		}
		filled := *last
		filled.Timestamp = ts
		filled.Volume = 0
		filled.TradeCount = 0
		out.Bars[i] = filled
		out.Present[i] = true
	}
	return out
}

// Sanitize returns a copy of bars sorted by timestamp with duplicate
// timestamps removed; the last occurrence wins.
func Sanitize(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	n := 0
	for i := range out {
		if n > 0 && out[n-1].Timestamp.Equal(out[i].Timestamp) {
			out[n-1] = out[i]
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}
