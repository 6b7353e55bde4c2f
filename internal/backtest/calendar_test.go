package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/domain"
)

func TestUnifiedCalendarAndAlign(t *testing.T) {
	a := flat("AAA", 0, 10, 11, 12, 13, 14)
	b := []domain.Bar{
		{Symbol: "BBB", Timestamp: day(1), Open: 20, High: 22, Low: 19, Close: 21, Volume: 500, TradeCount: 7},
		{Symbol: "BBB", Timestamp: day(3), Open: 23, High: 24, Low: 22, Close: 23, Volume: 600},
	}
	cal := UnifiedCalendar(map[string][]domain.Bar{"AAA": a, "BBB": b})
	require.Len(t, cal, 5)
	assert.Equal(t, day(0), cal[0])
	assert.Equal(t, 3, cal.Index(day(3)))
	assert.Equal(t, -1, cal.Index(day(9)))

	al := Align(cal, b)
	assert.Equal(t, []bool{false, true, true, true, true}, al.Present)
	assert.Equal(t, []int{-1, 0, -1, 1, -1}, al.Source)

	filled := al.Bars[2]
	assert.Equal(t, day(2), filled.Timestamp)
	assert.Equal(t, 20.0, filled.Open)
	assert.Equal(t, 22.0, filled.High)
	assert.Equal(t, 19.0, filled.Low)
	assert.Equal(t, 21.0, filled.Close)
	assert.Equal(t, int64(0), filled.Volume)
	assert.Equal(t, int64(0), filled.TradeCount)
	assert.Equal(t, 23.0, al.Bars[4].Close)
}

func TestSanitizeSortsAndDeduplicates(t *testing.T) {
	in := []domain.Bar{
		{Timestamp: day(2), Close: 3},
		{Timestamp: day(0), Close: 1},
		{Timestamp: day(2), Close: 4},
		{Timestamp: day(1), Close: 2},
	}
	out := Sanitize(in)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{1, 2, 4}, []float64{out[0].Close, out[1].Close, out[2].Close})
	assert.Equal(t, 3.0, in[0].Close, "input must not be modified")
}
