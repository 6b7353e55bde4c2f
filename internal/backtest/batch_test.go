package backtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratlab/internal/domain"
	"stratlab/internal/strategy"
)

func TestRunBatch(t *testing.T) {
	bars := map[string][]domain.Bar{"AAA": flat("AAA", 0, 10, 11, 12, 13)}
	bad := DefaultConfig()
	bad.InitialCapital = -1

	jobs := []Job{
		{Name: "hold", Config: DefaultConfig(), Bars: bars, Strategies: ForAll(scripted{}, bars)},
		{Name: "bad", Config: bad, Bars: bars, Strategies: ForAll(scripted{}, bars)},
		{Name: "buy", Config: zeroCost(), Bars: bars, Strategies: ForAll(scripted{0: domain.Buy()}, bars)},
	}
	results := RunBatch(context.Background(), jobs, 2, nil)
	require.Len(t, results, 3)

	assert.Equal(t, "hold", results[0].Name)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 0.0, results[0].Result.TotalReturn)

	var ce *ConfigError
	assert.ErrorAs(t, results[1].Err, &ce)
	assert.Nil(t, results[1].Result)

	require.NoError(t, results[2].Err)
	assert.InDelta(t, 13.0/11.0-1, results[2].Result.TotalReturn, 1e-12)
}

func TestRunBatchCancelled(t *testing.T) {
	bars := map[string][]domain.Bar{"AAA": flat("AAA", 0, 10, 11)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := make([]Job, 4)
	for i := range jobs {
		jobs[i] = Job{Config: DefaultConfig(), Bars: bars, Strategies: ForAll(scripted{}, bars)}
	}
	for _, r := range RunBatch(ctx, jobs, 1, nil) {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Nil(t, r.Result)
	}
}

func TestParamGrid(t *testing.T) {
	grid := ParamGrid(map[string][]float64{"long": {20, 30}, "short": {5, 10}})
	require.Len(t, grid, 4)
	assert.Equal(t, map[string]float64{"long": 20, "short": 5}, grid[0])
	assert.Equal(t, map[string]float64{"long": 20, "short": 10}, grid[1])
	assert.Equal(t, map[string]float64{"long": 30, "short": 10}, grid[3])

	assert.Equal(t, []map[string]float64{{}}, ParamGrid(nil))
}

func TestSweepKeepsGridOrder(t *testing.T) {
	bars := map[string][]domain.Bar{"AAA": flat("AAA", 0, 10, 11, 12, 13)}
	factory := func(p map[string]float64) (strategy.Strategy, error) {
		if p["n"] < 0 {
			return nil, errors.New("negative window")
		}
		return scripted{int(p["n"]): domain.Buy()}, nil
	}
	grid := ParamGrid(map[string][]float64{"n": {0, -1, 1}})

	results := Sweep(context.Background(), zeroCost(), bars, "entry", factory, grid, 2, nil)
	require.Len(t, results, 3)
	assert.Equal(t, "entry(n=0)", results[0].Name)
	assert.Equal(t, "entry(n=-1)", results[1].Name)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "entry(n=1)", results[2].Name)

	require.NoError(t, results[0].Err)
	require.NoError(t, results[2].Err)
	assert.Greater(t, results[0].Result.TotalReturn, results[2].Result.TotalReturn)
}
