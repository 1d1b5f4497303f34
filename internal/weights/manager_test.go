package weights

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/store"
)

type fakeWeightStore struct {
	rows     []store.AgentWeight
	accuracy map[string]store.AccuracyStats
	agentIDs []string
	err      error
	upserts  []store.AgentWeight
	accCalls int
}

func (f *fakeWeightStore) Weights(ctx context.Context) ([]store.AgentWeight, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeWeightStore) UpsertWeight(ctx context.Context, w store.AgentWeight) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, w)
	return nil
}

func (f *fakeWeightStore) AgentAccuracy(ctx context.Context, agentID string, horizon store.Horizon) (store.AccuracyStats, error) {
	f.accCalls++
	if f.err != nil {
		return store.AccuracyStats{}, f.err
	}
	if stats, ok := f.accuracy[agentID]; ok {
		return stats, nil
	}
	return store.NeutralAccuracy(), nil
}

func (f *fakeWeightStore) AgentIDs(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agentIDs, nil
}

func testCfg() config.WeightsConfig {
	return config.WeightsConfig{
		MinWeight:   0.3,
		MaxWeight:   3.0,
		MinSamples:  10,
		Coefficient: 2.0,
		CacheTTL:    time.Hour,
		Horizon:     "t7",
	}
}

func TestAdjusted(t *testing.T) {
	m := New(nil, testCfg(), nil, 0, nil)

	tests := []struct {
		name     string
		accuracy float64
		samples  int
		want     float64
	}{
		{"coin flip stays neutral", 0.5, 50, 1.0},
		{"coin flip below threshold", 0.5, 3, 1.0},
		{"accurate agent boosted", 0.8, 20, 1.6},
		{"inaccurate agent dampened", 0.3, 20, 0.6},
		{"below sample threshold ignores accuracy", 0.9, 9, 1.0},
		{"at sample threshold applies", 0.9, 10, 1.8},
		{"perfect accuracy within bound", 1.0, 100, 2.0},
		{"zero accuracy hits floor", 0.0, 100, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.Adjusted(tt.accuracy, tt.samples), 1e-9)
		})
	}
}

func TestAdjustedClampBounds(t *testing.T) {
	cfg := testCfg()
	cfg.Coefficient = 10.0
	m := New(nil, cfg, nil, 0, nil)

	assert.Equal(t, 3.0, m.Adjusted(0.9, 50))
	assert.Equal(t, 0.3, m.Adjusted(0.1, 50))
}

func TestRecalculateAll(t *testing.T) {
	fs := &fakeWeightStore{
		accuracy: map[string]store.AccuracyStats{
			"technical_tina": {Accuracy: 2.0 / 3.0, SampleCount: 12},
			"macro_mike":     {Accuracy: 0.4, SampleCount: 2},
		},
		agentIDs: []string{"technical_tina", "macro_mike"},
	}
	m := New(fs, testCfg(), []string{"technical_tina", "macro_mike", "sentiment_sam"}, time.Second, nil)

	updated := m.RecalculateAll(context.Background())

	require.Len(t, updated, 3)
	assert.InDelta(t, 1.3333, updated["technical_tina"], 1e-3)
	assert.Equal(t, 1.0, updated["macro_mike"], "below sample threshold stays neutral")
	assert.Equal(t, 1.0, updated["sentiment_sam"], "no history stays neutral")

	require.Len(t, fs.upserts, 3)
	byID := make(map[string]store.AgentWeight)
	for _, u := range fs.upserts {
		byID[u.AgentID] = u
	}
	require.NotNil(t, byID["technical_tina"].Accuracy)
	assert.InDelta(t, 2.0/3.0, *byID["technical_tina"].Accuracy, 1e-9)
	assert.Equal(t, 12, byID["technical_tina"].SampleCount)
	assert.Nil(t, byID["sentiment_sam"].Accuracy)
}

func TestRecalculateAllPrimesCache(t *testing.T) {
	fs := &fakeWeightStore{
		accuracy: map[string]store.AccuracyStats{
			"alice": {Accuracy: 0.8, SampleCount: 20},
		},
		agentIDs: []string{"alice"},
	}
	m := New(fs, testCfg(), []string{"alice"}, time.Second, nil)

	m.RecalculateAll(context.Background())
	calls := fs.accCalls

	assert.InDelta(t, 1.6, m.Weight(context.Background(), "alice"), 1e-9)
	assert.Equal(t, calls, fs.accCalls, "lookup after recalculation hits the cache")
}

func TestWeightsRecomputesOnceWithinTTL(t *testing.T) {
	fs := &fakeWeightStore{
		accuracy: map[string]store.AccuracyStats{
			"alice": {Accuracy: 0.8, SampleCount: 20},
		},
	}
	m := New(fs, testCfg(), []string{"alice", "bob"}, time.Second, nil)

	first := m.Weights(context.Background())
	second := m.Weights(context.Background())

	assert.Equal(t, 2, fs.accCalls, "one accuracy lookup per agent, once")
	assert.InDelta(t, 1.6, first["alice"], 1e-9)
	assert.Equal(t, 1.0, first["bob"], "agent without history stays neutral")
	assert.Equal(t, first, second)
	assert.Len(t, fs.upserts, 2, "cache miss persists the recomputed weights")

	m.Invalidate()
	m.Weights(context.Background())
	assert.Equal(t, 4, fs.accCalls)
}

func TestWeightsDegradedStore(t *testing.T) {
	fs := &fakeWeightStore{err: errors.New("disk gone")}
	m := New(fs, testCfg(), []string{"alice"}, time.Second, nil)

	weights := m.Weights(context.Background())
	assert.Equal(t, map[string]float64{"alice": 1.0}, weights)
}

func TestWeightsServesStaleCacheOnFailure(t *testing.T) {
	fs := &fakeWeightStore{
		accuracy: map[string]store.AccuracyStats{
			"alice": {Accuracy: 0.8, SampleCount: 20},
		},
	}
	cfg := testCfg()
	cfg.CacheTTL = 0
	m := New(fs, cfg, []string{"alice"}, time.Second, nil)

	require.InDelta(t, 1.6, m.Weights(context.Background())["alice"], 1e-9)

	fs.err = errors.New("store unavailable")
	assert.InDelta(t, 1.6, m.Weights(context.Background())["alice"], 1e-9,
		"stale cache beats neutral when the refresh fails")
}

func TestRecalculateAllStoreOutage(t *testing.T) {
	fs := &fakeWeightStore{err: errors.New("store unavailable")}
	m := New(fs, testCfg(), []string{"alice"}, time.Second, nil)

	got := m.RecalculateAll(context.Background())
	assert.Equal(t, map[string]float64{"alice": 1.0}, got)
	assert.Empty(t, fs.upserts)
}

func TestWeightNilStore(t *testing.T) {
	m := New(nil, testCfg(), []string{"alice"}, 0, nil)
	assert.Equal(t, 1.0, m.Weight(context.Background(), "alice"))
	assert.Equal(t, 1.0, m.Weight(context.Background(), "stranger"))
}

func TestWeightedAverage(t *testing.T) {
	fs := &fakeWeightStore{
		accuracy: map[string]store.AccuracyStats{
			"alice": {Accuracy: 0.8, SampleCount: 20},
			"bob":   {Accuracy: 0.2, SampleCount: 20},
		},
	}
	m := New(fs, testCfg(), []string{"alice", "bob"}, time.Second, nil)

	got := m.WeightedAverage(context.Background(), []AgentScore{
		{AgentID: "alice", Score: 8},
		{AgentID: "bob", Score: 2},
	})
	// (8*1.6 + 2*0.4) / (1.6 + 0.4)
	assert.InDelta(t, 6.8, got, 1e-9)
}

func TestWeightedAverageUnknownAgentNeutral(t *testing.T) {
	m := New(nil, testCfg(), nil, 0, nil)

	got := m.WeightedAverage(context.Background(), []AgentScore{
		{AgentID: "x", Score: 4},
		{AgentID: "y", Score: 8},
	})
	assert.InDelta(t, 6.0, got, 1e-9)
}

func TestWeightedAverageEmpty(t *testing.T) {
	m := New(nil, testCfg(), nil, 0, nil)
	assert.Zero(t, m.WeightedAverage(context.Background(), nil))
}

func TestWeightedAverageAllZeroWeightsFallsBack(t *testing.T) {
	cfg := testCfg()
	cfg.MinWeight = 0
	fs := &fakeWeightStore{
		accuracy: map[string]store.AccuracyStats{
			"alice": {Accuracy: 0, SampleCount: 20},
			"bob":   {Accuracy: 0, SampleCount: 20},
		},
	}
	m := New(fs, cfg, []string{"alice", "bob"}, time.Second, nil)

	got := m.WeightedAverage(context.Background(), []AgentScore{
		{AgentID: "alice", Score: 4},
		{AgentID: "bob", Score: 8},
	})
	assert.InDelta(t, 6.0, got, 1e-9, "degenerate weights fall back to the plain mean")
}

func TestSummaryFromStoredRows(t *testing.T) {
	acc := 0.8
	fs := &fakeWeightStore{
		rows: []store.AgentWeight{
			{AgentID: "bravo", BaseWeight: 1, AdjustedWeight: 1.0},
			{AgentID: "alpha", BaseWeight: 1, Accuracy: &acc, SampleCount: 20, AdjustedWeight: 1.6},
		},
	}
	m := New(fs, testCfg(), []string{"alpha", "bravo"}, time.Second, nil)

	s := m.Summary(context.Background())
	assert.Contains(t, s, "alpha")
	assert.Contains(t, s, "80.0%")
	assert.Contains(t, s, "samples 20")
	assert.Less(t, strings.Index(s, "alpha"), strings.Index(s, "bravo"))
}

func TestSummaryFallsBackWithoutStore(t *testing.T) {
	m := New(nil, testCfg(), []string{"bravo", "alpha"}, 0, nil)

	s := m.Summary(context.Background())
	assert.Contains(t, s, "alpha")
	assert.Contains(t, s, "bravo")
	assert.Contains(t, s, "1.00x")
}
