package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/hived/internal/board"
	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/store"
	"github.com/fyrsmithlabs/hived/internal/weights"
)

type stubAgent struct {
	id  string
	obs Observation
	err error
}

func (s stubAgent) ID() string { return s.id }

func (s stubAgent) Observe(ctx context.Context, subject string) (Observation, error) {
	if s.err != nil {
		return Observation{}, s.err
	}
	return s.obs, nil
}

type meanScorer struct{}

func (meanScorer) WeightedAverage(ctx context.Context, results []weights.AgentScore) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

func testBoard() *board.Board {
	return board.New(config.BoardConfig{
		DecayMode:     "exponential",
		DecayHalfLife: time.Hour,
		MinStrength:   0.2,
		MaxEntries:    64,
	}, nil, board.WithDimensions(map[string]string{
		"tina": "technical",
		"sam":  "sentiment",
		"fred": "fundamental",
	}))
}

func TestSwarmRun(t *testing.T) {
	agents := []Agent{
		stubAgent{id: "tina", obs: Observation{Score: 8, Direction: store.Bullish, Confidence: 0.9, Dimension: "technical"}},
		stubAgent{id: "sam", obs: Observation{Score: 6, Direction: store.Bullish, Confidence: 0.7, Dimension: "sentiment"}},
		stubAgent{id: "fred", obs: Observation{Score: 7, Direction: store.Bullish, Confidence: 0.8, Dimension: "fundamental"}},
	}
	b := testBoard()
	s := NewSwarm(agents, b, meanScorer{}, time.Second, nil)

	reports := s.Run(context.Background(), []string{"AAPL", "TSLA"})

	require.Len(t, reports, 2)
	aapl := reports["AAPL"]
	assert.Equal(t, "AAPL", aapl.Subject)
	require.Len(t, aapl.Observations, 3)
	assert.Equal(t, []string{"AAPL", "AAPL", "AAPL"}, []string{
		aapl.Observations[0].Subject, aapl.Observations[1].Subject, aapl.Observations[2].Subject,
	})
	assert.InDelta(t, 7.0, aapl.FinalScore, 1e-9)
	assert.Equal(t, store.Bullish, aapl.Direction)

	assert.True(t, aapl.Resonance.Detected, "three agreeing dimensions resonate")
	assert.Equal(t, 3, aapl.Resonance.CrossDimCount)

	assert.Equal(t, 6, b.Len(), "every observation lands on the board")
}

func TestSwarmRunAgentFailureSkipped(t *testing.T) {
	agents := []Agent{
		stubAgent{id: "tina", obs: Observation{Score: 8, Direction: store.Bullish, Confidence: 0.9}},
		stubAgent{id: "broken", err: errors.New("feed down")},
	}
	s := NewSwarm(agents, testBoard(), nil, time.Second, nil)

	reports := s.Run(context.Background(), []string{"AAPL"})

	require.Len(t, reports["AAPL"].Observations, 1)
	assert.Equal(t, 8.0, reports["AAPL"].FinalScore)
}

func TestSwarmRunAllAgentsFail(t *testing.T) {
	agents := []Agent{stubAgent{id: "broken", err: errors.New("feed down")}}
	s := NewSwarm(agents, nil, nil, time.Second, nil)

	reports := s.Run(context.Background(), []string{"AAPL"})

	require.Contains(t, reports, "AAPL")
	assert.Empty(t, reports["AAPL"].Observations)
	assert.Zero(t, reports["AAPL"].FinalScore)
	assert.Equal(t, store.Neutral, reports["AAPL"].Direction)
}

func TestSwarmRunNormalizesObservations(t *testing.T) {
	agents := []Agent{
		stubAgent{id: "tina", obs: Observation{Score: 42, Direction: "sideways", Confidence: 3}},
	}
	s := NewSwarm(agents, nil, nil, time.Second, nil)

	reports := s.Run(context.Background(), []string{"AAPL"})

	obs := reports["AAPL"].Observations[0]
	assert.Equal(t, 10.0, obs.Score)
	assert.Equal(t, store.Neutral, obs.Direction)
	assert.Equal(t, 1.0, obs.Confidence)
}

type captureRecorder struct {
	saved []store.SessionSummary
	err   error
}

func (c *captureRecorder) SaveSession(ctx context.Context, summary store.SessionSummary) error {
	if c.err != nil {
		return c.err
	}
	c.saved = append(c.saved, summary)
	return nil
}

func TestSwarmRunRecordsSession(t *testing.T) {
	agents := []Agent{
		stubAgent{id: "tina", obs: Observation{Score: 8, Direction: store.Bullish, Confidence: 0.9, Dimension: "technical"}},
		stubAgent{id: "sam", obs: Observation{Score: 4, Direction: store.Bearish, Confidence: 0.6, Dimension: "sentiment"}},
	}
	rec := &captureRecorder{}
	s := NewSwarm(agents, testBoard(), nil, time.Second, nil,
		WithSessionRecorder(rec, "2026-08-30_scan_abc123", "scan"))

	s.Run(context.Background(), []string{"AAPL", "TSLA"})

	require.Len(t, rec.saved, 1)
	summary := rec.saved[0]
	assert.Equal(t, "2026-08-30_scan_abc123", summary.SessionID)
	assert.Equal(t, "scan", summary.RunMode)
	assert.ElementsMatch(t, []string{"AAPL", "TSLA"}, summary.Subjects)
	assert.NotEmpty(t, summary.TopSubject)
	assert.Equal(t, 6.0, summary.TopScore)
	assert.NotEmpty(t, summary.BoardSnapshot)
}

func TestSwarmRunRecorderFailureSwallowed(t *testing.T) {
	agents := []Agent{
		stubAgent{id: "tina", obs: Observation{Score: 8, Direction: store.Bullish, Confidence: 0.9}},
	}
	rec := &captureRecorder{err: errors.New("disk gone")}
	s := NewSwarm(agents, nil, nil, time.Second, nil,
		WithSessionRecorder(rec, "sid", "scan"))

	reports := s.Run(context.Background(), []string{"AAPL"})
	assert.Equal(t, 8.0, reports["AAPL"].FinalScore)
}

func TestDominantDirection(t *testing.T) {
	tests := []struct {
		name string
		dirs []store.Direction
		want store.Direction
	}{
		{"bullish majority", []store.Direction{store.Bullish, store.Bullish, store.Bearish}, store.Bullish},
		{"bearish majority", []store.Direction{store.Bearish, store.Bearish, store.Neutral}, store.Bearish},
		{"tie is neutral", []store.Direction{store.Bullish, store.Bearish}, store.Neutral},
		{"empty is neutral", nil, store.Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := make([]Observation, len(tt.dirs))
			for i, d := range tt.dirs {
				obs[i] = Observation{Direction: d}
			}
			assert.Equal(t, tt.want, dominantDirection(obs))
		})
	}
}
