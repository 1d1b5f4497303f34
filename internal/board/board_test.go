package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/store"
)

func testBoardConfig() config.BoardConfig {
	return config.BoardConfig{
		DecayMode:        "exponential",
		DecayHalfLife:    time.Hour,
		MinStrength:      0.2,
		PruneGrace:       time.Hour,
		MaxEntries:       16,
		PersistQueueSize: 16,
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func signal(subject, agentID string, dir store.Direction, strength float64) Signal {
	return Signal{
		Subject:   subject,
		AgentID:   agentID,
		Direction: dir,
		Discovery: "test discovery",
		Source:    "test",
		Score:     6.0,
		Strength:  strength,
	}
}

func TestPublishLastWriteWins(t *testing.T) {
	b := New(testBoardConfig(), nil)

	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
	b.Publish(signal("NVDA", "sentiment", store.Bearish, 0.8))

	snap := b.Snapshot()
	require.Len(t, snap, 1, "same (subject, agent) key must overwrite")
	assert.Equal(t, store.Bearish, snap[0].Direction)
	assert.InDelta(t, 0.8, snap[0].Strength, 1e-9)
}

func TestPublishReinforcesAgreement(t *testing.T) {
	clock := newFakeClock()
	b := New(testBoardConfig(), nil, withClock(clock.Now))

	b.Publish(signal("NVDA", "sentiment", store.Bullish, 0.5))
	b.Publish(signal("NVDA", "options", store.Bullish, 1.0))

	snap := b.Snapshot()
	require.Len(t, snap, 2)

	byAgent := map[string]Signal{}
	for _, s := range snap {
		byAgent[s.AgentID] = s
	}
	assert.InDelta(t, 0.7, byAgent["sentiment"].Strength, 1e-9, "agreeing signal gains +0.2")
	assert.Equal(t, 1, byAgent["sentiment"].SupportCount)
	assert.Equal(t, 1, byAgent["options"].SupportCount)

	// Opposing direction must not reinforce.
	b.Publish(signal("NVDA", "crowding", store.Bearish, 1.0))
	for _, s := range b.Snapshot() {
		if s.AgentID == "sentiment" {
			assert.InDelta(t, 0.7, s.Strength, 1e-9)
		}
	}
}

func TestDecayMonotonicity(t *testing.T) {
	for _, mode := range []string{"exponential", "linear"} {
		t.Run(mode, func(t *testing.T) {
			clock := newFakeClock()
			cfg := testBoardConfig()
			cfg.DecayMode = mode
			b := New(cfg, nil, withClock(clock.Now))

			b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))

			prev := 1.0
			for i := 0; i < 10; i++ {
				clock.Advance(30 * time.Minute)
				snap := b.Snapshot()
				require.Len(t, snap, 1)
				cur := snap[0].Strength
				assert.LessOrEqual(t, cur, prev, "strength must never increase with time")
				assert.GreaterOrEqual(t, cur, 0.0, "strength must never go negative")
				prev = cur
			}
			assert.Less(t, prev, 0.05, "strength must converge toward zero")
		})
	}
}

func TestDecayHalfLife(t *testing.T) {
	clock := newFakeClock()
	b := New(testBoardConfig(), nil, withClock(clock.Now))

	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
	clock.Advance(time.Hour)

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.InDelta(t, 0.5, snap[0].Strength, 1e-9, "one half-life halves the strength")
}

func TestSweepPrunesAfterGrace(t *testing.T) {
	clock := newFakeClock()
	cfg := testBoardConfig()
	cfg.DecayMode = "linear" // reaches zero at two half-lives
	b := New(cfg, nil, withClock(clock.Now))

	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))

	// Below the floor but within the grace period: still visible.
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 0, b.Sweep())
	assert.Equal(t, 1, b.Len())

	// Past the grace period: pruned.
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, b.Sweep())
	assert.Equal(t, 0, b.Len())
}

func TestEvictionOverCap(t *testing.T) {
	clock := newFakeClock()
	cfg := testBoardConfig()
	cfg.MaxEntries = 2
	b := New(cfg, nil, withClock(clock.Now))

	b.Publish(signal("A", "x", store.Neutral, 0.3))
	b.Publish(signal("B", "x", store.Neutral, 0.9))
	b.Publish(signal("C", "x", store.Neutral, 0.8))

	assert.Equal(t, 2, b.Len())
	for _, s := range b.Snapshot() {
		assert.NotEqual(t, "A", s.Subject, "weakest signal must be evicted")
	}
}

func TestUncappedBoardKeepsEverySignal(t *testing.T) {
	cfg := testBoardConfig()
	cfg.MaxEntries = -1
	b := New(cfg, nil)

	for i := 0; i < 50; i++ {
		b.Publish(signal(fmt.Sprintf("S%02d", i), "x", store.Neutral, 0.5))
	}
	assert.Equal(t, 50, b.Len())
}

func TestSnapshotIsCopy(t *testing.T) {
	b := New(testBoardConfig(), nil)
	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))

	snap := b.Snapshot()
	snap[0].Strength = 0.0
	snap[0].Subject = "mutated"

	again := b.Snapshot()
	require.Len(t, again, 1)
	assert.Equal(t, "NVDA", again[0].Subject)
	assert.InDelta(t, 1.0, again[0].Strength, 0.01)
}

func TestConcurrentPublish(t *testing.T) {
	b := New(testBoardConfig(), nil)

	var wg sync.WaitGroup
	subjects := []string{"A", "B", "C", "D"}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s := signal(subjects[n%len(subjects)], "agent", store.Bullish, 1.0)
				b.Publish(s)
				b.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, len(subjects), b.Len())
}

func TestDetectResonance(t *testing.T) {
	dims := map[string]string{
		"sentiment": "sentiment",
		"options":   "odds",
		"insider":   "signal",
		"crowding":  "signal", // same dimension as insider
		"shortbook": "contrarian",
	}
	b := New(testBoardConfig(), nil, WithDimensions(dims))

	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
	b.Publish(signal("NVDA", "insider", store.Bullish, 1.0))
	b.Publish(signal("NVDA", "crowding", store.Bullish, 1.0))

	// Three agents but only two distinct dimensions: no resonance.
	res := b.DetectResonance("NVDA")
	assert.False(t, res.Detected)
	assert.Equal(t, 2, res.CrossDimCount)
	assert.Equal(t, store.Bullish, res.Direction)

	// A third dimension tips it over.
	b.Publish(signal("NVDA", "options", store.Bullish, 1.0))
	res = b.DetectResonance("NVDA")
	assert.True(t, res.Detected)
	assert.Equal(t, 3, res.CrossDimCount)
	assert.Equal(t, []string{"odds", "sentiment", "signal"}, res.Dimensions)
	assert.Equal(t, 15, res.ConfidenceBoost)

	// Contrarian agents never create resonance.
	b.Clear()
	b.Publish(signal("NVDA", "shortbook", store.Bearish, 1.0))
	res = b.DetectResonance("NVDA")
	assert.False(t, res.Detected)
	assert.Equal(t, 0, res.CrossDimCount)
}

// captureWriter records saved entries and optionally fails or blocks.
type captureWriter struct {
	mu      sync.Mutex
	entries []store.MemoryEntry
	session string
	err     error
	block   chan struct{}
}

func (w *captureWriter) SaveMemory(ctx context.Context, entry store.MemoryEntry, sessionID string) (string, error) {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return "", w.err
	}
	w.entries = append(w.entries, entry)
	w.session = sessionID
	return entry.MemoryID, nil
}

func (w *captureWriter) saved() []store.MemoryEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]store.MemoryEntry(nil), w.entries...)
}

func TestAsyncPersistence(t *testing.T) {
	w := &captureWriter{}
	b := New(testBoardConfig(), nil, WithPersistence(w, "sess-42", time.Second))

	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
	b.Publish(signal("AMD", "options", store.Bearish, 0.7))
	require.NoError(t, b.Close())

	entries := w.saved()
	require.Len(t, entries, 2)
	assert.Equal(t, "sess-42", w.session)
	assert.Equal(t, "NVDA", entries[0].Subject)
	assert.Equal(t, store.Bullish, entries[0].Direction)
}

func TestPersistenceFailureDoesNotPropagate(t *testing.T) {
	w := &captureWriter{err: errors.Join(store.ErrUnavailable, errors.New("disk gone"))}
	b := New(testBoardConfig(), nil, WithPersistence(w, "sess", time.Second))

	// Publish must not panic or block despite every write failing.
	for i := 0; i < 10; i++ {
		b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
	}
	require.NoError(t, b.Close())
	assert.Equal(t, 1, b.Len())
}

func TestPersistenceQueueDropsWhenFull(t *testing.T) {
	w := &captureWriter{block: make(chan struct{})}
	cfg := testBoardConfig()
	cfg.PersistQueueSize = 1
	b := New(cfg, nil, WithPersistence(w, "sess", 100*time.Millisecond))

	// First publish occupies the worker, second fills the queue, the rest
	// must drop without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full persistence queue")
	}

	close(w.block)
	require.NoError(t, b.Close())
}

func TestBoardWithoutPersistence(t *testing.T) {
	b := New(testBoardConfig(), nil)
	b.Publish(signal("NVDA", "sentiment", store.Bullish, 1.0))
	require.NoError(t, b.Close())
	assert.Equal(t, 1, b.Len())
}
