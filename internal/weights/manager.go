package weights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/store"
)

// WeightStore is the slice of the durable store the manager needs.
type WeightStore interface {
	Weights(ctx context.Context) ([]store.AgentWeight, error)
	UpsertWeight(ctx context.Context, w store.AgentWeight) error
	AgentAccuracy(ctx context.Context, agentID string, horizon store.Horizon) (store.AccuracyStats, error)
	AgentIDs(ctx context.Context) ([]string, error)
}

// AgentScore is one agent's contribution to a weighted aggregation.
type AgentScore struct {
	AgentID string
	Score   float64
}

// Manager computes, caches and serves per-agent trust weights.
type Manager struct {
	store        WeightStore
	cfg          config.WeightsConfig
	roster       []string
	queryTimeout time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	cache    map[string]float64
	cachedAt time.Time
}

// New creates a weight manager. A nil store is allowed: every agent then
// carries the neutral weight.
func New(ws WeightStore, cfg config.WeightsConfig, roster []string, queryTimeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:        ws,
		cfg:          cfg,
		roster:       roster,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Weights returns the agent id to adjusted weight mapping, served from the
// TTL cache. On a miss the mapping is recomputed from each agent's
// reconciled accuracy and the results upserted back to the store. When the
// store is unreachable the previous cache is served, or the neutral
// default when no cache exists yet.
func (m *Manager) Weights(ctx context.Context) map[string]float64 {
	m.mu.RLock()
	if m.cache != nil && time.Since(m.cachedAt) <= m.cfg.CacheTTL {
		defer m.mu.RUnlock()
		return copyWeights(m.cache)
	}
	m.mu.RUnlock()

	computed, err := m.recompute(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.cache = computed
		m.cachedAt = time.Now()
	} else if m.cache == nil {
		m.logger.Warn("weight computation degraded to neutral defaults", zap.Error(err))
		return m.neutralWeights()
	} else {
		m.logger.Warn("weight refresh failed, serving stale cache", zap.Error(err))
	}
	return copyWeights(m.cache)
}

// Weight returns one agent's adjusted weight, 1.0 for unknown agents.
func (m *Manager) Weight(ctx context.Context, agentID string) float64 {
	if w, ok := m.Weights(ctx)[agentID]; ok {
		return w
	}
	return 1.0
}

// WeightedAverage combines per-agent scores into a trust-weighted mean.
// Should every weight be zero, it falls back to the unweighted arithmetic
// mean rather than dividing by zero. An empty input yields zero.
func (m *Manager) WeightedAverage(ctx context.Context, results []AgentScore) float64 {
	if len(results) == 0 {
		return 0
	}

	weights := m.Weights(ctx)
	var totalScore, totalWeight, plainSum float64
	for _, r := range results {
		w, ok := weights[r.AgentID]
		if !ok {
			w = 1.0
		}
		totalScore += r.Score * w
		totalWeight += w
		plainSum += r.Score
	}
	if totalWeight == 0 {
		return plainSum / float64(len(results))
	}
	return totalScore / totalWeight
}

// RecalculateAll recomputes and persists every known agent's weight,
// replacing the cache. Idempotent: repeated runs upsert the same rows.
// A store-wide failure degrades to the previous cache or neutral defaults;
// the run never fails the caller.
func (m *Manager) RecalculateAll(ctx context.Context) map[string]float64 {
	computed, err := m.recompute(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.logger.Warn("weight recalculation failed", zap.Error(err))
		if m.cache == nil {
			return m.neutralWeights()
		}
		return copyWeights(m.cache)
	}
	m.cache = computed
	m.cachedAt = time.Now()
	return copyWeights(m.cache)
}

// Adjusted applies the trust formula: below the sample threshold the weight
// stays neutral; otherwise accuracy above or below the coin-flip prior
// scales the weight linearly, clamped to the configured bounds. Accuracy
// 0.5 maps to exactly 1.0 regardless of sample count.
func (m *Manager) Adjusted(accuracy float64, sampleCount int) float64 {
	if sampleCount < m.cfg.MinSamples {
		return 1.0
	}
	adjusted := 1.0 + (accuracy-0.5)*m.cfg.Coefficient
	return math.Max(m.cfg.MinWeight, math.Min(m.cfg.MaxWeight, adjusted))
}

// Summary renders a human-readable weight table for reports. Persisted
// rows carry accuracy and sample counts; when the store cannot serve
// them the table falls back to the in-memory weights alone.
func (m *Manager) Summary(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("agent weights:\n")

	if m.store != nil {
		boundCtx, cancel := m.bound(ctx)
		rows, err := m.store.Weights(boundCtx)
		cancel()
		if err == nil && len(rows) > 0 {
			sort.Slice(rows, func(i, j int) bool { return rows[i].AgentID < rows[j].AgentID })
			for _, row := range rows {
				acc := "n/a"
				if row.Accuracy != nil {
					acc = fmt.Sprintf("%.1f%%", *row.Accuracy*100)
				}
				fmt.Fprintf(&b, "  %-24s %5.2fx  accuracy %-6s samples %d\n",
					row.AgentID, row.AdjustedWeight, acc, row.SampleCount)
			}
			return b.String()
		}
	}

	weights := m.Weights(ctx)
	ids := make([]string, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(&b, "  %-24s %5.2fx\n", id, weights[id])
	}
	return b.String()
}

// Invalidate drops the weight cache, forcing a recompute on the next lookup.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cache = nil
	m.cachedAt = time.Time{}
	m.mu.Unlock()
}

// recompute derives every known agent's weight from its accuracy at the
// configured horizon and upserts the result. It errors only when nothing
// could be computed at all; individual agent failures degrade that agent
// to neutral.
func (m *Manager) recompute(ctx context.Context) (map[string]float64, error) {
	if m.store == nil {
		return m.neutralWeights(), nil
	}

	agents := m.knownAgents(ctx)
	if len(agents) == 0 {
		return map[string]float64{}, nil
	}

	horizon := store.Horizon(m.cfg.Horizon)
	computed := make(map[string]float64, len(agents))
	failures := 0
	for _, agentID := range agents {
		stats, err := m.accuracy(ctx, agentID, horizon)
		if err != nil {
			m.logger.Warn("accuracy lookup failed, keeping neutral weight",
				zap.String("agent_id", agentID),
				zap.Error(err))
			computed[agentID] = 1.0
			failures++
			continue
		}

		weight := m.Adjusted(stats.Accuracy, stats.SampleCount)
		computed[agentID] = weight

		if err := m.upsert(ctx, agentID, stats, weight); err != nil {
			m.logger.Warn("weight upsert failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
			continue
		}
		m.logger.Debug("agent weight computed",
			zap.String("agent_id", agentID),
			zap.Float64("accuracy", stats.Accuracy),
			zap.Int("samples", stats.SampleCount),
			zap.Float64("weight", weight))
	}

	// Every lookup failing means the store is down, not that the agents
	// are unknown. Let the caller fall back to its cache.
	if failures == len(agents) {
		return nil, fmt.Errorf("accuracy unavailable for all %d agents", len(agents))
	}
	return computed, nil
}

// knownAgents is the union of the configured roster and every agent the
// store has seen. Order is stable for deterministic logs.
func (m *Manager) knownAgents(ctx context.Context) []string {
	seen := make(map[string]struct{}, len(m.roster))
	ids := make([]string, 0, len(m.roster))
	for _, id := range m.roster {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if m.store != nil {
		boundCtx, cancel := m.bound(ctx)
		stored, err := m.store.AgentIDs(boundCtx)
		cancel()
		if err != nil {
			m.logger.Warn("agent listing failed, using roster only", zap.Error(err))
		}
		for _, id := range stored {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (m *Manager) accuracy(ctx context.Context, agentID string, horizon store.Horizon) (store.AccuracyStats, error) {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	return m.store.AgentAccuracy(ctx, agentID, horizon)
}

func (m *Manager) upsert(ctx context.Context, agentID string, stats store.AccuracyStats, weight float64) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()

	row := store.AgentWeight{
		AgentID:        agentID,
		BaseWeight:     1.0,
		SampleCount:    stats.SampleCount,
		AdjustedWeight: weight,
	}
	if stats.SampleCount > 0 {
		acc := stats.Accuracy
		row.Accuracy = &acc
	}
	return m.store.UpsertWeight(ctx, row)
}

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.queryTimeout > 0 {
		return context.WithTimeout(ctx, m.queryTimeout)
	}
	return ctx, func() {}
}

func (m *Manager) neutralWeights() map[string]float64 {
	weights := make(map[string]float64, len(m.roster))
	for _, id := range m.roster {
		weights[id] = 1.0
	}
	return weights
}

func copyWeights(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
