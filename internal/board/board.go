package board

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/store"
)

// Signal is one live observation on the board.
type Signal struct {
	Subject      string          `json:"subject"`
	AgentID      string          `json:"agent_id"`
	Discovery    string          `json:"discovery"`
	Source       string          `json:"source"`
	Score        float64         `json:"score"`
	Direction    store.Direction `json:"direction"`
	Strength     float64         `json:"strength"`
	SupportCount int             `json:"support_count"`
	PublishedAt  time.Time       `json:"published_at"`
}

// CompactSignal is the reduced form passed between agents to keep prompt
// sizes down: no discovery text, no source, abbreviated fields.
type CompactSignal struct {
	Agent     string  `json:"a"`
	Subject   string  `json:"t"`
	Direction string  `json:"d"`
	Score     float64 `json:"s"`
	Strength  float64 `json:"p"`
	Support   int     `json:"c"`
}

// Resonance is the result of cross-dimension agreement detection for one
// subject. Agreement only counts when same-direction signals come from
// distinct data dimensions, not from several readings of the same source.
type Resonance struct {
	Detected         bool            `json:"detected"`
	Direction        store.Direction `json:"direction"`
	SupportingAgents int             `json:"supporting_agents"`
	CrossDimCount    int             `json:"cross_dim_count"`
	Dimensions       []string        `json:"dimensions"`
	ConfidenceBoost  int             `json:"confidence_boost"`
}

type key struct {
	subject string
	agentID string
}

// Board is the shared, thread-safe signal blackboard. One Board handle is
// injected into every agent task; there is no package-level instance.
type Board struct {
	cfg    config.BoardConfig
	dims   map[string]string
	logger *zap.Logger

	mu      sync.RWMutex
	signals map[key]Signal

	persist *persister
	now     func() time.Time
}

// Option configures a Board.
type Option func(*Board)

// WithPersistence mirrors every published signal into the given writer,
// asynchronously, tagged with sessionID. Writes are bounded by timeout.
func WithPersistence(w MemoryWriter, sessionID string, timeout time.Duration) Option {
	return func(b *Board) {
		if w != nil {
			b.persist = newPersister(w, sessionID, b.cfg.PersistQueueSize, timeout, b.logger)
		}
	}
}

// WithDimensions sets the agent id to data dimension mapping used by
// resonance detection.
func WithDimensions(dims map[string]string) Option {
	return func(b *Board) { b.dims = dims }
}

// withClock overrides the time source for tests.
func withClock(now func() time.Time) Option {
	return func(b *Board) { b.now = now }
}

// New creates an empty board.
func New(cfg config.BoardConfig, logger *zap.Logger, opts ...Option) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Board{
		cfg:     cfg,
		logger:  logger,
		signals: make(map[key]Signal),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish places sig on the board, overwriting any previous signal from the
// same agent on the same subject. Same-direction signals already live on the
// subject gain support and a strength boost. When persistence is attached
// the signal is queued for a background write; the caller never waits on it.
func (b *Board) Publish(sig Signal) {
	now := b.now()
	sig.PublishedAt = now
	if sig.Strength <= 0 {
		sig.Strength = 1.0
	}
	if sig.Strength > 1.0 {
		sig.Strength = 1.0
	}
	if !sig.Direction.Valid() {
		sig.Direction = store.Neutral
	}

	b.mu.Lock()
	k := key{subject: sig.Subject, agentID: sig.AgentID}
	for ek, e := range b.signals {
		if ek == k || e.Subject != sig.Subject || e.Direction != sig.Direction {
			continue
		}
		// Reinforce agreeing signals: re-pin at the boosted strength so the
		// boost itself decays from now on.
		e.Strength = math.Min(1.0, b.strengthAt(e, now)+0.2)
		e.SupportCount++
		e.PublishedAt = now
		b.signals[ek] = e
		sig.SupportCount++
	}
	b.signals[k] = sig
	b.evictOverCapLocked(now)
	b.mu.Unlock()

	PublishesTotal.WithLabelValues(string(sig.Direction)).Inc()
	LiveSignals.Set(float64(b.Len()))

	if b.persist != nil {
		b.persist.enqueue(store.MemoryEntry{
			Subject:      sig.Subject,
			AgentID:      sig.AgentID,
			Direction:    sig.Direction,
			Discovery:    sig.Discovery,
			Source:       sig.Source,
			Score:        sig.Score,
			Strength:     sig.Strength,
			SupportCount: sig.SupportCount,
			CreatedAt:    now.UTC(),
		})
	}
}

// Snapshot returns a decay-applied copy of all live signals, ordered by
// subject then agent. The internal map is never exposed.
func (b *Board) Snapshot() []Signal {
	now := b.now()
	b.mu.RLock()
	out := make([]Signal, 0, len(b.signals))
	for _, sig := range b.signals {
		sig.Strength = b.strengthAt(sig, now)
		out = append(out, sig)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// CompactSnapshot returns the reduced-field snapshot, optionally filtered by
// subject (empty string means all).
func (b *Board) CompactSnapshot(subject string) []CompactSignal {
	out := make([]CompactSignal, 0)
	for _, sig := range b.Snapshot() {
		if subject != "" && sig.Subject != subject {
			continue
		}
		agent := sig.AgentID
		if len(agent) > 8 {
			agent = agent[:8]
		}
		out = append(out, CompactSignal{
			Agent:     agent,
			Subject:   sig.Subject,
			Direction: string(sig.Direction[:1]),
			Score:     math.Round(sig.Score*10) / 10,
			Strength:  math.Round(sig.Strength*100) / 100,
			Support:   sig.SupportCount,
		})
	}
	return out
}

// TopSignals returns the n strongest live signals, optionally filtered by
// subject (empty string means all), strongest first.
func (b *Board) TopSignals(subject string, n int) []Signal {
	now := b.now()
	b.mu.RLock()
	out := make([]Signal, 0, len(b.signals))
	for _, sig := range b.signals {
		if subject != "" && sig.Subject != subject {
			continue
		}
		sig.Strength = b.strengthAt(sig, now)
		out = append(out, sig)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// DetectResonance checks whether the subject's dominant direction is backed
// by signals from at least three distinct data dimensions.
func (b *Board) DetectResonance(subject string) Resonance {
	b.mu.RLock()
	var bullish, bearish []Signal
	for _, sig := range b.signals {
		if sig.Subject != subject {
			continue
		}
		switch sig.Direction {
		case store.Bullish:
			bullish = append(bullish, sig)
		case store.Bearish:
			bearish = append(bearish, sig)
		}
	}
	b.mu.RUnlock()

	dominant := store.Bullish
	entries := bullish
	if len(bearish) > len(bullish) {
		dominant = store.Bearish
		entries = bearish
	}

	dimSet := make(map[string]struct{})
	for _, e := range entries {
		dim, ok := b.dims[e.AgentID]
		if !ok || dim == "contrarian" {
			continue
		}
		dimSet[dim] = struct{}{}
	}
	dims := make([]string, 0, len(dimSet))
	for d := range dimSet {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	res := Resonance{
		Direction:        dominant,
		SupportingAgents: len(entries),
		CrossDimCount:    len(dims),
		Dimensions:       dims,
	}
	if len(dims) >= 3 {
		res.Detected = true
		if boost := 5 * len(dims); boost < 20 {
			res.ConfidenceBoost = boost
		} else {
			res.ConfidenceBoost = 20
		}
	}
	return res
}

// Sweep prunes signals that have sat below the strength floor for longer
// than the grace period, returning the number removed. Decay itself is
// applied lazily on every read; Sweep only reclaims dead entries.
func (b *Board) Sweep() int {
	now := b.now()
	cutoff := now.Add(-b.cfg.PruneGrace)

	b.mu.Lock()
	pruned := 0
	for k, sig := range b.signals {
		if b.strengthAt(sig, cutoff) < b.cfg.MinStrength {
			delete(b.signals, k)
			pruned++
		}
	}
	b.mu.Unlock()

	if pruned > 0 {
		SweepPrunedTotal.Add(float64(pruned))
		b.logger.Debug("board sweep", zap.Int("pruned", pruned))
	}
	LiveSignals.Set(float64(b.Len()))
	return pruned
}

// Len returns the current number of live signals.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.signals)
}

// Clear removes all live signals. Queued persistence writes are unaffected.
func (b *Board) Clear() {
	b.mu.Lock()
	b.signals = make(map[key]Signal)
	b.mu.Unlock()
	LiveSignals.Set(0)
}

// Close flushes pending background writes, waiting up to the persister's
// write timeout before abandoning them.
func (b *Board) Close() error {
	if b.persist != nil {
		b.persist.close()
	}
	return nil
}

// strengthAt computes sig's decayed strength at time t, floored at zero.
func (b *Board) strengthAt(sig Signal, t time.Time) float64 {
	elapsed := t.Sub(sig.PublishedAt)
	if elapsed <= 0 {
		return sig.Strength
	}
	half := b.cfg.DecayHalfLife
	if half <= 0 {
		return sig.Strength
	}

	var s float64
	switch b.cfg.DecayMode {
	case "linear":
		// Reaches half strength at one half-life, zero at two.
		s = sig.Strength * (1 - 0.5*float64(elapsed)/float64(half))
	default:
		s = sig.Strength * math.Exp2(-float64(elapsed)/float64(half))
	}
	if s < 0 {
		return 0
	}
	return s
}

// evictOverCapLocked drops the weakest signals while over capacity.
// A non-positive capacity leaves the board uncapped (config defaults 0 to
// 256; -1 is the explicit uncapped setting). Caller holds the write lock.
func (b *Board) evictOverCapLocked(now time.Time) {
	if b.cfg.MaxEntries <= 0 {
		return
	}
	for len(b.signals) > b.cfg.MaxEntries {
		var weakest key
		weakestStrength := math.Inf(1)
		for k, sig := range b.signals {
			if s := b.strengthAt(sig, now); s < weakestStrength {
				weakestStrength = s
				weakest = k
			}
		}
		delete(b.signals, weakest)
	}
}
