package retriever

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/config"
	"github.com/fyrsmithlabs/hived/internal/store"
)

// MemorySource is the slice of the durable store the retriever reads.
type MemorySource interface {
	RecentMemories(ctx context.Context, subject string, windowDays, limit int) ([]store.MemoryEntry, error)
}

// Match pairs a retrieved memory with its similarity to the query.
type Match struct {
	Memory     store.MemoryEntry `json:"memory"`
	Similarity float64           `json:"similarity"`
}

type document struct {
	entry store.MemoryEntry
	vec   map[string]float64
	norm  float64
}

type corpus struct {
	docs []document
	idf  map[string]float64
}

// Retriever performs TF-IDF similarity search over a subject's recent
// memories, with a per-subject TTL cache of built corpora.
type Retriever struct {
	source       MemorySource
	memCfg       config.MemoryConfig
	cfg          config.RetrieverConfig
	queryTimeout time.Duration
	logger       *zap.Logger
	cache        *gocache.Cache
}

// New creates a retriever over source. A nil source is allowed and yields
// empty results for every query (persistence disabled).
func New(source MemorySource, memCfg config.MemoryConfig, cfg config.RetrieverConfig, queryTimeout time.Duration, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		source:       source,
		memCfg:       memCfg,
		cfg:          cfg,
		queryTimeout: queryTimeout,
		logger:       logger,
		cache:        gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// FindSimilar returns up to topK memories for subject whose TF-IDF cosine
// similarity to query clears minSimilarity, most similar first, ties broken
// by recency. topK <= 0 and minSimilarity <= 0 fall back to configured
// defaults. An empty corpus, a query sharing no terms with the corpus, or an
// unavailable store all yield an empty slice, never an error.
func (r *Retriever) FindSimilar(ctx context.Context, query, subject string, topK int, minSimilarity float64) []Match {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if minSimilarity <= 0 {
		minSimilarity = r.cfg.MinSimilarity
	}

	c := r.corpusFor(ctx, subject)
	if len(c.docs) == 0 {
		return []Match{}
	}

	qVec, qNorm := vectorize(tokenize(query), c.idf)
	if qNorm == 0 {
		// No query term appears in the corpus: zero similarity to
		// everything, excluded by the floor.
		return []Match{}
	}

	matches := make([]Match, 0, len(c.docs))
	for _, doc := range c.docs {
		sim := cosine(qVec, qNorm, doc.vec, doc.norm)
		if sim >= minSimilarity {
			matches = append(matches, Match{Memory: doc.entry, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Memory.CreatedAt.After(matches[j].Memory.CreatedAt)
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// ContextSummary builds a short digest of the subject's recent history for
// injection into agent prompts, or an empty string when there is none.
// Memories created after asOf are excluded; a zero asOf means now.
func (r *Retriever) ContextSummary(ctx context.Context, subject string, asOf time.Time) string {
	memories := r.recentMemories(ctx, subject, 10)
	if len(memories) == 0 {
		return ""
	}

	var bullish, bearish int
	var bullishScore, bearishScore float64
	for _, m := range memories {
		if !asOf.IsZero() && m.CreatedAt.After(asOf) {
			continue
		}
		switch m.Direction {
		case store.Bullish:
			bullish++
			bullishScore += m.Score
		case store.Bearish:
			bearish++
			bearishScore += m.Score
		}
	}

	var parts []string
	if bullish > 0 {
		parts = append(parts, fmt.Sprintf("%d bullish signals (avg %.1f/10)", bullish, bullishScore/float64(bullish)))
	}
	if bearish > 0 {
		parts = append(parts, fmt.Sprintf("%d bearish signals (avg %.1f/10)", bearish, bearishScore/float64(bearish)))
	}
	if len(parts) == 0 {
		return ""
	}

	summary := "historical context: " + strings.Join(parts, " | ")
	if runes := []rune(summary); len(runes) > r.cfg.MaxContextChars {
		summary = string(runes[:r.cfg.MaxContextChars])
	}
	return summary
}

// Invalidate drops the cached corpus for one subject, forcing a rebuild on
// the next query.
func (r *Retriever) Invalidate(subject string) {
	r.cache.Delete(subject)
}

// InvalidateAll drops every cached corpus.
func (r *Retriever) InvalidateAll() {
	r.cache.Flush()
}

// corpusFor returns the subject's corpus, building and caching it on miss.
// Store failures yield an empty, uncached corpus so the next query retries.
func (r *Retriever) corpusFor(ctx context.Context, subject string) corpus {
	if cached, ok := r.cache.Get(subject); ok {
		return cached.(corpus)
	}

	memories := r.recentMemories(ctx, subject, r.memCfg.QueryLimit)
	c := buildCorpus(memories)
	if len(memories) > 0 {
		r.cache.SetDefault(subject, c)
	}
	return c
}

func (r *Retriever) recentMemories(ctx context.Context, subject string, limit int) []store.MemoryEntry {
	if r.source == nil {
		return nil
	}
	if r.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
	}
	memories, err := r.source.RecentMemories(ctx, subject, r.memCfg.RetentionDays, limit)
	if err != nil {
		r.logger.Warn("memory retrieval degraded",
			zap.String("subject", subject),
			zap.Error(err))
		return nil
	}
	return memories
}

// buildCorpus tokenizes the documents and computes idf and per-document
// TF-IDF vectors. idf(t) = log(N / df(t)) with df floored at one.
func buildCorpus(memories []store.MemoryEntry) corpus {
	if len(memories) == 0 {
		return corpus{}
	}

	docTokens := make([][]string, len(memories))
	df := make(map[string]int)
	for i, m := range memories {
		tokens := tokenize(m.Discovery + " " + m.Source)
		docTokens[i] = tokens
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(memories))
	idf := make(map[string]float64, len(df))
	for tok, freq := range df {
		if freq < 1 {
			freq = 1
		}
		idf[tok] = math.Log(n / float64(freq))
	}

	docs := make([]document, len(memories))
	for i, m := range memories {
		vec, norm := vectorize(docTokens[i], idf)
		docs[i] = document{entry: m, vec: vec, norm: norm}
	}
	return corpus{docs: docs, idf: idf}
}

// vectorize builds a TF-IDF weight vector over the corpus vocabulary.
// Tokens outside the vocabulary are ignored.
func vectorize(tokens []string, idf map[string]float64) (map[string]float64, float64) {
	vec := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		if _, known := idf[tok]; known {
			vec[tok]++
		}
	}
	var sumSquares float64
	for tok := range vec {
		vec[tok] *= idf[tok]
		sumSquares += vec[tok] * vec[tok]
	}
	return vec, math.Sqrt(sumSquares)
}

func cosine(a map[string]float64, aNorm float64, b map[string]float64, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for tok, w := range a {
		if bw, ok := b[tok]; ok {
			dot += w * bw
		}
	}
	return dot / (aNorm * bNorm)
}
