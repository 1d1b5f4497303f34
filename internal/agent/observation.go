package agent

import (
	"context"
	"math"
	"strings"

	"github.com/fyrsmithlabs/hived/internal/store"
)

const (
	maxFieldLen       = 500
	defaultScore      = 5.0
	defaultConfidence = 0.5
)

// Agent is a single analysis capability. Implementations live outside
// hived; the daemon only needs an identity and a way to ask for an
// observation on a subject.
type Agent interface {
	ID() string
	Observe(ctx context.Context, subject string) (Observation, error)
}

// Observation is one agent's normalized verdict on a subject.
type Observation struct {
	Subject    string          `json:"subject"`
	Score      float64         `json:"score"`
	Direction  store.Direction `json:"direction"`
	Confidence float64         `json:"confidence"`
	Discovery  string          `json:"discovery"`
	Source     string          `json:"source"`
	Dimension  string          `json:"dimension"`
}

// Normalize clamps every field into its legal range. Non-finite or
// out-of-range numbers fall back to neutral midpoints, unknown directions
// become neutral, and free-text fields are trimmed and bounded.
func Normalize(o Observation) Observation {
	o.Score = cleanScore(o.Score)
	o.Confidence = cleanConfidence(o.Confidence)
	if !o.Direction.Valid() {
		o.Direction = store.Neutral
	}
	o.Subject = cleanString(o.Subject, "")
	o.Discovery = cleanString(o.Discovery, "")
	o.Source = cleanString(o.Source, "Unknown")
	o.Dimension = cleanString(o.Dimension, "unknown")
	return o
}

func cleanScore(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return defaultScore
	}
	return clamp(v, 0, 10)
}

func cleanConfidence(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return defaultConfidence
	}
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func cleanString(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	runes := []rune(s)
	if len(runes) > maxFieldLen {
		return string(runes[:maxFieldLen])
	}
	return s
}
