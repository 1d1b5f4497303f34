package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Direction is an agent's directional call on a subject.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case Bullish, Bearish, Neutral:
		return true
	}
	return false
}

// Outcome classifies a memory once its prediction has been reconciled
// against realized returns.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
)

// Horizon selects one of the realized-return measurement offsets.
type Horizon string

const (
	HorizonT1  Horizon = "t1"
	HorizonT7  Horizon = "t7"
	HorizonT30 Horizon = "t30"
)

// returnColumn maps a horizon to its column. Unknown horizons return "".
func (h Horizon) returnColumn() string {
	switch h {
	case HorizonT1:
		return "return_t1"
	case HorizonT7:
		return "return_t7"
	case HorizonT30:
		return "return_t30"
	}
	return ""
}

// MemoryEntry is one agent's observation about one subject at one point in
// time. Rows are append-only; the outcome fields are filled in later by the
// reconciliation job.
type MemoryEntry struct {
	MemoryID     string
	SessionID    string
	Date         string // YYYY-MM-DD
	Subject      string
	AgentID      string
	Direction    Direction
	Discovery    string
	Source       string
	Score        float64 // agent self-score, 0-10
	Strength     float64 // signal strength at publish time
	SupportCount int

	Outcome   Outcome // empty until reconciled
	ReturnT1  *float64
	ReturnT7  *float64
	ReturnT30 *float64

	CreatedAt time.Time
}

// Returns carries the nullable per-horizon realized returns for an outcome
// update. Nil fields leave the stored value untouched.
type Returns struct {
	T1  *float64
	T7  *float64
	T30 *float64
}

// SessionSummary is one aggregation run's rollup. Immutable once written.
type SessionSummary struct {
	SessionID       string
	Date            string
	RunMode         string
	Subjects        []string
	TopSubject      string
	TopScore        float64
	BoardSnapshot   string // JSON snapshot of board state at session end
	DurationSeconds float64
	CreatedAt       time.Time
}

// AgentWeight is the current trust multiplier row for one agent.
type AgentWeight struct {
	AgentID        string
	BaseWeight     float64
	Accuracy       *float64
	SampleCount    int
	AdjustedWeight float64
	LastUpdated    time.Time
}

// AccuracyStats summarizes an agent's reconciled history at one horizon.
type AccuracyStats struct {
	Accuracy    float64
	SampleCount int
	AvgReturn   float64
	MinReturn   float64
	MaxReturn   float64
}

// NeutralAccuracy is the stats value returned when no reconciled history
// exists: a coin-flip prior with zero samples.
func NeutralAccuracy() AccuracyStats {
	return AccuracyStats{Accuracy: 0.5}
}

// NewMemoryID derives a stable, globally unique memory id. The nanosecond
// component disambiguates concurrent publishes by the same agent.
func NewMemoryID(date, subject, agentID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d", date, subject, agentID, at.UnixNano())
}

// NewSessionID generates a session id of the form {date}_{mode}_{uuid8}.
func NewSessionID(runMode string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", at.Format("2006-01-02"), runMode, uuid.NewString()[:8])
}
