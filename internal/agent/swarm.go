package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/hived/internal/board"
	"github.com/fyrsmithlabs/hived/internal/store"
	"github.com/fyrsmithlabs/hived/internal/weights"
)

// Scorer is the slice of the weight manager the swarm needs.
type Scorer interface {
	WeightedAverage(ctx context.Context, results []weights.AgentScore) float64
}

// SessionRecorder persists one scan's rollup.
type SessionRecorder interface {
	SaveSession(ctx context.Context, summary store.SessionSummary) error
}

// Report is the distilled outcome of one subject's scan: every surviving
// observation, the trust-weighted composite score, the dominant direction
// and the board's cross-dimension resonance read.
type Report struct {
	Subject      string          `json:"subject"`
	FinalScore   float64         `json:"final_score"`
	Direction    store.Direction `json:"direction"`
	Observations []Observation   `json:"observations"`
	Resonance    board.Resonance `json:"resonance"`
}

// Swarm fans a roster of agents out over subjects, publishes each
// normalized observation to the board and aggregates per-subject reports.
type Swarm struct {
	agents       []Agent
	board        *board.Board
	scorer       Scorer
	recorder     SessionRecorder
	sessionID    string
	runMode      string
	agentTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// SwarmOption configures optional swarm behavior.
type SwarmOption func(*Swarm)

// WithSessionRecorder saves a session rollup after every Run, tagged with
// sessionID and runMode.
func WithSessionRecorder(r SessionRecorder, sessionID, runMode string) SwarmOption {
	return func(s *Swarm) {
		s.recorder = r
		s.sessionID = sessionID
		s.runMode = runMode
	}
}

// NewSwarm builds a runner. The board and scorer may be nil, in which
// case publishing and weighting are skipped respectively.
func NewSwarm(agents []Agent, b *board.Board, scorer Scorer, agentTimeout time.Duration, logger *zap.Logger, opts ...SwarmOption) *Swarm {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Swarm{
		agents:       agents,
		board:        b,
		scorer:       scorer,
		agentTimeout: agentTimeout,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run scans every subject with every agent concurrently. A failing agent
// is logged and skipped; it never sinks the scan. Reports come back keyed
// by subject, with observations ordered by agent id.
func (s *Swarm) Run(ctx context.Context, subjects []string) map[string]Report {
	started := s.now()

	type scanResult struct {
		subject string
		agentID string
		obs     Observation
		err     error
	}

	results := make(chan scanResult, len(subjects)*len(s.agents))
	var wg sync.WaitGroup
	for _, subject := range subjects {
		for _, a := range s.agents {
			wg.Add(1)
			go func(subject string, a Agent) {
				defer wg.Done()
				obs, err := s.observe(ctx, a, subject)
				results <- scanResult{subject: subject, agentID: a.ID(), obs: obs, err: err}
			}(subject, a)
		}
	}
	wg.Wait()
	close(results)

	bySubject := make(map[string][]scanResult, len(subjects))
	for r := range results {
		if r.err != nil {
			s.logger.Warn("agent observation failed",
				zap.String("agent_id", r.agentID),
				zap.String("subject", r.subject),
				zap.Error(r.err))
			continue
		}
		bySubject[r.subject] = append(bySubject[r.subject], r)
	}

	reports := make(map[string]Report, len(subjects))
	for _, subject := range subjects {
		scans := bySubject[subject]
		sort.Slice(scans, func(i, j int) bool { return scans[i].agentID < scans[j].agentID })

		report := Report{Subject: subject}
		scores := make([]weights.AgentScore, 0, len(scans))
		for _, r := range scans {
			s.publish(r.agentID, r.obs)
			report.Observations = append(report.Observations, r.obs)
			scores = append(scores, weights.AgentScore{AgentID: r.agentID, Score: r.obs.Score})
		}
		report.FinalScore = s.aggregate(ctx, scores)
		report.Direction = dominantDirection(report.Observations)
		if s.board != nil {
			report.Resonance = s.board.DetectResonance(subject)
		}
		reports[subject] = report
	}

	s.recordSession(ctx, subjects, reports, started)
	return reports
}

// recordSession writes the scan rollup when a recorder is attached. A
// failed write is logged and swallowed; the scan already happened.
func (s *Swarm) recordSession(ctx context.Context, subjects []string, reports map[string]Report, started time.Time) {
	if s.recorder == nil {
		return
	}

	summary := store.SessionSummary{
		SessionID:       s.sessionID,
		Date:            started.UTC().Format("2006-01-02"),
		RunMode:         s.runMode,
		Subjects:        subjects,
		DurationSeconds: s.now().Sub(started).Seconds(),
		CreatedAt:       started,
	}
	for _, r := range reports {
		if r.FinalScore > summary.TopScore {
			summary.TopScore = r.FinalScore
			summary.TopSubject = r.Subject
		}
	}
	if s.board != nil {
		if snap, err := json.Marshal(s.board.CompactSnapshot("")); err == nil {
			summary.BoardSnapshot = string(snap)
		}
	}

	if err := s.recorder.SaveSession(ctx, summary); err != nil {
		s.logger.Warn("session rollup write failed",
			zap.String("session_id", s.sessionID),
			zap.Error(err))
	}
}

func (s *Swarm) observe(ctx context.Context, a Agent, subject string) (Observation, error) {
	if s.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.agentTimeout)
		defer cancel()
	}
	obs, err := a.Observe(ctx, subject)
	if err != nil {
		return Observation{}, err
	}
	obs.Subject = subject
	return Normalize(obs), nil
}

func (s *Swarm) publish(agentID string, obs Observation) {
	if s.board == nil {
		return
	}
	s.board.Publish(board.Signal{
		Subject:   obs.Subject,
		AgentID:   agentID,
		Discovery: obs.Discovery,
		Source:    obs.Source,
		Score:     obs.Score,
		Direction: obs.Direction,
		Strength:  obs.Confidence,
	})
}

func (s *Swarm) aggregate(ctx context.Context, scores []weights.AgentScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	if s.scorer == nil {
		var sum float64
		for _, sc := range scores {
			sum += sc.Score
		}
		return sum / float64(len(scores))
	}
	return s.scorer.WeightedAverage(ctx, scores)
}

// dominantDirection picks the direction with the most observations,
// neutral on a tie or an empty scan.
func dominantDirection(obs []Observation) store.Direction {
	counts := make(map[store.Direction]int, 3)
	for _, o := range obs {
		counts[o.Direction]++
	}
	if counts[store.Bullish] > counts[store.Bearish] && counts[store.Bullish] > counts[store.Neutral] {
		return store.Bullish
	}
	if counts[store.Bearish] > counts[store.Bullish] && counts[store.Bearish] > counts[store.Neutral] {
		return store.Bearish
	}
	return store.Neutral
}
