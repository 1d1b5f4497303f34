package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// schemaVersion marks the current schema. Bump when staging additive
// migrations; Migrate only ever creates what is absent.
const schemaVersion = 1

// Store is the SQLite-backed durable store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the SQLite database at path.
//
// A single connection serializes all writes; WAL mode keeps concurrent
// readers unblocked. The caller must run Migrate before first use.
func Open(path string, busyTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", mapError(err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", mapError(err))
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, mapError(err))
		}
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates tables and indexes if absent and seeds a weight row for
// every roster agent. Safe to call on every startup; never destructive.
func (s *Store) Migrate(ctx context.Context, roster []string) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id     TEXT UNIQUE NOT NULL,
			session_id    TEXT NOT NULL,
			date          TEXT NOT NULL,
			subject       TEXT NOT NULL,
			agent_id      TEXT NOT NULL,
			direction     TEXT NOT NULL,
			discovery     TEXT NOT NULL,
			source        TEXT NOT NULL,
			score         REAL NOT NULL,
			strength      REAL NOT NULL DEFAULT 1.0,
			support_count INTEGER NOT NULL DEFAULT 0,
			outcome       TEXT DEFAULT NULL,
			return_t1     REAL DEFAULT NULL,
			return_t7     REAL DEFAULT NULL,
			return_t30    REAL DEFAULT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_subject_created ON memories(subject, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_date ON memories(date)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id       TEXT UNIQUE NOT NULL,
			date             TEXT NOT NULL,
			run_mode         TEXT NOT NULL,
			subjects         TEXT NOT NULL,
			top_subject      TEXT,
			top_score        REAL,
			board_snapshot   TEXT,
			duration_seconds REAL,
			created_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_date ON sessions(date)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_mode ON sessions(run_mode)`,
		`CREATE TABLE IF NOT EXISTS agent_weights (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id        TEXT UNIQUE NOT NULL,
			base_weight     REAL NOT NULL DEFAULT 1.0,
			accuracy        REAL DEFAULT NULL,
			sample_count    INTEGER NOT NULL DEFAULT 0,
			adjusted_weight REAL NOT NULL DEFAULT 1.0,
			last_updated    TEXT NOT NULL
		)`,
		fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", mapError(err))
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, agentID := range roster {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO agent_weights (agent_id, base_weight, adjusted_weight, last_updated)
			VALUES (?, 1.0, 1.0, ?)`, agentID, now)
		if err != nil {
			return fmt.Errorf("seed weight for %s: %w", agentID, mapError(err))
		}
	}

	s.logger.Info("store schema ready",
		zap.Int("schema_version", schemaVersion),
		zap.Int("roster_size", len(roster)))
	return nil
}

// SaveMemory inserts one memory entry. A duplicate memory id fails with
// ErrDuplicateKey; the caller treats that as already recorded.
func (s *Store) SaveMemory(ctx context.Context, entry MemoryEntry, sessionID string) (string, error) {
	timer := opTimer("save_memory")
	defer timer.ObserveDuration()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Date == "" {
		entry.Date = entry.CreatedAt.Format("2006-01-02")
	}
	if entry.MemoryID == "" {
		entry.MemoryID = NewMemoryID(entry.Date, entry.Subject, entry.AgentID, entry.CreatedAt)
	}
	if !entry.Direction.Valid() {
		entry.Direction = Neutral
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			memory_id, session_id, date, subject, agent_id, direction,
			discovery, source, score, strength, support_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.MemoryID, sessionID, entry.Date, entry.Subject, entry.AgentID,
		string(entry.Direction), entry.Discovery, entry.Source, entry.Score,
		entry.Strength, entry.SupportCount, entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		opResult("save_memory", err)
		return "", fmt.Errorf("save memory %s: %w", entry.MemoryID, mapError(err))
	}
	opResult("save_memory", nil)
	return entry.MemoryID, nil
}

// SaveSession inserts one session summary. Session ids are unique; a
// collision fails with ErrDuplicateKey.
func (s *Store) SaveSession(ctx context.Context, summary SessionSummary) error {
	timer := opTimer("save_session")
	defer timer.ObserveDuration()

	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	subjects, err := json.Marshal(summary.Subjects)
	if err != nil {
		return fmt.Errorf("encode subjects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, date, run_mode, subjects, top_subject, top_score,
			board_snapshot, duration_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.SessionID, summary.Date, summary.RunMode, string(subjects),
		summary.TopSubject, summary.TopScore, summary.BoardSnapshot,
		summary.DurationSeconds, summary.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		opResult("save_session", err)
		return fmt.Errorf("save session %s: %w", summary.SessionID, mapError(err))
	}
	opResult("save_session", nil)
	return nil
}

// RecentMemories returns memories for subject within the trailing window,
// newest first. The window is measured against the entry date.
func (s *Store) RecentMemories(ctx context.Context, subject string, windowDays, limit int) ([]MemoryEntry, error) {
	timer := opTimer("recent_memories")
	defer timer.ObserveDuration()

	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays).Format("2006-01-02")

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, session_id, date, subject, agent_id, direction,
			discovery, source, score, strength, support_count,
			outcome, return_t1, return_t7, return_t30, created_at
		FROM memories
		WHERE subject = ? AND date >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, subject, cutoff, limit)
	if err != nil {
		opResult("recent_memories", err)
		return nil, fmt.Errorf("recent memories for %s: %w", subject, mapError(err))
	}
	defer rows.Close()

	entries, err := scanMemories(rows)
	opResult("recent_memories", err)
	if err != nil {
		return nil, fmt.Errorf("recent memories for %s: %w", subject, mapError(err))
	}
	return entries, nil
}

// AgentAccuracy computes the agent's accuracy ratio, sample count and mean
// realized return over reconciled memories at the given horizon. With no
// qualifying rows it returns the neutral prior, never an error.
func (s *Store) AgentAccuracy(ctx context.Context, agentID string, horizon Horizon) (AccuracyStats, error) {
	timer := opTimer("agent_accuracy")
	defer timer.ObserveDuration()

	col := horizon.returnColumn()
	if col == "" {
		return NeutralAccuracy(), fmt.Errorf("invalid horizon %q", horizon)
	}

	// col comes from the fixed horizon mapping, never from input.
	query := fmt.Sprintf(`
		SELECT COUNT(*),
			SUM(CASE WHEN outcome = 'correct' THEN 1 ELSE 0 END),
			COALESCE(AVG(%[1]s), 0),
			COALESCE(MIN(%[1]s), 0),
			COALESCE(MAX(%[1]s), 0)
		FROM memories
		WHERE agent_id = ? AND outcome IS NOT NULL AND %[1]s IS NOT NULL`, col)

	var total, correct int
	var avg, min, max float64
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&total, &correct, &avg, &min, &max)
	if err != nil {
		opResult("agent_accuracy", err)
		return NeutralAccuracy(), fmt.Errorf("accuracy for %s: %w", agentID, mapError(err))
	}
	opResult("agent_accuracy", nil)

	if total == 0 {
		return NeutralAccuracy(), nil
	}
	return AccuracyStats{
		Accuracy:    float64(correct) / float64(total),
		SampleCount: total,
		AvgReturn:   avg,
		MinReturn:   min,
		MaxReturn:   max,
	}, nil
}

// UpdateOutcome sets the outcome classification and any provided horizon
// returns on an existing memory. Nil returns leave stored values untouched,
// so horizons can be reconciled independently as their ground truth lands.
// Fails with ErrNotFound when the memory id does not exist.
func (s *Store) UpdateOutcome(ctx context.Context, memoryID string, outcome Outcome, r Returns) error {
	timer := opTimer("update_outcome")
	defer timer.ObserveDuration()

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET outcome = ?,
			return_t1 = COALESCE(?, return_t1),
			return_t7 = COALESCE(?, return_t7),
			return_t30 = COALESCE(?, return_t30)
		WHERE memory_id = ?`,
		string(outcome), r.T1, r.T7, r.T30, memoryID)
	if err != nil {
		opResult("update_outcome", err)
		return fmt.Errorf("update outcome %s: %w", memoryID, mapError(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		opResult("update_outcome", err)
		return fmt.Errorf("update outcome %s: %w", memoryID, mapError(err))
	}
	if affected == 0 {
		opResult("update_outcome", ErrNotFound)
		return fmt.Errorf("update outcome %s: %w", memoryID, ErrNotFound)
	}
	opResult("update_outcome", nil)
	return nil
}

// Weights returns all agent weight rows ordered by agent id.
func (s *Store) Weights(ctx context.Context) ([]AgentWeight, error) {
	timer := opTimer("weights")
	defer timer.ObserveDuration()

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, base_weight, accuracy, sample_count, adjusted_weight, last_updated
		FROM agent_weights ORDER BY agent_id`)
	if err != nil {
		opResult("weights", err)
		return nil, fmt.Errorf("load weights: %w", mapError(err))
	}
	defer rows.Close()

	var weights []AgentWeight
	for rows.Next() {
		var w AgentWeight
		var accuracy sql.NullFloat64
		var updated string
		if err := rows.Scan(&w.AgentID, &w.BaseWeight, &accuracy, &w.SampleCount, &w.AdjustedWeight, &updated); err != nil {
			opResult("weights", err)
			return nil, fmt.Errorf("scan weight: %w", mapError(err))
		}
		if accuracy.Valid {
			w.Accuracy = &accuracy.Float64
		}
		w.LastUpdated, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			opResult("weights", err)
			return nil, fmt.Errorf("parse last_updated for %s: %w", w.AgentID, mapError(err))
		}
		weights = append(weights, w)
	}
	if err := rows.Err(); err != nil {
		opResult("weights", err)
		return nil, fmt.Errorf("load weights: %w", mapError(err))
	}
	opResult("weights", nil)
	return weights, nil
}

// UpsertWeight writes one agent's weight row, replacing any existing row for
// that agent. Repeated recomputes never duplicate rows.
func (s *Store) UpsertWeight(ctx context.Context, w AgentWeight) error {
	timer := opTimer("upsert_weight")
	defer timer.ObserveDuration()

	if w.BaseWeight == 0 {
		w.BaseWeight = 1.0
	}
	if w.LastUpdated.IsZero() {
		w.LastUpdated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_weights (agent_id, base_weight, accuracy, sample_count, adjusted_weight, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			accuracy = excluded.accuracy,
			sample_count = excluded.sample_count,
			adjusted_weight = excluded.adjusted_weight,
			last_updated = excluded.last_updated`,
		w.AgentID, w.BaseWeight, w.Accuracy, w.SampleCount, w.AdjustedWeight,
		w.LastUpdated.Format(time.RFC3339Nano))
	if err != nil {
		opResult("upsert_weight", err)
		return fmt.Errorf("upsert weight %s: %w", w.AgentID, mapError(err))
	}
	opResult("upsert_weight", nil)
	return nil
}

// AgentIDs returns every agent known to the store: the union of weight rows
// and distinct memory authors.
func (s *Store) AgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id FROM agent_weights
		UNION
		SELECT DISTINCT agent_id FROM memories
		ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", mapError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan agent id: %w", mapError(err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", mapError(err))
	}
	return ids, nil
}

func scanMemories(rows *sql.Rows) ([]MemoryEntry, error) {
	var entries []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var direction, created string
		var outcome sql.NullString
		var t1, t7, t30 sql.NullFloat64
		if err := rows.Scan(&e.MemoryID, &e.SessionID, &e.Date, &e.Subject, &e.AgentID,
			&direction, &e.Discovery, &e.Source, &e.Score, &e.Strength, &e.SupportCount,
			&outcome, &t1, &t7, &t30, &created); err != nil {
			return nil, err
		}
		e.Direction = Direction(direction)
		if outcome.Valid {
			e.Outcome = Outcome(outcome.String)
		}
		if t1.Valid {
			e.ReturnT1 = &t1.Float64
		}
		if t7.Valid {
			e.ReturnT7 = &t7.Float64
		}
		if t30.Valid {
			e.ReturnT30 = &t30.Float64
		}
		createdAt, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", e.MemoryID, err)
		}
		e.CreatedAt = createdAt
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
