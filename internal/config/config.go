// Package config provides configuration loading for hived.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Every option has a default; hived runs without any
// configuration present.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete hived configuration.
type Config struct {
	Persistence PersistenceConfig `koanf:"persistence"`
	Memory      MemoryConfig      `koanf:"memory"`
	Retriever   RetrieverConfig   `koanf:"retriever"`
	Weights     WeightsConfig     `koanf:"weights"`
	Board       BoardConfig       `koanf:"board"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Agents      []AgentConfig     `koanf:"agents"`
}

// PersistenceConfig holds durable store configuration.
type PersistenceConfig struct {
	// Enabled toggles the SQLite store. Defaults to true; only an
	// explicit false opts out, leaving hived fully in-memory with no
	// history and neutral weights.
	Enabled *bool `koanf:"enabled"`

	// Path is the SQLite database file location.
	Path string `koanf:"path"`

	// BusyTimeout is passed to SQLite for lock contention.
	BusyTimeout time.Duration `koanf:"busy_timeout"`

	// QueryTimeout bounds every store read/write issued by the board,
	// retriever and weight manager. A timeout is treated as the store
	// being unavailable.
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// MemoryConfig holds retention settings for persisted memories.
type MemoryConfig struct {
	RetentionDays int `koanf:"retention_days"`
	QueryLimit    int `koanf:"query_limit"`
}

// RetrieverConfig holds similarity search configuration.
type RetrieverConfig struct {
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	MinSimilarity   float64       `koanf:"min_similarity"`
	TopK            int           `koanf:"top_k"`
	MaxContextChars int           `koanf:"max_context_chars"`
}

// WeightsConfig holds trust weight computation settings.
type WeightsConfig struct {
	MinWeight   float64       `koanf:"min_weight"`
	MaxWeight   float64       `koanf:"max_weight"`
	MinSamples  int           `koanf:"min_samples"`
	Coefficient float64       `koanf:"coefficient"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`

	// Horizon selects which realized-return column drives accuracy:
	// t1, t7 or t30. t7 is authoritative when horizons disagree.
	Horizon string `koanf:"horizon"`
}

// BoardConfig holds signal board decay and persistence settings.
type BoardConfig struct {
	// DecayMode is "exponential" or "linear".
	DecayMode string `koanf:"decay_mode"`

	// DecayHalfLife is the time for a signal to lose half its strength
	// (exponential) or the scale of the linear ramp.
	DecayHalfLife time.Duration `koanf:"decay_halflife"`

	// MinStrength is the floor below which a signal counts as expired.
	MinStrength float64 `koanf:"min_strength"`

	// PruneGrace keeps expired signals visible for this long before the
	// sweep removes them.
	PruneGrace time.Duration `koanf:"prune_grace"`

	// MaxEntries caps the number of live signals on the board.
	// Defaults to 256; -1 disables the cap.
	MaxEntries int `koanf:"max_entries"`

	// PersistQueueSize bounds the async write queue. Publishes beyond a
	// full queue drop their persistence write rather than block.
	PersistQueueSize int `koanf:"persist_queue_size"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// AgentConfig describes one roster entry: a known agent and the data
// dimension it observes. Resonance detection counts distinct dimensions,
// not distinct agents.
type AgentConfig struct {
	ID        string `koanf:"id"`
	Dimension string `koanf:"dimension"`
}

// StoreEnabled reports whether the durable store should be opened.
// An unset flag counts as enabled.
func (p PersistenceConfig) StoreEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// applyDefaults fills in zero values with defaults.
func applyDefaults(cfg *Config) {
	if cfg.Persistence.Enabled == nil {
		enabled := true
		cfg.Persistence.Enabled = &enabled
	}
	if cfg.Persistence.Path == "" {
		cfg.Persistence.Path = "hived.db"
	}
	if cfg.Persistence.BusyTimeout == 0 {
		cfg.Persistence.BusyTimeout = 5 * time.Second
	}
	if cfg.Persistence.QueryTimeout == 0 {
		cfg.Persistence.QueryTimeout = 10 * time.Second
	}
	if cfg.Memory.RetentionDays == 0 {
		cfg.Memory.RetentionDays = 30
	}
	if cfg.Memory.QueryLimit == 0 {
		cfg.Memory.QueryLimit = 50
	}
	if cfg.Retriever.CacheTTL == 0 {
		cfg.Retriever.CacheTTL = 5 * time.Minute
	}
	if cfg.Retriever.MinSimilarity == 0 {
		cfg.Retriever.MinSimilarity = 0.1
	}
	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 5
	}
	if cfg.Retriever.MaxContextChars == 0 {
		cfg.Retriever.MaxContextChars = 200
	}
	if cfg.Weights.MinWeight == 0 {
		cfg.Weights.MinWeight = 0.3
	}
	if cfg.Weights.MaxWeight == 0 {
		cfg.Weights.MaxWeight = 3.0
	}
	if cfg.Weights.MinSamples == 0 {
		cfg.Weights.MinSamples = 10
	}
	if cfg.Weights.Coefficient == 0 {
		cfg.Weights.Coefficient = 2.0
	}
	if cfg.Weights.CacheTTL == 0 {
		cfg.Weights.CacheTTL = time.Hour
	}
	if cfg.Weights.Horizon == "" {
		cfg.Weights.Horizon = "t7"
	}
	if cfg.Board.DecayMode == "" {
		cfg.Board.DecayMode = "exponential"
	}
	if cfg.Board.DecayHalfLife == 0 {
		cfg.Board.DecayHalfLife = 6 * time.Hour
	}
	if cfg.Board.MinStrength == 0 {
		cfg.Board.MinStrength = 0.2
	}
	if cfg.Board.PruneGrace == 0 {
		cfg.Board.PruneGrace = time.Hour
	}
	if cfg.Board.MaxEntries == 0 {
		cfg.Board.MaxEntries = 256
	}
	if cfg.Board.PersistQueueSize == 0 {
		cfg.Board.PersistQueueSize = 128
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Weights.MinWeight > c.Weights.MaxWeight {
		return fmt.Errorf("weights.min_weight %.2f exceeds weights.max_weight %.2f",
			c.Weights.MinWeight, c.Weights.MaxWeight)
	}
	if c.Weights.MinWeight < 0 {
		return fmt.Errorf("weights.min_weight must be non-negative, got %.2f", c.Weights.MinWeight)
	}
	switch c.Weights.Horizon {
	case "t1", "t7", "t30":
	default:
		return fmt.Errorf("weights.horizon must be t1, t7 or t30, got %q", c.Weights.Horizon)
	}
	switch c.Board.DecayMode {
	case "exponential", "linear":
	default:
		return fmt.Errorf("board.decay_mode must be exponential or linear, got %q", c.Board.DecayMode)
	}
	if c.Board.MinStrength < 0 || c.Board.MinStrength >= 1 {
		return fmt.Errorf("board.min_strength must be in [0, 1), got %.2f", c.Board.MinStrength)
	}
	if c.Retriever.MinSimilarity < 0 || c.Retriever.MinSimilarity > 1 {
		return fmt.Errorf("retriever.min_similarity must be in [0, 1], got %.2f", c.Retriever.MinSimilarity)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents entries require an id")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate agent id %q in roster", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return nil
}

// AgentIDs returns the roster agent ids in declaration order.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}

// Dimensions returns the agent id to data dimension mapping.
func (c *Config) Dimensions() map[string]string {
	dims := make(map[string]string, len(c.Agents))
	for _, a := range c.Agents {
		if a.Dimension != "" {
			dims[a.ID] = a.Dimension
		}
	}
	return dims
}
