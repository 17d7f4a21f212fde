// Package config loads the engine's YAML configuration file (spec §6's
// "Configuration recognized options"), mirroring the teacher's own
// flag-driven cmd/server in spirit but as file-driven config since this
// is a library core, not a SQL server binary.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IsolationLevel mirrors txn.IsolationLevel's string values so config can
// be unmarshaled without importing internal/txn (config is loaded before
// any component exists).
type IsolationLevel string

const (
	ReadCommitted     IsolationLevel = "ReadCommitted"
	RepeatableRead    IsolationLevel = "RepeatableRead"
	Serializable      IsolationLevel = "Serializable"
	SnapshotIsolation IsolationLevel = "SnapshotIsolation"
)

// CompactionMode selects the LSM engine's compaction strategy (spec §4.6).
type CompactionMode string

const (
	Leveled CompactionMode = "Leveled"
	Tiered  CompactionMode = "Tiered"
	Hybrid  CompactionMode = "Hybrid"
)

// Config holds every option spec §6 lists under "Configuration recognized
// options (subset)", plus the data directory every other field is
// relative to. Defaults match the spec's defaults exactly; Load fills
// unset fields via Default() before unmarshaling over them.
type Config struct {
	DataDir string `yaml:"data_dir"`

	PageSize int `yaml:"page_size"`

	BufferPoolSize int  `yaml:"buffer_pool_size"`
	LRUK           int  `yaml:"lru_k"`
	AdaptiveK      bool `yaml:"adaptive_k"`

	MemtableSizeBytes   int64          `yaml:"memtable_size_bytes"`
	LSMLevelMultiplier  int            `yaml:"lsm_level_multiplier"`
	LSMMaxLevels        int            `yaml:"lsm_max_levels"`
	L0CompactionTrigger int            `yaml:"l0_compaction_trigger"`
	L0SlowdownThreshold int            `yaml:"l0_slowdown_threshold"`
	BloomFPRate         float64        `yaml:"bloom_fp_rate"`
	CompactionMode      CompactionMode `yaml:"compaction_mode"`

	IsolationDefault        IsolationLevel `yaml:"isolation_default"`
	LockEscalationThreshold int            `yaml:"lock_escalation_threshold"`

	DirectIO          bool `yaml:"direct_io"`
	DirectIOAlignment int  `yaml:"direct_io_alignment"`
}

// Default returns the configuration spec §6 specifies when no file is
// supplied or a field is left unset.
func Default() Config {
	return Config{
		DataDir: "./data",

		PageSize: 4096,

		BufferPoolSize: 16384,
		LRUK:           2,
		AdaptiveK:      true,

		MemtableSizeBytes:   64 << 20,
		LSMLevelMultiplier:  10,
		LSMMaxLevels:        7,
		L0CompactionTrigger: 4,
		L0SlowdownThreshold: 8,
		BloomFPRate:         0.01,
		CompactionMode:      Hybrid,

		IsolationDefault:        ReadCommitted,
		LockEscalationThreshold: 1000,

		DirectIO:          false,
		DirectIOAlignment: 4096,
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A
// missing field in the file keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configuration values that would otherwise fail deep
// inside a component with a confusing error (spec §7: InvalidInput is
// "Surfaced").
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size must be a positive power of two, got %d", c.PageSize)
	}
	if c.BufferPoolSize <= 0 {
		return fmt.Errorf("buffer_pool_size must be positive, got %d", c.BufferPoolSize)
	}
	if c.MemtableSizeBytes <= 0 {
		return fmt.Errorf("memtable_size_bytes must be positive, got %d", c.MemtableSizeBytes)
	}
	if c.BloomFPRate <= 0 || c.BloomFPRate >= 1 {
		return fmt.Errorf("bloom_fp_rate must be in (0,1), got %f", c.BloomFPRate)
	}
	switch c.CompactionMode {
	case Leveled, Tiered, Hybrid:
	default:
		return fmt.Errorf("compaction_mode must be one of Leveled, Tiered, Hybrid, got %q", c.CompactionMode)
	}
	switch c.IsolationDefault {
	case ReadCommitted, RepeatableRead, Serializable, SnapshotIsolation:
	default:
		return fmt.Errorf("isolation_default must be one of ReadCommitted, RepeatableRead, Serializable, SnapshotIsolation, got %q", c.IsolationDefault)
	}
	if c.DirectIO && (c.DirectIOAlignment <= 0 || c.DirectIOAlignment&(c.DirectIOAlignment-1) != 0) {
		return fmt.Errorf("direct_io_alignment must be a positive power of two, got %d", c.DirectIOAlignment)
	}
	return nil
}
