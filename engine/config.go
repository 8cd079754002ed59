// Engine configuration (spec §6: "No environment variables are
// required by the core"): every knob is either a sane built-in default
// or loaded from a YAML file, mirroring the teacher's Config-with-
// defaults shape (folio/db.go's Config) but split one level up, since
// this engine owns three collaborators (storage, log, optimizer) that
// each already carry their own Config.
package engine

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpl-au/minirel/errs"
)

// Config is the top-level engine configuration, typically loaded from
// a YAML file on process start.
type Config struct {
	// DataDir is the directory the storage engine and WAL both live
	// under (as sibling subdirectories "data" and "wal").
	DataDir string `yaml:"data_dir"`

	// MaxSampledBlocks bounds Stats' block sampling (pagestore.Config).
	MaxSampledBlocks int `yaml:"max_sampled_blocks"`

	// CheckpointInterval is the number of commits between automatic WAL
	// checkpoints (wal.Config).
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// CacheCapacity sizes the optimizer's plan cache and CacheTTLSeconds
	// its per-entry lifetime (optimize.Config); kept as a plain int
	// rather than time.Duration since yaml.v3 decodes a scalar field by
	// its underlying kind, not by a duration-string convention.
	CacheCapacity   int `yaml:"cache_capacity"`
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// LogLevel is parsed by zerolog.ParseLevel; "" (or a value ParseLevel
	// rejects) sets no level on the logger, so debug output is not
	// filtered out.
	LogLevel string `yaml:"log_level"`
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	return c
}

// CacheTTL returns the optimizer plan-cache entry lifetime, or zero if
// unset (optimize.Config.withDefaults then applies its own default).
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LoadConfig reads and parses a YAML config file. Only DataDir is
// defaulted here; the other zero fields are defaulted by the
// collaborator each one configures (pagestore, wal, optimize).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errs.Wrap(errs.InternalInvariant, "read config "+path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errs.Wrap(errs.SyntaxError, "parse config "+path, err)
	}
	return c.withDefaults(), nil
}
