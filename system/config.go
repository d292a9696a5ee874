// Copyright (C) 2025, ReliQuary Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package system

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/swayam8624/reliquary/collab"
	"github.com/swayam8624/reliquary/consensus"
	"github.com/swayam8624/reliquary/pool"
	"github.com/swayam8624/reliquary/types"
)

// Config is the whole process's assembled configuration: defaults,
// overridden by an optional YAML file, overridden by environment
// variables. Matches the teacher's layered config approach.
type Config struct {
	LogLevel string `yaml:"log_level"`

	TrustProfileDir string        `yaml:"trust_profile_dir"`
	ZKCacheTTL      time.Duration `yaml:"zk_cache_ttl"`

	Pool    pool.Config           `yaml:"pool"`
	Cluster consensus.ClusterConfig `yaml:"cluster"`

	MonitoringInterval time.Duration `yaml:"monitoring_interval"`

	Registerer prometheus.Registerer `yaml:"-"`
}

// DefaultConfig returns spec.md's literal defaults for every
// component, with a single Neutral-only agent population — callers
// extend cfg.Pool.Types for a real deployment.
func DefaultConfig() Config {
	poolCfg := pool.DefaultConfig()
	poolCfg.Types[types.Neutral] = pool.TypeConfig{Min: 3, Target: 12, Max: 50}

	return Config{
		LogLevel:           "info",
		TrustProfileDir:    "./data/trust-profiles",
		ZKCacheTTL:         30 * time.Second,
		Pool:               poolCfg,
		Cluster:            consensus.DefaultClusterConfig(),
		MonitoringInterval: 30 * time.Second,
		Registerer:         prometheus.DefaultRegisterer,
	}
}

// Load assembles a Config from defaults, an optional YAML file at
// path (skipped if empty or missing), and environment overrides, then
// validates it. Invalid bounds return a collab.KindConfiguration
// error and the caller must refuse to start, matching spec.md §7.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, collab.New(collab.KindConfiguration, fmt.Sprintf("parsing %s: %v", path, err))
			}
		case os.IsNotExist(err):
			// no file: defaults plus env stand alone
		default:
			return Config{}, collab.New(collab.KindConfiguration, fmt.Sprintf("reading %s: %v", path, err))
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides layers RELIQUARY_-prefixed environment variables
// over whatever defaults/YAML already populated, matching the
// teacher's env-override-last convention.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELIQUARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RELIQUARY_TRUST_PROFILE_DIR"); v != "" {
		cfg.TrustProfileDir = v
	}
	if v := os.Getenv("RELIQUARY_MONITORING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MonitoringInterval = d
		}
	}
	if v := os.Getenv("RELIQUARY_CLUSTER_OPTIMAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.Optimal = n
		}
	}
}

// Validate checks every configured bound spec.md §7 requires to be
// sane before the process is allowed to start.
func (cfg Config) Validate() error {
	if cfg.Cluster.Min <= 0 || cfg.Cluster.Max < cfg.Cluster.Min || cfg.Cluster.Optimal < cfg.Cluster.Min || cfg.Cluster.Optimal > cfg.Cluster.Max {
		return collab.New(collab.KindConfiguration, "cluster min/optimal/max bounds are inconsistent")
	}
	if cfg.MonitoringInterval <= 0 {
		return collab.New(collab.KindConfiguration, "monitoring_interval must be positive")
	}
	if len(cfg.Pool.Types) == 0 {
		return collab.New(collab.KindConfiguration, "pool must configure at least one agent type")
	}
	for t, tc := range cfg.Pool.Types {
		if tc.Min < 0 || tc.Target < tc.Min || tc.Max < tc.Target {
			return collab.New(collab.KindConfiguration, fmt.Sprintf("agent type %s has inconsistent min/target/max bounds", t))
		}
	}
	return nil
}
