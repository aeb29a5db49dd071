// Copyright © 2025 RunbookPilot Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the RunbookPilot application configuration.
// Configuration is read from a YAML file with environment-variable overrides
// (prefix RBP_), and every section carries sane defaults so the engine can
// start with an empty file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/common/types/constants"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the application.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Approval   ApprovalConfig   `mapstructure:"approval"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	API        APIConfig        `mapstructure:"api"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Runbooks   RunbookConfig    `mapstructure:"runbooks"`
	Logger     logger.Config    `mapstructure:"logger"`
}

// EngineConfig controls the execution engine itself.
type EngineConfig struct {
	// SimulationEnabled gates the L2 tier; L2 runbooks are rejected while false.
	SimulationEnabled bool `mapstructure:"simulation_enabled"`
	// DefaultStepTimeout applies to steps that declare no timeout of their own.
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"`
	// MaxExecutionTime bounds a run when the runbook config leaves it unset.
	MaxExecutionTime time.Duration `mapstructure:"max_execution_time"`
	// MaxConcurrentExecutions caps how many runbooks execute at once.
	MaxConcurrentExecutions int `mapstructure:"max_concurrent_executions"`
	// Environment names the deployment (e.g. "production", "staging"); the
	// orchestrator shows it in its String form and no execution record stores it.
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is the database/sql driver name: "sqlite3" or "mysql".
	Driver string `mapstructure:"driver"`
	// DSN is the driver-specific data source name.
	DSN string `mapstructure:"dsn"`
}

// ApprovalConfig controls the approval queue.
type ApprovalConfig struct {
	// TTL is how long a pending request stays actionable.
	TTL time.Duration `mapstructure:"ttl"`
	// SweepInterval is how often the background sweeper expires stale requests.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EnrichmentConfig configures the pre-execution enrichment pipeline.
type EnrichmentConfig struct {
	// DefaultTimeout applies to sources that declare no timeout of their own.
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	// Redis configures the threat-intel cache source; empty Addr disables it.
	Redis RedisSourceConfig `mapstructure:"redis"`
}

// RedisSourceConfig points the threat-intel cache source at a redis instance.
type RedisSourceConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// APIConfig configures the HTTP surface exposed by `rbp serve`.
type APIConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	ListenAddr  string   `mapstructure:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig configures the optional post-execution summary helper.
type LLMConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// RunbookConfig controls runbook loading.
type RunbookConfig struct {
	// Dir is the directory scanned (and watched) for runbook YAML files.
	Dir string `mapstructure:"dir"`
	// Watch enables fsnotify-driven hot reload of the directory.
	Watch bool `mapstructure:"watch"`
}

// setDefaults registers the default value for every key so an empty config
// file still produces a runnable engine.
func setDefaults() {
	viper.SetDefault("engine.simulation_enabled", true)
	viper.SetDefault("engine.default_step_timeout", constants.DefaultStepTimeout)
	viper.SetDefault("engine.max_execution_time", constants.DefaultMaxExecutionTime)
	viper.SetDefault("engine.max_concurrent_executions", 8)
	viper.SetDefault("engine.environment", "production")

	viper.SetDefault("storage.driver", constants.DefaultStorageDriver)
	viper.SetDefault("storage.dsn", constants.DefaultStorageDSN)

	viper.SetDefault("approval.ttl", constants.DefaultApprovalTTL)
	viper.SetDefault("approval.sweep_interval", constants.DefaultApprovalSweepInterval)

	viper.SetDefault("enrichment.default_timeout", constants.DefaultEnrichmentTimeout)
	viper.SetDefault("enrichment.redis.key_prefix", "rbp:ti:")
	viper.SetDefault("enrichment.redis.timeout", 2*time.Second)

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen_addr", ":8280")

	viper.SetDefault("llm.enabled", false)
	viper.SetDefault("llm.model", "gpt-4o-mini")

	viper.SetDefault("runbooks.dir", constants.DefaultRunbookDir)
	viper.SetDefault("runbooks.watch", false)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "text")
	viper.SetDefault("logger.output", "console")
}

// Load reads the configuration from the given file (or the default search
// path when cfgFile is empty), applies environment overrides, and validates
// the result.
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(constants.DefaultConfigPath)
		viper.AddConfigPath(".")
		viper.SetConfigName(".runbookpilot")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RBP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and environment carry the load.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency the type system cannot express.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported storage driver %q (want sqlite3 or mysql)", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must not be empty")
	}
	if c.Approval.TTL <= 0 {
		return fmt.Errorf("approval.ttl must be positive, got %s", c.Approval.TTL)
	}
	if c.Engine.MaxConcurrentExecutions <= 0 {
		return fmt.Errorf("engine.max_concurrent_executions must be positive")
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.enabled requires llm.api_key")
	}
	return nil
}
