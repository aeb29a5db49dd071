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

// Package commands wires the rbp command tree. Commands stay thin: they
// load config, assemble the engine, and hand results to the ui formatter.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sim-security/runbookpilot/internal/common/config"
	"github.com/sim-security/runbookpilot/internal/common/logger"
	"github.com/sim-security/runbookpilot/internal/engine"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rbp",
	Short: "RunbookPilot executes security response runbooks against alerts.",
	Long: `RunbookPilot is a security-orchestration engine. Given a declarative
runbook and an alert, it drives the runbook to a terminal outcome under
one of three automation tiers (display-only, approval-gated, simulation),
with rollback on failure and a tamper-evident audit trail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.InitGlobalLogger(&cfg.Logger)
		return nil
	},
	SilenceUsage: true,
}

// buildEngine assembles a full engine from the loaded config and loads the
// runbook directory when it exists.
func buildEngine() (*engine.Engine, error) {
	e, err := engine.New(cfg)
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(cfg.Runbooks.Dir); statErr == nil && info.IsDir() {
		if _, err := e.Runbooks.LoadDir(cfg.Runbooks.Dir); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
}
