/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"periscope/internal/config"
	"periscope/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "periscope",
		Short: "Periscope builds personalized digests from your feeds.",
		Long: `Periscope fetches your RSS and Atom feeds, scores every article for
quality and relevance to your interests, groups stories covering the same
event, summarizes them and delivers a digest.

Examples:
  # Run the digest for one user
  periscope run --user users/ada.yaml

  # Everything except delivery
  periscope run --user users/ada.yaml --dry-run

  # Preview a feed
  periscope fetch https://go.dev/blog/feed.atom

  # Inspect the result cache
  periscope cache stats`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.periscope.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewFetchCmd())
	rootCmd.AddCommand(NewDetectCmd())
	rootCmd.AddCommand(NewCacheCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Configure(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	if cfg.App.ConfigFile != "" {
		logger.Debug("Using config file", "path", cfg.App.ConfigFile)
	}
}
