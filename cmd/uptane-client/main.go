/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kentakayama/uptane-verifier/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalFlags struct {
	config  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	cmd := &cobra.Command{
		Use:   filepath.Base(os.Args[0]),
		Short: "Uptane metadata verification client",
		Args:  cobra.NoArgs,
		// errors are printed by main
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "client configuration (TOML)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newResolveCmd(&flags),
		newManifestCmd(&flags),
		newInspectCmd(),
	)
	return cmd
}

// load reads the client configuration and attaches a logger writing to
// stderr.
func (f *globalFlags) load() (config.ClientConfig, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return config.ClientConfig{}, err
		}
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	if f.verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("build logger: %w", err)
	}
	cfg.Logger = logger
	return cfg, nil
}
