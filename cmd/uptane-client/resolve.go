/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kentakayama/uptane-verifier/internal/consensus"
	"github.com/kentakayama/uptane-verifier/internal/infra/localrepo"
	"github.com/kentakayama/uptane-verifier/internal/trust"
	"github.com/kentakayama/uptane-verifier/internal/uptane"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type resolvedTarget struct {
	Path         string                    `json:"path"`
	Length       int64                     `json:"length"`
	Hashes       map[string]string         `json:"hashes"`
	Repositories []string                  `json:"repositories"`
	Custom       map[string]map[string]any `json:"custom,omitempty"`
}

func newResolveCmd(global *globalFlags) *cobra.Command {
	var flags struct {
		metadata  string
		pinning   string
		output    string
		bootstrap bool
	}
	cmd := &cobra.Command{
		Use:   "resolve [flags] <target path>",
		Short: "Resolve a target across the pinned repositories",
		Example: `  uptane-client resolve --metadata ./metadata file2.txt
  uptane-client resolve -c client.toml --metadata ./metadata --output file2.txt file2.txt`,
		Long: `'resolve' refreshes every pinned repository from a metadata directory and
prints the fileinfo the repositories agree on for the target.

The metadata directory holds one sub-directory per repository, named after
the repository's "metadata" entry in the pinning file. Each contains
root.cbor, timestamp.cbor, snapshot.cbor, targets.cbor and delegated roles as
<role>.cbor; versioned roots are named <version>.root.cbor.

Every repository needs a pinned root before it can be refreshed. Pin it
with "root_file" in the [[repositories]] section of the configuration; the
root is then read from a file obtained out of band. --bootstrap instead
trusts the 1.root.cbor found in the metadata directory on first use, which
is only safe when that directory comes from a trusted source. Trust pinned
once is kept in the database and later runs need neither.

With --output the target is downloaded from the configured mirrors and
written to the given file once it matches the resolved fileinfo.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runResolve(cmd, global, args[0], flags.metadata, flags.pinning, flags.output, flags.bootstrap)
		},
	}
	cmd.Flags().StringVarP(&flags.metadata, "metadata", "m", "", "metadata directory (required)")
	cmd.Flags().StringVarP(&flags.pinning, "pinning", "p", "", "pinning file, overrides the configuration")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "download the target into this file")
	cmd.Flags().BoolVar(&flags.bootstrap, "bootstrap", false, "pin unpinned repositories from 1.root.cbor in the metadata directory")
	cmd.MarkFlagRequired("metadata")
	return cmd
}

func runResolve(cmd *cobra.Command, global *globalFlags, path, metadataDir, pinningFile, output string, bootstrap bool) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	defer cfg.Logger.Sync()
	if pinningFile != "" {
		cfg.PinningFile = pinningFile
	}

	client, err := uptane.NewClient(cfg, nil, uptane.Options{})
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := client.Init(ctx); err != nil {
		return err
	}
	defer client.Close()

	sources := map[string]trust.Source{}
	for name, pinned := range client.Pinning().Repositories {
		dir := pinned.Metadata
		if dir == "" {
			dir = name
		}
		src := localrepo.New(filepath.Join(metadataDir, dir))
		sources[name] = src
		if client.Repository(name).Trusted() != nil {
			continue
		}
		if !bootstrap {
			return fmt.Errorf("repository %q has no pinned root: configure its root_file or pass --bootstrap", name)
		}
		root, err := src.Fetch("root", 1)
		if err != nil {
			return fmt.Errorf("bootstrap %q: %w", name, err)
		}
		if err := client.Bootstrap(ctx, name, root); err != nil {
			return err
		}
		cfg.Logger.Warn("repository pinned from metadata directory", zap.String("repository", name))
	}

	target, err := client.ResolveTarget(ctx, path, sources)
	if err != nil {
		return err
	}
	if err := printTarget(cmd.OutOrStdout(), target); err != nil {
		return err
	}
	if output == "" {
		return nil
	}
	data, err := client.DownloadTarget(ctx, target)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	return nil
}

func printTarget(w io.Writer, target *consensus.Target) error {
	out := resolvedTarget{
		Path:         target.Path,
		Length:       target.FileInfo.Length,
		Hashes:       make(map[string]string, len(target.FileInfo.Hashes)),
		Repositories: target.Repositories,
	}
	for alg, d := range target.FileInfo.Hashes {
		out.Hashes[alg] = hex.EncodeToString(d)
	}
	if len(target.Custom) > 0 {
		out.Custom = target.Custom
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
