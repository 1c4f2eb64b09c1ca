/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kentakayama/uptane-verifier/internal/ecu"
	"github.com/kentakayama/uptane-verifier/internal/metadata"
	"github.com/kentakayama/uptane-verifier/internal/uptane"
	"github.com/spf13/cobra"
)

func newManifestCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build and sign ECU version manifests",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newManifestSignCmd(global))
	return cmd
}

type manifestSignFlags struct {
	keys           []string
	serial         string
	filepath       string
	image          string
	timeserverTime string
	previousTime   string
	attacks        string
	output         string
}

func newManifestSignCmd(global *globalFlags) *cobra.Command {
	var flags manifestSignFlags
	cmd := &cobra.Command{
		Use:   "sign [flags]",
		Short: "Report the installed image of an ECU in a signed manifest",
		Example: `  uptane-client manifest sign --key ecu.cose --serial ecu11111 \
      --image /firmware/file2.txt --filepath file2.txt \
      --timeserver-time 2016-10-10T11:37:30Z --output manifest.cbor`,
		Long: `'manifest sign' hashes the installed image, builds the ECU version manifest
and signs it with every given COSE_Key. Keys must carry private material.
Signing an existing manifest (--output pointing at one) adds only the
signatures of keys that have not signed it yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return runManifestSign(cmd, global, &flags)
		},
	}
	cmd.Flags().StringArrayVarP(&flags.keys, "key", "k", nil, "COSE_Key file of the ECU (repeatable, required)")
	cmd.Flags().StringVar(&flags.serial, "serial", "", "ECU serial")
	cmd.Flags().StringVar(&flags.filepath, "filepath", "", "target path of the installed image (required)")
	cmd.Flags().StringVar(&flags.image, "image", "", "installed image file (required)")
	cmd.Flags().StringVar(&flags.timeserverTime, "timeserver-time", "", "latest timeserver time, RFC 3339 (required)")
	cmd.Flags().StringVar(&flags.previousTime, "previous-time", "", "previous timeserver time, RFC 3339; defaults to --timeserver-time")
	cmd.Flags().StringVar(&flags.attacks, "attacks", "", "description of detected attacks")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "manifest.cbor", "signed manifest file")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagRequired("filepath")
	cmd.MarkFlagRequired("image")
	cmd.MarkFlagRequired("timeserver-time")
	return cmd
}

func runManifestSign(cmd *cobra.Command, global *globalFlags, flags *manifestSignFlags) error {
	cfg, err := global.load()
	if err != nil {
		return err
	}
	defer cfg.Logger.Sync()

	keys := make([]*metadata.Key, 0, len(flags.keys))
	for _, file := range flags.keys {
		k, err := loadKey(file)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}

	client, err := uptane.NewClient(cfg, nil, uptane.Options{})
	if err != nil {
		return err
	}

	// an existing manifest only gains signatures
	if data, err := os.ReadFile(flags.output); err == nil {
		env, err := ecu.ParseSignedManifest(data)
		if err != nil {
			return fmt.Errorf("%s: %w", flags.output, err)
		}
		added, err := client.AddManifestSignatures(env, keys)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d signature(s) added, %d total\n", flags.output, added, len(env.Signatures))
		return writeEnvelope(flags.output, env)
	}

	image, err := os.ReadFile(flags.image)
	if err != nil {
		return err
	}
	hashes, err := metadata.HashesOf(image, "sha256", "sha512")
	if err != nil {
		return err
	}
	now, err := time.Parse(time.RFC3339, flags.timeserverTime)
	if err != nil {
		return fmt.Errorf("--timeserver-time: %w", err)
	}
	previous := now
	if flags.previousTime != "" {
		if previous, err = time.Parse(time.RFC3339, flags.previousTime); err != nil {
			return fmt.Errorf("--previous-time: %w", err)
		}
	}

	installed := ecu.InstalledImage{
		Filepath: flags.filepath,
		FileInfo: metadata.FileInfo{Length: int64(len(image)), Hashes: hashes},
	}
	env, err := client.SignManifest(flags.serial, installed, now, previous, flags.attacks, keys)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: signed by %d key(s)\n", flags.output, len(env.Signatures))
	return writeEnvelope(flags.output, env)
}

func loadKey(file string) (*metadata.Key, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var k metadata.Key
	if err := metadata.Decode(data, &k); err != nil {
		return nil, fmt.Errorf("%s: not a COSE_Key: %w", file, err)
	}
	return &k, nil
}

func writeEnvelope(file string, env *metadata.Envelope) error {
	data, err := env.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0o644)
}
