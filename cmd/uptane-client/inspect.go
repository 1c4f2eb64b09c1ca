/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"fmt"
	"os"

	"github.com/kentakayama/uptane-verifier/internal/util"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "inspect <file>...",
		Short:   "Pretty-print metadata, manifests and keys",
		Example: `  uptane-client inspect metadata/director/timestamp.cbor`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			for _, file := range args {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				out, err := util.RenderCBOR(data)
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				if len(args) > 1 {
					fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", file)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
}
