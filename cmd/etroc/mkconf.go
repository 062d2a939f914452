// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/go-lpc/etroc/config"
	"github.com/spf13/cobra"
)

func newMkconfCmd() *cobra.Command {
	var oname string

	cmd := &cobra.Command{
		Use:   "mkconf",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if oname == "" {
				return config.Write(cmd.OutOrStdout(), config.Default())
			}

			f, err := os.Create(oname)
			if err != nil {
				return fmt.Errorf("could not create configuration file: %w", err)
			}
			defer f.Close()

			err = config.Write(f, config.Default())
			if err != nil {
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&oname, "output", "o", "", "output file (default: stdout)")

	return cmd
}
