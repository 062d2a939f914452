// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/go-lpc/etroc/export"
	"github.com/spf13/cobra"
)

func newExportCmd(load loader) *cobra.Command {
	var (
		remote string
		id     uint64
		oname  string
	)

	cmd := &cobra.Command{
		Use:   "export chip",
		Short: "Export a run to a FITS file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := loadRun(cmd, load, remote, args[0], id)
			if err != nil {
				return err
			}

			if oname == "" {
				oname = fmt.Sprintf("%s-run-%03d.fits", run.Chip.Name, run.ID)
			}
			f, err := os.Create(oname)
			if err != nil {
				return fmt.Errorf("could not create output file: %w", err)
			}
			defer f.Close()

			err = export.WriteFITS(f, run)
			if err != nil {
				return fmt.Errorf("could not export run %d of %v: %w", run.ID, run.Chip, err)
			}

			err = f.Close()
			if err != nil {
				return fmt.Errorf("could not close output file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %q\n", oname)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&remote, "remote", "", "address of a calibration HTTP server")
	flags.Uint64Var(&id, "run", 0, "run to export (default: latest)")
	flags.StringVarP(&oname, "output", "o", "", "output FITS file (default: <chip>-run-<id>.fits)")

	return cmd
}
