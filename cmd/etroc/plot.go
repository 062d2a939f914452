// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/plot"
	"github.com/spf13/cobra"
)

func newPlotCmd(load loader) *cobra.Command {
	var (
		remote string
		id     uint64
		odir   string
	)

	cmd := &cobra.Command{
		Use:   "plot chip",
		Short: "Plot the baseline and noise-width maps of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := loadRun(cmd, load, remote, args[0], id)
			if err != nil {
				return err
			}

			fnames, err := plot.Run(odir, run)
			if err != nil {
				return err
			}
			for _, fname := range fnames {
				fmt.Fprintf(cmd.OutOrStdout(), "created %q\n", fname)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&remote, "remote", "", "address of a calibration HTTP server")
	flags.Uint64Var(&id, "run", 0, "run to plot (default: latest)")
	flags.StringVarP(&odir, "output", "o", ".", "output directory")

	return cmd
}

func loadRun(cmd *cobra.Command, load loader, remote, name string, id uint64) (calib.Run, error) {
	chip, err := calib.ParseChipID(name)
	if err != nil {
		return calib.Run{}, err
	}

	db, closer, err := openReader(load, remote)
	if err != nil {
		return calib.Run{}, err
	}
	defer closer()

	if id == 0 {
		return db.LatestRun(cmd.Context(), chip)
	}
	runs, err := db.History(cmd.Context(), chip)
	if err != nil {
		return calib.Run{}, err
	}
	return findRun(runs, id)
}
