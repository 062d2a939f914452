// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/httpapi"
	"github.com/go-lpc/etroc/internal/setup"
	"github.com/spf13/cobra"
)

func newHistoryCmd(load loader) *cobra.Command {
	var (
		remote string
		pixels bool
	)

	cmd := &cobra.Command{
		Use:   "history [chip]",
		Short: "Display stored calibration runs",
		Long: `history lists the chips with stored runs or, when a chip is given
(e.g. etroc2@0x60), the runs of that chip.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, closer, err := openReader(load, remote)
			if err != nil {
				return err
			}
			defer closer()

			w := cmd.OutOrStdout()
			if len(args) == 0 {
				return printChips(ctx, w, db)
			}

			chip, err := calib.ParseChipID(args[0])
			if err != nil {
				return err
			}
			if pixels {
				run, err := db.LatestRun(ctx, chip)
				if err != nil {
					return err
				}
				printPixels(w, run)
				return nil
			}

			runs, err := db.History(ctx, chip)
			if err != nil {
				return err
			}
			printRuns(w, runs)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&remote, "remote", "", "address of a calibration HTTP server (e.g. http://daq:8080)")
	flags.BoolVar(&pixels, "latest", false, "display the pixels of the latest run")

	return cmd
}

// openReader returns the local store, or a client to a remote server.
func openReader(load loader, remote string) (httpapi.Store, func(), error) {
	if remote != "" {
		return httpapi.NewClient(remote), func() {}, nil
	}

	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	st, err := setup.OpenStore(cfg.Store, nil)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close() }, nil
}

func printChips(ctx context.Context, w io.Writer, db httpapi.Store) error {
	chips, err := db.Chips(ctx)
	if err != nil {
		return err
	}
	for _, chip := range chips {
		run, err := db.LatestRun(ctx, chip)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%v: %d runs, latest=%d (%s)\n",
			chip, countRuns(ctx, db, chip), run.ID,
			run.End.UTC().Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func countRuns(ctx context.Context, db httpapi.Store, chip calib.ChipID) int {
	runs, err := db.History(ctx, chip)
	if err != nil {
		return 0
	}
	return len(runs)
}

func printPixels(w io.Writer, run calib.Run) {
	fmt.Fprintf(w, "run %d of %v (%s, cancelled=%v)\n", run.ID, run.Chip, run.Note, run.Cancelled)
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "ROW\tCOL\tBL\tNW\tSTATUS\n")
	for _, px := range run.Pixels {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\n", px.Row, px.Col, px.Baseline, px.NoiseWidth, px.Status)
	}
	tw.Flush()
}
