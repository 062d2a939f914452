// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/config"
	"github.com/go-lpc/etroc/etroc2"
	"github.com/go-lpc/etroc/internal/setup"
	"github.com/go-lpc/etroc/plot"
	"github.com/spf13/cobra"
)

func newCalibrateCmd(load loader) *cobra.Command {
	var (
		pixels  []string
		note    string
		tag     string
		odir    string
		disable bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate the pixel thresholds of the configured chips",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("note") {
				cfg.Calib.Note = note
			}
			if flags.Changed("tag") {
				cfg.Calib.Tag = tag
			}
			if flags.Changed("disable-all") {
				cfg.Calib.DisableAll = disable
			}

			sel, err := parsePixels(pixels)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return calibrate(ctx, cmd.OutOrStdout(), cfg, sel, odir)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVarP(&pixels, "pixel", "p", nil, "pixels to calibrate, as row,col (default: whole matrix)")
	flags.StringVar(&note, "note", "", "free-form note attached to the runs")
	flags.StringVar(&tag, "tag", "", "tag attached to the runs")
	flags.StringVarP(&odir, "plot", "o", "", "output directory for the maps of the runs")
	flags.BoolVar(&disable, "disable-all", false, "disable all pixels before the sweep")

	return cmd
}

func calibrate(ctx context.Context, w io.Writer, cfg config.Config, pixels []etroc2.Pixel, odir string) error {
	msg := log.New(os.Stdout, "etroc: ", 0)

	st, err := setup.OpenStore(cfg.Store, msg)
	if err != nil {
		return err
	}
	defer st.Close()

	s := setup.New(cfg, msg)
	defer s.Close()

	drvs, _, err := s.Drivers()
	if err != nil {
		return err
	}

	var runs []calib.Run
	defer func() {
		printRuns(w, runs)
	}()

	for _, drv := range drvs {
		run, err := calib.Calibrate(ctx, drv, st, pixels)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			runs = append(runs, run)
			return fmt.Errorf("calibration of %v interrupted: %w", drv.Chip(), err)
		default:
			return fmt.Errorf("could not calibrate %v: %w", drv.Chip(), err)
		}
		runs = append(runs, run)

		if odir == "" {
			continue
		}
		fnames, err := plot.Run(odir, run)
		if err != nil {
			return fmt.Errorf("could not plot run %d of %v: %w", run.ID, drv.Chip(), err)
		}
		for _, fname := range fnames {
			msg.Printf("created %q", fname)
		}
	}

	return nil
}

func printRuns(w io.Writer, runs []calib.Run) {
	if len(runs) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "RUN\tCHIP\tSTART\tPIXELS\tOK\tSCAN_TIMEOUT\tI2C_ERROR\tNOTE\n")
	for _, run := range runs {
		id := fmt.Sprintf("%d", run.ID)
		if run.Cancelled {
			id += "*"
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%d\t%d\t%d\t%d\t%s\n",
			id, run.Chip, run.Start.UTC().Format("2006-01-02 15:04:05"),
			len(run.Pixels),
			run.Count(calib.StatusOK),
			run.Count(calib.StatusScanTimeout),
			run.Count(calib.StatusI2CError),
			run.Note,
		)
	}
	tw.Flush()
}
