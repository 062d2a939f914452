// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc runs and inspects the threshold calibration of ETROC2 chips.
//
// Usage: etroc [command] [flags]
//
// Commands:
//
//	calibrate   calibrate the pixel thresholds of the configured chips
//	supervise   run a power-cycle calibration campaign
//	history     display stored calibration runs
//	plot        plot the baseline and noise-width maps of a run
//	export      export a run to a FITS file
//	serve       serve stored runs over HTTP
//	shell       interactive register shell for a chip
//	mkconf      write the default configuration
//
// The configuration is read from etroc.yaml (see -config) and ETROC_
// environment variables.
package main // import "github.com/go-lpc/etroc/cmd/etroc"

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/config"
	"github.com/go-lpc/etroc/etroc2"
	"github.com/spf13/cobra"
)

func main() {
	log.SetPrefix("etroc: ")
	log.SetFlags(0)

	err := newRootCmd().Execute()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

// loader loads the configuration selected on the command line.
type loader func() (config.Config, error)

func newRootCmd() *cobra.Command {
	var fname string

	root := &cobra.Command{
		Use:           "etroc",
		Short:         "ETROC2 threshold calibration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&fname, "config", "c", config.DefaultFile, "path to the configuration file")

	load := func() (config.Config, error) {
		_, err := os.Stat(fname)
		if errors.Is(err, fs.ErrNotExist) && fname == config.DefaultFile {
			return config.Load("")
		}
		return config.Load(fname)
	}

	root.AddCommand(
		newCalibrateCmd(load),
		newSuperviseCmd(load),
		newHistoryCmd(load),
		newPlotCmd(load),
		newExportCmd(load),
		newServeCmd(load),
		newShellCmd(load),
		newMkconfCmd(),
	)
	return root
}

// parsePixels parses pixels given as "row,col".
func parsePixels(vs []string) ([]etroc2.Pixel, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	pixels := make([]etroc2.Pixel, 0, len(vs))
	for _, v := range vs {
		toks := strings.Split(v, ",")
		if len(toks) != 2 {
			return nil, fmt.Errorf("invalid pixel %q (want row,col)", v)
		}
		row, err := strconv.Atoi(strings.TrimSpace(toks[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid pixel row in %q: %w", v, err)
		}
		col, err := strconv.Atoi(strings.TrimSpace(toks[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid pixel column in %q: %w", v, err)
		}
		pixels = append(pixels, etroc2.Pixel{Row: row, Col: col})
	}
	return pixels, nil
}

// findRun returns the run id of chip from runs, or the latest one if id is zero.
func findRun(runs []calib.Run, id uint64) (calib.Run, error) {
	if len(runs) == 0 {
		return calib.Run{}, fmt.Errorf("no calibration run")
	}
	if id == 0 {
		return runs[len(runs)-1], nil
	}
	for _, run := range runs {
		if run.ID == id {
			return run, nil
		}
	}
	return calib.Run{}, fmt.Errorf("no calibration run %d for %v", id, runs[0].Chip)
}
