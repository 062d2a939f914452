// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plot renders the baseline and noise-width maps of calibration
// runs.
package plot // import "github.com/go-lpc/etroc/plot"

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/etroc2"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

type matrix = [etroc2.NumRows][etroc2.NumCols]float64

// Run renders the maps of run under dir, with files prefixed by
// "<chip>-run-<id>".
func Run(dir string, run calib.Run) ([]string, error) {
	bl, nw, mask := run.Maps()
	title := fmt.Sprintf("%s-run-%03d", run.Chip.Name, run.ID)
	return Maps(dir, title, bl, nw, mask)
}

// Maps writes under dir the 2-D baseline and noise-width maps
// (<title>-bl.png and <title>-nw.png) and their 1-D distributions
// (<title>-hist.png). Pixels unset in mask are left out.
// Maps returns the names of the written files.
func Maps(dir, title string, bl, nw matrix, mask [etroc2.NumRows][etroc2.NumCols]bool) ([]string, error) {
	var (
		hbl = hbook.NewH1D(128, 0, 1024)
		hnw = hbook.NewH1D(32, 0, 32)
	)
	for row := range mask {
		for col := range mask[row] {
			if !mask[row][col] {
				continue
			}
			hbl.Fill(bl[row][col], 1)
			hnw.Fill(nw[row][col], 1)
		}
	}

	var (
		fbl   = filepath.Join(dir, title+"-bl.png")
		fnw   = filepath.Join(dir, title+"-nw.png")
		fhist = filepath.Join(dir, title+"-hist.png")
	)

	err := saveMap(fbl, title+": baseline", bl, mask)
	if err != nil {
		return nil, fmt.Errorf("plot: could not save BL map: %w", err)
	}

	err = saveMap(fnw, title+": noise width", nw, mask)
	if err != nil {
		return nil, fmt.Errorf("plot: could not save NW map: %w", err)
	}

	tp := hplot.NewTiledPlot(draw.Tiles{Cols: 2, Rows: 1})
	for i, v := range []struct {
		h     *hbook.H1D
		title string
		label string
	}{
		{hbl, "baseline", "BL [DAC]"},
		{hnw, "noise width", "NW [DAC]"},
	} {
		p := tp.Plot(0, i)
		p.Title.Text = title + ": " + v.title
		p.X.Label.Text = v.label
		p.Y.Label.Text = "pixels"
		p.Add(hplot.NewH1D(v.h), hplot.NewGrid())
	}

	err = hplot.Save(tp, 30*vg.Centimeter, 12*vg.Centimeter, fhist)
	if err != nil {
		return nil, fmt.Errorf("plot: could not save distributions: %w", err)
	}

	return []string{fbl, fnw, fhist}, nil
}

func saveMap(fname, title string, vs matrix, mask [etroc2.NumRows][etroc2.NumCols]bool) error {
	var (
		h   = hbook.NewH2D(etroc2.NumCols, 0, etroc2.NumCols, etroc2.NumRows, 0, etroc2.NumRows)
		min = math.Inf(+1)
		max = math.Inf(-1)
	)
	for row := range vs {
		for col, v := range vs[row] {
			if !mask[row][col] {
				continue
			}
			h.Fill(float64(col)+0.5, float64(row)+0.5, v)
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
	}
	if min > max {
		min, max = 0, 1
	}
	if min == max {
		max = min + 1
	}

	// pixels left out of mask hold empty bins, drawn blank when below min.
	hm := plotter.NewHeatMap(h.GridXYZ(), palette.Heat(64, 1))
	hm.Min = min
	hm.Max = max

	p := hplot.New()
	p.Title.Text = title
	p.X.Label.Text = "column"
	p.Y.Label.Text = "row"
	p.Add(hm)

	return p.Save(15*vg.Centimeter, 14*vg.Centimeter, fname)
}
