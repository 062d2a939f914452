// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib implements the per-pixel auto-threshold calibration of
// ETROC2 chips.
//
// The on-chip threshold calibration block of each pixel scans its
// discriminator and reports the baseline (BL) and noise width (NW) of the
// pixel. The Driver steps every requested pixel through that scan, one
// pixel at a time, and leaves each pixel parked afterwards.
package calib // import "github.com/go-lpc/etroc/calib"

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/go-lpc/etroc/etroc2"
)

type fieldValue struct {
	name string
	v    uint32
}

// scanFields are the pixel fields driven and polled by a threshold scan.
var scanFields = map[etroc2.Block][]string{
	etroc2.PixCfg: {
		"enable_TDC", "CLKEn_THCal", "BufEn_THCal", "Bypass_THCal",
		"TH_offset", "RSTn_THCal", "ScanStart_THCal", "DAC",
	},
	etroc2.PixSta: {"BL", "NW", "ScanDone"},
}

// Driver runs threshold calibrations on a chip.
// A Driver holds the chip exclusively for the duration of a run.
type Driver struct {
	chip  *etroc2.Chip
	id    ChipID
	set   Settings
	note  string
	tag   string
	msg   *log.Logger
	now   func() time.Time
	sleep func(time.Duration)

	preamble bool // whether the peripheral preamble was applied
}

// New returns a calibration driver for chip, identified by name in
// the calibration runs.
func New(chip *etroc2.Chip, name string, opts ...Option) (*Driver, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	err := cfg.set.Validate()
	if err != nil {
		return nil, err
	}

	regs := chip.Map()
	if regs == nil {
		return nil, &ConfigurationError{Reason: "no register map"}
	}
	for _, blk := range []etroc2.Block{etroc2.PixCfg, etroc2.PixSta} {
		for _, name := range scanFields[blk] {
			_, err := regs.Lookup(blk, name)
			if err != nil {
				return nil, &ConfigurationError{Reason: fmt.Sprintf("register map lacks %v.%s", blk, name)}
			}
		}
	}

	return &Driver{
		chip:  chip,
		id:    ChipID{Name: name, Addr: chip.Addr()},
		set:   cfg.set,
		note:  cfg.note,
		tag:   cfg.tag,
		msg:   cfg.msg,
		now:   cfg.now,
		sleep: cfg.sleep,
	}, nil
}

// Chip returns the identifier of the calibrated chip.
func (drv *Driver) Chip() ChipID { return drv.id }

// Settings returns the calibration settings of the driver.
func (drv *Driver) Settings() Settings { return drv.set }

func (drv *Driver) setFields(blk etroc2.Block, fvs []fieldValue) error {
	for _, fv := range fvs {
		err := drv.chip.SetField(etroc2.ETROC2, blk, fv.name, fv.v)
		if err != nil {
			return err
		}
	}
	return nil
}

func (drv *Driver) parked() []fieldValue {
	return []fieldValue{
		{"enable_TDC", 0},
		{"CLKEn_THCal", 0},
		{"BufEn_THCal", 0},
		{"Bypass_THCal", 1},
		{"DAC", drv.set.DACDisable},
	}
}

// CalibratePixel runs the threshold calibration of pixel (row, col) and
// parks the pixel.
// Transfer failures and scan timeouts are reported through the status of
// the returned result.
func (drv *Driver) CalibratePixel(row, col int) PixelResult {
	res := PixelResult{Row: row, Col: col}

	err := drv.scan(row, col, &res)
	switch {
	case err == nil:
		res.Status = StatusOK
	case errors.Is(err, ErrScanTimeout):
		res.Status = StatusScanTimeout
		drv.msg.Printf("pixel (%d,%d): %+v", row, col, err)
	default:
		res.Status = StatusI2CError
		drv.msg.Printf("pixel (%d,%d): could not calibrate: %+v", row, col, err)
	}

	err = drv.Park(row, col)
	if err != nil {
		drv.msg.Printf("pixel (%d,%d): could not park: %+v", row, col, err)
		if res.Status == StatusOK {
			res.Status = StatusI2CError
		}
	}

	res.Time = drv.now()
	return res
}

func (drv *Driver) scan(row, col int, res *PixelResult) error {
	chip := drv.chip

	err := chip.SetPixel(row, col)
	if err != nil {
		return fmt.Errorf("could not select pixel: %w", err)
	}

	err = chip.ReadBlock(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		return fmt.Errorf("could not refresh pixel configuration: %w", err)
	}
	err = drv.setFields(etroc2.PixCfg, []fieldValue{
		{"enable_TDC", 0},
		{"CLKEn_THCal", 1},
		{"BufEn_THCal", 1},
		{"Bypass_THCal", 0},
		{"TH_offset", drv.set.THOffset},
	})
	if err != nil {
		return fmt.Errorf("could not prepare pixel: %w", err)
	}
	err = chip.WriteBlock(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		return fmt.Errorf("could not prepare pixel: %w", err)
	}

	for _, step := range []fieldValue{
		{"RSTn_THCal", 0},
		{"RSTn_THCal", 1},
		{"ScanStart_THCal", 1},
		{"ScanStart_THCal", 0},
	} {
		err = chip.WriteField(etroc2.ETROC2, etroc2.PixCfg, step.name, step.v)
		if err != nil {
			return fmt.Errorf("could not start scan: %w", err)
		}
	}

	for i := 0; i < drv.set.MaxRetries; i++ {
		err = chip.ReadBlock(etroc2.ETROC2, etroc2.PixSta)
		if err != nil {
			return fmt.Errorf("could not poll ScanDone: %w", err)
		}

		bl, err := chip.Cached(etroc2.ETROC2, etroc2.PixSta, "BL")
		if err != nil {
			return fmt.Errorf("could not decode BL: %w", err)
		}
		nw, err := chip.Cached(etroc2.ETROC2, etroc2.PixSta, "NW")
		if err != nil {
			return fmt.Errorf("could not decode NW: %w", err)
		}
		done, err := chip.Cached(etroc2.ETROC2, etroc2.PixSta, "ScanDone")
		if err != nil {
			return fmt.Errorf("could not decode ScanDone: %w", err)
		}
		res.Baseline = uint16(bl)
		res.NoiseWidth = uint16(nw)

		if done == 1 {
			return nil
		}
		drv.sleep(drv.set.PollPeriod)
	}

	return fmt.Errorf("%w (%d polls, every %v)", ErrScanTimeout, drv.set.MaxRetries, drv.set.PollPeriod)
}

// Park leaves pixel (row, col) with its TDC disabled, the threshold
// calibration clock and buffer disabled, the threshold bypassed and the
// DAC at the disable value.
// Park is idempotent.
func (drv *Driver) Park(row, col int) error {
	chip := drv.chip

	if _, _, bcast := chip.Pixel(); bcast {
		err := chip.SetBroadcast(false)
		if err != nil {
			return fmt.Errorf("calib: could not disable broadcast: %w", err)
		}
	}

	err := chip.SetPixel(row, col)
	if err != nil {
		return fmt.Errorf("calib: could not select pixel: %w", err)
	}

	err = chip.ReadBlock(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		// park from the shadow.
		drv.msg.Printf("pixel (%d,%d): could not refresh configuration before parking: %+v", row, col, err)
	}

	err = drv.setFields(etroc2.PixCfg, drv.parked())
	if err != nil {
		return fmt.Errorf("calib: could not park pixel: %w", err)
	}

	err = chip.WriteBlock(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		return fmt.Errorf("calib: could not park pixel: %w", err)
	}
	return nil
}

// Sweep calibrates pixels in row-major order, regardless of the order of
// the request. A nil pixels calibrates the whole matrix.
//
// Sweep checks ctx between pixels: on cancellation, the run holds the
// pixels visited so far, is marked as cancelled, and is returned along
// with the context error.
func (drv *Driver) Sweep(ctx context.Context, pixels []etroc2.Pixel) (Run, error) {
	run := Run{
		Chip: drv.id,
		Note: drv.note,
		Tag:  drv.tag,
	}

	if !drv.preamble {
		return run, &ConfigurationError{Reason: "peripheral preamble not applied"}
	}

	if pixels == nil {
		pixels = AllPixels()
	}
	pixels, err := normalize(pixels)
	if err != nil {
		return run, err
	}

	run.Start = drv.now()
	run.Pixels = make([]PixelResult, 0, len(pixels))
	for _, px := range pixels {
		select {
		case <-ctx.Done():
			run.End = drv.now()
			run.Cancelled = true
			drv.msg.Printf("sweep of %v cancelled after %d/%d pixels", drv.id, len(run.Pixels), len(pixels))
			return run, ctx.Err()
		default:
		}
		run.Pixels = append(run.Pixels, drv.CalibratePixel(px.Row, px.Col))
	}
	run.End = drv.now()

	drv.msg.Printf(
		"sweep of %v: %d pixels, ok=%d, scan_timeout=%d, i2c_error=%d (%v)",
		drv.id, len(run.Pixels),
		run.Count(StatusOK), run.Count(StatusScanTimeout), run.Count(StatusI2CError),
		run.End.Sub(run.Start).Round(time.Millisecond),
	)
	return run, nil
}

// normalize checks, deduplicates and sorts pixels in row-major order.
func normalize(pixels []etroc2.Pixel) ([]etroc2.Pixel, error) {
	var (
		seen [etroc2.NumRows][etroc2.NumCols]bool
		out  = make([]etroc2.Pixel, 0, len(pixels))
	)
	for _, px := range pixels {
		if px.Row < 0 || px.Row >= etroc2.NumRows {
			return nil, &etroc2.ValueError{What: "row", Value: int64(px.Row), Max: etroc2.NumRows - 1}
		}
		if px.Col < 0 || px.Col >= etroc2.NumCols {
			return nil, &etroc2.ValueError{What: "column", Value: int64(px.Col), Max: etroc2.NumCols - 1}
		}
		if seen[px.Row][px.Col] {
			continue
		}
		seen[px.Row][px.Col] = true
		out = append(out, px)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out, nil
}
