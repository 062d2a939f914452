// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"errors"
	"fmt"

	"github.com/go-lpc/etroc/etroc2"
)

const chipID = 0x00017f0f

// peripheral baseline applied before the first pixel of a run.
var preamble = []fieldValue{
	{"EFuse_Prog", chipID},
	{"singlePort", 1},
	{"serRateLeft", 0},
	{"serRateRight", 0},
	{"onChipL1AConf", 0},
	{"PLL_ENABLEPLL", 1},
	{"chargeInjectionDelay", 0x0a},
	{"triggerGranularity", 1},
	{"fcClkDelayEn", 1},
	{"fcDataDelayEn", 1},
}

// Preamble writes the peripheral baseline of the chip and reads it back.
func (drv *Driver) Preamble() error {
	chip := drv.chip

	err := chip.ReadBlock(etroc2.ETROC2, etroc2.PeriCfg)
	if err != nil {
		return fmt.Errorf("calib: could not read peripheral configuration: %w", err)
	}

	err = drv.setFields(etroc2.PeriCfg, preamble)
	if err != nil {
		return fmt.Errorf("calib: could not prepare peripheral configuration: %w", err)
	}

	err = chip.WriteBlock(etroc2.ETROC2, etroc2.PeriCfg)
	if err != nil {
		return fmt.Errorf("calib: could not write peripheral configuration: %w", err)
	}

	err = chip.ReadBlock(etroc2.ETROC2, etroc2.PeriCfg)
	if err != nil {
		return fmt.Errorf("calib: could not read back peripheral configuration: %w", err)
	}
	for _, fv := range preamble {
		got, err := chip.Cached(etroc2.ETROC2, etroc2.PeriCfg, fv.name)
		if err != nil {
			return err
		}
		if got != fv.v {
			return &ConfigurationError{Reason: fmt.Sprintf(
				"peripheral %s read back as 0x%x, want 0x%x", fv.name, got, fv.v,
			)}
		}
	}

	drv.preamble = true
	return nil
}

// disabled returns the configuration of a disabled pixel.
func (drv *Driver) disabled() []fieldValue {
	fvs := []fieldValue{
		{"enable_TDC", 0},
		{"disTrigPath", 1},
		{"disDataReadout", 1},
		{"QInjEn", 0},
		{"CLKEn_THCal", 0},
		{"BufEn_THCal", 0},
		{"Bypass_THCal", 1},
		{"DAC", drv.set.DACDisable},
	}
	for _, name := range etroc2.Windows() {
		fvs = append(fvs, fieldValue{name, 0})
	}
	return fvs
}

// DisableAllPixels broadcasts the disabled pixel configuration and reads
// it back from every pixel. Pixels that missed the broadcast are then
// written one by one with the same register image.
// An error is returned when the disabled configuration could not be
// established on every pixel.
func (drv *Driver) DisableAllPixels() error {
	chip := drv.chip

	fvs := drv.disabled()
	want := make(map[string]uint32, len(fvs))
	for _, fv := range fvs {
		want[fv.name] = fv.v
	}

	img, err := drv.broadcast(fvs)
	if err != nil {
		return fmt.Errorf("calib: could not broadcast disabled configuration: %w", err)
	}

	err = chip.VerifyBroadcast(etroc2.ETROC2, etroc2.PixCfg, want)
	if err == nil {
		return nil
	}

	var berr *etroc2.BroadcastVerifyError
	if !errors.As(err, &berr) {
		return fmt.Errorf("calib: could not verify disabled configuration: %w", err)
	}
	drv.msg.Printf("%+v", berr)
	drv.msg.Printf("falling back to per-pixel writes of the disabled configuration")

	for row := 0; row < etroc2.NumRows; row++ {
		for col := 0; col < etroc2.NumCols; col++ {
			err = chip.SetPixel(row, col)
			if err != nil {
				return fmt.Errorf("calib: could not select pixel (%d,%d): %w", row, col, err)
			}
			err = chip.Load(etroc2.ETROC2, etroc2.PixCfg, img)
			if err != nil {
				return fmt.Errorf("calib: could not load disabled configuration: %w", err)
			}
			err = chip.WriteBlock(etroc2.ETROC2, etroc2.PixCfg)
			if err != nil {
				return fmt.Errorf("calib: could not disable pixel (%d,%d): %w", row, col, err)
			}
		}
	}

	err = chip.VerifyBroadcast(etroc2.ETROC2, etroc2.PixCfg, want)
	if err != nil {
		return fmt.Errorf("calib: could not disable all pixels: %w", err)
	}
	return nil
}

// broadcast writes the configuration of pixel (0,0) amended with fvs to
// all pixels, and returns the written register image.
func (drv *Driver) broadcast(fvs []fieldValue) ([]byte, error) {
	chip := drv.chip

	err := chip.SetPixel(0, 0)
	if err != nil {
		return nil, err
	}
	err = chip.ReadBlock(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		return nil, err
	}

	err = chip.SetBroadcast(true)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, _, bcast := chip.Pixel(); bcast {
			if err := chip.SetBroadcast(false); err != nil {
				drv.msg.Printf("could not disable broadcast: %+v", err)
			}
		}
	}()

	err = drv.setFields(etroc2.PixCfg, fvs)
	if err != nil {
		return nil, err
	}

	img, err := chip.Bytes(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		return nil, err
	}

	err = chip.WriteBlock(etroc2.ETROC2, etroc2.PixCfg)
	if err != nil {
		return nil, err
	}

	err = chip.SetBroadcast(false)
	if err != nil {
		return nil, err
	}
	return img, nil
}
