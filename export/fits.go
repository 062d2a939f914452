// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package export exports calibration runs to FITS files.
package export // import "github.com/go-lpc/etroc/export"

import (
	"fmt"
	"io"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/etroc2"
)

// Missing is the value of pixels absent from a run.
const Missing = -1

// maximum length of a FITS string card value.
const maxCardValue = 68

// Cards returns the provenance header cards of run.
func Cards(run calib.Run) []fitsio.Card {
	return []fitsio.Card{
		{Name: "RUNID", Value: int(run.ID), Comment: "calibration run id"},
		{Name: "CHIP", Value: clip(run.Chip.Name), Comment: "chip name"},
		{Name: "CHIPADDR", Value: int(run.Chip.Addr), Comment: "chip I2C address"},
		{Name: "NOTE", Value: clip(run.Note), Comment: "provenance note"},
		{Name: "TAG", Value: clip(run.Tag), Comment: "run tag"},
		{Name: "DATE-BEG", Value: run.Start.UTC().Format(time.RFC3339Nano), Comment: "start of run"},
		{Name: "DATE-END", Value: run.End.UTC().Format(time.RFC3339Nano), Comment: "end of run"},
		{Name: "CANCEL", Value: run.Cancelled, Comment: "run was cancelled"},
		{Name: "NPIX", Value: len(run.Pixels), Comment: "number of visited pixels"},
		{Name: "NFAIL", Value: run.Failed(), Comment: "number of failed pixels"},
	}
}

func clip(s string) string {
	if len(s) > maxCardValue {
		return s[:maxCardValue]
	}
	return s
}

// WriteFITS writes run to w as a FITS file.
//
// The primary HDU holds the baseline image, followed by the NW and
// STATUS image extensions. Images are 16x16, with columns along the
// first axis. Pixels absent from the run hold Missing.
func WriteFITS(w io.Writer, run calib.Run) (err error) {
	var (
		bl = make([]int16, etroc2.NumPixels)
		nw = make([]int16, etroc2.NumPixels)
		st = make([]int16, etroc2.NumPixels)
	)
	for i := range bl {
		bl[i] = Missing
		nw[i] = Missing
		st[i] = Missing
	}
	for _, px := range run.Pixels {
		i := px.Row*etroc2.NumCols + px.Col
		bl[i] = int16(px.Baseline)
		nw[i] = int16(px.NoiseWidth)
		st[i] = int16(px.Status)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("export: could not create FITS file: %w", err)
	}
	defer func() {
		e := fits.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("export: could not close FITS file: %w", e)
		}
	}()

	for i, v := range []struct {
		name  string
		data  []int16
		cards []fitsio.Card
	}{
		{"BL", bl, Cards(run)},
		{"NW", nw, nil},
		{"STATUS", st, []fitsio.Card{
			{Name: "ST_OK", Value: int(calib.StatusOK), Comment: calib.StatusOK.String()},
			{Name: "ST_TMO", Value: int(calib.StatusScanTimeout), Comment: calib.StatusScanTimeout.String()},
			{Name: "ST_I2C", Value: int(calib.StatusI2CError), Comment: calib.StatusI2CError.String()},
		}},
	} {
		err = writeImage(fits, i == 0, v.name, v.data, v.cards)
		if err != nil {
			return fmt.Errorf("export: could not write %s image: %w", v.name, err)
		}
	}

	return nil
}

func writeImage(fits *fitsio.File, primary bool, name string, data []int16, cards []fitsio.Card) error {
	im := fitsio.NewImage(16, []int{etroc2.NumCols, etroc2.NumRows})
	defer im.Close()

	if !primary {
		cards = append([]fitsio.Card{{Name: "EXTNAME", Value: name}}, cards...)
	}
	err := im.Header().Append(cards...)
	if err != nil {
		return err
	}

	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
