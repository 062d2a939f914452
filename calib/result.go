// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/etroc/etroc2"
)

// Status is the outcome of the calibration of a pixel.
type Status uint8

const (
	StatusOK          Status = iota // scan completed, BL and NW captured
	StatusScanTimeout               // ScanDone never raised
	StatusI2CError                  // transfer failure during the pixel sequence
)

var statusNames = [...]string{
	StatusOK:          "ok",
	StatusScanTimeout: "scan_timeout",
	StatusI2CError:    "i2c_error",
}

func (st Status) String() string {
	if int(st) < len(statusNames) {
		return statusNames[st]
	}
	return fmt.Sprintf("Status(%d)", uint8(st))
}

// ParseStatus returns the status named s.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("calib: invalid pixel status %q", s)
}

func (st Status) MarshalText() ([]byte, error) {
	if int(st) >= len(statusNames) {
		return nil, fmt.Errorf("calib: invalid pixel status %d", uint8(st))
	}
	return []byte(st.String()), nil
}

func (st *Status) UnmarshalText(p []byte) error {
	v, err := ParseStatus(string(p))
	if err != nil {
		return err
	}
	*st = v
	return nil
}

// PixelResult is the calibration outcome of a pixel.
type PixelResult struct {
	Row        int       `json:"row"`
	Col        int       `json:"col"`
	Baseline   uint16    `json:"baseline"`
	NoiseWidth uint16    `json:"noise_width"`
	Status     Status    `json:"status"`
	Time       time.Time `json:"timestamp"`
}

// ChipID identifies a chip across runs.
type ChipID struct {
	Name string `json:"name"`
	Addr uint8  `json:"addr"`
}

func (id ChipID) String() string {
	return fmt.Sprintf("%s@0x%02x", id.Name, id.Addr)
}

// ParseChipID parses chip identifiers of the form "etroc2@0x60".
func ParseChipID(s string) (ChipID, error) {
	i := strings.LastIndex(s, "@")
	if i <= 0 {
		return ChipID{}, fmt.Errorf("calib: invalid chip identifier %q", s)
	}
	addr, err := strconv.ParseUint(s[i+1:], 0, 7)
	if err != nil {
		return ChipID{}, fmt.Errorf("calib: invalid chip address in %q: %w", s, err)
	}
	return ChipID{Name: s[:i], Addr: uint8(addr)}, nil
}

// Run is a calibration run of a chip.
// Pixels are stored in row-major order.
type Run struct {
	ID        uint64        `json:"id"`
	Chip      ChipID        `json:"chip"`
	Note      string        `json:"note"`
	Tag       string        `json:"tag"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Cancelled bool          `json:"cancelled"`
	Pixels    []PixelResult `json:"pixels"`
}

// Count returns the number of pixels with status st.
func (run *Run) Count(st Status) int {
	n := 0
	for _, px := range run.Pixels {
		if px.Status == st {
			n++
		}
	}
	return n
}

// Failed returns the number of pixels that were not calibrated.
func (run *Run) Failed() int {
	return len(run.Pixels) - run.Count(StatusOK)
}

// Lookup returns the result of pixel (row, col).
func (run *Run) Lookup(row, col int) (PixelResult, bool) {
	i := sort.Search(len(run.Pixels), func(i int) bool {
		px := run.Pixels[i]
		return px.Row > row || (px.Row == row && px.Col >= col)
	})
	if i < len(run.Pixels) && run.Pixels[i].Row == row && run.Pixels[i].Col == col {
		return run.Pixels[i], true
	}
	return PixelResult{}, false
}

// Maps returns the baseline and noise-width maps of the run, indexed by
// [row][col]. Pixels absent from the run or not calibrated are left at
// zero and unset in mask.
func (run *Run) Maps() (bl, nw [etroc2.NumRows][etroc2.NumCols]float64, mask [etroc2.NumRows][etroc2.NumCols]bool) {
	for _, px := range run.Pixels {
		if px.Status != StatusOK {
			continue
		}
		bl[px.Row][px.Col] = float64(px.Baseline)
		nw[px.Row][px.Col] = float64(px.NoiseWidth)
		mask[px.Row][px.Col] = true
	}
	return bl, nw, mask
}

// AllPixels returns the pixels of the matrix, in row-major order.
func AllPixels() []etroc2.Pixel {
	pixels := make([]etroc2.Pixel, 0, etroc2.NumPixels)
	for row := 0; row < etroc2.NumRows; row++ {
		for col := 0; col < etroc2.NumCols; col++ {
			pixels = append(pixels, etroc2.Pixel{Row: row, Col: col})
		}
	}
	return pixels
}
