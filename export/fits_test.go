// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/etroc2"
)

func TestWriteFITS(t *testing.T) {
	beg := time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
	run := calib.Run{
		ID:    12,
		Chip:  calib.ChipID{Name: "etroc2-b2", Addr: 0x61},
		Note:  strings.Repeat("x", 100),
		Tag:   "S6",
		Start: beg,
		End:   beg.Add(time.Second),
		Pixels: []calib.PixelResult{
			{Row: 0, Col: 0, Baseline: 387, NoiseWidth: 6, Status: calib.StatusOK, Time: beg},
			{Row: 8, Col: 8, Baseline: 0, NoiseWidth: 0, Status: calib.StatusScanTimeout, Time: beg},
			{Row: 15, Col: 14, Baseline: 1023, NoiseWidth: 15, Status: calib.StatusOK, Time: beg},
		},
	}

	buf := new(bytes.Buffer)
	err := WriteFITS(buf, run)
	if err != nil {
		t.Fatalf("could not write FITS file: %+v", err)
	}

	f, err := fitsio.Open(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("could not open FITS file: %+v", err)
	}
	defer f.Close()

	if got, want := len(f.HDUs()), 3; got != want {
		t.Fatalf("invalid number of HDUs: got=%d, want=%d", got, want)
	}

	hdr := f.HDU(0).Header()
	for _, tc := range []struct {
		name string
		want string
	}{
		{"RUNID", "12"},
		{"CHIP", "etroc2-b2"},
		{"CHIPADDR", "97"},
		{"NOTE", strings.Repeat("x", maxCardValue)},
		{"TAG", "S6"},
		{"DATE-BEG", "2022-05-04T10:00:00Z"},
		{"NPIX", "3"},
		{"NFAIL", "1"},
	} {
		card := hdr.Get(tc.name)
		if card == nil {
			t.Fatalf("missing card %q", tc.name)
		}
		if got := fmt.Sprint(card.Value); got != tc.want {
			t.Fatalf("invalid card %q: got=%q, want=%q", tc.name, got, tc.want)
		}
	}

	for i, tc := range []struct {
		name string
		want map[int]int16
	}{
		{"BL", map[int]int16{0: 387, 8*16 + 8: 0, 15*16 + 14: 1023, 1: Missing, 255: Missing}},
		{"NW", map[int]int16{0: 6, 15*16 + 14: 15, 17: Missing}},
		{"STATUS", map[int]int16{0: 0, 8*16 + 8: 1, 15*16 + 14: 0, 3: Missing}},
	} {
		img, ok := f.HDU(i).(fitsio.Image)
		if !ok {
			t.Fatalf("HDU %d is not an image", i)
		}
		if i > 0 {
			if got := fmt.Sprint(img.Header().Get("EXTNAME").Value); got != tc.name {
				t.Fatalf("invalid extension name: got=%q, want=%q", got, tc.name)
			}
		}
		if got, want := img.Header().Axes(), []int{16, 16}; len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("invalid %s image shape: got=%v, want=%v", tc.name, got, want)
		}

		data := make([]int16, etroc2.NumPixels)
		err = img.Read(&data)
		if err != nil {
			t.Fatalf("could not read %s image: %+v", tc.name, err)
		}
		for idx, want := range tc.want {
			if got := data[idx]; got != want {
				t.Fatalf("%s image: invalid pixel %d: got=%d, want=%d", tc.name, idx, got, want)
			}
		}
	}
}

type failWriter struct{}

var errDiskFull = errors.New("disk full")

func (failWriter) Write(p []byte) (int, error) { return 0, errDiskFull }

func TestWriteFITSError(t *testing.T) {
	run := calib.Run{
		ID:   1,
		Chip: calib.ChipID{Name: "etroc2", Addr: 0x60},
		Pixels: []calib.PixelResult{
			{Row: 0, Col: 0, Baseline: 400, NoiseWidth: 6, Status: calib.StatusOK},
		},
	}
	err := WriteFITS(failWriter{}, run)
	if err == nil {
		t.Fatalf("expected an error writing to a failing writer")
	}
	if !strings.HasPrefix(err.Error(), "export: could not") {
		t.Fatalf("invalid error: %v", err)
	}
}
