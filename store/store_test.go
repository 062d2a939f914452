// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-lpc/etroc/calib"
	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "etroc.db"), WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newRun(chip calib.ChipID, note string, n int, bl uint16) calib.Run {
	beg := time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
	run := calib.Run{
		Chip:  chip,
		Note:  note,
		Tag:   "test",
		Start: beg,
	}
	for i := 0; i < n; i++ {
		st := calib.StatusOK
		if i == 3 {
			st = calib.StatusScanTimeout
		}
		run.Pixels = append(run.Pixels, calib.PixelResult{
			Row:        i / 16,
			Col:        i % 16,
			Baseline:   bl + uint16(i%7),
			NoiseWidth: uint16(4 + i%5),
			Status:     st,
			Time:       beg.Add(time.Duration(i) * time.Millisecond),
		})
	}
	run.End = beg.Add(time.Duration(n) * time.Millisecond)
	return run
}

func checkRun(t *testing.T, got, want calib.Run) {
	t.Helper()
	switch {
	case got.ID != want.ID:
		t.Fatalf("invalid run id: got=%d, want=%d", got.ID, want.ID)
	case got.Chip != want.Chip:
		t.Fatalf("invalid chip: got=%v, want=%v", got.Chip, want.Chip)
	case got.Note != want.Note || got.Tag != want.Tag:
		t.Fatalf("invalid provenance: got=(%q, %q), want=(%q, %q)", got.Note, got.Tag, want.Note, want.Tag)
	case !got.Start.Equal(want.Start) || !got.End.Equal(want.End):
		t.Fatalf("invalid run boundaries: got=[%v, %v], want=[%v, %v]", got.Start, got.End, want.Start, want.End)
	case got.Cancelled != want.Cancelled:
		t.Fatalf("invalid cancelled flag: got=%v, want=%v", got.Cancelled, want.Cancelled)
	case len(got.Pixels) != len(want.Pixels):
		t.Fatalf("invalid number of pixels: got=%d, want=%d", len(got.Pixels), len(want.Pixels))
	}
	for i := range got.Pixels {
		g, w := got.Pixels[i], want.Pixels[i]
		if !g.Time.Equal(w.Time) {
			t.Fatalf("pixel %d: invalid timestamp: got=%v, want=%v", i, g.Time, w.Time)
		}
		g.Time = w.Time
		if g != w {
			t.Fatalf("pixel %d: invalid result:\ngot= %+v\nwant=%+v", i, g, w)
		}
	}
}

func TestStore(t *testing.T) {
	var (
		ctx   = context.Background()
		st    = newTestStore(t)
		chipA = calib.ChipID{Name: "etroc2-a", Addr: 0x60}
		chipB = calib.ChipID{Name: "etroc2-b", Addr: 0x61}
	)

	_, err := st.LatestRun(ctx, chipA)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = st.History(ctx, chipA)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	runs := []calib.Run{
		newRun(chipA, "first", 256, 400),
		newRun(chipB, "other chip", 3, 380),
		newRun(chipA, "second", 256, 410),
	}
	runs[1].Cancelled = true
	for i := range runs {
		err := st.Append(ctx, &runs[i])
		if err != nil {
			t.Fatalf("could not append run %d: %+v", i, err)
		}
		if got, want := runs[i].ID, uint64(i+1); got != want {
			t.Fatalf("invalid run id: got=%d, want=%d", got, want)
		}
	}

	latest, err := st.LatestRun(ctx, chipA)
	if err != nil {
		t.Fatalf("could not load latest run: %+v", err)
	}
	checkRun(t, latest, runs[2])

	if got, ok := latest.Lookup(0, 3); !ok || got.Status != calib.StatusScanTimeout {
		t.Fatalf("invalid status of pixel (0,3): %+v", got)
	}

	hist, err := st.History(ctx, chipA)
	if err != nil {
		t.Fatalf("could not load history: %+v", err)
	}
	if got, want := len(hist), 2; got != want {
		t.Fatalf("invalid history length: got=%d, want=%d", got, want)
	}
	checkRun(t, hist[0], runs[0])
	checkRun(t, hist[1], runs[2])

	partial, err := st.LatestRun(ctx, chipB)
	if err != nil {
		t.Fatalf("could not load latest run: %+v", err)
	}
	checkRun(t, partial, runs[1])

	chips, err := st.Chips(ctx)
	if err != nil {
		t.Fatalf("could not list chips: %+v", err)
	}
	if len(chips) != 2 || chips[0] != chipA || chips[1] != chipB {
		t.Fatalf("invalid chips: %v", chips)
	}
}

func TestStoreReopen(t *testing.T) {
	var (
		ctx   = context.Background()
		fname = filepath.Join(t.TempDir(), "etroc.db")
		chip  = calib.ChipID{Name: "etroc2", Addr: 0x60}
		run   = newRun(chip, "persisted", 10, 390)
	)

	st, err := Open(fname, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not open store: %+v", err)
	}
	err = st.Append(ctx, &run)
	if err != nil {
		t.Fatalf("could not append run: %+v", err)
	}
	err = st.Close()
	if err != nil {
		t.Fatalf("could not close store: %+v", err)
	}

	st, err = Open(fname, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not re-open store: %+v", err)
	}
	defer st.Close()

	got, err := st.LatestRun(ctx, chip)
	if err != nil {
		t.Fatalf("could not load run: %+v", err)
	}
	checkRun(t, got, run)

	next := newRun(chip, "next", 1, 390)
	err = st.Append(ctx, &next)
	if err != nil {
		t.Fatalf("could not append run: %+v", err)
	}
	if got, want := next.ID, uint64(2); got != want {
		t.Fatalf("run ids are not monotonic: got=%d, want=%d", got, want)
	}
}

func TestStoreChecksum(t *testing.T) {
	var (
		ctx  = context.Background()
		st   = newTestStore(t)
		chip = calib.ChipID{Name: "etroc2", Addr: 0x60}
		run  = newRun(chip, "corrupted", 16, 400)
	)

	err := st.Append(ctx, &run)
	if err != nil {
		t.Fatalf("could not append run: %+v", err)
	}

	err = st.db.Update(func(tx *bbolt.Tx) error {
		pixels := tx.Bucket(bktRuns).Bucket(u64(run.ID)).Bucket(bktPixels)
		return pixels.Put(pixelKey(0, 5), []byte(`{"row":0,"col":5,"baseline":1023,"noise_width":4,"status":"ok","timestamp":"2022-05-04T10:00:00Z"}`))
	})
	if err != nil {
		t.Fatalf("could not corrupt run: %+v", err)
	}

	_, err = st.LatestRun(ctx, chip)
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected a checksum error, got %v", err)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := newTestStore(t)
	run := newRun(calib.ChipID{Name: "etroc2", Addr: 0x60}, "", 1, 400)
	err := st.Append(ctx, &run)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
	if run.ID != 0 {
		t.Fatalf("run was assigned an id")
	}
}
