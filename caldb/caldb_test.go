// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package caldb

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

var names = []string{
	"run_id", "chip_name", "chip_addr", "start_time", "end_time", "cancelled", "note", "tag",
	"row", "col", "baseline", "noise_width", "status", "timestamp",
}

func TestOpen(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	if got, want := dsn("etroc"), "username:s3cr3t@tcp(localhost)/etroc?parseTime=true"; got != want {
		t.Fatalf("invalid dsn: got=%q, want=%q", got, want)
	}
}

func TestCreateTable(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.CreateTable(ctx)
		if err != nil {
			t.Fatalf("could not create tables: %+v", err)
		}
		execs := fakedb.Execs()
		if got, want := len(execs), 2; got != want {
			t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
		}
		for i, name := range []string{"etroc2_runs", "etroc2_calib"} {
			if !strings.Contains(execs[i].Query, "CREATE TABLE IF NOT EXISTS "+name+" (") {
				t.Fatalf("invalid statement %d: %q", i, execs[i].Query)
			}
		}
		return nil
	})
}

func TestAppend(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	beg := time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
	run := calib.Run{
		Chip:  calib.ChipID{Name: "etroc2", Addr: 0x60},
		Note:  "bench",
		Tag:   "S5",
		Start: beg,
		End:   beg.Add(time.Second),
		Pixels: []calib.PixelResult{
			{Row: 0, Col: 0, Baseline: 387, NoiseWidth: 6, Status: calib.StatusOK, Time: beg},
			{Row: 0, Col: 1, Baseline: 0, NoiseWidth: 0, Status: calib.StatusScanTimeout, Time: beg.Add(time.Millisecond)},
		},
	}

	err = fakedb.Run(context.Background(), fakedb.Rows{
		Names:  []string{"max"},
		Values: [][]driver.Value{{int64(41)}},
	}, func(ctx context.Context) error {
		err := db.Append(ctx, &run)
		if err != nil {
			t.Fatalf("could not append run: %+v", err)
		}

		if got, want := run.ID, uint64(42); got != want {
			t.Fatalf("invalid run id: got=%d, want=%d", got, want)
		}

		execs := fakedb.Execs()
		if got, want := len(execs), 5; got != want {
			t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
		}
		if execs[0].Query != "BEGIN" || execs[4].Query != "COMMIT" {
			t.Fatalf("run not stored in a transaction: %v", execs)
		}
		checkHeader(t, execs[1], []driver.Value{
			int64(42), "etroc2", int64(0x60), beg, beg.Add(time.Second), false, "bench", "S5",
		})
		for i, px := range run.Pixels {
			exec := execs[i+2]
			if !strings.HasPrefix(exec.Query, "INSERT INTO etroc2_calib") {
				t.Fatalf("invalid statement: %q", exec.Query)
			}
			want := []driver.Value{
				int64(42), "etroc2", int64(0x60),
				int64(px.Row), int64(px.Col),
				int64(px.Baseline), int64(px.NoiseWidth),
				px.Status.String(), px.Time,
				"bench", "S5",
			}
			if len(exec.Args) != len(want) {
				t.Fatalf("invalid number of arguments: got=%d, want=%d", len(exec.Args), len(want))
			}
			for j := range want {
				if exec.Args[j] != want[j] {
					t.Fatalf("pixel %d: invalid argument %d: got=%v, want=%v", i, j, exec.Args[j], want[j])
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("error: %+v", err)
	}
}

func TestAppendEmptyRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	beg := time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
	run := calib.Run{
		ID:        5,
		Chip:      calib.ChipID{Name: "etroc2", Addr: 0x61},
		Start:     beg,
		End:       beg.Add(time.Millisecond),
		Cancelled: true,
	}

	err = fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.Append(ctx, &run)
		if err != nil {
			t.Fatalf("could not append run: %+v", err)
		}

		execs := fakedb.Execs()
		if got, want := len(execs), 3; got != want {
			t.Fatalf("invalid number of statements: got=%d, want=%d (%v)", got, want, execs)
		}
		if execs[0].Query != "BEGIN" || execs[2].Query != "COMMIT" {
			t.Fatalf("run not stored in a transaction: %v", execs)
		}
		checkHeader(t, execs[1], []driver.Value{
			int64(5), "etroc2", int64(0x61), beg, beg.Add(time.Millisecond), true, "", "",
		})
		return nil
	})
	if err != nil {
		t.Fatalf("error: %+v", err)
	}
}

func checkHeader(t *testing.T, exec fakedb.Exec, want []driver.Value) {
	t.Helper()
	if !strings.HasPrefix(exec.Query, "INSERT INTO etroc2_runs") {
		t.Fatalf("invalid header statement: %q", exec.Query)
	}
	if len(exec.Args) != len(want) {
		t.Fatalf("invalid number of header arguments: got=%d, want=%d", len(exec.Args), len(want))
	}
	for i := range want {
		if exec.Args[i] != want[i] {
			t.Fatalf("invalid header argument %d: got=%v, want=%v", i, exec.Args[i], want[i])
		}
	}
}

func TestLatestRun(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	var (
		chip = calib.ChipID{Name: "etroc2", Addr: 0x60}
		beg  = time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
		end  = beg.Add(2 * time.Second)
	)

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
		Values: [][]driver.Value{
			{int64(7), "etroc2", int64(0x60), beg, end, false, "note", "tag", int64(0), int64(0), int64(401), int64(5), "ok", beg},
			{int64(7), "etroc2", int64(0x60), beg, end, false, "note", "tag", int64(0), int64(1), int64(0), int64(0), "i2c_error", beg.Add(2 * time.Millisecond)},
			{int64(7), "etroc2", int64(0x60), beg, end, false, "note", "tag", int64(15), int64(15), int64(399), int64(7), "ok", beg.Add(time.Second)},
		},
	}, func(ctx context.Context) error {
		run, err := db.LatestRun(ctx, chip)
		if err != nil {
			t.Fatalf("could not retrieve latest run: %+v", err)
		}

		if got, want := run.ID, uint64(7); got != want {
			t.Fatalf("invalid run id: got=%d, want=%d", got, want)
		}
		if got, want := run.Chip, chip; got != want {
			t.Fatalf("invalid chip: got=%v, want=%v", got, want)
		}
		if run.Note != "note" || run.Tag != "tag" {
			t.Fatalf("invalid provenance: %q, %q", run.Note, run.Tag)
		}
		if !run.Start.Equal(beg) || !run.End.Equal(end) || run.Cancelled {
			t.Fatalf("invalid run boundaries: [%v, %v]", run.Start, run.End)
		}
		if got, want := len(run.Pixels), 3; got != want {
			t.Fatalf("invalid number of pixels: got=%d, want=%d", got, want)
		}
		if got, want := run.Pixels[1].Status, calib.StatusI2CError; got != want {
			t.Fatalf("invalid status: got=%v, want=%v", got, want)
		}
		if got, want := run.Pixels[2], (calib.PixelResult{
			Row: 15, Col: 15, Baseline: 399, NoiseWidth: 7, Status: calib.StatusOK, Time: beg.Add(time.Second),
		}); got != want {
			t.Fatalf("invalid pixel:\ngot= %+v\nwant=%+v", got, want)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
		Values: [][]driver.Value{
			{int64(8), "etroc2", int64(0x60), beg, beg.Add(time.Millisecond), true, nil, nil, nil, nil, nil, nil, nil, nil},
		},
	}, func(ctx context.Context) error {
		run, err := db.LatestRun(ctx, chip)
		if err != nil {
			t.Fatalf("could not retrieve latest run: %+v", err)
		}
		if run.ID != 8 || !run.Cancelled || len(run.Pixels) != 0 {
			t.Fatalf("invalid empty cancelled run: %+v", run)
		}
		if !run.Start.Equal(beg) || !run.End.Equal(beg.Add(time.Millisecond)) {
			t.Fatalf("invalid run boundaries: [%v, %v]", run.Start, run.End)
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{Names: names}, func(ctx context.Context) error {
		_, err := db.LatestRun(ctx, chip)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return nil
	})
}

func TestHistory(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	beg := time.Date(2022, 5, 4, 10, 0, 0, 0, time.UTC)
	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
		Values: [][]driver.Value{
			{int64(1), "etroc2", int64(0x60), beg, beg, false, nil, nil, int64(0), int64(0), int64(401), int64(5), "ok", beg},
			{int64(1), "etroc2", int64(0x60), beg, beg, false, nil, nil, int64(0), int64(1), int64(402), int64(5), "ok", beg},
			{int64(2), "etroc2", int64(0x60), beg, beg, true, "aborted", nil, nil, nil, nil, nil, nil, nil},
			{int64(3), "etroc2", int64(0x60), beg, beg, false, "retry", nil, int64(0), int64(0), int64(0), int64(0), "scan_timeout", beg},
		},
	}, func(ctx context.Context) error {
		runs, err := db.History(ctx, calib.ChipID{Name: "etroc2", Addr: 0x60})
		if err != nil {
			t.Fatalf("could not retrieve history: %+v", err)
		}
		if got, want := len(runs), 3; got != want {
			t.Fatalf("invalid number of runs: got=%d, want=%d", got, want)
		}
		if runs[0].ID != 1 || len(runs[0].Pixels) != 2 || runs[0].Note != "" || runs[0].Cancelled {
			t.Fatalf("invalid first run: %+v", runs[0])
		}
		if runs[1].ID != 2 || len(runs[1].Pixels) != 0 || runs[1].Note != "aborted" || !runs[1].Cancelled {
			t.Fatalf("invalid second run: %+v", runs[1])
		}
		if runs[2].ID != 3 || runs[2].Failed() != 1 || runs[2].Note != "retry" {
			t.Fatalf("invalid third run: %+v", runs[2])
		}
		return nil
	})

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: names,
		Values: [][]driver.Value{
			{int64(1), "etroc2", int64(0x60), beg, beg, false, nil, nil, int64(0), int64(0), int64(401), int64(5), "cancelled", beg},
		},
	}, func(ctx context.Context) error {
		_, err := db.History(ctx, calib.ChipID{Name: "etroc2", Addr: 0x60})
		if err == nil {
			t.Fatalf("expected an error")
		}
		return nil
	})
}

func TestChips(t *testing.T) {
	db, err := Open("fakedb")
	if err != nil {
		t.Fatalf("could not open caldb: %+v", err)
	}
	defer db.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"chip_name", "chip_addr"},
		Values: [][]driver.Value{
			{"etroc2-a", int64(0x60)},
			{"etroc2-b", int64(0x61)},
		},
	}, func(ctx context.Context) error {
		chips, err := db.Chips(ctx)
		if err != nil {
			t.Fatalf("could not retrieve chips: %+v", err)
		}
		want := []calib.ChipID{{Name: "etroc2-a", Addr: 0x60}, {Name: "etroc2-b", Addr: 0x61}}
		if len(chips) != len(want) {
			t.Fatalf("invalid number of chips: got=%d, want=%d", len(chips), len(want))
		}
		for i := range want {
			if chips[i] != want[i] {
				t.Fatalf("invalid chip %d: got=%v, want=%v", i, chips[i], want[i])
			}
		}
		return nil
	})
}
