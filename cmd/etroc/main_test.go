// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/etroc2"
	"github.com/go-lpc/etroc/i2c"
	"github.com/go-lpc/etroc/internal/fakechip"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root := newRootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestParsePixels(t *testing.T) {
	got, err := parsePixels([]string{"0,1", " 15, 3"})
	if err != nil {
		t.Fatalf("could not parse pixels: %+v", err)
	}
	want := []etroc2.Pixel{{Row: 0, Col: 1}, {Row: 15, Col: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid pixels: got=%v, want=%v", got, want)
	}

	for _, v := range []string{"1", "1,2,3", "a,1", "1,b"} {
		_, err := parsePixels([]string{v})
		if err == nil {
			t.Fatalf("expected an error for %q", v)
		}
	}

	got, err = parsePixels(nil)
	if err != nil || got != nil {
		t.Fatalf("invalid empty selection: %v, %v", got, err)
	}
}

func TestMkconf(t *testing.T) {
	out, err := runCmd(t, "mkconf")
	if err != nil {
		t.Fatalf("could not run mkconf: %+v", err)
	}
	if !strings.Contains(out, "poll_period: 10ms") {
		t.Fatalf("invalid configuration:\n%s", out)
	}

	fname := filepath.Join(t.TempDir(), "etroc.yaml")
	_, err = runCmd(t, "mkconf", "-o", fname)
	if err != nil {
		t.Fatalf("could not run mkconf: %+v", err)
	}
	raw, err := os.ReadFile(fname)
	if err != nil {
		t.Fatalf("could not read configuration: %+v", err)
	}
	if string(raw) != out {
		t.Fatalf("configuration file and stdout differ")
	}
}

func TestCalibrate(t *testing.T) {
	dev := fakechip.New(0x60)
	dev.Baseline = func(row, col int) uint16 { return uint16(380 + row) }
	dev.NoiseWidth = func(row, col int) uint16 { return 7 }
	dev.ScanStuck = func(row, col int) bool { return row == 2 && col == 2 }

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not listen: %+v", err)
	}
	defer l.Close()
	go func() { _ = i2c.ServeBridge(l, dev, log.New(io.Discard, "", 0)) }()

	dir := t.TempDir()
	fname := filepath.Join(dir, "etroc.yaml")
	err = os.WriteFile(fname, []byte(fmt.Sprintf(`
link:
  kind: bridge
  addr: %s
chips:
  - name: etroc2
    addr: 0x60
calib:
  poll_period: 1ms
  note: cmd test
store:
  path: %s
`, l.Addr(), filepath.Join(dir, "etroc.db"))), 0644)
	if err != nil {
		t.Fatalf("could not write configuration: %+v", err)
	}

	out, err := runCmd(t, "calibrate", "-c", fname, "-p", "0,0", "-p", "1,1", "-p", "2,2", "-o", dir, "--tag", "T1")
	if err != nil {
		t.Fatalf("could not calibrate: %+v\n%s", err, out)
	}
	if !strings.Contains(out, "etroc2@0x60") || !strings.Contains(out, "cmd test") {
		t.Fatalf("invalid calibrate output:\n%s", out)
	}
	found := false
	for _, line := range strings.Split(out, "\n") {
		toks := strings.Fields(line)
		if len(toks) < 8 || toks[1] != "etroc2@0x60" {
			continue
		}
		found = true
		// pixels, ok, scan_timeout, i2c_error
		if got, want := strings.Join(toks[4:8], " "), "3 2 1 0"; got != want {
			t.Fatalf("invalid run summary: got=%q, want=%q\n%s", got, want, out)
		}
	}
	if !found {
		t.Fatalf("missing run summary:\n%s", out)
	}
	for _, name := range []string{"bl", "nw", "hist"} {
		_, err := os.Stat(filepath.Join(dir, "etroc2-run-001-"+name+".png"))
		if err != nil {
			t.Fatalf("missing %s plot: %+v", name, err)
		}
	}

	out, err = runCmd(t, "history", "-c", fname)
	if err != nil {
		t.Fatalf("could not run history: %+v", err)
	}
	if !strings.Contains(out, "etroc2@0x60: 1 runs, latest=1") {
		t.Fatalf("invalid history:\n%s", out)
	}

	out, err = runCmd(t, "history", "-c", fname, "etroc2@0x60", "--latest")
	if err != nil {
		t.Fatalf("could not run history: %+v", err)
	}
	for _, want := range []string{"run 1 of etroc2@0x60", "381", "scan_timeout"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in history:\n%s", want, out)
		}
	}

	_, err = runCmd(t, "history", "-c", fname, "etroc2@0x61")
	if err == nil {
		t.Fatalf("expected an error for an unknown chip")
	}

	oname := filepath.Join(dir, "run.fits")
	_, err = runCmd(t, "export", "-c", fname, "etroc2@0x60", "-o", oname)
	if err != nil {
		t.Fatalf("could not export run: %+v", err)
	}
	if _, err := os.Stat(oname); err != nil {
		t.Fatalf("missing FITS file: %+v", err)
	}

	pdir := filepath.Join(dir, "plots")
	err = os.Mkdir(pdir, 0755)
	if err != nil {
		t.Fatalf("could not create plot dir: %+v", err)
	}
	_, err = runCmd(t, "plot", "-c", fname, "etroc2@0x60", "--run", "1", "-o", pdir)
	if err != nil {
		t.Fatalf("could not plot run: %+v", err)
	}
	_, err = runCmd(t, "plot", "-c", fname, "etroc2@0x60", "--run", "2", "-o", pdir)
	if err == nil {
		t.Fatalf("expected an error for an unknown run")
	}
}

func TestShell(t *testing.T) {
	dev := fakechip.New(0x60)
	dev.Baseline = func(row, col int) uint16 { return 421 }
	msg := log.New(io.Discard, "", 0)

	chip, err := etroc2.New(dev, dev.Addr, etroc2.WithLogger(msg))
	if err != nil {
		t.Fatalf("could not create chip: %+v", err)
	}
	drv, err := calib.New(chip, "etroc2", calib.WithLogger(msg))
	if err != nil {
		t.Fatalf("could not create driver: %+v", err)
	}

	buf := new(bytes.Buffer)
	sh := &shell{chip: chip, drv: drv, w: buf}

	for _, tc := range []struct {
		cmd  string
		want string
		err  string
	}{
		{cmd: "help", want: "commands:"},
		{cmd: "pixel 3 4"},
		{cmd: "read PixSta PixelID_row", want: "PixSta.PixelID_row = 0x3 (3)"},
		{cmd: "write PixCfg DAC 0x2aa"},
		{cmd: "read pixcfg DAC", want: "0x2aa"},
		{cmd: "dump PixSta", want: "0x8100: "},
		{cmd: "preamble"},
		{cmd: "calib 5 6", want: "pixel (5,6): BL=421 NW=6 status=ok"},
		{cmd: "park 5 6"},
		{cmd: "broadcast on"},
		{cmd: "broadcast off"},
		{cmd: "broadcast maybe", err: "invalid argument"},
		{cmd: "pixel 3", err: "invalid number of arguments"},
		{cmd: "pixel 16 0", err: "row"},
		{cmd: "read Foo DAC", err: "unknown block"},
		{cmd: "write PixCfg DAC x", err: "invalid value"},
		{cmd: "frobnicate", err: "unknown command"},
		{cmd: `read "PixCfg DAC`, err: "could not parse"},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			buf.Reset()
			err := sh.exec(tc.cmd)
			switch {
			case tc.err != "":
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("invalid error: got=%v, want=%q", err, tc.err)
				}
				return
			case err != nil:
				t.Fatalf("could not run %q: %+v", tc.cmd, err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Fatalf("missing %q in:\n%s", tc.want, buf.String())
			}
		})
	}

	if got, want := dev.PixelField(5, 6, etroc2.PixCfg, "DAC"), uint32(0x3ff); got != want {
		t.Fatalf("pixel not parked: DAC=0x%x, want=0x%x", got, want)
	}

	if err := sh.exec("quit"); err != errQuit {
		t.Fatalf("invalid quit: %v", err)
	}
}
