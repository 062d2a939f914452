// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("could not load default configuration: %+v", err)
	}

	if got, want := cfg, Default(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid default configuration:\ngot= %+v\nwant=%+v", got, want)
	}

	set := cfg.Calib.Settings()
	if set.THOffset != 0x0a || set.PollPeriod != 10*time.Millisecond || set.MaxRetries != 5 || set.DACDisable != 0x3ff {
		t.Fatalf("invalid default settings: %+v", set)
	}
}

func TestLoad(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "etroc.yaml")
	err := os.WriteFile(fname, []byte(`
link:
  kind: bridge
  addr: daq-pi:8877
chips:
  - name: etroc2-a
    addr: 0x60
    bus: bus-1
  - name: etroc2-b
    addr: 0x61
    ws_addr: 0x21
    bus: bus-1
calib:
  th_offset: 12
  poll_period: 20ms
  note: bench test
store:
  path: /data/etroc.db
supervisor:
  iterations: 10
  dwell: 1m30s
`), 0644)
	if err != nil {
		t.Fatalf("could not create configuration file: %+v", err)
	}

	t.Setenv("ETROC_CALIB__MAX_RETRIES", "8")
	t.Setenv("ETROC_PSU__ADDR", "psu:5025")

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not load configuration: %+v", err)
	}

	for _, tc := range []struct {
		name      string
		got, want interface{}
	}{
		{"link.kind", cfg.Link.Kind, "bridge"},
		{"link.addr", cfg.Link.Addr, "daq-pi:8877"},
		{"link.reg_width", cfg.Link.RegWidth, 2},
		{"chips", cfg.Chips, []Chip{
			{Name: "etroc2-a", Addr: 0x60, Bus: "bus-1"},
			{Name: "etroc2-b", Addr: 0x61, WSAddr: 0x21, Bus: "bus-1"},
		}},
		{"calib.th_offset", cfg.Calib.THOffset, uint32(12)},
		{"calib.poll_period", cfg.Calib.PollPeriod.Std(), 20 * time.Millisecond},
		{"calib.max_retries", cfg.Calib.MaxRetries, 8},
		{"calib.dac_disable", cfg.Calib.DACDisable, uint32(0x3ff)},
		{"calib.note", cfg.Calib.Note, "bench test"},
		{"store.path", cfg.Store.Path, "/data/etroc.db"},
		{"psu.addr", cfg.PSU.Addr, "psu:5025"},
		{"psu.channels", cfg.PSU.Channels, []int{1}},
		{"supervisor.iterations", cfg.Supervisor.Iterations, 10},
		{"supervisor.dwell", cfg.Supervisor.Dwell.Std(), 90 * time.Second},
	} {
		if !reflect.DeepEqual(tc.got, tc.want) {
			t.Fatalf("invalid %s: got=%v, want=%v", tc.name, tc.got, tc.want)
		}
	}
}

func TestLoadInvalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
		err  string
	}{
		{"link", "link:\n  kind: usb\n", "invalid link kind"},
		{"reg-width", "link:\n  reg_width: 3\n", "invalid sub-register width"},
		{"no-chip", "chips: []\n", "no chip"},
		{"dup-chip", "chips:\n  - name: a\n    addr: 1\n  - name: a\n    addr: 2\n", "duplicate chip"},
		{"chip-addr", "chips:\n  - name: a\n    addr: 200\n", "invalid address"},
		{"settings", "calib:\n  th_offset: 64\n", "invalid calibration settings"},
		{"duration", "calib:\n  poll_period: often\n", "could not decode"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), "etroc.yaml")
			err := os.WriteFile(fname, []byte(tc.yaml), 0644)
			if err != nil {
				t.Fatalf("could not create configuration file: %+v", err)
			}
			_, err = Load(fname)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("invalid error: got=%q, want=%q", err, tc.err)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "not-there.yaml"))
	if err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestWrite(t *testing.T) {
	buf := new(bytes.Buffer)
	err := Write(buf, Default())
	if err != nil {
		t.Fatalf("could not write configuration: %+v", err)
	}

	for _, want := range []string{"poll_period: 10ms", "dwell: 2s", "name: etroc2", "kind: dev"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, buf.String())
		}
	}

	fname := filepath.Join(t.TempDir(), DefaultFile)
	err = os.WriteFile(fname, buf.Bytes(), 0644)
	if err != nil {
		t.Fatalf("could not save configuration: %+v", err)
	}

	cfg, err := Load(fname)
	if err != nil {
		t.Fatalf("could not reload configuration: %+v", err)
	}
	if got, want := cfg, Default(); !reflect.DeepEqual(got, want) {
		t.Fatalf("round-trip failed:\ngot= %+v\nwant=%+v", got, want)
	}
}
