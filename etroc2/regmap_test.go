// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package etroc2

import (
	"bytes"
	"errors"
	"testing"
)

func TestCatalog(t *testing.T) {
	m := DefaultMap()
	for _, tc := range []struct {
		blk   Block
		name  string
		addr  uint16
		lo    int
		hi    int
		max   uint32
		ro    bool
		pixel bool
	}{
		{PeriCfg, "PLL_ENABLEPLL", 0x0003, 3, 4, 1, false, false},
		{PeriCfg, "chargeInjectionDelay", 0x0009, 9, 10, 0x1f, false, false},
		{PeriCfg, "EFuse_Prog", 0x0018, 24, 28, 0xffffffff, false, false},
		{PeriSta, "invalidFCCount", 0x0103, 3, 5, 0xfff, true, false},
		{Indexer, "column", 0x0120, 0, 1, 0xf, false, false},
		{PixCfg, "DAC", 0x8004, 4, 6, 0x3ff, false, true},
		{PixCfg, "TH_offset", 0x8005, 5, 6, 0x3f, false, true},
		{PixCfg, "lowerCal", 0x800a, 10, 12, 0x3ff, false, true},
		{PixCfg, "lowerTOT", 0x800f, 15, 17, 0x3ff, false, true},
		{PixCfg, "upperTOTTrig", 0x8017, 23, 25, 0x3ff, false, true},
		{PixSta, "BL", 0x8102, 2, 4, 0x3ff, true, true},
		{PixSta, "NW", 0x8101, 1, 2, 0xf, true, true},
		{WSCfg, "rd_addr", 0x0001, 1, 3, 0x7ff, false, false},
		{WSSta, "dout", 0x0020, 0, 2, 0x3fff, true, false},
	} {
		t.Run(tc.blk.String()+"."+tc.name, func(t *testing.T) {
			f, err := m.Lookup(tc.blk, tc.name)
			if err != nil {
				t.Fatalf("could not lookup field: %+v", err)
			}
			if got, want := f.Addr(), tc.addr; got != want {
				t.Fatalf("invalid address: got=0x%04x, want=0x%04x", got, want)
			}
			lo, hi := f.Regs()
			if lo != tc.lo || hi != tc.hi {
				t.Fatalf("invalid registers: got=[%d, %d), want=[%d, %d)", lo, hi, tc.lo, tc.hi)
			}
			if got, want := f.Max(), tc.max; got != want {
				t.Fatalf("invalid max: got=0x%x, want=0x%x", got, want)
			}
			if got, want := f.ReadOnly(), tc.ro; got != want {
				t.Fatalf("invalid read-only flag: got=%v, want=%v", got, want)
			}
			if got, want := f.PixelIndexed(), tc.pixel; got != want {
				t.Fatalf("invalid pixel-indexed flag: got=%v, want=%v", got, want)
			}
		})
	}

	_, err := m.Lookup(PixCfg, "BL")
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("expected an unknown field error, got %v", err)
	}

	if got, want := len(m.Fields(PixSta)), 8; got != want {
		t.Fatalf("invalid number of pixel status fields: got=%d, want=%d", got, want)
	}
}

func TestFieldCodec(t *testing.T) {
	m := DefaultMap()
	dac, _ := m.Lookup(PixCfg, "DAC")
	off, _ := m.Lookup(PixCfg, "TH_offset")

	regs := make([]byte, PixCfg.Size())
	dac.Encode(regs, 0x3ff)
	off.Encode(regs, 0x0a)

	if got, want := regs[4:6], []byte{0xff, 0x2b}; !bytes.Equal(got, want) {
		t.Fatalf("invalid registers: got=% x, want=% x", got, want)
	}
	if got, want := dac.Decode(regs), uint32(0x3ff); got != want {
		t.Fatalf("invalid DAC: got=0x%x, want=0x%x", got, want)
	}
	if got, want := off.Decode(regs), uint32(0x0a); got != want {
		t.Fatalf("invalid TH_offset: got=0x%x, want=0x%x", got, want)
	}

	dac.Encode(regs, 0x155)
	if got, want := regs[4:6], []byte{0x55, 0x29}; !bytes.Equal(got, want) {
		t.Fatalf("invalid registers after re-encoding: got=% x, want=% x", got, want)
	}
	if got, want := off.Decode(regs), uint32(0x0a); got != want {
		t.Fatalf("TH_offset clobbered: got=0x%x, want=0x%x", got, want)
	}
}

func TestNewMapErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		fields []Field
	}{
		{"overlap", []Field{fld(PixCfg, 0, 0, 4, "a"), fld(PixCfg, 0, 3, 2, "b")}},
		{"duplicate", []Field{fld(PixCfg, 0, 0, 1, "a"), fld(PixCfg, 1, 0, 1, "a")}},
		{"overflow", []Field{fld(Indexer, 1, 4, 8, "a")}},
		{"width", []Field{fld(PixCfg, 0, 0, 0, "a")}},
		{"block", []Field{fld(nBlocks, 0, 0, 1, "a")}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newMap(tc.fields)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

func TestParse(t *testing.T) {
	for _, name := range []string{"PeriCfg", "PeriSta", "Indexer", "PixCfg", "PixSta", "WSCfg", "WSSta"} {
		blk, err := ParseBlock(name)
		if err != nil {
			t.Fatalf("could not parse block %q: %+v", name, err)
		}
		if got, want := blk.String(), name; got != want {
			t.Fatalf("invalid block name: got=%q, want=%q", got, want)
		}
	}
	if _, err := ParseBlock("PixelConfig"); err == nil {
		t.Fatalf("expected an error")
	}

	for _, tc := range []struct {
		name string
		want Space
	}{
		{"ETROC2", ETROC2},
		{"etroc2", ETROC2},
		{"WS", WS},
	} {
		got, err := ParseSpace(tc.name)
		if err != nil {
			t.Fatalf("could not parse space %q: %+v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("invalid space: got=%v, want=%v", got, tc.want)
		}
	}
	if _, err := ParseSpace("pixel"); err == nil {
		t.Fatalf("expected an error")
	}
}
