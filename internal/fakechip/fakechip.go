// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakechip provides an in-memory ETROC2 chip, reachable through
// the i2c.Link interface.
package fakechip // import "github.com/go-lpc/etroc/internal/fakechip"

import (
	"fmt"
	"sync"

	"github.com/go-lpc/etroc/etroc2"
	"github.com/go-lpc/etroc/i2c"
)

// Access describes a transfer received by the fake chip, together with
// the state of the indexers at that time.
type Access struct {
	Write     bool
	Addr      uint8
	Reg       uint16
	Data      []byte
	N         int
	Row       int
	Col       int
	Broadcast bool
}

// Chip is a fake ETROC2 chip.
//
// Once a threshold scan is started (falling edge of ScanStart_THCal with
// RSTn_THCal and CLKEn_THCal asserted), the scan completes immediately:
// ScanDone is raised and BL and NW are loaded from Baseline and NoiseWidth.
type Chip struct {
	mu sync.Mutex

	Addr   uint8
	WSAddr uint8 // zero if no waveform sampler

	// Baseline and NoiseWidth give the outcome of the threshold scan
	// of a pixel.
	Baseline   func(row, col int) uint16
	NoiseWidth func(row, col int) uint16

	// ScanStuck reports whether the threshold scan of a pixel never completes.
	ScanStuck func(row, col int) bool

	// DropBroadcast reports whether a pixel ignores broadcast writes.
	DropBroadcast func(row, col int) bool

	// Fail is called before every transfer; a non-nil error aborts the transfer.
	Fail func(acc Access) error

	// Record enables the recording of accesses.
	Record bool

	regs *etroc2.Map

	peri    []byte
	periSta []byte
	index   []byte
	pix     [etroc2.NumRows][etroc2.NumCols][]byte
	pixSta  [etroc2.NumRows][etroc2.NumCols][]byte
	wsCfg   []byte
	wsSta   []byte

	log   []Access
	scans int
}

// New returns a fake chip at address addr, with power-on register values.
func New(addr uint8) *Chip {
	c := &Chip{
		Addr:       addr,
		Baseline:   func(row, col int) uint16 { return 400 },
		NoiseWidth: func(row, col int) uint16 { return 6 },
		regs:       etroc2.DefaultMap(),
		peri:       make([]byte, etroc2.PeriCfg.Size()),
		periSta:    make([]byte, etroc2.PeriSta.Size()),
		index:      make([]byte, etroc2.Indexer.Size()),
		wsCfg:      make([]byte, etroc2.WSCfg.Size()),
		wsSta:      make([]byte, etroc2.WSSta.Size()),
	}

	for row := range c.pix {
		for col := range c.pix[row] {
			cfg := make([]byte, etroc2.PixCfg.Size())
			sta := make([]byte, etroc2.PixSta.Size())
			c.encode(cfg, etroc2.PixCfg, "enable_TDC", 1)
			c.encode(cfg, etroc2.PixCfg, "Bypass_THCal", 1)
			c.encode(cfg, etroc2.PixCfg, "DAC", 0x0fb)
			c.encode(cfg, etroc2.PixCfg, "QSel", 0x14)
			c.encode(cfg, etroc2.PixCfg, "TH_offset", 0x3f)
			c.encode(cfg, etroc2.PixCfg, "upperTOATrig", 0x3ff)
			c.encode(cfg, etroc2.PixCfg, "upperTOTTrig", 0x3ff)
			c.encode(cfg, etroc2.PixCfg, "upperCalTrig", 0x3ff)
			c.encode(sta, etroc2.PixSta, "PixelID_row", uint32(row))
			c.encode(sta, etroc2.PixSta, "PixelID_col", uint32(col))
			c.pix[row][col] = cfg
			c.pixSta[row][col] = sta
		}
	}
	c.encode(c.peri, etroc2.PeriCfg, "PLL_ENABLEPLL", 0)
	c.encode(c.peri, etroc2.PeriCfg, "singlePort", 0)
	c.encode(c.peri, etroc2.PeriCfg, "onChipL1AConf", 2)
	c.encode(c.peri, etroc2.PeriCfg, "serRateLeft", 1)
	c.encode(c.peri, etroc2.PeriCfg, "serRateRight", 1)

	return c
}

func (c *Chip) field(blk etroc2.Block, name string) etroc2.Field {
	f, err := c.regs.Lookup(blk, name)
	if err != nil {
		panic(err)
	}
	return f
}

func (c *Chip) encode(regs []byte, blk etroc2.Block, name string, v uint32) {
	c.field(blk, name).Encode(regs, v)
}

func (c *Chip) decode(regs []byte, blk etroc2.Block, name string) uint32 {
	return c.field(blk, name).Decode(regs)
}

func (c *Chip) indexer() (row, col int, bcast bool) {
	row = int(c.decode(c.index, etroc2.Indexer, "row"))
	col = int(c.decode(c.index, etroc2.Indexer, "column"))
	bcast = c.decode(c.index, etroc2.Indexer, "broadcast") == 1
	return row, col, bcast
}

// Indexer returns the current state of the indexers.
func (c *Chip) Indexer() (row, col int, broadcast bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexer()
}

// Config returns a copy of the configuration registers of a pixel.
func (c *Chip) Config(row, col int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.pix[row][col]...)
}

// Status returns a copy of the status registers of a pixel.
func (c *Chip) Status(row, col int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.pixSta[row][col]...)
}

// Peripheral returns a copy of the peripheral configuration registers.
func (c *Chip) Peripheral() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.peri...)
}

// PixelField decodes a field of the configuration or status registers of a pixel.
func (c *Chip) PixelField(row, col int, blk etroc2.Block, name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch blk {
	case etroc2.PixCfg:
		return c.decode(c.pix[row][col], blk, name)
	case etroc2.PixSta:
		return c.decode(c.pixSta[row][col], blk, name)
	}
	panic(fmt.Errorf("fakechip: block %v is not pixel-indexed", blk))
}

// PeriField decodes a field of the peripheral configuration.
func (c *Chip) PeriField(name string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decode(c.peri, etroc2.PeriCfg, name)
}

// Scans returns the number of threshold scans that were started.
func (c *Chip) Scans() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

// Accesses returns the recorded accesses.
func (c *Chip) Accesses() []Access {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Access(nil), c.log...)
}

// ResetAccesses clears the recorded accesses.
func (c *Chip) ResetAccesses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = c.log[:0]
}

// locate returns the register file holding the sub-register reg of
// device addr, and the index of reg within it.
func (c *Chip) locate(addr uint8, reg uint16) (etroc2.Block, int, bool) {
	var blks []etroc2.Block
	switch {
	case addr == c.Addr:
		blks = []etroc2.Block{etroc2.PeriCfg, etroc2.PeriSta, etroc2.Indexer, etroc2.PixCfg, etroc2.PixSta}
	case c.WSAddr != 0 && addr == c.WSAddr:
		blks = []etroc2.Block{etroc2.WSCfg, etroc2.WSSta}
	}
	for _, blk := range blks {
		if reg >= blk.Base() && int(reg) < int(blk.Base())+blk.Size() {
			return blk, int(reg - blk.Base()), true
		}
	}
	return 0, 0, false
}

func (c *Chip) file(blk etroc2.Block, row, col int) []byte {
	switch blk {
	case etroc2.PeriCfg:
		return c.peri
	case etroc2.PeriSta:
		return c.periSta
	case etroc2.Indexer:
		return c.index
	case etroc2.PixCfg:
		return c.pix[row][col]
	case etroc2.PixSta:
		return c.pixSta[row][col]
	case etroc2.WSCfg:
		return c.wsCfg
	case etroc2.WSSta:
		return c.wsSta
	}
	panic(fmt.Errorf("fakechip: invalid block %v", blk))
}

func (c *Chip) access(write bool, addr uint8, reg uint16, data []byte, n int) error {
	row, col, bcast := c.indexer()
	acc := Access{
		Write:     write,
		Addr:      addr,
		Reg:       reg,
		Data:      append([]byte(nil), data...),
		N:         n,
		Row:       row,
		Col:       col,
		Broadcast: bcast,
	}
	if c.Record {
		c.log = append(c.log, acc)
	}
	if c.Fail != nil {
		return c.Fail(acc)
	}
	return nil
}

func (c *Chip) known(addr uint8) bool {
	return addr == c.Addr || (c.WSAddr != 0 && addr == c.WSAddr)
}

func (c *Chip) Read(addr uint8, reg uint16, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := i2c.CheckAddr(addr); err != nil {
		return nil, err
	}
	if !c.known(addr) {
		return nil, &i2c.LinkError{Op: "read", Addr: addr, Reg: reg, Err: fmt.Errorf("no ACK")}
	}
	if err := c.access(false, addr, reg, nil, n); err != nil {
		return nil, &i2c.LinkError{Op: "read", Addr: addr, Reg: reg, Err: err}
	}

	row, col, _ := c.indexer()
	out := make([]byte, n)
	for i := range out {
		blk, idx, ok := c.locate(addr, reg+uint16(i))
		if !ok {
			continue
		}
		out[i] = c.file(blk, row, col)[idx]
	}
	return out, nil
}

func (c *Chip) Write(addr uint8, reg uint16, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := i2c.CheckAddr(addr); err != nil {
		return err
	}
	if !c.known(addr) {
		return &i2c.LinkError{Op: "write", Addr: addr, Reg: reg, Err: fmt.Errorf("no ACK")}
	}
	if err := c.access(true, addr, reg, p, len(p)); err != nil {
		return &i2c.LinkError{Op: "write", Addr: addr, Reg: reg, Err: err}
	}

	for i, v := range p {
		blk, idx, ok := c.locate(addr, reg+uint16(i))
		if !ok || blk.ReadOnly() {
			continue
		}
		if blk != etroc2.PixCfg {
			c.file(blk, 0, 0)[idx] = v
			continue
		}

		row, col, bcast := c.indexer()
		if !bcast {
			c.writePixel(row, col, idx, v)
			continue
		}
		for r := 0; r < etroc2.NumRows; r++ {
			for k := 0; k < etroc2.NumCols; k++ {
				if c.DropBroadcast != nil && c.DropBroadcast(r, k) {
					continue
				}
				c.writePixel(r, k, idx, v)
			}
		}
	}
	return nil
}

func (c *Chip) writePixel(row, col, idx int, v byte) {
	cfg := c.pix[row][col]
	old := make([]byte, len(cfg))
	copy(old, cfg)
	cfg[idx] = v

	var (
		sta      = c.pixSta[row][col]
		rstn     = c.decode(cfg, etroc2.PixCfg, "RSTn_THCal")
		clken    = c.decode(cfg, etroc2.PixCfg, "CLKEn_THCal")
		start    = c.decode(cfg, etroc2.PixCfg, "ScanStart_THCal")
		oldStart = c.decode(old, etroc2.PixCfg, "ScanStart_THCal")
	)

	if rstn == 0 {
		c.encode(sta, etroc2.PixSta, "ScanDone", 0)
		c.encode(sta, etroc2.PixSta, "THState", 0)
		return
	}

	if oldStart == 1 && start == 0 && clken == 1 {
		c.scans++
		if c.ScanStuck != nil && c.ScanStuck(row, col) {
			c.encode(sta, etroc2.PixSta, "THState", 2)
			return
		}
		c.encode(sta, etroc2.PixSta, "THState", 7)
		c.encode(sta, etroc2.PixSta, "BL", uint32(c.Baseline(row, col)))
		c.encode(sta, etroc2.PixSta, "NW", uint32(c.NoiseWidth(row, col)))
		c.encode(sta, etroc2.PixSta, "TH", uint32(c.Baseline(row, col))+uint32(c.decode(cfg, etroc2.PixCfg, "TH_offset")))
		c.encode(sta, etroc2.PixSta, "ScanDone", 1)
	}
}

var _ i2c.Link = (*Chip)(nil)
