// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package etroc2 describes the register space of the ETROC2 pixel chip
// and provides a register shadow to access it over I2C.
package etroc2 // import "github.com/go-lpc/etroc/etroc2"

import (
	"fmt"
	"log"

	"github.com/go-lpc/etroc/i2c"
)

const (
	NumRows   = 16
	NumCols   = 16
	NumPixels = NumRows * NumCols
)

// Chip is the register shadow of an ETROC2 chip.
//
// Pixel registers are reached through a window selected by the row and
// column indexers. Chip tracks the indexers it wrote and keeps one cache
// per pixel.
//
// Chip is not safe for concurrent use: the indexers are global to the chip.
type Chip struct {
	link  i2c.Link
	addr  uint8
	ws    uint8
	hasWS bool
	regs  *Map
	msg   *log.Logger

	row   int
	col   int
	bcast bool

	peri    [periCfgSize]byte
	periSta [periStaSize]byte
	index   [indexerSize]byte
	pix     [NumRows][NumCols][pixCfgSize]byte
	pixSta  [NumRows][NumCols][pixStaSize]byte
	bpix    [pixCfgSize]byte // broadcast image
	wsCfg   [wsCfgSize]byte
	wsSta   [wsStaSize]byte
}

// New returns the register shadow of the ETROC2 chip at address addr on link.
// The shadow starts zeroed; the indexers are not written until SetPixel
// or SetBroadcast is called.
func New(link i2c.Link, addr uint8, opts ...Option) (*Chip, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := checkRange("chip address", int64(addr), i2c.MaxAddr); err != nil {
		return nil, err
	}
	if cfg.hasWS {
		if err := checkRange("waveform sampler address", int64(cfg.ws), i2c.MaxAddr); err != nil {
			return nil, err
		}
	}

	return &Chip{
		link:  link,
		addr:  addr,
		ws:    cfg.ws,
		hasWS: cfg.hasWS,
		regs:  cfg.regs,
		msg:   cfg.msg,
	}, nil
}

// Addr returns the I2C address of the chip.
func (c *Chip) Addr() uint8 { return c.addr }

// Map returns the register catalog used by the chip.
func (c *Chip) Map() *Map { return c.regs }

// Pixel returns the current state of the indexers.
func (c *Chip) Pixel() (row, col int, broadcast bool) {
	return c.row, c.col, c.bcast
}

func (c *Chip) device(space Space) (uint8, error) {
	switch space {
	case ETROC2:
		return c.addr, nil
	case WS:
		if !c.hasWS {
			return 0, ErrNoWS
		}
		return c.ws, nil
	default:
		return 0, fmt.Errorf("etroc2: invalid space %v", space)
	}
}

func (c *Chip) block(space Space, blk Block) (uint8, error) {
	if !blk.valid() {
		return 0, fmt.Errorf("etroc2: invalid block %d", blk)
	}
	if blk.Space() != space {
		return 0, fmt.Errorf("etroc2: block %v does not belong to space %v", blk, space)
	}
	return c.device(space)
}

// cache returns the shadow registers of blk, for the selected pixel if
// blk is pixel-indexed.
func (c *Chip) cache(blk Block) []byte {
	switch blk {
	case PeriCfg:
		return c.peri[:]
	case PeriSta:
		return c.periSta[:]
	case Indexer:
		return c.index[:]
	case PixCfg:
		if c.bcast {
			return c.bpix[:]
		}
		return c.pix[c.row][c.col][:]
	case PixSta:
		return c.pixSta[c.row][c.col][:]
	case WSCfg:
		return c.wsCfg[:]
	case WSSta:
		return c.wsSta[:]
	}
	panic(fmt.Errorf("etroc2: invalid block %d", blk))
}

// SetPixel points the pixel window at (row, col).
// SetPixel fails with ErrBroadcast while broadcast is on.
func (c *Chip) SetPixel(row, col int) error {
	if err := checkRange("row", int64(row), NumRows-1); err != nil {
		return err
	}
	if err := checkRange("column", int64(col), NumCols-1); err != nil {
		return err
	}
	if c.bcast {
		return fmt.Errorf("etroc2: could not select pixel (%d,%d): %w", row, col, ErrBroadcast)
	}

	f, err := c.regs.Lookup(Indexer, "row")
	if err != nil {
		return err
	}
	g, err := c.regs.Lookup(Indexer, "column")
	if err != nil {
		return err
	}

	sel := c.index
	f.Encode(sel[:], uint32(row))
	g.Encode(sel[:], uint32(col))

	err = c.link.Write(c.addr, Indexer.Base()+uint16(f.Reg), sel[f.Reg:f.Reg+1])
	if err != nil {
		return fmt.Errorf("etroc2: could not select pixel (%d,%d): %w", row, col, err)
	}

	c.index = sel
	c.row = row
	c.col = col
	return nil
}

// SetBroadcast toggles the broadcast indexer.
// While broadcast is on, writes to the pixel configuration window reach
// all pixels. The broadcast image starts as a copy of the shadow of the
// selected pixel.
func (c *Chip) SetBroadcast(on bool) error {
	f, err := c.regs.Lookup(Indexer, "broadcast")
	if err != nil {
		return err
	}

	sel := c.index
	v := uint32(0)
	if on {
		v = 1
	}
	f.Encode(sel[:], v)

	err = c.link.Write(c.addr, Indexer.Base()+uint16(f.Reg), sel[f.Reg:f.Reg+1])
	if err != nil {
		return fmt.Errorf("etroc2: could not set broadcast=%v: %w", on, err)
	}

	c.index = sel
	if on && !c.bcast {
		c.bpix = c.pix[c.row][c.col]
	}
	c.bcast = on
	return nil
}

// ReadBlock refreshes the shadow of blk from the device.
func (c *Chip) ReadBlock(space Space, blk Block) error {
	dev, err := c.block(space, blk)
	if err != nil {
		return err
	}
	if blk.PixelIndexed() && c.bcast {
		return fmt.Errorf("etroc2: could not read %v: %w", blk, ErrBroadcast)
	}

	data, err := c.link.Read(dev, blk.Base(), blk.Size())
	if err != nil {
		return fmt.Errorf("etroc2: could not read %v: %w", blk, err)
	}
	copy(c.cache(blk), data)

	if blk == Indexer {
		c.syncIndexer()
	}
	return nil
}

// WriteBlock flushes the shadow of blk to the device.
func (c *Chip) WriteBlock(space Space, blk Block) error {
	dev, err := c.block(space, blk)
	if err != nil {
		return err
	}
	if blk.ReadOnly() {
		return fmt.Errorf("etroc2: could not write %v: %w", blk, ErrReadOnly)
	}

	err = c.flush(dev, blk, 0, blk.Size())
	if err != nil {
		return fmt.Errorf("etroc2: could not write %v: %w", blk, err)
	}

	if blk == Indexer {
		c.syncIndexer()
	}
	return nil
}

// flush writes the shadow registers [lo, hi) of blk to the device.
func (c *Chip) flush(dev uint8, blk Block, lo, hi int) error {
	regs := c.cache(blk)
	err := c.link.Write(dev, blk.Base()+uint16(lo), regs[lo:hi])
	if err != nil {
		return err
	}

	if blk == PixCfg && c.bcast {
		for r := range c.pix {
			for k := range c.pix[r] {
				copy(c.pix[r][k][lo:hi], regs[lo:hi])
			}
		}
	}
	return nil
}

func (c *Chip) syncIndexer() {
	row, _ := c.regs.Lookup(Indexer, "row")
	col, _ := c.regs.Lookup(Indexer, "column")
	bc, _ := c.regs.Lookup(Indexer, "broadcast")
	c.row = int(row.Decode(c.index[:]))
	c.col = int(col.Decode(c.index[:]))
	on := bc.Decode(c.index[:]) == 1
	if on && !c.bcast {
		c.bpix = c.pix[c.row][c.col]
	}
	c.bcast = on
}

func (c *Chip) field(space Space, blk Block, name string) (uint8, Field, error) {
	dev, err := c.block(space, blk)
	if err != nil {
		return 0, Field{}, err
	}
	f, err := c.regs.Lookup(blk, name)
	if err != nil {
		return 0, Field{}, err
	}
	return dev, f, nil
}

// SetField stores v into the shadow of the field, without any I/O.
// The device is updated by a subsequent WriteBlock.
func (c *Chip) SetField(space Space, blk Block, name string, v uint32) error {
	_, f, err := c.field(space, blk, name)
	if err != nil {
		return err
	}
	return c.set(f, v)
}

func (c *Chip) set(f Field, v uint32) error {
	switch {
	case f.ReadOnly():
		return fmt.Errorf("etroc2: could not set %v.%s: %w", f.Block, f.Name, ErrReadOnly)
	case f.Block == Indexer:
		return fmt.Errorf("etroc2: could not set %v.%s: %w", f.Block, f.Name, ErrIndexer)
	}
	if err := checkRange(f.Block.String()+"."+f.Name, int64(v), int64(f.Max())); err != nil {
		return err
	}
	f.Encode(c.cache(f.Block), v)
	return nil
}

// Cached returns the value of the field from the shadow, without any I/O.
func (c *Chip) Cached(space Space, blk Block, name string) (uint32, error) {
	_, f, err := c.field(space, blk, name)
	if err != nil {
		return 0, err
	}
	if f.PixelIndexed() && f.ReadOnly() && c.bcast {
		return 0, fmt.Errorf("etroc2: could not decode %v.%s: %w", blk, name, ErrBroadcast)
	}
	return f.Decode(c.cache(blk)), nil
}

// WriteField stores v into the shadow of the field and flushes only the
// registers holding that field.
func (c *Chip) WriteField(space Space, blk Block, name string, v uint32) error {
	dev, f, err := c.field(space, blk, name)
	if err != nil {
		return err
	}
	err = c.set(f, v)
	if err != nil {
		return err
	}

	lo, hi := f.Regs()
	err = c.flush(dev, blk, lo, hi)
	if err != nil {
		return fmt.Errorf("etroc2: could not write %v.%s=0x%x: %w", blk, name, v, err)
	}
	return nil
}

// ReadField refreshes the registers holding the field from the device
// and returns its value.
func (c *Chip) ReadField(space Space, blk Block, name string) (uint32, error) {
	dev, f, err := c.field(space, blk, name)
	if err != nil {
		return 0, err
	}
	return c.read(dev, f)
}

// ReadStatus is like ReadField for read-only fields.
func (c *Chip) ReadStatus(space Space, blk Block, name string) (uint32, error) {
	dev, f, err := c.field(space, blk, name)
	if err != nil {
		return 0, err
	}
	if !f.ReadOnly() {
		return 0, fmt.Errorf("etroc2: %v.%s is not a status field", blk, name)
	}
	return c.read(dev, f)
}

func (c *Chip) read(dev uint8, f Field) (uint32, error) {
	if f.PixelIndexed() && c.bcast {
		return 0, fmt.Errorf("etroc2: could not read %v.%s: %w", f.Block, f.Name, ErrBroadcast)
	}

	lo, hi := f.Regs()
	data, err := c.link.Read(dev, f.Block.Base()+uint16(lo), hi-lo)
	if err != nil {
		return 0, fmt.Errorf("etroc2: could not read %v.%s: %w", f.Block, f.Name, err)
	}

	regs := c.cache(f.Block)
	copy(regs[lo:hi], data)
	if f.Block == Indexer {
		c.syncIndexer()
	}
	return f.Decode(regs), nil
}

// Bytes returns a copy of the shadow registers of blk.
func (c *Chip) Bytes(space Space, blk Block) ([]byte, error) {
	if _, err := c.block(space, blk); err != nil {
		return nil, err
	}
	return append([]byte(nil), c.cache(blk)...), nil
}

// Load replaces the shadow registers of blk with p, without any I/O.
func (c *Chip) Load(space Space, blk Block, p []byte) error {
	if _, err := c.block(space, blk); err != nil {
		return err
	}
	if len(p) != blk.Size() {
		return fmt.Errorf("etroc2: invalid %v image size (got=%d, want=%d)", blk, len(p), blk.Size())
	}
	if blk == Indexer {
		return fmt.Errorf("etroc2: could not load %v: %w", blk, ErrIndexer)
	}
	copy(c.cache(blk), p)
	return nil
}

// VerifyBroadcast reads back blk for every pixel and checks the fields
// listed in expected.
// The indexers are restored to the selected pixel before returning.
// Mismatching pixels are reported with a *BroadcastVerifyError.
func (c *Chip) VerifyBroadcast(space Space, blk Block, expected map[string]uint32) error {
	if _, err := c.block(space, blk); err != nil {
		return err
	}
	if !blk.PixelIndexed() {
		return fmt.Errorf("etroc2: block %v is not pixel-indexed", blk)
	}
	if c.bcast {
		return fmt.Errorf("etroc2: could not verify broadcast: %w", ErrBroadcast)
	}

	fields := make([]Field, 0, len(expected))
	for name, v := range expected {
		f, err := c.regs.Lookup(blk, name)
		if err != nil {
			return err
		}
		if err := checkRange(blk.String()+"."+name, int64(v), int64(f.Max())); err != nil {
			return err
		}
		fields = append(fields, f)
	}

	var (
		row0 = c.row
		col0 = c.col
		bad  []Pixel
	)
	for row := 0; row < NumRows; row++ {
		for col := 0; col < NumCols; col++ {
			err := c.SetPixel(row, col)
			if err != nil {
				return err
			}
			err = c.ReadBlock(space, blk)
			if err != nil {
				return err
			}
			regs := c.cache(blk)
			for _, f := range fields {
				got, want := f.Decode(regs), expected[f.Name]
				if got != want {
					c.msg.Printf("pixel (%d,%d): invalid %v.%s: got=0x%x, want=0x%x", row, col, blk, f.Name, got, want)
					bad = append(bad, Pixel{Row: row, Col: col})
					break
				}
			}
		}
	}

	err := c.SetPixel(row0, col0)
	if err != nil {
		return err
	}

	if len(bad) > 0 {
		return &BroadcastVerifyError{Block: blk, Pixels: bad}
	}
	return nil
}
