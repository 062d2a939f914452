// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package etroc2

import (
	"fmt"
	"sort"
	"strings"
)

// Space identifies an I2C target of an ETROC2 chip.
type Space uint8

const (
	ETROC2 Space = iota // main chip address
	WS                  // waveform sampler address
)

func (s Space) String() string {
	switch s {
	case ETROC2:
		return "ETROC2"
	case WS:
		return "WS"
	default:
		return fmt.Sprintf("Space(%d)", uint8(s))
	}
}

// ParseSpace returns the space named s.
func ParseSpace(s string) (Space, error) {
	switch strings.ToUpper(s) {
	case "ETROC2":
		return ETROC2, nil
	case "WS":
		return WS, nil
	}
	return 0, fmt.Errorf("etroc2: unknown space %q", s)
}

// Block is a contiguous run of registers within a space.
type Block uint8

const (
	PeriCfg Block = iota // peripheral configuration
	PeriSta              // peripheral status
	Indexer              // pixel window selectors
	PixCfg               // pixel configuration window
	PixSta               // pixel status window
	WSCfg                // waveform sampler configuration
	WSSta                // waveform sampler status
	nBlocks
)

const (
	periCfgSize = 32
	periStaSize = 16
	indexerSize = 2
	pixCfgSize  = 32
	pixStaSize  = 16
	wsCfgSize   = 8
	wsStaSize   = 4
)

type blockInfo struct {
	name  string
	space Space
	base  uint16
	size  int
	ro    bool
	pixel bool
}

var blocks = [nBlocks]blockInfo{
	PeriCfg: {name: "PeriCfg", space: ETROC2, base: 0x0000, size: periCfgSize},
	PeriSta: {name: "PeriSta", space: ETROC2, base: 0x0100, size: periStaSize, ro: true},
	Indexer: {name: "Indexer", space: ETROC2, base: 0x0120, size: indexerSize},
	PixCfg:  {name: "PixCfg", space: ETROC2, base: 0x8000, size: pixCfgSize, pixel: true},
	PixSta:  {name: "PixSta", space: ETROC2, base: 0x8100, size: pixStaSize, ro: true, pixel: true},
	WSCfg:   {name: "WSCfg", space: WS, base: 0x0000, size: wsCfgSize},
	WSSta:   {name: "WSSta", space: WS, base: 0x0020, size: wsStaSize, ro: true},
}

func (b Block) valid() bool { return b < nBlocks }

func (b Block) String() string {
	if !b.valid() {
		return fmt.Sprintf("Block(%d)", uint8(b))
	}
	return blocks[b].name
}

// Space returns the I2C target holding the block.
func (b Block) Space() Space { return blocks[b].space }

// Base returns the sub-register address of the first register of the block.
func (b Block) Base() uint16 { return blocks[b].base }

// Size returns the number of registers of the block.
func (b Block) Size() int { return blocks[b].size }

// ReadOnly returns whether the block holds status registers.
func (b Block) ReadOnly() bool { return blocks[b].ro }

// PixelIndexed returns whether the block is a window multiplexed by the
// row and column indexers.
func (b Block) PixelIndexed() bool { return blocks[b].pixel }

// ParseBlock returns the block named s.
func ParseBlock(s string) (Block, error) {
	for i, b := range blocks {
		if strings.EqualFold(b.name, s) {
			return Block(i), nil
		}
	}
	return 0, fmt.Errorf("etroc2: unknown block %q", s)
}

// Field is a named bit-field of a block.
//
// Fields wider than what is left of their first register continue
// on the following registers, least significant bits first.
type Field struct {
	Name   string
	Block  Block
	Reg    int   // index of the first register within the block
	Offset uint8 // bit offset within the first register
	Width  uint8 // width in bits
}

// ReadOnly returns whether the field is a status field.
func (f Field) ReadOnly() bool { return f.Block.ReadOnly() }

// PixelIndexed returns whether the field lives in a pixel window.
func (f Field) PixelIndexed() bool { return f.Block.PixelIndexed() }

// Max returns the largest value the field can hold.
func (f Field) Max() uint32 {
	return uint32(uint64(1)<<f.Width - 1)
}

// Regs returns the half-open range [lo, hi) of the registers, within the
// block, that hold the field.
func (f Field) Regs() (lo, hi int) {
	lo = f.Reg
	hi = f.Reg + (int(f.Offset)+int(f.Width)-1)/8 + 1
	return lo, hi
}

// Addr returns the sub-register address of the first register of the field.
func (f Field) Addr() uint16 {
	return f.Block.Base() + uint16(f.Reg)
}

// Decode extracts the field value from the block registers regs.
func (f Field) Decode(regs []byte) uint32 {
	var v uint32
	for i := 0; i < int(f.Width); i++ {
		pos := int(f.Offset) + i
		bit := (regs[f.Reg+pos/8] >> (pos % 8)) & 1
		v |= uint32(bit) << i
	}
	return v
}

// Encode stores v into the block registers regs.
// Bits of v above the field width are ignored.
func (f Field) Encode(regs []byte, v uint32) {
	for i := 0; i < int(f.Width); i++ {
		pos := int(f.Offset) + i
		reg := &regs[f.Reg+pos/8]
		mask := byte(1) << (pos % 8)
		switch (v >> i) & 1 {
		case 0:
			*reg &^= mask
		default:
			*reg |= mask
		}
	}
}

// Map is a catalog of register fields.
// A Map is immutable once built and safe for concurrent use.
type Map struct {
	fields [nBlocks]map[string]Field
	order  [nBlocks][]Field
}

func newMap(fields []Field) (*Map, error) {
	m := &Map{}
	for i := range m.fields {
		m.fields[i] = make(map[string]Field)
	}

	for _, f := range fields {
		if !f.Block.valid() {
			return nil, fmt.Errorf("etroc2: field %q has invalid block %d", f.Name, f.Block)
		}
		if f.Width == 0 || f.Width > 32 || f.Offset > 7 {
			return nil, fmt.Errorf("etroc2: field %s.%s has invalid layout (offset=%d, width=%d)", f.Block, f.Name, f.Offset, f.Width)
		}
		if _, hi := f.Regs(); f.Reg < 0 || hi > f.Block.Size() {
			return nil, fmt.Errorf("etroc2: field %s.%s overflows its block", f.Block, f.Name)
		}
		if _, dup := m.fields[f.Block][f.Name]; dup {
			return nil, fmt.Errorf("etroc2: duplicate field %s.%s", f.Block, f.Name)
		}
		m.fields[f.Block][f.Name] = f
		m.order[f.Block] = append(m.order[f.Block], f)
	}

	for i := range m.order {
		fs := m.order[i]
		sort.SliceStable(fs, func(i, j int) bool {
			if fs[i].Reg != fs[j].Reg {
				return fs[i].Reg < fs[j].Reg
			}
			return fs[i].Offset < fs[j].Offset
		})
		if err := checkOverlaps(fs); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func checkOverlaps(fs []Field) error {
	used := make(map[int]string)
	for _, f := range fs {
		for i := 0; i < int(f.Width); i++ {
			bit := f.Reg*8 + int(f.Offset) + i
			if o, dup := used[bit]; dup {
				return fmt.Errorf("etroc2: field %s.%s overlaps %s", f.Block, f.Name, o)
			}
			used[bit] = f.Name
		}
	}
	return nil
}

// Lookup returns the field name of block blk.
func (m *Map) Lookup(blk Block, name string) (Field, error) {
	if !blk.valid() {
		return Field{}, fmt.Errorf("etroc2: invalid block %d", blk)
	}
	f, ok := m.fields[blk][name]
	if !ok {
		return Field{}, fmt.Errorf("%w %s.%s", ErrUnknownField, blk, name)
	}
	return f, nil
}

// Fields returns the fields of block blk, in register order.
func (m *Map) Fields(blk Block) []Field {
	if !blk.valid() {
		return nil
	}
	return append([]Field(nil), m.order[blk]...)
}

var defaultMap *Map

func init() {
	m, err := newMap(catalog())
	if err != nil {
		panic(err)
	}
	defaultMap = m
}

// DefaultMap returns the register catalog of the ETROC2 chip.
func DefaultMap() *Map { return defaultMap }
