// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package i2c provides byte-level access to devices sitting on an I2C bus.
//
// A Link reads or writes a run of bytes starting at a sub-register of a
// device identified by its 7-bit address.
// Links never retry: retries are a policy of the caller.
package i2c // import "github.com/go-lpc/etroc/i2c"

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// MaxAddr is the largest valid 7-bit device address.
const MaxAddr = 0x7f

// Link is a byte-level connection to devices on an I2C bus.
type Link interface {
	// Read reads exactly n bytes starting at sub-register reg of the
	// device at address addr.
	Read(addr uint8, reg uint16, n int) ([]byte, error)

	// Write writes all of p starting at sub-register reg of the device
	// at address addr.
	Write(addr uint8, reg uint16, p []byte) error
}

// LinkCloser is a Link that holds resources.
type LinkCloser interface {
	Link
	io.Closer
}

var (
	ErrAddr      = errors.New("i2c: invalid device address")
	ErrRegWidth  = errors.New("i2c: sub-register does not fit register width")
	ErrShortRead = errors.New("i2c: short read")
)

// LinkError describes a failed transfer on a Link.
type LinkError struct {
	Op   string // "read" or "write"
	Addr uint8
	Reg  uint16
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("i2c: could not %s dev=0x%02x reg=0x%04x: %v", e.Op, e.Addr, e.Reg, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// CheckAddr returns an error if addr is not a valid 7-bit device address.
func CheckAddr(addr uint8) error {
	if addr > MaxAddr {
		return fmt.Errorf("%w 0x%x (max=0x%x)", ErrAddr, addr, MaxAddr)
	}
	return nil
}

// RegWidth is the width in bytes of a device sub-register address.
type RegWidth uint8

const (
	RegWidth8  RegWidth = 1
	RegWidth16 RegWidth = 2
)

// encode returns the on-wire representation of reg, most significant byte first.
func (w RegWidth) encode(reg uint16) ([]byte, error) {
	switch w {
	case RegWidth8:
		if reg > 0xff {
			return nil, fmt.Errorf("%w (reg=0x%x, width=8)", ErrRegWidth, reg)
		}
		return []byte{uint8(reg)}, nil
	case RegWidth16:
		return []byte{uint8(reg >> 8), uint8(reg)}, nil
	default:
		return nil, fmt.Errorf("i2c: invalid register width %d", w)
	}
}

type config struct {
	width   RegWidth
	timeout time.Duration
	msg     *log.Logger
}

func newConfig() config {
	return config{
		width:   RegWidth16,
		timeout: 2 * time.Second,
		msg:     log.New(os.Stdout, "i2c: ", 0),
	}
}

// Option configures a Link.
type Option func(*config)

// WithRegWidth sets the sub-register width used on the wire.
func WithRegWidth(w RegWidth) Option {
	return func(cfg *config) {
		cfg.width = w
	}
}

// WithTimeout sets the I/O timeout of network links.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithLogger sets the logger used by a link.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

func linkErr(op string, addr uint8, reg uint16, err error) error {
	if err == nil {
		return nil
	}
	var lerr *LinkError
	if errors.As(err, &lerr) {
		return err
	}
	return &LinkError{Op: op, Addr: addr, Reg: reg, Err: err}
}
