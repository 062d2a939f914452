// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package i2c

import (
	"fmt"
	"log"
	"sync"

	"github.com/go-daq/smbus"
)

// SMBus is a Link over a SMBus adapter.
//
// SMBus transfers carry a single command byte, so only 8-bit
// sub-registers are addressable for reads. Writes to 16-bit
// sub-registers send the low address byte as the first data byte.
type SMBus struct {
	mu    sync.Mutex
	conn  *smbus.Conn
	width RegWidth
	msg   *log.Logger
}

// OpenSMBus opens the SMBus adapter bus, targetting the device at addr.
func OpenSMBus(bus int, addr uint8, opts ...Option) (*SMBus, error) {
	cfg := newConfig()
	cfg.width = RegWidth8
	for _, opt := range opts {
		opt(&cfg)
	}

	err := CheckAddr(addr)
	if err != nil {
		return nil, err
	}

	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return nil, fmt.Errorf("i2c: could not open smbus %d (addr=0x%x): %w", bus, addr, err)
	}

	return &SMBus{conn: conn, width: cfg.width, msg: cfg.msg}, nil
}

func (bus *SMBus) Close() error {
	return bus.conn.Close()
}

func (bus *SMBus) Read(addr uint8, reg uint16, n int) ([]byte, error) {
	if err := CheckAddr(addr); err != nil {
		return nil, err
	}
	if bus.width != RegWidth8 {
		return nil, linkErr("read", addr, reg, fmt.Errorf("%w (smbus reads need 8-bit sub-registers)", ErrRegWidth))
	}
	if reg > 0xff {
		return nil, linkErr("read", addr, reg, ErrRegWidth)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	err := bus.conn.SetAddr(addr)
	if err != nil {
		return nil, linkErr("read", addr, reg, err)
	}

	if n == 1 {
		v, err := bus.conn.ReadReg(addr, uint8(reg))
		if err != nil {
			return nil, linkErr("read", addr, reg, err)
		}
		return []byte{v}, nil
	}

	buf := make([]byte, n)
	err = bus.conn.ReadBlockData(addr, uint8(reg), buf)
	if err != nil {
		return nil, linkErr("read", addr, reg, err)
	}
	return buf, nil
}

func (bus *SMBus) Write(addr uint8, reg uint16, p []byte) error {
	if err := CheckAddr(addr); err != nil {
		return err
	}

	sub, err := bus.width.encode(reg)
	if err != nil {
		return linkErr("write", addr, reg, err)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	err = bus.conn.SetAddr(addr)
	if err != nil {
		return linkErr("write", addr, reg, err)
	}

	cmd := sub[0]
	data := append(sub[1:len(sub):len(sub)], p...)
	if len(data) == 1 {
		err = bus.conn.WriteReg(addr, cmd, data[0])
	} else {
		err = bus.conn.WriteBlockData(addr, cmd, data)
	}
	if err != nil {
		return linkErr("write", addr, reg, err)
	}
	return nil
}

var _ LinkCloser = (*SMBus)(nil)
