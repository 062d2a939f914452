// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package i2c

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	i2cRDWR = 0x0707 // combined R/W transfer, one STOP only
	i2cMRD  = 0x0001 // read data, from slave to master
)

// i2cMsg mirrors struct i2c_msg from linux/i2c.h.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// i2cRdwrData mirrors struct i2c_rdwr_ioctl_data from linux/i2c-dev.h.
type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Dev is a Link over a Linux i2c-dev character device (/dev/i2c-N).
//
// Reads are issued as a single combined transfer (write sub-register,
// repeated start, read), as required by 16-bit sub-register devices.
type Dev struct {
	mu    sync.Mutex
	f     *os.File
	width RegWidth
	msg   *log.Logger
}

// OpenDev opens the i2c-dev device file name (e.g. "/dev/i2c-1").
func OpenDev(name string, opts ...Option) (*Dev, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: could not open %q: %w", name, err)
	}

	return &Dev{f: f, width: cfg.width, msg: cfg.msg}, nil
}

func (dev *Dev) Close() error {
	return dev.f.Close()
}

func (dev *Dev) Read(addr uint8, reg uint16, n int) ([]byte, error) {
	if err := CheckAddr(addr); err != nil {
		return nil, err
	}
	sub, err := dev.width.encode(reg)
	if err != nil {
		return nil, linkErr("read", addr, reg, err)
	}
	if n <= 0 {
		return nil, nil
	}

	buf := make([]byte, n)
	msgs := []i2cMsg{
		{
			addr: uint16(addr),
			len:  uint16(len(sub)),
			buf:  uintptr(unsafe.Pointer(&sub[0])),
		},
		{
			addr:  uint16(addr),
			flags: i2cMRD,
			len:   uint16(n),
			buf:   uintptr(unsafe.Pointer(&buf[0])),
		},
	}

	err = dev.xfer(msgs)
	runtime.KeepAlive(sub)
	runtime.KeepAlive(buf)
	if err != nil {
		return nil, linkErr("read", addr, reg, err)
	}
	return buf, nil
}

func (dev *Dev) Write(addr uint8, reg uint16, p []byte) error {
	if err := CheckAddr(addr); err != nil {
		return err
	}
	sub, err := dev.width.encode(reg)
	if err != nil {
		return linkErr("write", addr, reg, err)
	}

	buf := append(sub, p...)
	msgs := []i2cMsg{
		{
			addr: uint16(addr),
			len:  uint16(len(buf)),
			buf:  uintptr(unsafe.Pointer(&buf[0])),
		},
	}

	err = dev.xfer(msgs)
	runtime.KeepAlive(buf)
	if err != nil {
		return linkErr("write", addr, reg, err)
	}
	return nil
}

func (dev *Dev) xfer(msgs []i2cMsg) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	data := i2cRdwrData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL, dev.f.Fd(), i2cRDWR,
		uintptr(unsafe.Pointer(&data)),
	)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return fmt.Errorf("ioctl I2C_RDWR: %w", errno)
	}
	return nil
}

var _ LinkCloser = (*Dev)(nil)
