// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package i2c

import (
	"fmt"
	"runtime"
)

// Dev is a Link over a Linux i2c-dev character device.
// It is only available on linux.
type Dev struct{}

func OpenDev(name string, opts ...Option) (*Dev, error) {
	return nil, fmt.Errorf("i2c: i2c-dev links not supported on %s", runtime.GOOS)
}

func (dev *Dev) Close() error { return nil }

func (dev *Dev) Read(addr uint8, reg uint16, n int) ([]byte, error) {
	return nil, linkErr("read", addr, reg, fmt.Errorf("i2c-dev not supported on %s", runtime.GOOS))
}

func (dev *Dev) Write(addr uint8, reg uint16, p []byte) error {
	return linkErr("write", addr, reg, fmt.Errorf("i2c-dev not supported on %s", runtime.GOOS))
}
