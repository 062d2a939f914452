// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package i2c

import (
	"log"
)

// Trace returns a Link that logs every transfer going through link.
func Trace(link Link, msg *log.Logger) Link {
	return &tracer{link: link, msg: msg}
}

type tracer struct {
	link Link
	msg  *log.Logger
}

func (t *tracer) Read(addr uint8, reg uint16, n int) ([]byte, error) {
	p, err := t.link.Read(addr, reg, n)
	if err != nil {
		t.msg.Printf("R dev=0x%02x reg=0x%04x n=%d: %+v", addr, reg, n, err)
		return p, err
	}
	t.msg.Printf("R dev=0x%02x reg=0x%04x -> % x", addr, reg, p)
	return p, nil
}

func (t *tracer) Write(addr uint8, reg uint16, p []byte) error {
	err := t.link.Write(addr, reg, p)
	if err != nil {
		t.msg.Printf("W dev=0x%02x reg=0x%04x <- % x: %+v", addr, reg, p, err)
		return err
	}
	t.msg.Printf("W dev=0x%02x reg=0x%04x <- % x", addr, reg, p)
	return nil
}
