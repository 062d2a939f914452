// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package etroc2

import (
	"log"
	"os"
)

type config struct {
	ws    uint8
	hasWS bool
	regs  *Map
	msg   *log.Logger
}

func newConfig() config {
	return config{
		regs: DefaultMap(),
		msg:  log.New(os.Stdout, "etroc2: ", 0),
	}
}

// Option configures a Chip.
type Option func(*config)

// WithWaveformSampler sets the I2C address of the waveform sampler.
func WithWaveformSampler(addr uint8) Option {
	return func(cfg *config) {
		cfg.ws = addr
		cfg.hasWS = true
	}
}

// WithLogger sets the logger of the chip.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithMap sets the register catalog of the chip.
func WithMap(m *Map) Option {
	return func(cfg *config) {
		cfg.regs = m
	}
}
