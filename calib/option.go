// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"log"
	"os"
	"time"
)

type config struct {
	set   Settings
	note  string
	tag   string
	msg   *log.Logger
	now   func() time.Time
	sleep func(time.Duration)
}

func newConfig() config {
	return config{
		set:   DefaultSettings(),
		msg:   log.New(os.Stdout, "calib: ", 0),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// Option configures a Driver.
type Option func(*config)

// WithSettings sets the calibration settings.
func WithSettings(set Settings) Option {
	return func(cfg *config) {
		cfg.set = set
	}
}

// WithNote sets the free-form provenance note attached to runs.
func WithNote(note string) Option {
	return func(cfg *config) {
		cfg.note = note
	}
}

// WithTag sets the tag attached to runs.
func WithTag(tag string) Option {
	return func(cfg *config) {
		cfg.tag = tag
	}
}

// WithLogger sets the logger of the driver.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
