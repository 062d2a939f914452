// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package setup builds calibration drivers and stores from a configuration.
package setup // import "github.com/go-lpc/etroc/internal/setup"

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/go-lpc/etroc/caldb"
	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/config"
	"github.com/go-lpc/etroc/etroc2"
	"github.com/go-lpc/etroc/i2c"
	"github.com/go-lpc/etroc/store"
)

// Setup holds the links opened to reach the configured chips.
type Setup struct {
	cfg   config.Config
	msg   *log.Logger
	links map[string]i2c.LinkCloser
}

// New returns a setup for cfg.
func New(cfg config.Config, msg *log.Logger) *Setup {
	if msg == nil {
		msg = log.New(os.Stdout, "etroc: ", 0)
	}
	return &Setup{
		cfg:   cfg,
		msg:   msg,
		links: make(map[string]i2c.LinkCloser),
	}
}

// Close closes all the opened links.
func (s *Setup) Close() error {
	var err error
	for key, lnk := range s.links {
		e := lnk.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("setup: could not close link %q: %w", key, e)
		}
		delete(s.links, key)
	}
	return err
}

// Link returns the link reaching chip.
// Chips sharing a bus share a link.
func (s *Setup) Link(chip config.Chip) (i2c.Link, error) {
	var (
		cfg  = s.cfg.Link
		opts = []i2c.Option{
			i2c.WithRegWidth(i2c.RegWidth(cfg.RegWidth)),
			i2c.WithLogger(s.msg),
		}
		key  string
		open func() (i2c.LinkCloser, error)
	)

	switch cfg.Kind {
	case "smbus":
		key = fmt.Sprintf("smbus-%d", cfg.Bus)
		open = func() (i2c.LinkCloser, error) { return i2c.OpenSMBus(cfg.Bus, chip.Addr, opts...) }
	case "dev":
		dev := chip.Bus
		if dev == "" {
			dev = cfg.Device
		}
		key = dev
		open = func() (i2c.LinkCloser, error) { return i2c.OpenDev(dev, opts...) }
	case "bridge":
		key = "bridge-" + cfg.Addr
		open = func() (i2c.LinkCloser, error) { return i2c.DialBridge(cfg.Addr, opts...) }
	default:
		return nil, fmt.Errorf("setup: invalid link kind %q", cfg.Kind)
	}

	lnk, ok := s.links[key]
	if !ok {
		var err error
		lnk, err = open()
		if err != nil {
			return nil, fmt.Errorf("setup: could not open link for %q: %w", chip.Name, err)
		}
		s.links[key] = lnk
	}

	if cfg.Trace {
		return i2c.Trace(lnk, s.msg), nil
	}
	return lnk, nil
}

// Chip returns the register shadow of chip.
func (s *Setup) Chip(chip config.Chip) (*etroc2.Chip, error) {
	lnk, err := s.Link(chip)
	if err != nil {
		return nil, err
	}

	opts := []etroc2.Option{etroc2.WithLogger(s.msg)}
	if chip.WSAddr != 0 {
		opts = append(opts, etroc2.WithWaveformSampler(chip.WSAddr))
	}
	dev, err := etroc2.New(lnk, chip.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("setup: could not create chip %q: %w", chip.Name, err)
	}
	return dev, nil
}

// Driver returns the calibration driver of chip.
func (s *Setup) Driver(chip config.Chip, opts ...calib.Option) (*calib.Driver, error) {
	dev, err := s.Chip(chip)
	if err != nil {
		return nil, err
	}
	return s.NewDriver(dev, chip.Name, opts...)
}

// NewDriver returns a calibration driver for dev, with the configured
// calibration settings.
func (s *Setup) NewDriver(dev *etroc2.Chip, name string, opts ...calib.Option) (*calib.Driver, error) {
	opts = append([]calib.Option{
		calib.WithSettings(s.cfg.Calib.Settings()),
		calib.WithNote(s.cfg.Calib.Note),
		calib.WithTag(s.cfg.Calib.Tag),
		calib.WithLogger(s.msg),
	}, opts...)

	drv, err := calib.New(dev, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("setup: could not create driver for %q: %w", name, err)
	}
	return drv, nil
}

// Drivers returns the calibration drivers of the configured chips,
// ordered by bus and name.
func (s *Setup) Drivers(opts ...calib.Option) ([]*calib.Driver, []config.Chip, error) {
	chips := append([]config.Chip(nil), s.cfg.Chips...)
	sort.SliceStable(chips, func(i, j int) bool {
		if chips[i].Bus != chips[j].Bus {
			return chips[i].Bus < chips[j].Bus
		}
		return chips[i].Name < chips[j].Name
	})

	drvs := make([]*calib.Driver, len(chips))
	for i, chip := range chips {
		drv, err := s.Driver(chip, opts...)
		if err != nil {
			return nil, nil, err
		}
		drvs[i] = drv
	}
	return drvs, chips, nil
}

// Store is a calibration store.
type Store interface {
	calib.Appender
	Chips(ctx context.Context) ([]calib.ChipID, error)
	LatestRun(ctx context.Context, chip calib.ChipID) (calib.Run, error)
	History(ctx context.Context, chip calib.ChipID) ([]calib.Run, error)
	io.Closer
}

// OpenStore opens the store described by cfg: a MySQL database when
// cfg.MySQL is set, a bbolt file otherwise.
func OpenStore(cfg config.Store, msg *log.Logger) (Store, error) {
	if cfg.MySQL != "" {
		caldb.SetCredentials(cfg.User, cfg.Pwd, cfg.Host)
		db, err := caldb.Open(cfg.MySQL)
		if err != nil {
			return nil, fmt.Errorf("setup: could not open calibration db: %w", err)
		}
		return db, nil
	}

	if msg == nil {
		msg = log.New(os.Stdout, "store: ", 0)
	}
	st, err := store.Open(cfg.Path, store.WithLogger(msg))
	if err != nil {
		return nil, fmt.Errorf("setup: could not open calibration store: %w", err)
	}
	return st, nil
}

var (
	_ Store = (*store.Store)(nil)
	_ Store = (*caldb.DB)(nil)
)
