// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the configuration of ETROC calibration setups.
//
// A configuration is assembled from the built-in defaults, an optional
// YAML file and ETROC_ environment variables, in that order.
// Environment variables use a double underscore as key separator:
//
//	ETROC_CALIB__POLL_PERIOD=20ms
//	ETROC_STORE__PATH=/data/etroc.db
package config // import "github.com/go-lpc/etroc/config"

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-lpc/etroc/calib"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/mitchellh/mapstructure"
	yml "gopkg.in/yaml.v2"
)

// DefaultFile is the name of the configuration file looked up by commands.
const DefaultFile = "etroc.yaml"

// Duration is a time.Duration spelled as "10ms" in configuration files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalText(p []byte) error {
	v, err := time.ParseDuration(string(p))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Link describes how the chips are reached.
type Link struct {
	Kind     string `koanf:"kind" yaml:"kind"`           // smbus, dev or bridge
	Bus      int    `koanf:"bus" yaml:"bus"`             // SMBus number
	Device   string `koanf:"device" yaml:"device"`       // i2c-dev device, e.g. /dev/i2c-1
	Addr     string `koanf:"addr" yaml:"addr"`           // bridge address
	RegWidth int    `koanf:"reg_width" yaml:"reg_width"` // sub-register width, in bytes
	Trace    bool   `koanf:"trace" yaml:"trace"`
}

// Chip describes a calibrated chip.
type Chip struct {
	Name   string `koanf:"name" yaml:"name"`
	Addr   uint8  `koanf:"addr" yaml:"addr"`
	WSAddr uint8  `koanf:"ws_addr" yaml:"ws_addr"`
	Bus    string `koanf:"bus" yaml:"bus"` // chips sharing a bus are calibrated sequentially
}

// Calib holds the calibration settings.
type Calib struct {
	THOffset   uint32   `koanf:"th_offset" yaml:"th_offset"`
	PollPeriod Duration `koanf:"poll_period" yaml:"poll_period"`
	MaxRetries int      `koanf:"max_retries" yaml:"max_retries"`
	DACDisable uint32   `koanf:"dac_disable" yaml:"dac_disable"`
	DisableAll bool     `koanf:"disable_all" yaml:"disable_all"`
	Note       string   `koanf:"note" yaml:"note"`
	Tag        string   `koanf:"tag" yaml:"tag"`
}

// Settings returns the calibration settings.
func (c Calib) Settings() calib.Settings {
	return calib.Settings{
		THOffset:   c.THOffset,
		PollPeriod: c.PollPeriod.Std(),
		MaxRetries: c.MaxRetries,
		DACDisable: c.DACDisable,
		DisableAll: c.DisableAll,
	}
}

// Store describes where calibration runs are persisted.
type Store struct {
	Path  string `koanf:"path" yaml:"path"`   // bbolt file
	MySQL string `koanf:"mysql" yaml:"mysql"` // MySQL database name, if any
	User  string `koanf:"user" yaml:"user"`
	Pwd   string `koanf:"password" yaml:"password"`
	Host  string `koanf:"host" yaml:"host"`
}

// PSU describes the power supply of the setup.
type PSU struct {
	Network  string  `koanf:"network" yaml:"network"` // tcp or serial
	Addr     string  `koanf:"addr" yaml:"addr"`
	Baud     int     `koanf:"baud" yaml:"baud"`
	Channels []int   `koanf:"channels" yaml:"channels"`
	Voltage  float64 `koanf:"voltage" yaml:"voltage"`
	Current  float64 `koanf:"current" yaml:"current"`
}

// Supervisor describes power-cycle campaigns.
type Supervisor struct {
	Iterations int      `koanf:"iterations" yaml:"iterations"`
	Dwell      Duration `koanf:"dwell" yaml:"dwell"`
	Recovery   Duration `koanf:"recovery" yaml:"recovery"`
	Counter    string   `koanf:"counter" yaml:"counter"`
	Hook       string   `koanf:"hook" yaml:"hook"`
	Monitor    bool     `koanf:"monitor" yaml:"monitor"`
	Alert      bool     `koanf:"alert" yaml:"alert"`
}

// HTTP describes the read-only HTTP view of the store.
type HTTP struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Config is the configuration of a calibration setup.
type Config struct {
	Link       Link       `koanf:"link" yaml:"link"`
	Chips      []Chip     `koanf:"chips" yaml:"chips"`
	Calib      Calib      `koanf:"calib" yaml:"calib"`
	Store      Store      `koanf:"store" yaml:"store"`
	PSU        PSU        `koanf:"psu" yaml:"psu"`
	Supervisor Supervisor `koanf:"supervisor" yaml:"supervisor"`
	HTTP       HTTP       `koanf:"http" yaml:"http"`
}

// Default returns the default configuration.
func Default() Config {
	set := calib.DefaultSettings()
	return Config{
		Link: Link{
			Kind:     "dev",
			Device:   "/dev/i2c-1",
			RegWidth: 2,
		},
		Chips: []Chip{
			{Name: "etroc2", Addr: 0x60, Bus: "/dev/i2c-1"},
		},
		Calib: Calib{
			THOffset:   set.THOffset,
			PollPeriod: Duration(set.PollPeriod),
			MaxRetries: set.MaxRetries,
			DACDisable: set.DACDisable,
		},
		Store: Store{
			Path: "etroc.db",
			Host: "localhost",
		},
		PSU: PSU{
			Network:  "tcp",
			Baud:     9600,
			Channels: []int{1},
			Voltage:  1.2,
			Current:  1.0,
		},
		Supervisor: Supervisor{
			Iterations: 1,
			Dwell:      Duration(2 * time.Second),
			Recovery:   Duration(2 * time.Second),
		},
		HTTP: HTTP{
			Addr: ":8080",
		},
	}
}

// Load loads the configuration from the defaults, the YAML file fname
// (if not empty) and the ETROC_ environment variables.
func Load(fname string) (Config, error) {
	var (
		cfg Config
		k   = koanf.New(".")
	)

	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return cfg, fmt.Errorf("config: could not load defaults: %w", err)
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil {
			return cfg, fmt.Errorf("config: could not load %q: %w", fname, err)
		}
	}

	err = k.Load(env.Provider("ETROC_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "ETROC_")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil)
	if err != nil {
		return cfg, fmt.Errorf("config: could not load environment: %w", err)
	}

	err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the consistency of the configuration.
func (cfg Config) Validate() error {
	switch cfg.Link.Kind {
	case "smbus", "dev", "bridge":
	default:
		return fmt.Errorf("config: invalid link kind %q", cfg.Link.Kind)
	}
	if cfg.Link.RegWidth != 1 && cfg.Link.RegWidth != 2 {
		return fmt.Errorf("config: invalid sub-register width %d", cfg.Link.RegWidth)
	}

	if len(cfg.Chips) == 0 {
		return fmt.Errorf("config: no chip")
	}
	names := make(map[string]bool, len(cfg.Chips))
	for _, chip := range cfg.Chips {
		switch {
		case chip.Name == "":
			return fmt.Errorf("config: chip at 0x%02x has no name", chip.Addr)
		case names[chip.Name]:
			return fmt.Errorf("config: duplicate chip name %q", chip.Name)
		case chip.Addr > 0x7f || chip.WSAddr > 0x7f:
			return fmt.Errorf("config: chip %q has an invalid address", chip.Name)
		}
		names[chip.Name] = true
	}

	err := cfg.Calib.Settings().Validate()
	if err != nil {
		return fmt.Errorf("config: invalid calibration settings: %w", err)
	}
	return nil
}

// Write writes cfg to w, in YAML.
func Write(w io.Writer, cfg Config) error {
	raw, err := yml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}
	_, err = w.Write(raw)
	if err != nil {
		return fmt.Errorf("config: could not write configuration: %w", err)
	}
	return nil
}
