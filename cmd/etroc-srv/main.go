// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-srv starts a TDAQ server calibrating ETROC2 chips.
//
// The chips are described by the configuration file named by the
// ETROC_CONFIG environment variable (default: etroc.yaml, if present).
package main // import "github.com/go-lpc/etroc/cmd/etroc-srv"

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/etroc/calsrv"
	"github.com/go-lpc/etroc/config"
	"github.com/go-lpc/etroc/internal/setup"
)

func main() {
	log.SetPrefix("etroc-srv: ")
	log.SetFlags(0)

	cmd := flags.New()

	cfg, err := loadConfig(os.Getenv("ETROC_CONFIG"))
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	msg := log.New(os.Stdout, "etroc-srv: ", 0)
	st, err := setup.OpenStore(cfg.Store, msg)
	if err != nil {
		log.Fatalf("could not open store: %+v", err)
	}
	defer st.Close()

	s := setup.New(cfg, msg)
	defer s.Close()

	drvs, _, err := s.Drivers()
	if err != nil {
		log.Fatalf("could not create calibration drivers: %+v", err)
	}

	dev := calsrv.New(st, drvs...)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/runs", dev.Summaries)

	srv.RunHandle(dev.Run)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func loadConfig(fname string) (config.Config, error) {
	if fname == "" {
		fname = config.DefaultFile
		_, err := os.Stat(fname)
		if errors.Is(err, fs.ErrNotExist) {
			return config.Load("")
		}
	}
	return config.Load(fname)
}
