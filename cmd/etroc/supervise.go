// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/config"
	"github.com/go-lpc/etroc/internal/setup"
	"github.com/go-lpc/etroc/psu"
	"github.com/go-lpc/etroc/supervisor"
	"github.com/spf13/cobra"
)

func newSuperviseCmd(load loader) *cobra.Command {
	var iters int

	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run a power-cycle calibration campaign",
		Long: `supervise power-cycles the chips and calibrates them at every iteration.

Iterations with failed pixels are counted in the counter file and,
if alerts are enabled, notified by mail (see MAIL_USR, MAIL_PWD,
MAIL_SRV, MAIL_PORT and MAIL_TGTS).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("iterations") {
				cfg.Supervisor.Iterations = iters
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return supervise(ctx, cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().IntVarP(&iters, "iterations", "n", 1, "number of power cycles")

	return cmd
}

func supervise(ctx context.Context, w io.Writer, cfg config.Config) error {
	msg := log.New(os.Stdout, "etroc: ", 0)

	dev, err := psu.Open(
		cfg.PSU.Network, cfg.PSU.Addr,
		psu.WithBaudRate(cfg.PSU.Baud),
		psu.WithLogger(log.New(os.Stdout, "psu: ", 0)),
	)
	if err != nil {
		return fmt.Errorf("could not open power supply: %w", err)
	}
	defer dev.Close()

	idn, err := dev.Identify(ctx)
	if err != nil {
		return fmt.Errorf("could not identify power supply: %w", err)
	}
	msg.Printf("power supply: %s", idn)

	st, err := setup.OpenStore(cfg.Store, msg)
	if err != nil {
		return err
	}
	defer st.Close()

	s := setup.New(cfg, msg)
	defer s.Close()

	drvs, chips, err := s.Drivers()
	if err != nil {
		return err
	}

	targets := make([]supervisor.Target, len(drvs))
	for i := range drvs {
		drv := drvs[i]
		targets[i] = supervisor.Target{
			Name: chips[i].Name,
			Bus:  chips[i].Bus,
			Calibrate: func(ctx context.Context) (calib.Run, error) {
				return calib.Calibrate(ctx, drv, st, nil)
			},
		}
	}

	opts := []supervisor.Option{supervisor.WithLogger(log.New(os.Stdout, "supervisor: ", 0))}
	if cfg.Supervisor.Alert {
		mailer, err := supervisor.MailerFromEnv()
		if err != nil {
			return err
		}
		opts = append(opts, supervisor.WithAlerter(mailer))
	}

	sup, err := supervisor.New(dev, targets, supervisor.Config{
		Iterations:  cfg.Supervisor.Iterations,
		Dwell:       cfg.Supervisor.Dwell.Std(),
		Recovery:    cfg.Supervisor.Recovery.Std(),
		Channels:    cfg.PSU.Channels,
		Voltage:     cfg.PSU.Voltage,
		Current:     cfg.PSU.Current,
		CounterFile: cfg.Supervisor.Counter,
		Hook:        cfg.Supervisor.Hook,
		Monitor:     cfg.Supervisor.Monitor,
		MonitorFreq: time.Second,
	}, opts...)
	if err != nil {
		return fmt.Errorf("could not create supervisor: %w", err)
	}

	rep, err := sup.Run(ctx)
	printRuns(w, rep.Runs)
	fmt.Fprintf(w, "iterations: %d, failures: %d\n", rep.Iterations, rep.Failures)
	if err != nil {
		return fmt.Errorf("could not run campaign: %w", err)
	}
	return nil
}
