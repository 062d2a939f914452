// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package supervisor runs power-cycle calibration campaigns: power on,
// calibrate, power off, repeat.
package supervisor // import "github.com/go-lpc/etroc/supervisor"

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/etroc/calib"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

// PowerSupply is a programmable power supply.
type PowerSupply interface {
	On(ctx context.Context, ch int) error
	Off(ctx context.Context, ch int) error
	SetVoltage(ctx context.Context, ch int, v float64) error
	SetCurrentLimit(ctx context.Context, ch int, a float64) error
}

// Target is a chip calibrated at every iteration.
type Target struct {
	Name string
	Bus  string // targets sharing a bus are calibrated sequentially

	Calibrate func(ctx context.Context) (calib.Run, error)
}

// Config describes a power-cycle campaign.
type Config struct {
	Iterations int
	Dwell      time.Duration // delay between power-on and calibration
	Recovery   time.Duration // delay between power-off and the next iteration

	Channels []int
	Voltage  float64 // volts; zero leaves the channel setting untouched
	Current  float64 // amperes; zero leaves the channel setting untouched

	CounterFile string // file holding the failure counter, if any

	Hook        string        // shell command run after each iteration, if any
	Monitor     bool          // monitor the hook process with pmon
	MonitorFreq time.Duration // pmon sampling period
}

// Report summarizes a campaign.
type Report struct {
	Iterations int         // number of completed iterations
	Failures   int         // number of iterations with failed pixels or calibrations
	Runs       []calib.Run // calibration runs, in completion order
}

// Supervisor runs a power-cycle campaign.
type Supervisor struct {
	psu     PowerSupply
	targets []Target
	cfg     Config
	msg     *log.Logger
	alert   Alerter
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger of the supervisor.
func WithLogger(msg *log.Logger) Option {
	return func(sup *Supervisor) {
		sup.msg = msg
	}
}

// WithAlerter sets the alerter notified of failed iterations.
func WithAlerter(a Alerter) Option {
	return func(sup *Supervisor) {
		sup.alert = a
	}
}

// New returns a supervisor driving psu and calibrating targets.
func New(psu PowerSupply, targets []Target, cfg Config, opts ...Option) (*Supervisor, error) {
	switch {
	case psu == nil:
		return nil, fmt.Errorf("supervisor: no power supply")
	case cfg.Iterations < 1:
		return nil, fmt.Errorf("supervisor: invalid number of iterations %d", cfg.Iterations)
	case cfg.Dwell < 0 || cfg.Recovery < 0:
		return nil, fmt.Errorf("supervisor: invalid dwell/recovery delays (%v, %v)", cfg.Dwell, cfg.Recovery)
	case len(cfg.Channels) == 0:
		return nil, fmt.Errorf("supervisor: no power supply channel")
	}
	for _, tgt := range targets {
		if tgt.Calibrate == nil {
			return nil, fmt.Errorf("supervisor: target %q has no calibration", tgt.Name)
		}
	}

	sup := &Supervisor{
		psu:     psu,
		targets: targets,
		cfg:     cfg,
		msg:     log.New(os.Stdout, "supervisor: ", 0),
	}
	if sup.cfg.MonitorFreq <= 0 {
		sup.cfg.MonitorFreq = time.Second
	}
	for _, opt := range opts {
		opt(sup)
	}
	return sup, nil
}

// Run runs the campaign until all iterations are completed or ctx is
// cancelled. Channels are powered off when Run returns.
// A failed iteration is counted and not retried.
func (sup *Supervisor) Run(ctx context.Context) (Report, error) {
	var rep Report

	err := sup.setup(ctx)
	if err != nil {
		return rep, err
	}
	defer sup.powerOff()

	for i := 0; i < sup.cfg.Iterations; i++ {
		sup.msg.Printf("iteration %d/%d...", i+1, sup.cfg.Iterations)
		runs, failed, err := sup.iterate(ctx)
		rep.Runs = append(rep.Runs, runs...)
		if err != nil {
			return rep, err
		}
		rep.Iterations++
		if failed {
			rep.Failures++
			sup.notify(i+1, runs)
		}

		sup.msg.Printf("iteration %d/%d: failures=%d", i+1, sup.cfg.Iterations, rep.Failures)
		err = sup.persist(rep.Failures)
		if err != nil {
			return rep, err
		}

		err = sup.hook(ctx, i+1, rep.Failures)
		if err != nil {
			sup.msg.Printf("could not run hook: %+v", err)
		}

		if i+1 < sup.cfg.Iterations {
			err = sleep(ctx, sup.cfg.Recovery)
			if err != nil {
				return rep, err
			}
		}
	}

	return rep, nil
}

func (sup *Supervisor) setup(ctx context.Context) error {
	for _, ch := range sup.cfg.Channels {
		if sup.cfg.Voltage > 0 {
			err := sup.psu.SetVoltage(ctx, ch, sup.cfg.Voltage)
			if err != nil {
				return fmt.Errorf("supervisor: could not set voltage of channel %d: %w", ch, err)
			}
		}
		if sup.cfg.Current > 0 {
			err := sup.psu.SetCurrentLimit(ctx, ch, sup.cfg.Current)
			if err != nil {
				return fmt.Errorf("supervisor: could not set current limit of channel %d: %w", ch, err)
			}
		}
	}
	return nil
}

func (sup *Supervisor) powerOff() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ch := range sup.cfg.Channels {
		err := sup.psu.Off(ctx, ch)
		if err != nil {
			sup.msg.Printf("could not power off channel %d: %+v", ch, err)
		}
	}
}

func (sup *Supervisor) iterate(ctx context.Context) ([]calib.Run, bool, error) {
	for _, ch := range sup.cfg.Channels {
		err := sup.psu.On(ctx, ch)
		if err != nil {
			return nil, false, fmt.Errorf("supervisor: could not power on channel %d: %w", ch, err)
		}
	}

	err := sleep(ctx, sup.cfg.Dwell)
	if err != nil {
		return nil, false, err
	}

	var (
		mu     sync.Mutex
		runs   []calib.Run
		failed bool
		grp    errgroup.Group
	)
	for _, bus := range sup.buses() {
		tgts := bus
		grp.Go(func() error {
			for _, tgt := range tgts {
				run, err := tgt.Calibrate(ctx)
				mu.Lock()
				if run.Chip.Name != "" || len(run.Pixels) > 0 {
					runs = append(runs, run)
				}
				switch {
				case err != nil:
					failed = true
				case run.Count(calib.StatusScanTimeout) > 0:
					failed = true
					sup.msg.Printf("%s: %d pixel(s) timed out", tgt.Name, run.Count(calib.StatusScanTimeout))
				}
				mu.Unlock()

				if err != nil {
					if ctx.Err() != nil {
						return err
					}
					sup.msg.Printf("could not calibrate %s: %+v", tgt.Name, err)
				}
			}
			return nil
		})
	}
	err = grp.Wait()
	if err != nil {
		return runs, failed, fmt.Errorf("supervisor: could not calibrate: %w", err)
	}

	for _, ch := range sup.cfg.Channels {
		err := sup.psu.Off(ctx, ch)
		if err != nil {
			return runs, failed, fmt.Errorf("supervisor: could not power off channel %d: %w", ch, err)
		}
	}
	return runs, failed, nil
}

// buses groups targets by bus, in a deterministic order.
func (sup *Supervisor) buses() [][]Target {
	var (
		names []string
		set   = make(map[string][]Target)
	)
	for _, tgt := range sup.targets {
		if _, dup := set[tgt.Bus]; !dup {
			names = append(names, tgt.Bus)
		}
		set[tgt.Bus] = append(set[tgt.Bus], tgt)
	}
	sort.Strings(names)

	buses := make([][]Target, 0, len(names))
	for _, name := range names {
		buses = append(buses, set[name])
	}
	return buses
}

func (sup *Supervisor) notify(iter int, runs []calib.Run) {
	if sup.alert == nil {
		return
	}
	body := new(strings.Builder)
	fmt.Fprintf(body, "iteration: %d/%d\n", iter, sup.cfg.Iterations)
	for _, run := range runs {
		fmt.Fprintf(body, "chip: %v, pixels: %d, ok: %d, scan_timeout: %d, i2c_error: %d\n",
			run.Chip, len(run.Pixels),
			run.Count(calib.StatusOK),
			run.Count(calib.StatusScanTimeout),
			run.Count(calib.StatusI2CError),
		)
	}
	err := sup.alert.Alert(fmt.Sprintf("failed iteration %d", iter), body.String())
	if err != nil {
		sup.msg.Printf("could not send alert: %+v", err)
	}
}

func (sup *Supervisor) persist(failures int) error {
	if sup.cfg.CounterFile == "" {
		return nil
	}
	err := os.WriteFile(sup.cfg.CounterFile, []byte(strconv.Itoa(failures)+"\n"), 0644)
	if err != nil {
		return fmt.Errorf("supervisor: could not write failure counter: %w", err)
	}
	return nil
}

// ReadCounter returns the failure counter stored in fname.
func ReadCounter(fname string) (int, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return 0, fmt.Errorf("supervisor: could not read failure counter: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("supervisor: could not parse failure counter: %w", err)
	}
	return v, nil
}

func (sup *Supervisor) hook(ctx context.Context, iter, failures int) error {
	if sup.cfg.Hook == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", sup.cfg.Hook)
	cmd.Env = append(os.Environ(),
		"ETROC_ITERATION="+strconv.Itoa(iter),
		"ETROC_FAILURES="+strconv.Itoa(failures),
	)
	cmd.Stdout = sup.msg.Writer()
	cmd.Stderr = sup.msg.Writer()

	err := cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start hook %q: %w", sup.cfg.Hook, err)
	}

	if sup.cfg.Monitor {
		p, err := pmon.Monitor(cmd.Process.Pid)
		if err != nil {
			sup.msg.Printf("could not monitor hook (pid=%d): %+v", cmd.Process.Pid, err)
		} else {
			p.W = sup.msg.Writer()
			p.Freq = sup.cfg.MonitorFreq
			go func() {
				err := p.Run()
				if err != nil {
					sup.msg.Printf("could not monitor hook: %+v", err)
				}
			}()
			defer func() {
				err := p.Kill()
				if err != nil {
					sup.msg.Printf("could not stop monitoring hook: %+v", err)
				}
			}()
		}
	}

	err = cmd.Wait()
	if err != nil {
		return fmt.Errorf("could not run hook %q: %w", sup.cfg.Hook, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	tck := time.NewTimer(d)
	defer tck.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tck.C:
		return nil
	}
}
