// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calsrv runs threshold calibrations under TDAQ run control.
//
// The /config command selects the pixels to calibrate, /init applies the
// peripheral preamble to every chip, and each run sweeps all chips.
// A summary of every calibrated chip is published on the /runs output.
package calsrv // import "github.com/go-lpc/etroc/calsrv"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/etroc2"
)

// Server drives the calibration of a set of chips.
type Server struct {
	drvs []*calib.Driver
	db   calib.Appender

	mu     sync.Mutex
	pixels []etroc2.Pixel
	init   bool
	runs   []calib.Run

	sums chan []byte
}

// New returns a server calibrating the chips behind drvs.
// Runs are appended to db, if not nil.
func New(db calib.Appender, drvs ...*calib.Driver) *Server {
	return &Server{
		drvs: drvs,
		db:   db,
		sums: make(chan []byte, len(drvs)),
	}
}

// Runs returns the runs calibrated since the last /reset.
func (srv *Server) Runs() []calib.Run {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return append([]calib.Run(nil), srv.runs...)
}

// EncodePixels encodes the pixel selection of a /config command.
// A nil selection calibrates the whole matrix.
func EncodePixels(pixels []etroc2.Pixel) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(len(pixels)))
	for _, px := range pixels {
		enc.WriteU32(uint32(px.Row))
		enc.WriteU32(uint32(px.Col))
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("calsrv: could not encode pixels: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePixels(p []byte) ([]etroc2.Pixel, error) {
	if len(p) == 0 {
		return nil, nil
	}
	dec := tdaq.NewDecoder(bytes.NewReader(p))
	n := int(dec.ReadU32())
	if n == 0 {
		return nil, dec.Err()
	}
	pixels := make([]etroc2.Pixel, n)
	for i := range pixels {
		pixels[i].Row = int(dec.ReadU32())
		pixels[i].Col = int(dec.ReadU32())
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("calsrv: could not decode pixels: %w", err)
	}
	return pixels, nil
}

// Summary is the outcome of a chip calibration, as published on /runs.
type Summary struct {
	ID          uint64
	Chip        string
	OK          uint32
	ScanTimeout uint32
	I2CError    uint32
	Cancelled   bool
}

func summarize(run calib.Run) Summary {
	return Summary{
		ID:          run.ID,
		Chip:        run.Chip.String(),
		OK:          uint32(run.Count(calib.StatusOK)),
		ScanTimeout: uint32(run.Count(calib.StatusScanTimeout)),
		I2CError:    uint32(run.Count(calib.StatusI2CError)),
		Cancelled:   run.Cancelled,
	}
}

func (sum Summary) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(sum.ID)
	enc.WriteStr(sum.Chip)
	enc.WriteU32(sum.OK)
	enc.WriteU32(sum.ScanTimeout)
	enc.WriteU32(sum.I2CError)
	cancelled := uint32(0)
	if sum.Cancelled {
		cancelled = 1
	}
	enc.WriteU32(cancelled)
	return buf.Bytes(), enc.Err()
}

// DecodeSummary decodes a /runs frame body.
func DecodeSummary(p []byte) (Summary, error) {
	var (
		sum Summary
		dec = tdaq.NewDecoder(bytes.NewReader(p))
	)
	sum.ID = dec.ReadU64()
	sum.Chip = dec.ReadStr()
	sum.OK = dec.ReadU32()
	sum.ScanTimeout = dec.ReadU32()
	sum.I2CError = dec.ReadU32()
	sum.Cancelled = dec.ReadU32() != 0
	if err := dec.Err(); err != nil {
		return sum, fmt.Errorf("calsrv: could not decode run summary: %w", err)
	}
	return sum, nil
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	pixels, err := decodePixels(req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not decode pixel selection: %+v", err)
		return err
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.pixels = pixels
	srv.init = false
	if pixels == nil {
		ctx.Msg.Infof("configured %d chips, full matrix", len(srv.drvs))
		return nil
	}
	ctx.Msg.Infof("configured %d chips, %d pixels", len(srv.drvs), len(pixels))
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()

	for _, drv := range srv.drvs {
		err := drv.Preamble()
		if err != nil {
			ctx.Msg.Errorf("could not initialize %v: %+v", drv.Chip(), err)
			return fmt.Errorf("calsrv: could not initialize %v: %w", drv.Chip(), err)
		}
	}
	srv.init = true
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.init = false
	srv.runs = nil
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if !srv.init {
		return fmt.Errorf("calsrv: chips not initialized")
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	n := len(srv.runs)
	srv.mu.Unlock()
	ctx.Msg.Debugf("received /stop command... -> runs=%d", n)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return nil
}

// Summaries publishes the summary of each calibrated chip.
func (srv *Server) Summaries(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case sum := <-srv.sums:
		dst.Body = sum
	}
	return nil
}

// Run calibrates every chip once, then waits for the end of the run.
func (srv *Server) Run(ctx tdaq.Context) error {
	srv.mu.Lock()
	pixels := srv.pixels
	srv.mu.Unlock()

	for _, drv := range srv.drvs {
		run, err := calib.Calibrate(ctx.Ctx, drv, srv.db, pixels)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			ctx.Msg.Warnf("calibration of %v interrupted after %d pixels", drv.Chip(), len(run.Pixels))
		default:
			ctx.Msg.Errorf("could not calibrate %v: %+v", drv.Chip(), err)
			return fmt.Errorf("calsrv: could not calibrate %v: %w", drv.Chip(), err)
		}

		srv.mu.Lock()
		srv.runs = append(srv.runs, run)
		srv.mu.Unlock()

		sum := summarize(run)
		ctx.Msg.Infof(
			"run %d of %s: ok=%d, scan_timeout=%d, i2c_error=%d",
			sum.ID, sum.Chip, sum.OK, sum.ScanTimeout, sum.I2CError,
		)
		raw, err := sum.encode()
		if err != nil {
			return fmt.Errorf("calsrv: could not encode summary of %v: %w", drv.Chip(), err)
		}
		select {
		case srv.sums <- raw:
		case <-ctx.Ctx.Done():
			return nil
		}

		if run.Cancelled {
			return nil
		}
	}

	<-ctx.Ctx.Done()
	return nil
}
