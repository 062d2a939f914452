// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-lpc/etroc/etroc2"
)

// Appender persists calibration runs.
type Appender interface {
	Append(ctx context.Context, run *Run) error
}

// Calibrate applies the peripheral preamble, optionally disables all
// pixels, sweeps pixels and appends the resulting run to w.
//
// A cancelled sweep is still appended to w, and Calibrate returns the
// context error.
func Calibrate(ctx context.Context, drv *Driver, w Appender, pixels []etroc2.Pixel) (Run, error) {
	err := drv.Preamble()
	if err != nil {
		return Run{}, err
	}

	if drv.set.DisableAll {
		err = drv.DisableAllPixels()
		if err != nil {
			return Run{}, err
		}
	}

	run, err := drv.Sweep(ctx, pixels)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// flush the partial run.
	default:
		return run, err
	}

	if w != nil {
		sctx := ctx
		if sctx.Err() != nil {
			sctx = context.Background()
		}
		werr := w.Append(sctx, &run)
		if werr != nil {
			return run, fmt.Errorf("calib: could not store run of %v: %w", run.Chip, werr)
		}
	}

	return run, err
}
