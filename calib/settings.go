// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package calib

import (
	"errors"
	"fmt"
	"time"
)

// Settings tune the threshold calibration of a run.
type Settings struct {
	THOffset   uint32        // DAC offset applied during the on-chip scan
	PollPeriod time.Duration // period of the ScanDone polling
	MaxRetries int           // number of ScanDone polls before giving up
	DACDisable uint32        // DAC value of parked pixels
	DisableAll bool          // disable all pixels before the sweep
}

// DefaultSettings returns the recommended calibration settings.
func DefaultSettings() Settings {
	return Settings{
		THOffset:   0x0a,
		PollPeriod: 10 * time.Millisecond,
		MaxRetries: 5,
		DACDisable: 0x3ff,
	}
}

const maxPollBudget = 10 * time.Second

// Validate returns a *ConfigurationError if the settings are out of
// range or contradictory.
func (set Settings) Validate() error {
	switch {
	case set.THOffset > 0x3f:
		return &ConfigurationError{Reason: fmt.Sprintf("TH offset 0x%x does not fit 6 bits", set.THOffset)}
	case set.DACDisable > 0x3ff:
		return &ConfigurationError{Reason: fmt.Sprintf("DAC disable value 0x%x does not fit 10 bits", set.DACDisable)}
	case set.PollPeriod <= 0:
		return &ConfigurationError{Reason: fmt.Sprintf("invalid ScanDone poll period %v", set.PollPeriod)}
	case set.MaxRetries < 1:
		return &ConfigurationError{Reason: fmt.Sprintf("invalid ScanDone max retries %d", set.MaxRetries)}
	case time.Duration(set.MaxRetries)*set.PollPeriod > maxPollBudget:
		return &ConfigurationError{Reason: fmt.Sprintf(
			"ScanDone polling budget %v (%d x %v) exceeds %v",
			time.Duration(set.MaxRetries)*set.PollPeriod, set.MaxRetries, set.PollPeriod, maxPollBudget,
		)}
	}
	return nil
}

// ErrScanTimeout is recorded for pixels whose threshold scan did not
// complete within the ScanDone polling budget.
var ErrScanTimeout = errors.New("calib: threshold scan timeout")

// ConfigurationError reports a missing peripheral preamble or invalid settings.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "calib: configuration error: " + e.Reason
}
