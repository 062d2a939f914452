// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package etroc2

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownField = errors.New("etroc2: unknown field")
	ErrReadOnly     = errors.New("etroc2: read-only field")
	ErrBroadcast    = errors.New("etroc2: not permitted while broadcast is on")
	ErrNoWS         = errors.New("etroc2: no waveform sampler address")
	ErrIndexer      = errors.New("etroc2: indexer fields are driven by SetPixel and SetBroadcast")
)

// ValueError reports a caller-supplied value outside of its valid range.
type ValueError struct {
	What  string
	Value int64
	Max   int64
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("etroc2: invalid %s=%d (valid range: [0, %d])", e.What, e.Value, e.Max)
}

func checkRange(what string, v, max int64) error {
	if v < 0 || v > max {
		return &ValueError{What: what, Value: v, Max: max}
	}
	return nil
}

// Pixel identifies a pixel of the matrix.
type Pixel struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Pixel) String() string { return fmt.Sprintf("(%d,%d)", p.Row, p.Col) }

// BroadcastVerifyError reports pixels whose registers do not hold the
// values of a previous broadcast write.
type BroadcastVerifyError struct {
	Block  Block
	Pixels []Pixel
}

func (e *BroadcastVerifyError) Error() string {
	const max = 8
	var o strings.Builder
	fmt.Fprintf(&o, "etroc2: broadcast to %s failed for %d pixel(s):", e.Block, len(e.Pixels))
	for i, p := range e.Pixels {
		if i == max {
			o.WriteString(" ...")
			break
		}
		o.WriteString(" " + p.String())
	}
	return o.String()
}
