// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package etroc

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "main",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "github.com/go-lpc/etroc", Version: "v0.3.0", Sum: "h1:xyz"},
			},
			vers: "v0.3.0",
			sum:  "h1:xyz",
		},
		{
			name: "devel",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "github.com/go-lpc/etroc", Version: "(devel)"},
			},
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.org/daq"},
				Deps: []*debug.Module{
					{Path: "github.com/go-lpc/mim", Version: "v0.1.0"},
					{Path: "github.com/go-lpc/etroc", Version: "v0.2.1", Sum: "h1:abc"},
				},
			},
			vers: "v0.2.1",
			sum:  "h1:abc",
		},
		{
			name: "replace-local",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: "github.com/go-lpc/etroc", Version: "v0.2.1",
						Replace: &debug.Module{Path: "../etroc"},
					},
				},
			},
			vers: "../etroc",
		},
		{
			name: "replace-version",
			info: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: "github.com/go-lpc/etroc", Version: "v0.2.1",
						Replace: &debug.Module{Version: "v0.2.2", Sum: "h1:def"},
					},
				},
			},
			vers: "v0.2.2",
			sum:  "h1:def",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if got, want := vers, tc.vers; got != want {
				t.Fatalf("invalid version: got=%q, want=%q", got, want)
			}
			if got, want := sum, tc.sum; got != want {
				t.Fatalf("invalid sum: got=%q, want=%q", got, want)
			}
		})
	}
}
