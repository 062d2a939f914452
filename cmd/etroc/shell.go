// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/etroc2"
	"github.com/go-lpc/etroc/internal/setup"
	"github.com/google/shlex"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newShellCmd(load loader) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive register shell for a configured chip",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			idx := 0
			if name != "" {
				idx = -1
				for i, chip := range cfg.Chips {
					if chip.Name == name {
						idx = i
						break
					}
				}
				if idx < 0 {
					return fmt.Errorf("no chip named %q", name)
				}
			}

			msg := log.New(os.Stdout, "etroc: ", 0)
			s := setup.New(cfg, msg)
			defer s.Close()

			chip := cfg.Chips[idx]
			dev, err := s.Chip(chip)
			if err != nil {
				return err
			}
			drv, err := s.NewDriver(dev, chip.Name)
			if err != nil {
				return err
			}

			sh := &shell{chip: dev, drv: drv, w: cmd.OutOrStdout()}
			return sh.run(chip.Name)
		},
	}
	cmd.Flags().StringVar(&name, "chip", "", "name of the chip (default: first configured chip)")

	return cmd
}

type shell struct {
	chip *etroc2.Chip
	drv  *calib.Driver
	w    io.Writer
}

var shellCmds = []string{
	"help", "pixel", "broadcast", "read", "write", "dump",
	"preamble", "disable-all", "calib", "park", "quit",
}

const shellHelp = `commands:
  pixel ROW COL              select a pixel
  broadcast on|off           toggle broadcast to all pixels
  read BLOCK FIELD           read a field (e.g. read PixSta BL)
  write BLOCK FIELD VALUE    write a field (e.g. write PixCfg DAC 0x3ff)
  dump BLOCK                 read and display a block
  preamble                   apply the calibration preamble
  disable-all                disable all pixels
  calib ROW COL              calibrate a pixel (after preamble)
  park ROW COL               park a pixel
  quit                       leave the shell
`

func (sh *shell) run(name string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(line string) []string {
		var out []string
		for _, cmd := range shellCmds {
			if strings.HasPrefix(cmd, strings.ToLower(line)) {
				out = append(out, cmd)
			}
		}
		return out
	})

	hname := filepath.Join(os.TempDir(), ".etroc-shell-history")
	if f, err := os.Open(hname); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hname)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = line.WriteHistory(f)
	}()

	prompt := name + "> "
	for {
		in, err := line.Prompt(prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(in) == "" {
			continue
		}
		line.AppendHistory(in)

		err = sh.exec(in)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

func (sh *shell) exec(in string) error {
	toks, err := shlex.Split(in)
	if err != nil {
		return fmt.Errorf("could not parse %q: %w", in, err)
	}
	if len(toks) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(toks[0]), toks[1:]

	nargs := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s: invalid number of arguments (got=%d, want=%d)", cmd, len(args), n)
		}
		return nil
	}

	switch cmd {
	case "help", "?":
		fmt.Fprint(sh.w, shellHelp)
		return nil

	case "quit", "exit":
		return errQuit

	case "pixel":
		row, col, err := sh.pixel(cmd, args)
		if err != nil {
			return err
		}
		return sh.chip.SetPixel(row, col)

	case "broadcast":
		if err := nargs(1); err != nil {
			return err
		}
		switch strings.ToLower(args[0]) {
		case "on":
			return sh.chip.SetBroadcast(true)
		case "off":
			return sh.chip.SetBroadcast(false)
		}
		return fmt.Errorf("broadcast: invalid argument %q", args[0])

	case "read":
		if err := nargs(2); err != nil {
			return err
		}
		blk, err := etroc2.ParseBlock(args[0])
		if err != nil {
			return err
		}
		v, err := sh.chip.ReadField(blk.Space(), blk, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.w, "%v.%s = 0x%x (%d)\n", blk, args[1], v, v)
		return nil

	case "write":
		if err := nargs(3); err != nil {
			return err
		}
		blk, err := etroc2.ParseBlock(args[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return fmt.Errorf("write: invalid value %q: %w", args[2], err)
		}
		return sh.chip.WriteField(blk.Space(), blk, args[1], uint32(v))

	case "dump":
		if err := nargs(1); err != nil {
			return err
		}
		blk, err := etroc2.ParseBlock(args[0])
		if err != nil {
			return err
		}
		err = sh.chip.ReadBlock(blk.Space(), blk)
		if err != nil {
			return err
		}
		raw, err := sh.chip.Bytes(blk.Space(), blk)
		if err != nil {
			return err
		}
		for i, v := range raw {
			fmt.Fprintf(sh.w, "0x%04x: 0x%02x\n", int(blk.Base())+i, v)
		}
		return nil

	case "preamble":
		return sh.drv.Preamble()

	case "disable-all":
		return sh.drv.DisableAllPixels()

	case "calib":
		row, col, err := sh.pixel(cmd, args)
		if err != nil {
			return err
		}
		px := sh.drv.CalibratePixel(row, col)
		fmt.Fprintf(sh.w, "pixel (%d,%d): BL=%d NW=%d status=%v\n",
			px.Row, px.Col, px.Baseline, px.NoiseWidth, px.Status,
		)
		return nil

	case "park":
		row, col, err := sh.pixel(cmd, args)
		if err != nil {
			return err
		}
		return sh.drv.Park(row, col)
	}

	return fmt.Errorf("unknown command %q (see help)", cmd)
}

func (sh *shell) pixel(cmd string, args []string) (row, col int, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%s: invalid number of arguments (got=%d, want=2)", cmd, len(args))
	}
	row, err = strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%s: invalid row %q: %w", cmd, args[0], err)
	}
	col, err = strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%s: invalid column %q: %w", cmd, args[1], err)
	}
	return row, col, nil
}
