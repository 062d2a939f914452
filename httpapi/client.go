// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-lpc/etroc/calib"
	"github.com/imroc/req"
)

// Client queries a calibration server.
type Client struct {
	prefix string
}

// NewClient returns a client for the server at addr (e.g. "http://daq:8080").
func NewClient(addr string) *Client {
	return &Client{prefix: strings.TrimRight(addr, "/") + "/api"}
}

func (c *Client) runsURL(chip calib.ChipID) string {
	return fmt.Sprintf("%s/chips/%s/runs", c.prefix, url.PathEscape(chip.String()))
}

func (c *Client) get(ctx context.Context, endpoint string, v interface{}) error {
	r, err := req.Get(endpoint, ctx)
	if err != nil {
		return fmt.Errorf("httpapi: could not send request: %w", err)
	}
	if r.Response().StatusCode != http.StatusOK {
		return fmt.Errorf("httpapi: invalid response to %q: %w", endpoint, errors.New(r.Response().Status))
	}
	err = r.ToJSON(v)
	if err != nil {
		return fmt.Errorf("httpapi: could not decode response: %w", err)
	}
	return nil
}

// Chips returns the chips with stored runs.
func (c *Client) Chips(ctx context.Context) ([]calib.ChipID, error) {
	var chips []calib.ChipID
	err := c.get(ctx, c.prefix+"/chips", &chips)
	return chips, err
}

// LatestRun returns the most recent run of chip.
func (c *Client) LatestRun(ctx context.Context, chip calib.ChipID) (calib.Run, error) {
	var run calib.Run
	err := c.get(ctx, c.runsURL(chip)+"/latest", &run)
	return run, err
}

// History returns all the runs of chip, oldest first.
func (c *Client) History(ctx context.Context, chip calib.ChipID) ([]calib.Run, error) {
	var runs []calib.Run
	err := c.get(ctx, c.runsURL(chip), &runs)
	return runs, err
}

var _ Store = (*Client)(nil)
