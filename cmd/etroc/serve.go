// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"os"
	"os/signal"

	"github.com/go-lpc/etroc/httpapi"
	"github.com/go-lpc/etroc/internal/setup"
	"github.com/spf13/cobra"
)

func newServeCmd(load loader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored calibration runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}

			st, err := setup.OpenStore(cfg.Store, nil)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			srv := httpapi.New(st, httpapi.WithLogger(log.New(os.Stdout, "etroc-http: ", 0)))
			return srv.ListenAndServe(ctx, cfg.HTTP.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "[ip]:port to listen on")

	return cmd
}
