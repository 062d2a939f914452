// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httpapi exposes a read-only HTTP view of stored calibration runs.
//
// Routes:
//
//	GET /api/chips
//	GET /api/chips/{chip}/runs
//	GET /api/chips/{chip}/runs/latest
//	GET /api/chips/{chip}/runs/latest.fits
//	GET /api/chips/{chip}/runs/{id}
//
// where {chip} is of the form "etroc2@0x60".
// JSON is returned unless the query carries format=yaml.
package httpapi // import "github.com/go-lpc/etroc/httpapi"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-lpc/etroc/caldb"
	"github.com/go-lpc/etroc/calib"
	"github.com/go-lpc/etroc/export"
	"github.com/go-lpc/etroc/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"sigs.k8s.io/yaml"
)

// Store is the read side of a calibration store.
type Store interface {
	Chips(ctx context.Context) ([]calib.ChipID, error)
	LatestRun(ctx context.Context, chip calib.ChipID) (calib.Run, error)
	History(ctx context.Context, chip calib.ChipID) ([]calib.Run, error)
}

// Server serves calibration runs over HTTP.
type Server struct {
	db  Store
	msg *log.Logger
	mux http.Handler
}

type Option func(*Server)

// WithLogger sets the logger of the server.
// Requests are logged in the Apache Common Log Format.
func WithLogger(msg *log.Logger) Option {
	return func(srv *Server) {
		srv.msg = msg
	}
}

// New returns a new server reading runs from db.
func New(db Store, opts ...Option) *Server {
	srv := &Server{
		db:  db,
		msg: log.New(os.Stdout, "httpapi: ", 0),
	}
	for _, opt := range opts {
		opt(srv)
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chips", srv.handleChips).Methods("GET")
	api.HandleFunc("/chips/{chip}/runs", srv.handleHistory).Methods("GET")
	api.HandleFunc("/chips/{chip}/runs/latest", srv.handleLatest).Methods("GET")
	api.HandleFunc("/chips/{chip}/runs/latest.fits", srv.handleFITS).Methods("GET")
	api.HandleFunc("/chips/{chip}/runs/{id:[0-9]+}", srv.handleRun).Methods("GET")

	srv.mux = handlers.LoggingHandler(srv.msg.Writer(), r)
	return srv
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mux.ServeHTTP(w, r)
}

// ListenAndServe serves HTTP requests on addr until ctx is done.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	hsrv := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		srv.msg.Printf("serving on %q...", addr)
		errc <- hsrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("httpapi: could not serve: %w", err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := hsrv.Shutdown(sctx)
		if err != nil {
			return fmt.Errorf("httpapi: could not shutdown server: %w", err)
		}
		return nil
	}
}

func (srv *Server) handleChips(w http.ResponseWriter, r *http.Request) {
	chips, err := srv.db.Chips(r.Context())
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, r, chips)
}

func (srv *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chip, ok := srv.chip(w, r)
	if !ok {
		return
	}
	runs, err := srv.db.History(r.Context(), chip)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, r, runs)
}

func (srv *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	chip, ok := srv.chip(w, r)
	if !ok {
		return
	}
	run, err := srv.db.LatestRun(r.Context(), chip)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, r, run)
}

func (srv *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	chip, ok := srv.chip(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	runs, err := srv.db.History(r.Context(), chip)
	if err != nil {
		srv.fail(w, err)
		return
	}
	for _, run := range runs {
		if run.ID == id {
			srv.reply(w, r, run)
			return
		}
	}
	http.Error(w, fmt.Sprintf("no run %d for chip %v", id, chip), http.StatusNotFound)
}

func (srv *Server) handleFITS(w http.ResponseWriter, r *http.Request) {
	chip, ok := srv.chip(w, r)
	if !ok {
		return
	}
	run, err := srv.db.LatestRun(r.Context(), chip)
	if err != nil {
		srv.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/fits")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
		fmt.Sprintf("%s-run-%03d.fits", run.Chip.Name, run.ID),
	))
	err = export.WriteFITS(w, run)
	if err != nil {
		srv.msg.Printf("could not write FITS file for %v: %+v", chip, err)
	}
}

func (srv *Server) chip(w http.ResponseWriter, r *http.Request) (calib.ChipID, bool) {
	chip, err := calib.ParseChipID(mux.Vars(r)["chip"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return chip, false
	}
	return chip, true
}

func (srv *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, caldb.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		srv.msg.Printf("could not serve request: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (srv *Server) reply(w http.ResponseWriter, r *http.Request, v interface{}) {
	var (
		raw []byte
		err error
	)
	switch r.URL.Query().Get("format") {
	case "yaml":
		w.Header().Set("Content-Type", "application/yaml")
		raw, err = yaml.Marshal(v)
	default:
		w.Header().Set("Content-Type", "application/json")
		raw, err = json.Marshal(v)
	}
	if err != nil {
		srv.msg.Printf("could not encode reply: %+v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(raw)
}
