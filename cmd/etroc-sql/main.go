// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-sql inspects the MySQL calibration database.
package main // import "github.com/go-lpc/etroc/cmd/etroc-sql"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/etroc/caldb"
	"github.com/go-lpc/etroc/calib"
)

func main() {
	log.SetPrefix("etroc-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "etroc", "name of the calibration database")
		chip   = flag.String("chip", "", "chip to inspect (e.g. etroc2@0x60)")
		create = flag.Bool("create", false, "create the calibration table")
	)

	flag.Parse()

	if usr := os.Getenv("ETROC_SQL_USER"); usr != "" {
		host := os.Getenv("ETROC_SQL_HOST")
		if host == "" {
			host = "localhost"
		}
		caldb.SetCredentials(usr, os.Getenv("ETROC_SQL_PWD"), host)
	}

	db, err := caldb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open calibration db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, *chip, *create)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(db *caldb.DB, name string, create bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if create {
		err := db.CreateTable(ctx)
		if err != nil {
			return fmt.Errorf("could not create table: %w", err)
		}
		log.Printf("table created")
	}

	if name == "" {
		chips, err := db.Chips(ctx)
		if err != nil {
			return fmt.Errorf("could not list chips: %w", err)
		}
		log.Printf("chips: %d", len(chips))
		for _, chip := range chips {
			log.Printf("chip: %v", chip)
		}
		return nil
	}

	chip, err := calib.ParseChipID(name)
	if err != nil {
		return err
	}

	runs, err := db.History(ctx, chip)
	if err != nil {
		return fmt.Errorf("could not get history of %v: %w", chip, err)
	}
	log.Printf("runs: %d", len(runs))
	for _, run := range runs {
		log.Printf(
			"run %d: start=%s pixels=%d ok=%d scan_timeout=%d i2c_error=%d note=%q tag=%q",
			run.ID, run.Start.UTC().Format(time.RFC3339), len(run.Pixels),
			run.Count(calib.StatusOK), run.Count(calib.StatusScanTimeout), run.Count(calib.StatusI2CError),
			run.Note, run.Tag,
		)
	}
	return nil
}
