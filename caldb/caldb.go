// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package caldb mirrors calibration runs into the MySQL calibration
// database.
package caldb // import "github.com/go-lpc/etroc/caldb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/etroc/calib"
	_ "github.com/go-sql-driver/mysql"
)

var (
	host = "localhost"
	usr  = "username"
	pwd  = "s3cr3t"

	drvName = "mysql"
)

const (
	runs  = "etroc2_runs"  // one row per run
	table = "etroc2_calib" // one row per calibrated pixel
)

// ErrNotFound is returned when a chip has no stored run.
var ErrNotFound = errors.New("caldb: no calibration run")

// DB exposes the calibration table of the ETROC database.
type DB struct {
	db   *sql.DB
	name string // name of the ETROC database
}

// Open opens a connection to the ETROC database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("caldb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

// SetCredentials sets the user, password and host:port used by Open.
func SetCredentials(user, password, addr string) {
	usr = user
	pwd = password
	host = addr
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("caldb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// CreateTable creates the run and calibration tables, if needed.
func (db *DB) CreateTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, v := range []struct {
		name  string
		query string
	}{
		{runs, `
CREATE TABLE IF NOT EXISTS ` + runs + ` (
	run_id      BIGINT UNSIGNED  NOT NULL,
	chip_name   VARCHAR(64)      NOT NULL,
	chip_addr   TINYINT UNSIGNED NOT NULL,
	start_time  DATETIME(6)      NOT NULL,
	end_time    DATETIME(6)      NOT NULL,
	cancelled   BOOL             NOT NULL,
	note        TEXT,
	tag         VARCHAR(64),
	PRIMARY KEY (run_id),
	INDEX (chip_name, chip_addr, run_id)
)`},
		{table, `
CREATE TABLE IF NOT EXISTS ` + table + ` (
	run_id      BIGINT UNSIGNED  NOT NULL,
	chip_name   VARCHAR(64)      NOT NULL,
	chip_addr   TINYINT UNSIGNED NOT NULL,
	` + "`row`" + `       TINYINT UNSIGNED NOT NULL,
	col         TINYINT UNSIGNED NOT NULL,
	baseline    SMALLINT UNSIGNED NOT NULL,
	noise_width SMALLINT UNSIGNED NOT NULL,
	status      VARCHAR(16)      NOT NULL,
	timestamp   DATETIME(6)      NOT NULL,
	note        TEXT,
	tag         VARCHAR(64),
	PRIMARY KEY (run_id, ` + "`row`" + `, col),
	INDEX (chip_name, chip_addr, run_id)
)`},
	} {
		_, err := db.db.ExecContext(ctx, v.query)
		if err != nil {
			return fmt.Errorf("caldb: could not create table %q: %w", v.name, err)
		}
	}
	return nil
}

// Append stores the header and the pixel rows of run in a single
// transaction.
// Runs without an id are assigned the next free run id.
func (db *DB) Append(ctx context.Context, run *calib.Run) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("caldb: could not start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	id := run.ID
	if id == 0 {
		var last int64
		err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(run_id), 0) FROM "+runs).Scan(&last)
		if err != nil {
			return fmt.Errorf("caldb: could not generate run id: %w", err)
		}
		id = uint64(last) + 1
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO "+runs+" (run_id, chip_name, chip_addr, start_time, end_time, cancelled, note, tag) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		int64(id), run.Chip.Name, int64(run.Chip.Addr),
		run.Start, run.End, run.Cancelled,
		run.Note, run.Tag,
	)
	if err != nil {
		return fmt.Errorf("caldb: could not insert header of run %d: %w", id, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO "+table+" (run_id, chip_name, chip_addr, `row`, col, baseline, noise_width, status, timestamp, note, tag) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("caldb: could not prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, px := range run.Pixels {
		_, err = stmt.ExecContext(ctx,
			int64(id), run.Chip.Name, int64(run.Chip.Addr),
			int64(px.Row), int64(px.Col),
			int64(px.Baseline), int64(px.NoiseWidth),
			px.Status.String(), px.Time,
			run.Note, run.Tag,
		)
		if err != nil {
			return fmt.Errorf("caldb: could not insert pixel (%d,%d) of run %d: %w", px.Row, px.Col, id, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("caldb: could not commit run %d: %w", id, err)
	}

	run.ID = id
	return nil
}

// selectRuns joins the run headers with their pixel rows.
// Runs without pixels yield a single row with NULL pixel columns.
const selectRuns = "SELECT r.run_id, r.chip_name, r.chip_addr, r.start_time, r.end_time, r.cancelled, r.note, r.tag, " +
	"c.`row`, c.col, c.baseline, c.noise_width, c.status, c.timestamp " +
	"FROM " + runs + " r LEFT JOIN " + table + " c ON c.run_id = r.run_id " +
	"WHERE r.chip_name=? AND r.chip_addr=?"

// LatestRun returns the most recent run of chip.
func (db *DB) LatestRun(ctx context.Context, chip calib.ChipID) (calib.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rs, err := db.query(ctx,
		selectRuns+" AND r.run_id=("+
			"SELECT MAX(run_id) FROM "+runs+" WHERE chip_name=? AND chip_addr=?"+
			") ORDER BY c.`row`, c.col",
		chip.Name, int64(chip.Addr), chip.Name, int64(chip.Addr),
	)
	if err != nil {
		return calib.Run{}, fmt.Errorf("caldb: could not retrieve latest run of %v: %w", chip, err)
	}
	if len(rs) == 0 {
		return calib.Run{}, fmt.Errorf("caldb: could not retrieve latest run of %v: %w", chip, ErrNotFound)
	}
	return rs[len(rs)-1], nil
}

// History returns all the runs of chip, oldest first.
func (db *DB) History(ctx context.Context, chip calib.ChipID) ([]calib.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rs, err := db.query(ctx,
		selectRuns+" ORDER BY r.run_id, c.`row`, c.col",
		chip.Name, int64(chip.Addr),
	)
	if err != nil {
		return nil, fmt.Errorf("caldb: could not retrieve history of %v: %w", chip, err)
	}
	if len(rs) == 0 {
		return nil, fmt.Errorf("caldb: could not retrieve history of %v: %w", chip, ErrNotFound)
	}
	return rs, nil
}

// Chips returns the identifiers of all the chips with stored runs.
func (db *DB) Chips(ctx context.Context) ([]calib.ChipID, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(ctx,
		"SELECT DISTINCT chip_name, chip_addr FROM "+runs+" ORDER BY chip_name, chip_addr",
	)
	if err != nil {
		return nil, fmt.Errorf("caldb: could not retrieve chips: %w", err)
	}
	defer rows.Close()

	var chips []calib.ChipID
	for rows.Next() {
		var chip calib.ChipID
		err = rows.Scan(&chip.Name, &chip.Addr)
		if err != nil {
			return nil, fmt.Errorf("caldb: could not scan chip %d: %w", len(chips), err)
		}
		chips = append(chips, chip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("caldb: could not scan chips: %w", err)
	}
	return chips, nil
}

// query groups the rows returned by a selectRuns query into runs.
// Rows must be ordered by run id.
func (db *DB) query(ctx context.Context, query string, args ...interface{}) ([]calib.Run, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not run query: %w", err)
	}
	defer rows.Close()

	var (
		out []calib.Run
		i   = 0
	)
	for rows.Next() {
		var (
			run    calib.Run
			note   sql.NullString
			tag    sql.NullString
			row    sql.NullInt64
			col    sql.NullInt64
			bl     sql.NullInt64
			nw     sql.NullInt64
			status sql.NullString
			ts     sql.NullTime
		)
		err = rows.Scan(
			&run.ID, &run.Chip.Name, &run.Chip.Addr,
			&run.Start, &run.End, &run.Cancelled,
			&note, &tag,
			&row, &col, &bl, &nw, &status, &ts,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan row %d: %w", i, err)
		}
		i++

		if n := len(out); n == 0 || out[n-1].ID != run.ID {
			run.Note = note.String
			run.Tag = tag.String
			out = append(out, run)
		}
		if !row.Valid {
			continue
		}

		px := calib.PixelResult{
			Row:        int(row.Int64),
			Col:        int(col.Int64),
			Baseline:   uint16(bl.Int64),
			NoiseWidth: uint16(nw.Int64),
			Time:       ts.Time,
		}
		px.Status, err = calib.ParseStatus(status.String)
		if err != nil {
			return nil, fmt.Errorf("could not decode row %d: %w", i, err)
		}
		cur := &out[len(out)-1]
		cur.Pixels = append(cur.Pixels, px)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not scan db: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	return out, nil
}

var _ calib.Appender = (*DB)(nil)
