// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store implements an append-only local store of calibration
// runs, backed by a bbolt database.
//
// Runs are stored under the "runs" bucket, keyed by their big-endian
// run id. Each run bucket holds the JSON-encoded run header and a
// nested bucket of pixel rows keyed by (row, col). The "chips" bucket
// indexes run ids per chip.
package store // import "github.com/go-lpc/etroc/store"

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-lpc/etroc/calib"
	"github.com/snksoft/crc"
	"go.etcd.io/bbolt"
)

var (
	bktRuns   = []byte("runs")
	bktChips  = []byte("chips")
	bktPixels = []byte("pixels")
	keyHeader = []byte("header")
)

var (
	// ErrNotFound is returned when a chip has no stored run.
	ErrNotFound = errors.New("store: no calibration run")

	// ErrChecksum is returned when the pixel rows of a run do not
	// match the checksum recorded with the run.
	ErrChecksum = errors.New("store: checksum mismatch")
)

var crcTable = crc.NewTable(crc.CRC32)

// header is the stored part of a run that is not a pixel row.
type header struct {
	ID        uint64       `json:"id"`
	Chip      calib.ChipID `json:"chip"`
	Note      string       `json:"note"`
	Tag       string       `json:"tag"`
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Cancelled bool         `json:"cancelled"`
	Pixels    int          `json:"pixels"`
	Checksum  uint32       `json:"crc32"`
}

// Store is a local calibration result store.
type Store struct {
	db  *bbolt.DB
	msg *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger of the store.
func WithLogger(msg *log.Logger) Option {
	return func(st *Store) {
		st.msg = msg
	}
}

// Open opens, or creates, the store at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: could not open %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bktRuns, bktChips} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return fmt.Errorf("could not create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: could not initialize %q: %w", path, err)
	}

	st := &Store{
		db:  db,
		msg: log.New(os.Stdout, "store: ", 0),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st, nil
}

// Close closes the store.
func (st *Store) Close() error {
	return st.db.Close()
}

// Path returns the path of the underlying database file.
func (st *Store) Path() string {
	return st.db.Path()
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func pixelKey(row, col int) []byte {
	return []byte{byte(row), byte(col)}
}

func chipKey(id calib.ChipID) []byte {
	return []byte(id.String())
}

// Append stores run, in a single transaction, and assigns it the next
// run id.
func (st *Store) Append(ctx context.Context, run *calib.Run) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: could not append run: %w", err)
	}

	err := st.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bktRuns)
		id, err := runs.NextSequence()
		if err != nil {
			return fmt.Errorf("could not generate run id: %w", err)
		}

		bkt, err := runs.CreateBucket(u64(id))
		if err != nil {
			return fmt.Errorf("could not create run bucket: %w", err)
		}
		pixels, err := bkt.CreateBucket(bktPixels)
		if err != nil {
			return fmt.Errorf("could not create pixel bucket: %w", err)
		}

		for _, px := range run.Pixels {
			row, err := json.Marshal(px)
			if err != nil {
				return fmt.Errorf("could not encode pixel (%d,%d): %w", px.Row, px.Col, err)
			}
			err = pixels.Put(pixelKey(px.Row, px.Col), row)
			if err != nil {
				return fmt.Errorf("could not store pixel (%d,%d): %w", px.Row, px.Col, err)
			}
		}

		sum, n := checksum(pixels)

		hdr, err := json.Marshal(header{
			ID:        id,
			Chip:      run.Chip,
			Note:      run.Note,
			Tag:       run.Tag,
			Start:     run.Start,
			End:       run.End,
			Cancelled: run.Cancelled,
			Pixels:    n,
			Checksum:  sum,
		})
		if err != nil {
			return fmt.Errorf("could not encode run header: %w", err)
		}
		err = bkt.Put(keyHeader, hdr)
		if err != nil {
			return fmt.Errorf("could not store run header: %w", err)
		}

		chips, err := tx.Bucket(bktChips).CreateBucketIfNotExists(chipKey(run.Chip))
		if err != nil {
			return fmt.Errorf("could not create chip index: %w", err)
		}
		err = chips.Put(u64(id), nil)
		if err != nil {
			return fmt.Errorf("could not index run: %w", err)
		}

		run.ID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: could not append run of %v: %w", run.Chip, err)
	}

	st.msg.Printf("stored run %d of %v (%d pixels)", run.ID, run.Chip, len(run.Pixels))
	return nil
}

// LatestRun returns the most recent run of chip.
func (st *Store) LatestRun(ctx context.Context, chip calib.ChipID) (calib.Run, error) {
	var run calib.Run
	if err := ctx.Err(); err != nil {
		return run, err
	}

	err := st.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bktChips).Bucket(chipKey(chip))
		if idx == nil {
			return ErrNotFound
		}
		k, _ := idx.Cursor().Last()
		if k == nil {
			return ErrNotFound
		}

		var err error
		run, err = load(tx, k)
		return err
	})
	if err != nil {
		return run, fmt.Errorf("store: could not load latest run of %v: %w", chip, err)
	}
	return run, nil
}

// History returns all the runs of chip, oldest first.
func (st *Store) History(ctx context.Context, chip calib.ChipID) ([]calib.Run, error) {
	var runs []calib.Run
	err := st.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bktChips).Bucket(chipKey(chip))
		if idx == nil {
			return ErrNotFound
		}
		return idx.ForEach(func(k, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			run, err := load(tx, k)
			if err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: could not load history of %v: %w", chip, err)
	}
	return runs, nil
}

// Chips returns the identifiers of all the chips with stored runs.
func (st *Store) Chips(ctx context.Context) ([]calib.ChipID, error) {
	var chips []calib.ChipID
	err := st.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bktChips).ForEach(func(k, _ []byte) error {
			idx := tx.Bucket(bktChips).Bucket(k)
			if idx == nil {
				return nil
			}
			id, _ := idx.Cursor().First()
			if id == nil {
				return nil
			}
			run, err := loadHeader(tx, id)
			if err != nil {
				return err
			}
			chips = append(chips, run.Chip)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: could not list chips: %w", err)
	}
	return chips, nil
}

func runBucket(tx *bbolt.Tx, id []byte) (*bbolt.Bucket, error) {
	bkt := tx.Bucket(bktRuns).Bucket(id)
	if bkt == nil {
		return nil, fmt.Errorf("missing run %d", binary.BigEndian.Uint64(id))
	}
	return bkt, nil
}

func loadHeader(tx *bbolt.Tx, id []byte) (header, error) {
	var hdr header
	bkt, err := runBucket(tx, id)
	if err != nil {
		return hdr, err
	}
	err = json.Unmarshal(bkt.Get(keyHeader), &hdr)
	if err != nil {
		return hdr, fmt.Errorf("could not decode header of run %d: %w", binary.BigEndian.Uint64(id), err)
	}
	return hdr, nil
}

func load(tx *bbolt.Tx, id []byte) (calib.Run, error) {
	hdr, err := loadHeader(tx, id)
	if err != nil {
		return calib.Run{}, err
	}

	run := calib.Run{
		ID:        hdr.ID,
		Chip:      hdr.Chip,
		Note:      hdr.Note,
		Tag:       hdr.Tag,
		Start:     hdr.Start,
		End:       hdr.End,
		Cancelled: hdr.Cancelled,
		Pixels:    make([]calib.PixelResult, 0, hdr.Pixels),
	}

	bkt, _ := runBucket(tx, id)
	pixels := bkt.Bucket(bktPixels)
	if pixels == nil {
		return run, fmt.Errorf("missing pixels of run %d", hdr.ID)
	}

	err = pixels.ForEach(func(k, v []byte) error {
		var px calib.PixelResult
		err := json.Unmarshal(v, &px)
		if err != nil {
			return fmt.Errorf("could not decode pixel (%d,%d) of run %d: %w", k[0], k[1], hdr.ID, err)
		}
		run.Pixels = append(run.Pixels, px)
		return nil
	})
	if err != nil {
		return run, err
	}

	if sum, n := checksum(pixels); sum != hdr.Checksum || n != hdr.Pixels {
		return run, fmt.Errorf("run %d (crc=0x%08x, want=0x%08x): %w", hdr.ID, sum, hdr.Checksum, ErrChecksum)
	}
	return run, nil
}

// checksum returns the CRC-32 and the number of the pixel rows of a run.
// Keys are (row, col), so rows are visited in row-major order.
func checksum(pixels *bbolt.Bucket) (uint32, int) {
	var (
		sum = crcTable.InitCrc()
		n   = 0
	)
	_ = pixels.ForEach(func(_, v []byte) error {
		sum = crcTable.UpdateCrc(sum, v)
		n++
		return nil
	})
	return crcTable.CRC32(sum), n
}

var _ calib.Appender = (*Store)(nil)
