// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command etroc-bridge exposes a local I2C adapter over TCP, for remote
// calibration clients.
package main // import "github.com/go-lpc/etroc/cmd/etroc-bridge"

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/go-lpc/etroc/i2c"
)

func main() {
	log.SetPrefix("etroc-bridge: ")
	log.SetFlags(0)

	var (
		addr  = flag.String("addr", ":8877", "[ip]:port to listen on")
		kind  = flag.String("kind", "dev", "adapter kind (dev, smbus)")
		dev   = flag.String("dev", "/dev/i2c-1", "i2c-dev device file")
		bus   = flag.Int("bus", 1, "SMBus number")
		saddr = flag.Uint("smbus-addr", 0x60, "initial SMBus device address")
		width = flag.Int("reg-width", 2, "sub-register width, in bytes")
		trace = flag.Bool("trace", false, "log all transfers")
	)

	flag.Parse()

	msg := log.New(os.Stdout, "etroc-bridge: ", 0)
	link, err := openLink(*kind, *dev, *bus, uint8(*saddr), i2c.RegWidth(*width), msg)
	if err != nil {
		log.Fatalf("could not open adapter: %+v", err)
	}
	defer link.Close()

	var lnk i2c.Link = link
	if *trace {
		lnk = i2c.Trace(link, msg)
	}

	l, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("could not listen on %q: %+v", *addr, err)
	}
	defer l.Close()

	msg.Printf("serving %s adapter on %q...", *kind, l.Addr())
	err = i2c.ServeBridge(l, lnk, msg)
	if err != nil {
		log.Fatalf("could not serve bridge: %+v", err)
	}
}

func openLink(kind, dev string, bus int, addr uint8, width i2c.RegWidth, msg *log.Logger) (i2c.LinkCloser, error) {
	opts := []i2c.Option{i2c.WithRegWidth(width), i2c.WithLogger(msg)}
	switch kind {
	case "dev":
		return i2c.OpenDev(dev, opts...)
	case "smbus":
		return i2c.OpenSMBus(bus, addr, opts...)
	default:
		return nil, fmt.Errorf("invalid adapter kind %q", kind)
	}
}
