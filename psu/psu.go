// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package psu controls SCPI programmable power supplies, over a serial
// line or a TCP socket.
package psu // import "github.com/go-lpc/etroc/psu"

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

// ErrInstrument is returned when the instrument reports an error in its
// error queue.
var ErrInstrument = errors.New("psu: instrument error")

// Device is a SCPI power supply.
// A Device is safe for concurrent use.
type Device struct {
	mu   sync.Mutex
	conn io.ReadWriteCloser
	rbuf *bufio.Reader
	lim  *rate.Limiter
	msg  *log.Logger
	hand bool
}

type config struct {
	baud  int
	pace  time.Duration
	msg   *log.Logger
	hand  bool
	tmout time.Duration
}

func newConfig() config {
	return config{
		baud:  9600,
		pace:  50 * time.Millisecond,
		msg:   log.New(os.Stdout, "psu: ", 0),
		hand:  true,
		tmout: 3 * time.Second,
	}
}

// Option configures a Device.
type Option func(*config)

// WithBaudRate sets the baud rate of serial connections.
func WithBaudRate(baud int) Option {
	return func(cfg *config) {
		cfg.baud = baud
	}
}

// WithPacing sets the minimum delay between two commands.
func WithPacing(d time.Duration) Option {
	return func(cfg *config) {
		cfg.pace = d
	}
}

// WithHandshake enables or disables the error-queue check after each
// setting command.
func WithHandshake(v bool) Option {
	return func(cfg *config) {
		cfg.hand = v
	}
}

// WithTimeout sets the connection timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.tmout = d
	}
}

// WithLogger sets the logger of the device.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// New returns a power supply talking over conn.
func New(conn io.ReadWriteCloser, opts ...Option) *Device {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newDevice(conn, cfg)
}

func newDevice(conn io.ReadWriteCloser, cfg config) *Device {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.pace > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.pace), 1)
	}
	return &Device{
		conn: conn,
		rbuf: bufio.NewReader(conn),
		lim:  lim,
		msg:  cfg.msg,
		hand: cfg.hand,
	}
}

// Open connects to the power supply at addr.
// network is either "tcp" (addr is host:port) or "serial" (addr is the
// name of the serial device).
func Open(network, addr string, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var conn io.ReadWriteCloser
	op := func() error {
		var err error
		switch network {
		case "tcp":
			conn, err = net.DialTimeout("tcp", addr, cfg.tmout)
		case "serial":
			conn, err = serial.OpenPort(&serial.Config{
				Name:        addr,
				Baud:        cfg.baud,
				Size:        8,
				Parity:      serial.ParityNone,
				StopBits:    serial.Stop1,
				ReadTimeout: cfg.tmout,
			})
		default:
			return backoff.Permanent(fmt.Errorf("invalid network %q", network))
		}
		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      cfg.tmout,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return nil, fmt.Errorf("psu: could not connect to %s %q: %w", network, addr, err)
	}

	return newDevice(conn, cfg), nil
}

// Close closes the connection to the power supply.
func (dev *Device) Close() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.conn.Close()
}

func (dev *Device) send(ctx context.Context, cmd string) error {
	err := dev.lim.Wait(ctx)
	if err != nil {
		return err
	}
	_, err = io.WriteString(dev.conn, cmd+"\n")
	return err
}

func (dev *Device) recv() (string, error) {
	line, err := dev.rbuf.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (dev *Device) query(ctx context.Context, cmd string) (string, error) {
	err := dev.send(ctx, cmd)
	if err != nil {
		return "", err
	}
	return dev.recv()
}

// write sends the setting commands cmds and, with handshaking enabled,
// checks the error queue of the instrument.
func (dev *Device) write(ctx context.Context, cmds ...string) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	for _, cmd := range cmds {
		err := dev.send(ctx, cmd)
		if err != nil {
			return fmt.Errorf("psu: could not send %q: %w", cmd, err)
		}
	}

	if !dev.hand {
		return nil
	}

	reply, err := dev.query(ctx, "SYST:ERR?")
	if err != nil {
		return fmt.Errorf("psu: could not query error queue: %w", err)
	}
	if !strings.HasPrefix(reply, "+0") && !strings.HasPrefix(reply, "0") {
		return fmt.Errorf("%w: %s (after %q)", ErrInstrument, reply, strings.Join(cmds, "; "))
	}
	return nil
}

func (dev *Device) read(ctx context.Context, cmds ...string) (string, error) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	n := len(cmds) - 1
	for _, cmd := range cmds[:n] {
		err := dev.send(ctx, cmd)
		if err != nil {
			return "", fmt.Errorf("psu: could not send %q: %w", cmd, err)
		}
	}
	reply, err := dev.query(ctx, cmds[n])
	if err != nil {
		return "", fmt.Errorf("psu: could not query %q: %w", cmds[n], err)
	}
	return reply, nil
}

func (dev *Device) readFloat(ctx context.Context, cmds ...string) (float64, error) {
	reply, err := dev.read(ctx, cmds...)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, fmt.Errorf("psu: could not parse reply %q to %q: %w", reply, cmds[len(cmds)-1], err)
	}
	return v, nil
}

func selectChannel(ch int) string {
	return "INST:NSEL " + strconv.Itoa(ch)
}

// Identify returns the identification string of the instrument.
func (dev *Device) Identify(ctx context.Context) (string, error) {
	return dev.read(ctx, "*IDN?")
}

// On enables the output of channel ch.
func (dev *Device) On(ctx context.Context, ch int) error {
	dev.msg.Printf("channel %d: on", ch)
	return dev.write(ctx, selectChannel(ch), "OUTP ON")
}

// Off disables the output of channel ch.
func (dev *Device) Off(ctx context.Context, ch int) error {
	dev.msg.Printf("channel %d: off", ch)
	return dev.write(ctx, selectChannel(ch), "OUTP OFF")
}

// SetVoltage sets the voltage of channel ch, in volts.
func (dev *Device) SetVoltage(ctx context.Context, ch int, v float64) error {
	return dev.write(ctx, selectChannel(ch), "VOLT "+strconv.FormatFloat(v, 'f', -1, 64))
}

// SetCurrentLimit sets the current limit of channel ch, in amperes.
func (dev *Device) SetCurrentLimit(ctx context.Context, ch int, a float64) error {
	return dev.write(ctx, selectChannel(ch), "CURR "+strconv.FormatFloat(a, 'f', -1, 64))
}

// Measure returns the measured voltage (in volts) and current (in
// amperes) of channel ch.
func (dev *Device) Measure(ctx context.Context, ch int) (v, a float64, err error) {
	v, err = dev.readFloat(ctx, selectChannel(ch), "MEAS:VOLT?")
	if err != nil {
		return v, a, err
	}
	a, err = dev.readFloat(ctx, selectChannel(ch), "MEAS:CURR?")
	if err != nil {
		return v, a, err
	}
	return v, a, nil
}
