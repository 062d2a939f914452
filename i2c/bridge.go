// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package i2c

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/snksoft/crc"
)

// Bridge frames.
//
//	request:  seq:u16 | op:u8 | addr:u8 | reg:u16 | n:u16 | data[n] | crc:u16
//	response: seq:u16 | status:u8 | n:u16 | data[n] | crc:u16
//
// For read requests, n is the number of bytes to read and no data follows.
// A response echoes the sequence number of its request.
// Integers are big-endian; the CRC is CRC-16/XMODEM over the preceding bytes.
const (
	opRead  = 0x01
	opWrite = 0x02

	statusOK       = 0x00
	statusLinkErr  = 0x01
	statusBadFrame = 0x02

	maxPayload = 0xffff
)

var (
	crcTable = crc.NewTable(crc.XMODEM)

	ErrCRC      = errors.New("i2c: bridge frame CRC mismatch")
	ErrSequence = errors.New("i2c: bridge response out of sequence")
)

func crc16(p []byte) uint16 {
	return crcTable.CRC16(crcTable.UpdateCrc(crcTable.InitCrc(), p))
}

// Bridge is a Link to a remote I2C adapter, served by ServeBridge.
//
// A transfer that fails on the wire drops the connection: the next
// transfer redials the server.
type Bridge struct {
	mu      sync.Mutex
	conn    net.Conn // nil once dropped
	r       *bufio.Reader
	seq     uint16
	addr    string
	timeout time.Duration
	msg     *log.Logger
}

// DialBridge connects to the bridge server at addr (host:port).
func DialBridge(addr string, opts ...Option) (*Bridge, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	br := &Bridge{
		addr:    addr,
		timeout: cfg.timeout,
		msg:     cfg.msg,
	}
	err := br.dial()
	if err != nil {
		return nil, err
	}
	return br, nil
}

func (br *Bridge) dial() error {
	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", br.addr, br.timeout)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return fmt.Errorf("i2c: could not dial bridge %q: %w", br.addr, err)
	}

	br.conn = conn
	br.r = bufio.NewReader(conn)
	return nil
}

// drop closes the connection, discarding any reply still in flight.
func (br *Bridge) drop(err error) {
	br.msg.Printf("dropping bridge connection to %q: %+v", br.addr, err)
	_ = br.conn.Close()
	br.conn = nil
	br.r = nil
}

func (br *Bridge) Close() error {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.conn == nil {
		return nil
	}
	err := br.conn.Close()
	br.conn = nil
	br.r = nil
	return err
}

func (br *Bridge) Read(addr uint8, reg uint16, n int) ([]byte, error) {
	if err := CheckAddr(addr); err != nil {
		return nil, err
	}
	if n < 0 || n > maxPayload {
		return nil, linkErr("read", addr, reg, fmt.Errorf("i2c: invalid read size %d", n))
	}

	data, err := br.roundTrip(opRead, addr, reg, uint16(n), nil)
	if err != nil {
		return nil, linkErr("read", addr, reg, err)
	}
	if len(data) != n {
		return nil, linkErr("read", addr, reg, fmt.Errorf("%w (got=%d, want=%d)", ErrShortRead, len(data), n))
	}
	return data, nil
}

func (br *Bridge) Write(addr uint8, reg uint16, p []byte) error {
	if err := CheckAddr(addr); err != nil {
		return err
	}
	if len(p) > maxPayload {
		return linkErr("write", addr, reg, fmt.Errorf("i2c: invalid write size %d", len(p)))
	}

	_, err := br.roundTrip(opWrite, addr, reg, uint16(len(p)), p)
	if err != nil {
		return linkErr("write", addr, reg, err)
	}
	return nil
}

func (br *Bridge) roundTrip(op, addr uint8, reg, n uint16, data []byte) ([]byte, error) {
	br.mu.Lock()
	defer br.mu.Unlock()

	if br.conn == nil {
		err := br.dial()
		if err != nil {
			return nil, err
		}
	}

	if br.timeout > 0 {
		_ = br.conn.SetDeadline(time.Now().Add(br.timeout))
		defer func(conn net.Conn) {
			_ = conn.SetDeadline(time.Time{})
		}(br.conn)
	}

	br.seq++
	_, err := br.conn.Write(encodeRequest(br.seq, op, addr, reg, n, data))
	if err != nil {
		err = fmt.Errorf("could not send request: %w", err)
		br.drop(err)
		return nil, err
	}

	seq, status, resp, err := decodeResponse(br.r)
	if err != nil {
		err = fmt.Errorf("could not receive response: %w", err)
		br.drop(err)
		return nil, err
	}
	if seq != br.seq {
		err = fmt.Errorf("%w (got=%d, want=%d)", ErrSequence, seq, br.seq)
		br.drop(err)
		return nil, err
	}

	switch status {
	case statusOK:
		return resp, nil
	case statusLinkErr:
		return nil, fmt.Errorf("remote: %s", resp)
	default:
		return nil, fmt.Errorf("remote rejected frame (status=0x%x): %s", status, resp)
	}
}

func encodeRequest(seq uint16, op, addr uint8, reg, n uint16, data []byte) []byte {
	buf := make([]byte, 8, 8+len(data)+2)
	binary.BigEndian.PutUint16(buf[0:], seq)
	buf[2] = op
	buf[3] = addr
	binary.BigEndian.PutUint16(buf[4:], reg)
	binary.BigEndian.PutUint16(buf[6:], n)
	buf = append(buf, data...)
	return binary.BigEndian.AppendUint16(buf, crc16(buf))
}

type request struct {
	seq  uint16
	op   uint8
	addr uint8
	reg  uint16
	n    uint16
	data []byte
}

func decodeRequest(r io.Reader) (request, error) {
	var (
		req request
		hdr [8]byte
	)
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return req, err
	}
	req.seq = binary.BigEndian.Uint16(hdr[0:])
	req.op = hdr[2]
	req.addr = hdr[3]
	req.reg = binary.BigEndian.Uint16(hdr[4:])
	req.n = binary.BigEndian.Uint16(hdr[6:])

	size := 0
	if req.op == opWrite {
		size = int(req.n)
	}
	buf := make([]byte, 8+size+2)
	copy(buf, hdr[:])
	_, err = io.ReadFull(r, buf[8:])
	if err != nil {
		return req, err
	}
	req.data = buf[8 : 8+size]

	if got, want := binary.BigEndian.Uint16(buf[8+size:]), crc16(buf[:8+size]); got != want {
		return req, fmt.Errorf("%w (got=0x%04x, want=0x%04x)", ErrCRC, got, want)
	}
	return req, nil
}

func encodeResponse(seq uint16, status uint8, data []byte) []byte {
	buf := make([]byte, 5, 5+len(data)+2)
	binary.BigEndian.PutUint16(buf[0:], seq)
	buf[2] = status
	binary.BigEndian.PutUint16(buf[3:], uint16(len(data)))
	buf = append(buf, data...)
	return binary.BigEndian.AppendUint16(buf, crc16(buf))
}

func decodeResponse(r io.Reader) (seq uint16, status uint8, data []byte, err error) {
	var hdr [5]byte
	_, err = io.ReadFull(r, hdr[:])
	if err != nil {
		return 0, 0, nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[3:]))
	buf := make([]byte, 5+n+2)
	copy(buf, hdr[:])
	_, err = io.ReadFull(r, buf[5:])
	if err != nil {
		return 0, 0, nil, err
	}
	if got, want := binary.BigEndian.Uint16(buf[5+n:]), crc16(buf[:5+n]); got != want {
		return 0, 0, nil, fmt.Errorf("%w (got=0x%04x, want=0x%04x)", ErrCRC, got, want)
	}
	return binary.BigEndian.Uint16(hdr[0:]), hdr[2], buf[5 : 5+n], nil
}

// ServeBridge serves requests from bridge clients accepted on l,
// forwarding them to link.
// Requests from all clients are serialized on link.
// ServeBridge returns nil once l has been closed.
func ServeBridge(l net.Listener, link Link, msg *log.Logger) error {
	var mu sync.Mutex
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("i2c: could not accept bridge connection: %w", err)
		}
		msg.Printf("bridge client %v connected", conn.RemoteAddr())
		go serveBridgeConn(conn, link, &mu, msg)
	}
}

func serveBridgeConn(conn net.Conn, link Link, mu *sync.Mutex, msg *log.Logger) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		req, err := decodeRequest(r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				msg.Printf("bridge client %v disconnected", conn.RemoteAddr())
				return
			case errors.Is(err, ErrCRC):
				msg.Printf("bridge client %v: %+v", conn.RemoteAddr(), err)
				_, err = conn.Write(encodeResponse(req.seq, statusBadFrame, []byte(err.Error())))
				if err != nil {
					return
				}
				continue
			default:
				msg.Printf("bridge client %v: could not decode request: %+v", conn.RemoteAddr(), err)
				return
			}
		}

		var resp []byte
		mu.Lock()
		switch req.op {
		case opRead:
			var data []byte
			data, err = link.Read(req.addr, req.reg, int(req.n))
			resp = encodeResponse(req.seq, statusOK, data)
		case opWrite:
			err = link.Write(req.addr, req.reg, req.data)
			resp = encodeResponse(req.seq, statusOK, nil)
		default:
			resp = encodeResponse(req.seq, statusBadFrame, []byte(fmt.Sprintf("invalid bridge op 0x%x", req.op)))
		}
		mu.Unlock()

		if err != nil {
			resp = encodeResponse(req.seq, statusLinkErr, []byte(err.Error()))
		}

		_, err = conn.Write(resp)
		if err != nil {
			msg.Printf("bridge client %v: could not send response: %+v", conn.RemoteAddr(), err)
			return
		}
	}
}

var _ LinkCloser = (*Bridge)(nil)
