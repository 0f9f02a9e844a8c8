// go-pn532-vault
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn532-vault.
//
// go-pn532-vault is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn532-vault is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn532-vault; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package i2c provides I2C transport implementation for PN532
package i2c

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/internal/frame"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

const (
	// pn532Addr is the 7-bit PN532 bus address
	pn532Addr = 0x24

	pn532Ready = 0x01

	// maxClockFreq is the fastest clock the PN532 accepts
	maxClockFreq = 400 * physic.KiloHertz

	readyPollInterval = 2 * time.Millisecond
	defaultTimeout    = time.Second
	// readLength covers the ready byte plus the largest normal frame
	readLength = 1 + 7 + 255
)

// conn is the part of periph's i2c.Dev used by the transport
type conn interface {
	Tx(w, r []byte) error
}

// Transport implements the pn532.Transport interface for I2C communication
type Transport struct {
	dev     conn
	closer  func() error
	busName string
	timeout time.Duration
	mu      sync.Mutex
}

// IsI2CPort reports whether port names an I2C bus rather than a serial device
func IsI2CPort(port string) bool {
	return strings.Contains(strings.ToLower(port), "i2c")
}

// New opens busName (e.g. "/dev/i2c-1" or "1") and addresses the PN532
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, pn532.NewTransportError("open", busName, fmt.Errorf("%w: %w", pn532.ErrDeviceNotFound, err),
			pn532.ErrorTypePermanent)
	}
	_ = bus.SetSpeed(maxClockFreq)

	t := newTransport(&i2c.Dev{Addr: pn532Addr, Bus: bus}, busName)
	t.closer = bus.Close
	return t, nil
}

func newTransport(dev conn, busName string) *Transport {
	return &Transport{dev: dev, busName: busName, timeout: defaultTimeout}
}

// SendCommand sends a command under the transport timeout
func (t *Transport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	timeout := t.timeout
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.SendCommandWithContext(ctx, cmd, args)
}

// SendCommandWithContext writes a command frame, waits for the ACK and
// returns the response data.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("I2C send aborted: %w", err)
	}
	if t.dev == nil {
		return nil, pn532.NewTransportError("SendCommand", t.busName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}

	out, err := frame.Build(cmd, args)
	if err != nil {
		return nil, pn532.NewDataTooLargeError("sendFrame", t.busName)
	}
	if err := t.dev.Tx(out, nil); err != nil {
		return nil, pn532.NewTransportError("sendFrame", t.busName, fmt.Errorf("%w: %w", pn532.ErrTransportWrite, err),
			pn532.ErrorTypeTransient)
	}

	ack, err := t.readWhenReady(ctx, 1+len(frame.AckFrame), "waitAck")
	if err != nil {
		return nil, err
	}
	res, ok, err := frame.Parse(ack)
	if err != nil || !ok || !res.ACK {
		return nil, pn532.NewNoACKError("waitAck", t.busName)
	}

	buf, err := t.readWhenReady(ctx, readLength, "receiveFrame")
	if err != nil {
		return nil, err
	}
	res, ok, err = frame.Parse(buf)
	switch {
	case errors.Is(err, frame.ErrDataChecksum):
		return nil, pn532.NewTransportError("receiveFrame", t.busName, pn532.ErrChecksumMismatch, pn532.ErrorTypeTransient)
	case err != nil || !ok:
		return nil, pn532.NewFrameCorruptedError("receiveFrame", t.busName)
	}
	return res.Data, nil
}

// readWhenReady polls the status byte until the PN532 has data, then reads
// n bytes (status byte included) and strips the status.
func (t *Transport) readWhenReady(ctx context.Context, n int, op string) ([]byte, error) {
	buf := make([]byte, n)
	for {
		if err := t.dev.Tx(nil, buf); err != nil {
			return nil, pn532.NewTransportError(op, t.busName, fmt.Errorf("%w: %w", pn532.ErrTransportRead, err),
				pn532.ErrorTypeTransient)
		}
		if buf[0]&pn532Ready != 0 {
			return buf[1:], nil
		}

		select {
		case <-ctx.Done():
			return nil, pn532.NewTimeoutError(op, t.busName)
		case <-time.After(readyPollInterval):
		}
	}
}

// SetTimeout sets the default exchange timeout used by SendCommand
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close releases the bus
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dev = nil
	if t.closer == nil {
		return nil
	}
	closer := t.closer
	t.closer = nil
	if err := closer(); err != nil {
		return fmt.Errorf("I2C close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type returns the transport type
func (*Transport) Type() pn532.TransportType {
	return pn532.TransportI2C
}

// HasCapability implements pn532.TransportCapabilityChecker. The ROM and RAM
// self-tests answer with an unframed byte that the I2C status protocol
// cannot deliver.
func (*Transport) HasCapability(pn532.TransportCapability) bool {
	return false
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
