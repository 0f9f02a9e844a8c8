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

// Package uart provides the HSU (high speed UART) transport for PN532 readers
package uart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/internal/frame"
	"github.com/ZaparooProject/go-pn532-vault/internal/portlock"
)

// BaudRate is the fixed line speed of the PN532 HSU interface
const BaudRate = 115200

const (
	// pollInterval bounds each blocking read so context deadlines are honoured
	pollInterval   = 50 * time.Millisecond
	defaultTimeout = time.Second
	maxNACKRetries = 2
)

// wakeUpSequence brings the PN532 out of power down: 0x55 followed by
// enough idle bytes to cover the oscillator start-up.
var wakeUpSequence = append([]byte{0x55, 0x55}, make([]byte, 14)...)

// serialPort is the subset of go.bug.st/serial.Port used by the transport
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Drain() error
}

// Transport implements the pn532.Transport interface for UART communication.
type Transport struct {
	port     serialPort
	lock     *portlock.Lock
	portName string
	rx       []byte
	early    []byte
	timeout  time.Duration
	mu       sync.Mutex
}

func newTransport(port serialPort, portName string, lock *portlock.Lock) *Transport {
	return &Transport{
		port:     port,
		lock:     lock,
		portName: portName,
		timeout:  defaultTimeout,
	}
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

// SendCommandWithContext writes one command frame and returns the PN532
// response (command code onwards). The context bounds the whole exchange.
func (t *Transport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, pn532.NewTransportError("SendCommand", t.portName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("UART send aborted: %w", err)
	}

	out, err := frame.Build(cmd, args)
	if err != nil {
		return nil, pn532.NewDataTooLargeError("sendFrame", t.portName)
	}

	t.rx = t.rx[:0]
	t.early = nil
	if err := t.write(wakeUpSequence, "wakeUp"); err != nil {
		return nil, err
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("UART reset input buffer failed: %w", err)
	}
	if err := t.write(out, "sendFrame"); err != nil {
		return nil, err
	}
	if err := t.waitACK(ctx); err != nil {
		return nil, err
	}

	if cmd == 0x00 && len(args) > 0 && (args[0] == pn532.DiagnoseROMTest || args[0] == pn532.DiagnoseRAMTest) {
		return t.readDiagnoseByte(ctx)
	}

	for attempt := 0; ; attempt++ {
		data, err := t.readFrame(ctx)
		if err == nil {
			_ = t.write(frame.AckFrame, "sendAck")
			return data, nil
		}
		if attempt >= maxNACKRetries || !isCorruption(err) {
			return nil, err
		}
		if werr := t.write(frame.NackFrame, "sendNack"); werr != nil {
			return nil, werr
		}
	}
}

func isCorruption(err error) bool {
	return errors.Is(err, pn532.ErrFrameCorrupted) || errors.Is(err, pn532.ErrChecksumMismatch)
}

func (t *Transport) write(p []byte, op string) error {
	n, err := t.port.Write(p)
	if err != nil {
		return pn532.NewTransportError(op, t.portName, fmt.Errorf("%w: %w", pn532.ErrTransportWrite, err),
			pn532.ErrorTypeTransient)
	}
	if n != len(p) {
		return pn532.NewTransportWriteError(op, t.portName)
	}
	if err := t.port.Drain(); err != nil {
		return fmt.Errorf("UART %s drain failed: %w", op, err)
	}
	return nil
}

// fill reads whatever is available into the receive buffer
func (t *Transport) fill(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return pn532.NewTimeoutError(op, t.portName)
	}
	buf := frame.GetFrameBuffer()
	defer frame.PutBuffer(buf)

	n, err := t.port.Read(buf)
	if err != nil {
		return pn532.NewTransportError(op, t.portName, fmt.Errorf("%w: %w", pn532.ErrTransportRead, err),
			pn532.ErrorTypeTransient)
	}
	t.rx = append(t.rx, buf[:n]...)
	return nil
}

func (t *Transport) waitACK(ctx context.Context) error {
	for {
		res, ok, err := frame.Parse(t.rx)
		if ok {
			t.rx = t.rx[res.Consumed:]
			switch {
			case err != nil:
				continue
			case res.ACK:
				return nil
			case res.NACK:
				return pn532.NewTransportError("waitAck", t.portName, pn532.ErrNACKReceived, pn532.ErrorTypeTransient)
			default:
				// some firmware answers before the ACK arrives
				t.early = res.Data
				return nil
			}
		}
		if err := t.fill(ctx, "waitAck"); err != nil {
			if pn532.IsTimeout(err) {
				return pn532.NewTransportError("waitAck", t.portName, pn532.ErrNoACK, pn532.ErrorTypeTimeout)
			}
			return err
		}
	}
}

func (t *Transport) readFrame(ctx context.Context) ([]byte, error) {
	if t.early != nil {
		data := t.early
		t.early = nil
		return data, nil
	}
	for {
		res, ok, err := frame.Parse(t.rx)
		if ok {
			t.rx = t.rx[res.Consumed:]
			switch {
			case errors.Is(err, frame.ErrDataChecksum):
				return nil, pn532.NewTransportError("receiveFrame", t.portName, pn532.ErrChecksumMismatch,
					pn532.ErrorTypeTransient)
			case err != nil:
				return nil, pn532.NewFrameCorruptedError("receiveFrame", t.portName)
			case res.ACK || res.NACK:
				continue
			default:
				return res.Data, nil
			}
		}
		if err := t.fill(ctx, "receiveFrame"); err != nil {
			return nil, err
		}
	}
}

// readDiagnoseByte reads the bare status byte the ROM and RAM tests answer
// with, presenting it as a regular Diagnose response.
func (t *Transport) readDiagnoseByte(ctx context.Context) ([]byte, error) {
	for len(t.rx) == 0 {
		if err := t.fill(ctx, "readDiagnoseByte"); err != nil {
			return nil, err
		}
	}
	status := t.rx[0]
	t.rx = t.rx[1:]
	return []byte{0x01, status}, nil
}

// SetTimeout sets the default exchange timeout used by SendCommand
func (t *Transport) SetTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = timeout
	return nil
}

// Close closes the port and releases the device lock
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if lerr := t.lock.Release(); lerr != nil && err == nil {
		err = lerr
	}
	if err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() pn532.TransportType {
	return pn532.TransportUART
}

// HasCapability implements pn532.TransportCapabilityChecker
func (*Transport) HasCapability(capability pn532.TransportCapability) bool {
	return capability == pn532.CapabilityRawDiagnoseByte
}

// Ensure Transport implements pn532.Transport
var _ pn532.Transport = (*Transport)(nil)
