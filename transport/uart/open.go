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

//go:build linux || darwin || windows || freebsd || openbsd || netbsd

package uart

import (
	"fmt"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/internal/portlock"
	"go.bug.st/serial"
)

// New opens portName at 115200 8N1 and takes an exclusive lock on it
func New(portName string) (*Transport, error) {
	lock, err := portlock.Acquire(portName)
	if err != nil {
		return nil, pn532.NewTransportError("open", portName, err, pn532.ErrorTypePermanent)
	}

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		_ = lock.Release()
		return nil, pn532.NewTransportError("open", portName, fmt.Errorf("%w: %w", pn532.ErrDeviceNotFound, err),
			pn532.ErrorTypePermanent)
	}

	if err := port.SetReadTimeout(pollInterval); err != nil {
		_ = port.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}

	return newTransport(port, portName, lock), nil
}
