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

/*
Package pn532 drives a PN532 NFC controller over a Transport.

The driver covers what a card vault needs from the controller: the wake-up
and firmware handshake, SAM and RF configuration, the built-in Diagnose
self-tests, passive target activation and data exchange with an activated
ISO14443-4 target. Every command runs under a per-command timeout policy
that can be tuned with WithCommandTimeout.

Basic Usage:

	transport, err := uart.New("/dev/ttyUSB0")
	if err != nil {
	    log.Fatal(err)
	}
	defer transport.Close()

	device, err := pn532.New(transport)
	if err != nil {
	    log.Fatal(err)
	}
	if err := device.InitContext(ctx); err != nil {
	    log.Fatal(err)
	}
	fw, err := device.FirmwareVersionContext(ctx)

Card level orchestration lives in the session, desfire and vault packages.
*/
package pn532
