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

package pn532

import "time"

// PN532 Command codes
const (
	cmdDiagnose            = 0x00
	cmdGetFirmwareVersion  = 0x02
	cmdSamConfiguration    = 0x14
	cmdRFConfiguration     = 0x32
	cmdInDataExchange      = 0x40
	cmdInListPassiveTarget = 0x4A
	cmdInRelease           = 0x52
	cmdInSelect            = 0x54
)

// errorFrameCode marks an application level error frame from the PN532
const errorFrameCode = 0x7F

// SAMMode selects how the PN532 uses its secure access module
type SAMMode byte

const (
	// SAMModeNormal disables the SAM
	SAMModeNormal SAMMode = 0x01
	// SAMModeVirtualCard uses the SAM as a virtual card
	SAMModeVirtualCard SAMMode = 0x02
	// SAMModeWiredCard uses the SAM as a wired card
	SAMModeWiredCard SAMMode = 0x03
	// SAMModeDualCard exposes both the SAM and the antenna
	SAMModeDualCard SAMMode = 0x04
)

// Baud rate / modulation selectors for InListPassiveTarget
const (
	BaudRate106kbpsTypeA byte = 0x00
	BaudRate212kbpsFeliCa byte = 0x01
	BaudRate424kbpsFeliCa byte = 0x02
	BaudRate106kbpsTypeB byte = 0x03
)

// Diagnose test numbers
const (
	DiagnoseCommunicationTest byte = 0x00
	DiagnoseROMTest           byte = 0x01
	DiagnoseRAMTest           byte = 0x02
	DiagnosePollingTest       byte = 0x04
	DiagnoseEchoBackTest      byte = 0x05
	DiagnoseAttentionTest     byte = 0x06
	DiagnoseSelfAntennaTest   byte = 0x07
)

// RFConfiguration items
const (
	rfItemField       byte = 0x01
	rfItemTimings     byte = 0x02
	rfItemMaxRetryCOM byte = 0x04
	rfItemMaxRetries  byte = 0x05
)

// defaultCommandTimeouts is the per-command host side timeout policy. Commands
// that wait on the RF field get more time than local configuration commands.
var defaultCommandTimeouts = map[byte]time.Duration{
	cmdDiagnose:            2 * time.Second,
	cmdGetFirmwareVersion:  500 * time.Millisecond,
	cmdSamConfiguration:    500 * time.Millisecond,
	cmdRFConfiguration:     500 * time.Millisecond,
	cmdInDataExchange:      1500 * time.Millisecond,
	cmdInListPassiveTarget: 1 * time.Second,
	cmdInRelease:           500 * time.Millisecond,
	cmdInSelect:            500 * time.Millisecond,
}

// commandName returns a readable name for cmd, used in errors and logs
func commandName(cmd byte) string {
	switch cmd {
	case cmdDiagnose:
		return "Diagnose"
	case cmdGetFirmwareVersion:
		return "GetFirmwareVersion"
	case cmdSamConfiguration:
		return "SAMConfiguration"
	case cmdRFConfiguration:
		return "RFConfiguration"
	case cmdInDataExchange:
		return "InDataExchange"
	case cmdInListPassiveTarget:
		return "InListPassiveTarget"
	case cmdInRelease:
		return "InRelease"
	case cmdInSelect:
		return "InSelect"
	default:
		return "Unknown"
	}
}
