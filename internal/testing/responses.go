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

// Package testing provides simulated PN532 and DESFire hardware for tests.
// Responses are built without the 0xD5 frame identifier, the way a
// Transport returns them.
package testing

// Command bytes for reference
const (
	CmdDiagnose            = 0x00
	CmdGetFirmwareVersion  = 0x02
	CmdSAMConfiguration    = 0x14
	CmdRFConfiguration     = 0x32
	CmdInDataExchange      = 0x40
	CmdInListPassiveTarget = 0x4A
	CmdInRelease           = 0x52
)

// DESFire EV1 activation parameters
var (
	DESFireATQA = [2]byte{0x03, 0x44}
	DESFireATS  = []byte{0x75, 0x77, 0x81, 0x02, 0x80}
)

// TestMIFARE1KUID is a sample MIFARE Classic 1K UID
var TestMIFARE1KUID = []byte{0x12, 0x34, 0x56, 0x78}

// BuildFirmwareVersionResponse creates a GetFirmwareVersion response
func BuildFirmwareVersionResponse(ic, ver, rev, support byte) []byte {
	return []byte{CmdGetFirmwareVersion + 1, ic, ver, rev, support}
}

// BuildDetectionResponse creates an InListPassiveTarget response for one
// target. The ATS is only encoded when the SAK announces ISO14443-4.
func BuildDetectionResponse(atqa [2]byte, sak byte, uid, ats []byte) []byte {
	response := []byte{CmdInListPassiveTarget + 1, 0x01, 0x01, atqa[0], atqa[1], sak, byte(len(uid))}
	response = append(response, uid...)
	if sak&0x20 != 0 {
		response = append(response, byte(len(ats)+1))
		response = append(response, ats...)
	}
	return response
}

// BuildDESFireDetectionResponse creates a detection response for a DESFire EV1
func BuildDESFireDetectionResponse(uid []byte) []byte {
	return BuildDetectionResponse(DESFireATQA, 0x20, uid, DESFireATS)
}

// BuildMIFAREDetectionResponse creates a detection response for MIFARE Classic
func BuildMIFAREDetectionResponse(uid []byte, sak byte) []byte {
	return BuildDetectionResponse([2]byte{0x00, 0x04}, sak, uid, nil)
}

// BuildNoTagResponse creates an empty InListPassiveTarget response
func BuildNoTagResponse() []byte {
	return []byte{CmdInListPassiveTarget + 1, 0x00}
}

// BuildDataExchangeResponse creates an InDataExchange response
func BuildDataExchangeResponse(status byte, data []byte) []byte {
	return append([]byte{CmdInDataExchange + 1, status}, data...)
}

// BuildDiagnoseResponse creates a Diagnose response carrying data
func BuildDiagnoseResponse(data ...byte) []byte {
	return append([]byte{CmdDiagnose + 1}, data...)
}

// BuildErrorResponse creates a status response for any command
func BuildErrorResponse(cmd, errorCode byte) []byte {
	return []byte{cmd + 1, errorCode}
}
