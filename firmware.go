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

import "fmt"

// ICPN532 is the IC identifier reported by a genuine PN532
const ICPN532 = 0x32

// FirmwareVersion contains PN532 firmware information
type FirmwareVersion struct {
	IC       byte
	Version  byte
	Revision byte
	Support  byte
}

// String renders the version as IC, Ver.Rev and Support fields
func (f *FirmwareVersion) String() string {
	return fmt.Sprintf("IC: 0x%02X, Ver.Rev: %d.%d, Support: 0x%02X", f.IC, f.Version, f.Revision, f.Support)
}

// SupportsISO14443A reports whether the firmware handles ISO14443 type A
func (f *FirmwareVersion) SupportsISO14443A() bool { return f.Support&0x01 != 0 }

// SupportsISO14443B reports whether the firmware handles ISO14443 type B
func (f *FirmwareVersion) SupportsISO14443B() bool { return f.Support&0x02 != 0 }

// SupportsISO18092 reports whether the firmware handles ISO18092
func (f *FirmwareVersion) SupportsISO18092() bool { return f.Support&0x04 != 0 }

// DiagnoseResult contains the result of a diagnose test
type DiagnoseResult struct {
	Data       []byte
	TestNumber byte
	Success    bool
}

// AntennaThreshold packs the low and high current detector thresholds of the
// self-antenna test into its parameter byte. Both values use two bits.
func AntennaThreshold(low, high byte) byte {
	return 0x01 | (low&0x03)<<1 | (high&0x03)<<4
}
