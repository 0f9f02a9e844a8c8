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

package desfire

import "fmt"

// versionLength is the size of the GetVersion payload
const versionLength = 28

// VersionBlock is the hardware or software part of GetVersion
type VersionBlock struct {
	Vendor      byte
	Type        byte
	SubType     byte
	Major       byte
	Minor       byte
	StorageSize byte
	Protocol    byte
}

// Version is the decoded GetVersion payload
type Version struct {
	Raw      []byte
	UID      []byte
	BatchNo  []byte
	Hardware VersionBlock
	Software VersionBlock
	ProdWeek byte
	ProdYear byte
}

func parseBlock(b []byte) VersionBlock {
	return VersionBlock{
		Vendor:      b[0],
		Type:        b[1],
		SubType:     b[2],
		Major:       b[3],
		Minor:       b[4],
		StorageSize: b[5],
		Protocol:    b[6],
	}
}

// ParseVersion decodes the 28 byte GetVersion payload
func ParseVersion(data []byte) (*Version, error) {
	if len(data) != versionLength {
		return nil, fmt.Errorf("version payload of %d bytes, want %d: %w", len(data), versionLength, ErrShortResponse)
	}
	raw := append([]byte(nil), data...)
	return &Version{
		Raw:      raw,
		Hardware: parseBlock(raw[0:7]),
		Software: parseBlock(raw[7:14]),
		UID:      raw[14:21],
		BatchNo:  raw[21:26],
		ProdWeek: raw[26],
		ProdYear: raw[27],
	}, nil
}

// StorageBytes decodes a storage size code: 2^(code>>1) bytes, with bit 0
// set when the real size lies between that and the next power of two. Codes
// whose size does not fit a uint64 return 0.
func StorageBytes(code byte) (size uint64, approximate bool) {
	if code>>1 >= 64 {
		return 0, false
	}
	return uint64(1) << (code >> 1), code&0x01 != 0
}
