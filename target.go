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

import (
	"encoding/hex"
	"fmt"
	"time"
)

// DetectedTarget describes a target activated by InListPassiveTarget
type DetectedTarget struct {
	DetectedAt   time.Time
	UID          []byte
	ATQA         []byte
	ATS          []byte
	SAK          byte
	TargetNumber byte
}

// UIDHex returns the UID as lowercase hex
func (t *DetectedTarget) UIDHex() string {
	return hex.EncodeToString(t.UID)
}

// ATQAValue returns the ATQA as a big endian integer
func (t *DetectedTarget) ATQAValue() uint16 {
	if len(t.ATQA) != 2 {
		return 0
	}
	return uint16(t.ATQA[0])<<8 | uint16(t.ATQA[1])
}

// IsISO14443_4 reports whether the target supports the ISO14443-4 transport
func (t *DetectedTarget) IsISO14443_4() bool {
	return t.SAK&0x20 != 0
}

func parseTargets(res []byte) ([]*DetectedTarget, error) {
	if len(res) < 2 {
		return nil, fmt.Errorf("InListPassiveTarget response too short: %d bytes: %w", len(res), ErrInvalidResponse)
	}
	count := int(res[1])
	targets := make([]*DetectedTarget, 0, count)
	offset := 2
	for i := 0; i < count; i++ {
		target, next, err := parseTargetAt(res, offset)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		targets = append(targets, target)
		offset = next
	}
	return targets, nil
}

// parseTargetAt decodes Tg, SENS_RES, SEL_RES, NFCIDLength, NFCID and, for
// ISO14443-4 targets, the ATS.
func parseTargetAt(res []byte, offset int) (*DetectedTarget, int, error) {
	if offset+5 > len(res) {
		return nil, 0, fmt.Errorf("truncated target header: %w", ErrInvalidResponse)
	}
	target := &DetectedTarget{
		TargetNumber: res[offset],
		ATQA:         append([]byte(nil), res[offset+1:offset+3]...),
		SAK:          res[offset+3],
		DetectedAt:   time.Now(),
	}
	uidLen := int(res[offset+4])
	offset += 5
	if offset+uidLen > len(res) {
		return nil, 0, fmt.Errorf("truncated UID: %w", ErrInvalidResponse)
	}
	target.UID = append([]byte(nil), res[offset:offset+uidLen]...)
	offset += uidLen

	if target.IsISO14443_4() && offset < len(res) {
		atsLen := int(res[offset])
		if atsLen == 0 || offset+atsLen > len(res) {
			return nil, 0, fmt.Errorf("truncated ATS: %w", ErrInvalidResponse)
		}
		target.ATS = append([]byte(nil), res[offset+1:offset+atsLen]...)
		offset += atsLen
	}
	return target, offset, nil
}
