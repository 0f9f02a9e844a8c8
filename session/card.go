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

package session

import (
	"encoding/hex"
	"strings"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
)

const unknownCardName = "Unknown"

// CardType classifies a detected card from its activation parameters
type CardType int

const (
	// CardTypeUnknown is any card that could not be classified
	CardTypeUnknown CardType = iota
	// CardTypeDESFire is a MIFARE DESFire EV1 or later
	CardTypeDESFire
	// CardTypeISO14443_4 is another ISO14443-4 compliant card
	CardTypeISO14443_4
	// CardTypeMIFAREClassic is a MIFARE Classic 1K, 4K or Mini
	CardTypeMIFAREClassic
	// CardTypeUltralight is a MIFARE Ultralight or NTAG
	CardTypeUltralight
)

// String returns a human-readable name for the card type
func (t CardType) String() string {
	switch t {
	case CardTypeDESFire:
		return "MIFARE DESFire"
	case CardTypeISO14443_4:
		return "ISO14443-4"
	case CardTypeMIFAREClassic:
		return "MIFARE Classic"
	case CardTypeUltralight:
		return "MIFARE Ultralight"
	default:
		return unknownCardName
	}
}

// IdentifyCard determines the card type from ATQA and SAK
func IdentifyCard(atqa uint16, sak byte) CardType {
	switch {
	case sak == 0x20 && (atqa == 0x0344 || atqa == 0x0304):
		return CardTypeDESFire
	case sak&0x20 != 0:
		return CardTypeISO14443_4
	case sak == 0x08 || sak == 0x09 || sak == 0x18 || sak == 0x88:
		return CardTypeMIFAREClassic
	case sak == 0x00 && atqa == 0x0044:
		return CardTypeUltralight
	default:
		return CardTypeUnknown
	}
}

// Card is the identity of a card produced by one detection
type Card struct {
	UID    []byte
	ATQA   []byte
	ATS    []byte
	Type   CardType
	SAK    byte
	Target byte
}

func cardFromTarget(t *pn532.DetectedTarget) *Card {
	return &Card{
		Type:   IdentifyCard(t.ATQAValue(), t.SAK),
		UID:    t.UID,
		ATQA:   t.ATQA,
		ATS:    t.ATS,
		SAK:    t.SAK,
		Target: t.TargetNumber,
	}
}

// UIDString renders the UID as colon separated uppercase hex
func (c *Card) UIDString() string {
	return FormatUID(c.UID)
}

// FormatUID renders uid as colon separated uppercase hex, e.g. 04:A1:B2
func FormatUID(uid []byte) string {
	parts := make([]string, len(uid))
	for i, b := range uid {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, ":")
}
