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

// Package desfire implements the MIFARE DESFire EV1 native command set on top
// of an ISO14443-4 exchange, including mutual authentication and EV1 secure
// messaging.
package desfire

import (
	"context"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-pn532-vault/internal/crypt"
)

// Native command codes
const (
	cmdAuthenticateISO      byte = 0x1A
	cmdAuthenticateAES      byte = 0xAA
	cmdChangeKey            byte = 0xC4
	cmdCreateApplication    byte = 0xCA
	cmdCreateBackupDataFile byte = 0xCB
	cmdSelectApplication    byte = 0x5A
	cmdGetApplicationIDs    byte = 0x6A
	cmdFreeMemory           byte = 0x6E
	cmdFormatPICC           byte = 0xFC
	cmdSetConfiguration     byte = 0x5C
	cmdGetVersion           byte = 0x60
	cmdReadData             byte = 0xBD
	cmdWriteData            byte = 0x3D
	cmdCommitTransaction    byte = 0xC7
)

// maxFrameLength bounds one native frame including the command byte
const maxFrameLength = 60

// Exchanger carries one native frame to an activated card and returns the
// card's answer, status byte first.
type Exchanger interface {
	Transceive(ctx context.Context, data []byte) ([]byte, error)
}

// AID is a 3 byte application identifier in wire order
type AID [3]byte

// RootAID selects the PICC level
var RootAID = AID{0x00, 0x00, 0x00}

// String renders the AID as 6 uppercase hex characters
func (a AID) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// ParseAID parses 6 hex characters into an AID
func ParseAID(s string) (AID, error) {
	var aid AID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 3 {
		return aid, fmt.Errorf("AID %q must be 6 hex characters: %w", s, ErrInvalidArgument)
	}
	copy(aid[:], b)
	return aid, nil
}

// Card is a DESFire card handle. It is not safe for concurrent use.
type Card struct {
	ex   Exchanger
	sess *secureSession
}

type secureSession struct {
	block   cipher.Block
	iv      []byte
	keyType crypt.KeyType
	keyNo   byte
}

// New creates a card handle over ex
func New(ex Exchanger) *Card {
	return &Card{ex: ex}
}

// Transceive passes a raw frame to the card, bypassing secure messaging
func (c *Card) Transceive(ctx context.Context, data []byte) ([]byte, error) {
	return c.ex.Transceive(ctx, data)
}

// Authenticated reports whether a secure session is established
func (c *Card) Authenticated() bool {
	return c.sess != nil
}

// exchange sends one frame and splits the status byte from the data
func (c *Card) exchange(ctx context.Context, frame []byte) (byte, []byte, error) {
	res, err := c.ex.Transceive(ctx, frame)
	if err != nil {
		return 0, nil, err
	}
	if len(res) == 0 {
		return 0, nil, fmt.Errorf("command 0x%02X: %w", frame[0], ErrShortResponse)
	}
	return res[0], res[1:], nil
}

// command runs a native command, chaining long requests and collecting
// chained responses with 0xAF frames.
func (c *Card) command(ctx context.Context, cmd byte, params []byte) ([]byte, error) {
	frames := splitFrames(cmd, params)

	var (
		status byte
		data   []byte
		err    error
	)
	for i, frame := range frames {
		status, data, err = c.exchange(ctx, frame)
		if err != nil {
			return nil, err
		}
		if i < len(frames)-1 && status != StatusAdditionalFrame {
			return nil, c.fail(cmd, status)
		}
	}

	out := append([]byte(nil), data...)
	for status == StatusAdditionalFrame {
		status, data, err = c.exchange(ctx, []byte{StatusAdditionalFrame})
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	if status != StatusOK && status != StatusNoChanges {
		return nil, c.fail(cmd, status)
	}
	return out, nil
}

// fail drops the secure session, which the card discards on any error
func (c *Card) fail(cmd, status byte) error {
	c.sess = nil
	return &StatusError{Command: cmd, Status: status}
}

func splitFrames(cmd byte, params []byte) [][]byte {
	first := maxFrameLength - 1
	if len(params) <= first {
		return [][]byte{append([]byte{cmd}, params...)}
	}
	frames := [][]byte{append([]byte{cmd}, params[:first]...)}
	for rest := params[first:]; len(rest) > 0; {
		n := min(len(rest), maxFrameLength-1)
		frames = append(frames, append([]byte{StatusAdditionalFrame}, rest[:n]...))
		rest = rest[n:]
	}
	return frames
}

func le24(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}
