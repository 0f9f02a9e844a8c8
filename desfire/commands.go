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

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-pn532-vault/internal/crypt"
)

// CommMode is the communication setting of a file
type CommMode byte

const (
	// CommPlain transfers file data in plain
	CommPlain CommMode = 0x00
	// CommMAC transfers file data with a MAC
	CommMAC CommMode = 0x01
	// CommEnciphered transfers file data enciphered
	CommEnciphered CommMode = 0x03
)

// Access right values
const (
	AccessFree  byte = 0x0E
	AccessNever byte = 0x0F
)

// AccessRights assigns a key number (or AccessFree/AccessNever) to each
// file operation
type AccessRights struct {
	Read      byte
	Write     byte
	ReadWrite byte
	Change    byte
}

// Encode returns the two access right bytes in wire order
func (a AccessRights) Encode() []byte {
	v := uint16(a.Read&0x0F)<<12 | uint16(a.Write&0x0F)<<8 | uint16(a.ReadWrite&0x0F)<<4 | uint16(a.Change&0x0F)
	return []byte{byte(v), byte(v >> 8)}
}

// Key settings used when creating applications
const (
	// KeySettingsDefault allows master key change, free listing, free
	// create/delete and configuration changes
	KeySettingsDefault byte = 0x0F
)

// SelectApplication selects aid. The card drops any authentication.
func (c *Card) SelectApplication(ctx context.Context, aid AID) error {
	c.sess = nil
	_, err := c.command(ctx, cmdSelectApplication, aid[:])
	return err
}

// SetConfiguration writes a PICC configuration option. Option 0x00 takes one
// byte of flags: bit 0 disables formatting, bit 1 enables random UID.
func (c *Card) SetConfiguration(ctx context.Context, option byte, data []byte) error {
	return c.sendEnciphered(ctx, cmdSetConfiguration, []byte{option}, data)
}

// CreateApplication creates aid with numKeys keys of the given type
func (c *Card) CreateApplication(ctx context.Context, aid AID, settings, numKeys byte, keyType crypt.KeyType) error {
	if numKeys == 0 || numKeys > 14 {
		return fmt.Errorf("%d keys: %w", numKeys, ErrInvalidArgument)
	}
	keys := numKeys
	if keyType == crypt.KeyAES {
		keys |= 0x80
	}
	params := append(append([]byte(nil), aid[:]...), settings, keys)
	_, err := c.sendPlain(ctx, cmdCreateApplication, params)
	return err
}

// CreateBackupDataFile creates a backup data file of size bytes in the
// selected application. Writes become visible after CommitTransaction.
func (c *Card) CreateBackupDataFile(ctx context.Context, fileNo byte, comm CommMode, access AccessRights, size uint32) error {
	if size == 0 || size > 0xFFFFFF {
		return fmt.Errorf("file size %d: %w", size, ErrInvalidArgument)
	}
	params := []byte{fileNo, byte(comm)}
	params = append(params, access.Encode()...)
	params = append(params, le24(size)...)
	_, err := c.sendPlain(ctx, cmdCreateBackupDataFile, params)
	return err
}

// ChangeKey replaces keyNo of the selected application. oldKey is only used
// when keyNo is not the authenticated key. Changing the authenticated key ends
// the session.
func (c *Card) ChangeKey(ctx context.Context, keyNo byte, newKey, oldKey []byte, version byte) error {
	s := c.sess
	if s == nil {
		return fmt.Errorf("change key %d: %w", keyNo, ErrNotAuthenticated)
	}
	same := keyNo&0x0F == s.keyNo&0x0F

	cryptogram := append([]byte(nil), newKey...)
	if !same {
		if len(oldKey) != len(newKey) {
			return fmt.Errorf("old key of %d bytes: %w", len(oldKey), ErrInvalidArgument)
		}
		cryptogram = crypt.XOR(newKey, oldKey)
	}
	if s.keyType == crypt.KeyAES {
		cryptogram = append(cryptogram, version)
	}

	crcInputs := [][]byte{append([]byte{cmdChangeKey, keyNo}, cryptogram...)}
	if !same {
		crcInputs = append(crcInputs, newKey)
	}
	enc := s.encrypt(cryptogram, crcInputs...)

	res, err := c.command(ctx, cmdChangeKey, append([]byte{keyNo}, enc...))
	if err != nil {
		return err
	}
	if same {
		c.sess = nil
		return nil
	}
	_, err = s.verify(res, StatusOK)
	return err
}

// WriteData writes data to a data file at offset
func (c *Card) WriteData(ctx context.Context, fileNo byte, offset uint32, data []byte, comm CommMode) error {
	if len(data) == 0 {
		return fmt.Errorf("empty write: %w", ErrInvalidArgument)
	}
	header := append([]byte{fileNo}, le24(offset)...)
	header = append(header, le24(uint32(len(data)))...)

	switch comm {
	case CommEnciphered:
		return c.sendEnciphered(ctx, cmdWriteData, header, data)
	case CommPlain:
		_, err := c.sendPlain(ctx, cmdWriteData, append(header, data...))
		return err
	default:
		return fmt.Errorf("write with comm mode 0x%02X: %w", byte(comm), ErrInvalidArgument)
	}
}

// ReadData reads length bytes of a data file from offset
func (c *Card) ReadData(ctx context.Context, fileNo byte, offset, length uint32, comm CommMode) ([]byte, error) {
	if length == 0 {
		return nil, fmt.Errorf("read of the whole file is not supported: %w", ErrInvalidArgument)
	}
	params := append([]byte{fileNo}, le24(offset)...)
	params = append(params, le24(length)...)

	switch comm {
	case CommEnciphered:
		return c.readEnciphered(ctx, cmdReadData, params, int(length))
	case CommPlain:
		return c.sendPlain(ctx, cmdReadData, params)
	default:
		return nil, fmt.Errorf("read with comm mode 0x%02X: %w", byte(comm), ErrInvalidArgument)
	}
}

// CommitTransaction validates pending writes to backup files
func (c *Card) CommitTransaction(ctx context.Context) error {
	_, err := c.sendPlain(ctx, cmdCommitTransaction, nil)
	return err
}

// FormatPICC deletes every application. Requires PICC master key authentication.
func (c *Card) FormatPICC(ctx context.Context) error {
	_, err := c.sendPlain(ctx, cmdFormatPICC, nil)
	return err
}

// FreeMemory returns the free user memory in bytes
func (c *Card) FreeMemory(ctx context.Context) (uint32, error) {
	data, err := c.sendPlain(ctx, cmdFreeMemory, nil)
	if err != nil {
		return 0, err
	}
	if len(data) != 3 {
		return 0, fmt.Errorf("free memory answer of %d bytes: %w", len(data), ErrShortResponse)
	}
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16, nil
}

// ApplicationIDs lists the applications on the card
func (c *Card) ApplicationIDs(ctx context.Context) ([]AID, error) {
	data, err := c.sendPlain(ctx, cmdGetApplicationIDs, nil)
	if err != nil {
		return nil, err
	}
	if len(data)%3 != 0 {
		return nil, fmt.Errorf("application list of %d bytes: %w", len(data), ErrShortResponse)
	}
	aids := make([]AID, 0, len(data)/3)
	for i := 0; i < len(data); i += 3 {
		aids = append(aids, AID{data[i], data[i+1], data[i+2]})
	}
	return aids, nil
}

// Version reads the manufacturing data of the card
func (c *Card) Version(ctx context.Context) (*Version, error) {
	data, err := c.sendPlain(ctx, cmdGetVersion, nil)
	if err != nil {
		return nil, err
	}
	return ParseVersion(data)
}
