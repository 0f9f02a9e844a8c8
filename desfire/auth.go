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
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ZaparooProject/go-pn532-vault/internal/crypt"
)

// AuthMode selects the authentication command and cipher
type AuthMode byte

const (
	// AuthISO authenticates a DES or 2K3DES key with 8 byte randoms
	AuthISO AuthMode = AuthMode(cmdAuthenticateISO)
	// AuthAES authenticates an AES-128 key with 16 byte randoms
	AuthAES AuthMode = AuthMode(cmdAuthenticateAES)
)

func (m AuthMode) String() string {
	switch m {
	case AuthISO:
		return "ISO"
	case AuthAES:
		return "AES"
	default:
		return fmt.Sprintf("AuthMode(0x%02X)", byte(m))
	}
}

// randReader supplies RndA; tests replace it for deterministic exchanges
var randReader io.Reader = rand.Reader

// Authenticate runs the three pass mutual authentication for keyNo of the
// selected application and establishes a secure session.
func (c *Card) Authenticate(ctx context.Context, mode AuthMode, keyNo byte, key []byte) error {
	c.sess = nil

	var keyType crypt.KeyType
	switch mode {
	case AuthISO:
		keyType = crypt.ClassifyISOKey(key)
	case AuthAES:
		keyType = crypt.KeyAES
	default:
		return fmt.Errorf("auth mode 0x%02X: %w", byte(mode), ErrInvalidArgument)
	}
	block, err := crypt.NewBlock(keyType, key)
	if err != nil {
		return err
	}
	size := block.BlockSize()
	cmd := byte(mode)

	status, encRndB, err := c.exchange(ctx, []byte{cmd, keyNo})
	if err != nil {
		return err
	}
	if status != StatusAdditionalFrame {
		return c.fail(cmd, status)
	}
	if len(encRndB) != size {
		return fmt.Errorf("challenge of %d bytes: %w", len(encRndB), ErrAuthenticationFailed)
	}

	rndB := crypt.DecryptCBC(block, make([]byte, size), encRndB)
	rndA := make([]byte, size)
	if _, err := io.ReadFull(randReader, rndA); err != nil {
		return fmt.Errorf("failed to generate challenge: %w", err)
	}

	token := append(append([]byte(nil), rndA...), crypt.RotateLeft(rndB)...)
	encToken := crypt.EncryptCBC(block, encRndB, token)

	status, encRndA, err := c.exchange(ctx, append([]byte{StatusAdditionalFrame}, encToken...))
	if err != nil {
		return err
	}
	if status != StatusOK {
		return c.fail(cmd, status)
	}
	if len(encRndA) != size {
		return fmt.Errorf("card answer of %d bytes: %w", len(encRndA), ErrAuthenticationFailed)
	}

	rotatedA := crypt.DecryptCBC(block, crypt.LastBlock(encToken, size), encRndA)
	if !bytes.Equal(rotatedA, crypt.RotateLeft(rndA)) {
		return fmt.Errorf("card did not prove the key: %w", ErrAuthenticationFailed)
	}

	sessionType, sessionKey := crypt.SessionKey(keyType, rndA, rndB)
	sessionBlock, err := crypt.NewBlock(sessionType, sessionKey)
	if err != nil {
		return err
	}
	c.sess = &secureSession{
		block:   sessionBlock,
		iv:      make([]byte, sessionBlock.BlockSize()),
		keyType: sessionType,
		keyNo:   keyNo,
	}
	return nil
}
