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
	"fmt"

	"github.com/ZaparooProject/go-pn532-vault/internal/crypt"
)

// cmacLength is the truncated MAC appended to secured responses
const cmacLength = 8

func (s *secureSession) blockSize() int {
	return s.block.BlockSize()
}

// mac advances the session IV over msg and returns the full CMAC
func (s *secureSession) mac(msg []byte) []byte {
	s.iv = crypt.CMAC(s.block, s.iv, msg)
	return s.iv
}

// verify strips and checks the MAC of a response payload
func (s *secureSession) verify(data []byte, status byte) ([]byte, error) {
	if len(data) < cmacLength {
		return nil, fmt.Errorf("response of %d bytes has no MAC: %w", len(data), ErrIntegrity)
	}
	body := data[:len(data)-cmacLength]
	want := s.mac(append(append([]byte(nil), body...), status))
	if !bytes.Equal(want[:cmacLength], data[len(data)-cmacLength:]) {
		return nil, fmt.Errorf("response MAC mismatch: %w", ErrIntegrity)
	}
	return body, nil
}

// encrypt appends the CRC of crcInput to payload, pads and enciphers with the
// session IV, leaving the IV at the last cipher block.
func (s *secureSession) encrypt(payload []byte, crcInputs ...[]byte) []byte {
	plain := append([]byte(nil), payload...)
	for _, in := range crcInputs {
		plain = append(plain, crypt.CRC32(in)...)
	}
	plain = crypt.PadZero(plain, s.blockSize())
	enc := crypt.EncryptCBC(s.block, s.iv, plain)
	s.iv = crypt.LastBlock(enc, s.blockSize())
	return enc
}

// decrypt deciphers an enciphered response of length data bytes and checks
// the CRC over data and status.
func (s *secureSession) decrypt(enc []byte, length int, status byte) ([]byte, error) {
	size := s.blockSize()
	if len(enc) == 0 || len(enc)%size != 0 {
		return nil, fmt.Errorf("enciphered response of %d bytes: %w", len(enc), ErrIntegrity)
	}
	plain := crypt.DecryptCBC(s.block, s.iv, enc)
	s.iv = crypt.LastBlock(enc, size)
	if len(plain) < length+4 {
		return nil, fmt.Errorf("enciphered response shorter than %d bytes: %w", length, ErrIntegrity)
	}
	data := plain[:length]
	want := crypt.CRC32(data, []byte{status})
	if !bytes.Equal(want, plain[length:length+4]) {
		return nil, fmt.Errorf("response CRC mismatch: %w", ErrIntegrity)
	}
	return append([]byte(nil), data...), nil
}

// sendPlain runs a command in plain communication mode. With a session the
// command is MACed to keep the IV in step and the response MAC is verified.
func (c *Card) sendPlain(ctx context.Context, cmd byte, params []byte) ([]byte, error) {
	if c.sess != nil {
		c.sess.mac(append([]byte{cmd}, params...))
	}
	data, err := c.command(ctx, cmd, params)
	if err != nil {
		return nil, err
	}
	if c.sess == nil {
		return data, nil
	}
	return c.sess.verify(data, StatusOK)
}

// sendEnciphered runs a command whose data part is enciphered. header is sent
// in plain and covered by the CRC together with the command byte.
func (c *Card) sendEnciphered(ctx context.Context, cmd byte, header, data []byte) error {
	if c.sess == nil {
		return fmt.Errorf("command 0x%02X: %w", cmd, ErrNotAuthenticated)
	}
	crcInput := append(append([]byte{cmd}, header...), data...)
	enc := c.sess.encrypt(data, crcInput)

	res, err := c.command(ctx, cmd, append(append([]byte(nil), header...), enc...))
	if err != nil {
		return err
	}
	_, err = c.sess.verify(res, StatusOK)
	return err
}

// readEnciphered runs a command whose response data is enciphered
func (c *Card) readEnciphered(ctx context.Context, cmd byte, params []byte, length int) ([]byte, error) {
	if c.sess == nil {
		return nil, fmt.Errorf("command 0x%02X: %w", cmd, ErrNotAuthenticated)
	}
	c.sess.mac(append([]byte{cmd}, params...))
	res, err := c.command(ctx, cmd, params)
	if err != nil {
		return nil, err
	}
	return c.sess.decrypt(res, length, StatusOK)
}
