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

// Package crypt holds the block cipher primitives used by DESFire EV1 secure
// messaging: CBC helpers, CMAC with a chained IV, the DESFire CRC32 and
// session key derivation.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec // DESFire legacy keys are DES based
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// KeyType selects the cipher behind a DESFire key
type KeyType int

const (
	// KeyDES is single DES, stored as 8 bytes or as 16 bytes with equal halves
	KeyDES KeyType = iota
	// Key2K3DES is two key triple DES
	Key2K3DES
	// KeyAES is AES-128
	KeyAES
)

func (k KeyType) String() string {
	switch k {
	case KeyDES:
		return "DES"
	case Key2K3DES:
		return "2K3DES"
	case KeyAES:
		return "AES"
	default:
		return fmt.Sprintf("KeyType(%d)", int(k))
	}
}

// ErrKeyLength is returned for keys that do not fit their key type
var ErrKeyLength = errors.New("invalid key length")

// ClassifyISOKey reports whether a 16 byte legacy key acts as DES or 2K3DES
func ClassifyISOKey(key []byte) KeyType {
	if len(key) == 8 || (len(key) == 16 && bytes.Equal(key[:8], key[8:])) {
		return KeyDES
	}
	return Key2K3DES
}

// NewBlock builds the cipher for key
func NewBlock(kt KeyType, key []byte) (cipher.Block, error) {
	switch kt {
	case KeyDES:
		var k []byte
		switch len(key) {
		case 8:
			k = key
		case 16:
			k = key[:8]
		default:
			return nil, fmt.Errorf("DES key of %d bytes: %w", len(key), ErrKeyLength)
		}
		// K1=K2=K3 degrades triple DES to single DES
		return des.NewTripleDESCipher(bytes.Repeat(k, 3)) //nolint:gosec // see above
	case Key2K3DES:
		if len(key) != 16 {
			return nil, fmt.Errorf("2K3DES key of %d bytes: %w", len(key), ErrKeyLength)
		}
		k := make([]byte, 0, 24)
		k = append(k, key...)
		k = append(k, key[:8]...)
		return des.NewTripleDESCipher(k) //nolint:gosec // see above
	case KeyAES:
		if len(key) != 16 {
			return nil, fmt.Errorf("AES key of %d bytes: %w", len(key), ErrKeyLength)
		}
		return aes.NewCipher(key)
	default:
		return nil, fmt.Errorf("unknown key type %d: %w", kt, ErrKeyLength)
	}
}

// EncryptCBC encrypts block aligned data with iv. The iv slice is not modified.
func EncryptCBC(block cipher.Block, iv, data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out
}

// DecryptCBC decrypts block aligned data with iv. The iv slice is not modified.
func DecryptCBC(block cipher.Block, iv, data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out
}

// LastBlock returns a copy of the final cipher block of data
func LastBlock(data []byte, size int) []byte {
	return append([]byte(nil), data[len(data)-size:]...)
}

// PadZero pads data with zero bytes to a multiple of size. Block aligned
// input is returned unchanged.
func PadZero(data []byte, size int) []byte {
	if rem := len(data) % size; rem != 0 {
		return append(data, make([]byte, size-rem)...)
	}
	return data
}

// RotateLeft rotates in by one byte
func RotateLeft(in []byte) []byte {
	out := make([]byte, len(in))
	if len(in) == 0 {
		return out
	}
	copy(out, in[1:])
	out[len(in)-1] = in[0]
	return out
}

// CRC32 is the DESFire EV1 checksum: the IEEE polynomial without the final
// inversion, little endian.
func CRC32(data ...[]byte) []byte {
	h := crc32.NewIEEE()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, ^h.Sum32())
	return out
}

// CMAC computes the CMAC of msg using iv as the chaining value, so a session
// IV carries over between commands. The full block is returned.
func CMAC(block cipher.Block, iv, msg []byte) []byte {
	size := block.BlockSize()
	k1, k2 := cmacSubkeys(block)

	n := (len(msg) + size - 1) / size
	if n == 0 {
		n = 1
	}
	padded := make([]byte, n*size)
	copy(padded, msg)
	last := padded[(n-1)*size:]
	if len(msg) != 0 && len(msg)%size == 0 {
		xorInto(last, k1)
	} else {
		last[len(msg)-(n-1)*size] = 0x80
		xorInto(last, k2)
	}
	return LastBlock(EncryptCBC(block, iv, padded), size)
}

func cmacSubkeys(block cipher.Block) (k1, k2 []byte) {
	size := block.BlockSize()
	var rb byte = 0x87
	if size == 8 {
		rb = 0x1B
	}
	l := make([]byte, size)
	block.Encrypt(l, make([]byte, size))

	k1 = shiftLeft(l)
	if l[0]&0x80 != 0 {
		k1[size-1] ^= rb
	}
	k2 = shiftLeft(k1)
	if k1[0]&0x80 != 0 {
		k2[size-1] ^= rb
	}
	return k1, k2
}

func shiftLeft(in []byte) []byte {
	out := make([]byte, len(in))
	var carry byte
	for i := len(in) - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// XOR returns a ^ b for equal length slices
func XOR(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// SessionKey derives the session key from the authentication randoms. The
// authentication key type decides the layout and the resulting key type.
func SessionKey(kt KeyType, rndA, rndB []byte) (KeyType, []byte) {
	key := make([]byte, 0, 16)
	key = append(key, rndA[0:4]...)
	key = append(key, rndB[0:4]...)
	switch kt {
	case KeyAES:
		key = append(key, rndA[12:16]...)
		key = append(key, rndB[12:16]...)
		return KeyAES, key
	case Key2K3DES:
		key = append(key, rndA[4:8]...)
		key = append(key, rndB[4:8]...)
		return Key2K3DES, key
	default:
		return KeyDES, key
	}
}
