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

package frame

import (
	"fmt"
	"sync"
)

// CalculateChecksum returns the byte sum of data
func CalculateChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// ValidateChecksum reports whether data fails its zero-sum check, i.e.
// whether the frame should be NACKed.
func ValidateChecksum(data []byte) bool {
	return CalculateChecksum(data) != 0
}

// CalculateDataChecksum returns the DCS of a frame body
func CalculateDataChecksum(tfi byte, data []byte) byte {
	return ^(tfi + CalculateChecksum(data)) + 1
}

// CalculateLengthChecksum returns the LCS of a frame length
func CalculateLengthChecksum(length byte) byte {
	return ^length + 1
}

// Build encodes a normal information frame from the host carrying cmd and args
func Build(cmd byte, args []byte) ([]byte, error) {
	dataLen := 2 + len(args)
	if dataLen > 255 {
		return nil, fmt.Errorf("frame body of %d bytes exceeds normal frame size", dataLen)
	}
	body := make([]byte, 0, dataLen)
	body = append(body, HostToPn532, cmd)
	body = append(body, args...)

	out := make([]byte, 0, dataLen+7)
	out = append(out, Preamble, StartCode1, StartCode2, byte(dataLen), CalculateLengthChecksum(byte(dataLen)))
	out = append(out, body...)
	out = append(out, CalculateDataChecksum(0, body), Postamble)
	return out, nil
}

// Result of scanning a byte stream for one frame
type Result struct {
	Data     []byte
	Consumed int
	ACK      bool
	NACK     bool
}

// Parse looks for the first complete frame in buf. It returns ok=false when
// more bytes are needed. Data excludes the TFI.
func Parse(buf []byte) (Result, bool, error) {
	start := -1
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StartCode1 && buf[i+1] == StartCode2 {
			start = i
			break
		}
	}
	if start < 0 || start+4 > len(buf) {
		return Result{}, false, nil
	}

	length, lcs := buf[start+2], buf[start+3]
	ack, nack := length == 0x00 && lcs == 0xFF, length == 0xFF && lcs == 0x00
	if ack || nack {
		// include the postamble so a following raw byte is not mistaken for it
		if start+5 > len(buf) {
			return Result{}, false, nil
		}
		return Result{ACK: ack, NACK: nack, Consumed: start + 5}, true, nil
	}
	if length+lcs != 0 {
		return Result{Consumed: start + 2}, true, ErrLengthChecksum
	}

	end := start + 4 + int(length) + 1
	if end > len(buf) {
		return Result{}, false, nil
	}
	body := buf[start+4 : start+4+int(length)]
	if ValidateChecksum(buf[start+4 : end]) {
		return Result{Consumed: end}, true, ErrDataChecksum
	}
	if len(body) == 0 || body[0] != Pn532ToHost {
		// application error frames carry TFI 0x7F and no command
		if len(body) == 1 && body[0] == ErrorFrameTFI {
			return Result{Data: []byte{ErrorFrameTFI, 0x00}, Consumed: end}, true, nil
		}
		return Result{Consumed: end}, true, ErrUnexpectedTFI
	}
	data := append([]byte(nil), body[1:]...)
	return Result{Data: data, Consumed: end}, true, nil
}

var framePool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxFrameDataLength+16)
		return &buf
	},
}

// GetFrameBuffer returns a pooled buffer large enough for any normal frame
func GetFrameBuffer() []byte {
	buf, ok := framePool.Get().(*[]byte)
	if !ok {
		return make([]byte, MaxFrameDataLength+16)
	}
	return (*buf)[:cap(*buf)]
}

// PutBuffer returns a buffer obtained from GetFrameBuffer
func PutBuffer(buf []byte) {
	if cap(buf) < MaxFrameDataLength+16 {
		return
	}
	buf = buf[:cap(buf)]
	framePool.Put(&buf)
}
