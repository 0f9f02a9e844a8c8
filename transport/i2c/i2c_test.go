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

package i2c

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus plays back queued reads after a number of not-ready polls
type fakeBus struct {
	err      error
	writes   [][]byte
	reads    [][]byte
	notReady int
	mu       sync.Mutex
}

func (b *fakeBus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if w != nil {
		b.writes = append(b.writes, append([]byte(nil), w...))
	}
	if r == nil {
		return nil
	}
	for i := range r {
		r[i] = 0
	}
	if b.notReady > 0 {
		b.notReady--
		return nil
	}
	if len(b.reads) == 0 {
		return nil
	}
	copy(r, b.reads[0])
	b.reads = b.reads[1:]
	return nil
}

func ready(p []byte) []byte {
	return append([]byte{pn532Ready}, p...)
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	body := []byte{frame.Pn532ToHost, 0x03, 0x32, 0x01, 0x06, 0x07}
	resp := []byte{0x00, 0x00, 0xFF, byte(len(body)), frame.CalculateLengthChecksum(byte(len(body)))}
	resp = append(resp, body...)
	resp = append(resp, frame.CalculateDataChecksum(0, body), 0x00)

	bus := &fakeBus{notReady: 2, reads: [][]byte{ready(frame.AckFrame), ready(resp)}}
	tr := newTransport(bus, "/dev/i2c-1")

	res, err := tr.SendCommand(0x02, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x32, 0x01, 0x06, 0x07}, res)
	require.Len(t, bus.writes, 1)
	assert.Equal(t, byte(0xD4), bus.writes[0][5])
}

func TestSendCommandNotReadyTimesOut(t *testing.T) {
	t.Parallel()

	tr := newTransport(&fakeBus{notReady: 1 << 30}, "/dev/i2c-1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.SendCommandWithContext(ctx, 0x02, nil)
	require.Error(t, err)
	assert.True(t, pn532.IsTimeout(err))
}

func TestSendCommandBusError(t *testing.T) {
	t.Parallel()

	tr := newTransport(&fakeBus{err: errors.New("remote I/O error")}, "/dev/i2c-1")
	_, err := tr.SendCommand(0x02, nil)
	require.ErrorIs(t, err, pn532.ErrTransportWrite)
	assert.True(t, pn532.IsRetryable(err))
}

func TestContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTransport(&fakeBus{}, "1").SendCommandWithContext(ctx, 0x02, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseAndCapabilities(t *testing.T) {
	t.Parallel()

	tr := newTransport(&fakeBus{}, "1")
	assert.Equal(t, pn532.TransportI2C, tr.Type())
	assert.False(t, tr.HasCapability(pn532.CapabilityRawDiagnoseByte))
	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())

	_, err := tr.SendCommand(0x02, nil)
	require.ErrorIs(t, err, pn532.ErrTransportClosed)
}

func TestIsI2CPort(t *testing.T) {
	t.Parallel()

	assert.True(t, IsI2CPort("/dev/i2c-1"))
	assert.True(t, IsI2CPort("I2C1"))
	assert.False(t, IsI2CPort("/dev/ttyUSB0"))
}
