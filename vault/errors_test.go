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

package vault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/desfire"
	"github.com/ZaparooProject/go-pn532-vault/session"
)

func TestToError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		sentinel error
		name     string
		want     Code
	}{
		{
			name:     "transport timeout",
			err:      pn532.NewTimeoutError("read", "/dev/ttyUSB0"),
			want:     CodeIOTimeout,
			sentinel: ErrIOTimeout,
		},
		{
			name:     "RF timeout",
			err:      pn532.NewPN532Error(0x01, "InDataExchange", "target 1"),
			want:     CodeIOTimeout,
			sentinel: ErrIOTimeout,
		},
		{
			name:     "context deadline",
			err:      fmt.Errorf("wrapped: %w", context.DeadlineExceeded),
			want:     CodeIOTimeout,
			sentinel: ErrIOTimeout,
		},
		{
			name:     "no card",
			err:      session.ErrNoCardPresent,
			want:     CodeNoCard,
			sentinel: ErrNoCard,
		},
		{
			name:     "wrong card",
			err:      fmt.Errorf("MIFARE Classic card: %w", session.ErrUnsupportedCardType),
			want:     CodeNotDESFire,
			sentinel: ErrNotDESFire,
		},
		{
			name:     "no backend",
			err:      pn532.ErrNotSupported,
			want:     CodeNotSupported,
			sentinel: ErrNotSupported,
		},
		{
			name:     "card status",
			err:      &desfire.StatusError{Command: 0xAA, Status: desfire.StatusAuthenticationError},
			want:     CodeHardwareError,
			sentinel: ErrHardware,
		},
		{
			name:     "PN532 error",
			err:      pn532.NewPN532Error(0x14, "InDataExchange", "target 1"),
			want:     CodeHardwareError,
			sentinel: ErrHardware,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := toError(tt.err)
			var ve *Error
			require.ErrorAs(t, got, &ve)
			assert.Equal(t, tt.want, ve.Code)
			assert.Equal(t, tt.err.Error(), ve.Message)
			assert.ErrorIs(t, got, tt.sentinel)
			assert.ErrorIs(t, got, tt.err)
			assert.Equal(t, tt.want, CodeOf(got))
		})
	}
}

func TestToError_PassThrough(t *testing.T) {
	t.Parallel()

	assert.NoError(t, toError(nil))

	orig := NewError(CodeNoCard, "gone", nil)
	assert.Same(t, orig, toError(fmt.Errorf("outer: %w", orig)))
}

func TestError_Format(t *testing.T) {
	t.Parallel()

	err := NewError(CodeHardwareError, "select application failed", errors.New("boom"))
	assert.Equal(t, "HARDWARE_ERROR: select application failed", err.Error())
	assert.False(t, errors.Is(err, ErrNoCard))
	assert.True(t, errors.Is(err, ErrHardware))
	assert.EqualError(t, errors.Unwrap(err), "boom")
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeHardwareError, CodeOf(errors.New("foreign")))
	assert.Equal(t, CodeNotConnected, CodeOf(ErrNotConnected))
}
