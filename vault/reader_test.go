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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-pn532-vault/desfire"
	virt "github.com/ZaparooProject/go-pn532-vault/internal/testing"
)

func TestFormatStorage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want string
		code byte
	}{
		{code: 0x18, want: "4 KB"},
		{code: 0x19, want: "~4 KB"},
		{code: 0x16, want: "2 KB"},
		{code: 0x1A, want: "8 KB"},
		{code: 0x10, want: "256 B"},
		{code: 0x11, want: "~256 B"},
		{code: 0x28, want: "1 MB"},
		{code: 0x7F, want: "~8796093022208 MB"},
		{code: 0x80, want: "unknown (0x80)"},
		{code: 0xFF, want: "unknown (0xFF)"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatStorage(tt.code))
		})
	}
}

func TestNewCardVersionInfo(t *testing.T) {
	t.Parallel()

	raw := append([]byte(nil), virt.DefaultDESFireVersion...)
	raw[3], raw[4] = 0x12, 0x03
	raw[5] = 0x1B
	v, err := desfire.ParseVersion(raw)
	require.NoError(t, err)

	info := NewCardVersionInfo(v)
	assert.Equal(t, "18.3", info.HWVersion)
	assert.Equal(t, "1.4", info.SWVersion)
	assert.Equal(t, "04:11:22:33:44:55:66", info.UIDHex)
	assert.Equal(t, "~8 KB", info.Storage)
	assert.Len(t, info.RawVersionHex, 28*3-1)
	assert.Equal(t, "04 01 01 12 03 1B 05", info.RawVersionHex[:20])
}

func TestSelfTestReport_AllPassed(t *testing.T) {
	t.Parallel()

	var report SelfTestReport
	for i, name := range SelfTestNames {
		report.Results[i] = SelfTestResult{Name: name, Outcome: OutcomeSuccess}
	}
	assert.True(t, report.AllPassed())

	report.Results[3].Outcome = OutcomeSkipped
	assert.False(t, report.AllPassed())

	report.Results[3].Outcome = OutcomeFailed
	assert.False(t, report.AllPassed())
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "unknown", Outcome(9).String())
	assert.Equal(t, [5]string{"ROM Check", "RAM Check", "Communication", "Echo Test", "Antenna"}, SelfTestNames)
}
