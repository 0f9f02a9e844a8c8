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

package detection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		expected    bool
	}{
		{name: "empty ignore list", devicePath: "/dev/ttyUSB0", ignorePaths: []string{}},
		{name: "empty device path", devicePath: "", ignorePaths: []string{"/dev/ttyUSB0"}},
		{name: "exact unix path", devicePath: "/dev/ttyUSB0", ignorePaths: []string{"/dev/ttyUSB0"}, expected: true},
		{name: "exact windows path", devicePath: "COM2", ignorePaths: []string{"COM2"}, expected: true},
		{name: "case insensitive", devicePath: "com2", ignorePaths: []string{"COM2"}, expected: true},
		{name: "no match", devicePath: "/dev/ttyUSB1", ignorePaths: []string{"/dev/ttyUSB0"}},
		{
			name:        "relative components",
			devicePath:  "/dev/../dev/ttyUSB0",
			ignorePaths: []string{"/dev/ttyUSB0"},
			expected:    true,
		},
		{
			name:        "empty entries skipped",
			devicePath:  "/dev/i2c-1",
			ignorePaths: []string{"", "/dev/i2c-1"},
			expected:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}

func TestParseVIDPID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		descriptor string
		want       string
	}{
		{descriptor: "1a86:7523", want: "1A86:7523"},
		{descriptor: "VID:1A86 PID:7523", want: "1A86:7523"},
		{descriptor: "vendor=10c4 product=ea60", want: "10C4:EA60"},
		{descriptor: "vid=0403 pid=6001", want: "0403:6001"},
		{descriptor: "not a device", want: ""},
		{descriptor: "12:34:56", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.descriptor, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ParseVIDPID(tt.descriptor))
		})
	}
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBlocked("2341:0043", DefaultBlocklist()))
	assert.True(t, IsBlocked("1a86:7523", []string{"VID:1A86 PID:7523"}))
	assert.False(t, IsBlocked("1A86:7523", DefaultBlocklist()))
	assert.False(t, IsBlocked("", []string{""}))
}

// stubEnumeration swaps the enumeration hooks for the duration of a test.
// Tests using it must not run in parallel.
func stubEnumeration(t *testing.T, ports []*enumerator.PortDetails, buses []string) {
	t.Helper()
	origSerial, origI2C := listSerialPorts, listI2CBuses
	listSerialPorts = func() ([]*enumerator.PortDetails, error) { return ports, nil }
	listI2CBuses = func() ([]string, error) { return buses, nil }
	t.Cleanup(func() {
		listSerialPorts, listI2CBuses = origSerial, origI2C
	})
}

//nolint:paralleltest // swaps package level hooks
func TestListPorts(t *testing.T) {
	stubEnumeration(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
		{Name: "/dev/ttyUSB9", IsUSB: true, VID: "1a86", PID: "7523"},
	}, []string{"/dev/i2c-1"})

	opts := DefaultOptions()
	opts.IgnorePaths = []string{"/dev/ttyUSB9"}
	opts.IncludeI2C = true

	devices, err := ListPorts(context.Background(), opts)
	require.NoError(t, err)

	paths := make([]string, len(devices))
	for i, d := range devices {
		paths[i] = d.Path
	}
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/i2c-1", "/dev/ttyS0"}, paths)

	assert.True(t, devices[0].Likely)
	assert.Equal(t, "1A86:7523", devices[0].VIDPID)
	assert.Equal(t, "CH340", devices[0].Metadata["bridge"])
	assert.Equal(t, "A50285BI", devices[1].Metadata["serial"])
	assert.Equal(t, TransportI2C, devices[2].Transport)
	assert.Equal(t, TransportUART, devices[3].Transport)
}

//nolint:paralleltest // swaps package level hooks
func TestListPorts_USBOnly(t *testing.T) {
	stubEnumeration(t, []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil)

	_, err := ListPorts(context.Background(), &Options{USBOnly: true})
	require.ErrorIs(t, err, ErrNoDevicesFound)
}

//nolint:paralleltest // swaps package level hooks
func TestListPorts_EnumerationError(t *testing.T) {
	stubEnumeration(t, nil, nil)
	boom := errors.New("permission denied")
	listSerialPorts = func() ([]*enumerator.PortDetails, error) { return nil, boom }

	_, err := ListPorts(context.Background(), nil)
	require.ErrorIs(t, err, boom)
}

//nolint:paralleltest // swaps package level hooks
func TestListPorts_Cancelled(t *testing.T) {
	stubEnumeration(t, []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ListPorts(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}
