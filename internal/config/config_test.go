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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-pn532-vault/desfire"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParse_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	aid, err := cfg.VaultAID()
	require.NoError(t, err)
	assert.Equal(t, desfire.AID{0x50, 0x57, 0x00}, aid)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)
}

func TestParse_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
reader:
  port: /dev/ttyUSB3
  antenna_low: 2
  ignore_paths: [/dev/ttyS0]
vault:
  aid: "A1B2C3"
log:
  level: DEBUG
polling:
  interval: 100ms
`))
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Reader.Port)
	assert.Equal(t, byte(2), cfg.Reader.AntennaLow)
	assert.Equal(t, byte(2), cfg.Reader.AntennaHigh)
	assert.Equal(t, []string{"/dev/ttyS0"}, cfg.Reader.IgnorePaths)
	assert.Equal(t, 100*time.Millisecond, cfg.Polling.Interval)
	assert.Equal(t, 600*time.Millisecond, cfg.Polling.RemovalTimeout)

	aid, err := cfg.VaultAID()
	require.NoError(t, err)
	assert.Equal(t, desfire.AID{0xA1, 0xB2, 0xC3}, aid)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown key", content: "reader:\n  baud: 115200\n", wantErr: "field baud not found"},
		{name: "antenna range", content: "reader:\n  antenna_high: 4\n", wantErr: "antenna_high"},
		{name: "bad aid", content: "vault:\n  aid: \"12\"\n", wantErr: "config.vault.aid"},
		{name: "bad level", content: "log:\n  level: loud\n", wantErr: "config.log.level"},
		{name: "empty listen", content: "server:\n  listen: \"\"\n", wantErr: "config.server.listen"},
		{name: "zero interval", content: "polling:\n  interval: 0s\n", wantErr: "config.polling.interval"},
		{name: "negative removal", content: "polling:\n  removal_timeout: -1s\n", wantErr: "removal_timeout"},
		{name: "not yaml", content: "reader: [", wantErr: "parse config yaml"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_ResolvesKeyFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "keys/read.hex", "00112233445566778899AABBCCDDEEFF\n")
	path := writeFile(t, dir, "vault.yaml", "keys:\n  read_key_file: keys/read.hex\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "keys", "read.hex"), cfg.Keys.ReadKeyFile)

	key, err := LoadKeyHexFile(cfg.Keys.ReadKeyFile)
	require.NoError(t, err)
	assert.Equal(t, [16]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, key)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	path := writeFile(t, dir, "vault.yaml", "keys:\n  card_secret_file: nope.hex\n")
	_, err = Load(path)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "config.keys.card_secret_file")

	path = writeFile(t, dir, "dir.yaml", "keys:\n  app_master_key_file: .\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got directory")
}

func TestLoadKeyHexFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "blank lines first", content: "\n\n000102030405060708090a0b0c0d0e0f\n"},
		{name: "empty", content: "\n \n", wantErr: "key file is empty"},
		{name: "short", content: "0011\n", wantErr: "32 hex chars, got 4"},
		{name: "not hex", content: "zz112233445566778899AABBCCDDEEFF", wantErr: "invalid hex key"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, dir, tt.name+".hex", tt.content)
			key, err := LoadKeyHexFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, byte(0x0f), key[15])
		})
	}
}
