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

package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-pn532-vault/binding/ws"
	"github.com/ZaparooProject/go-pn532-vault/internal/config"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

// useFake routes every command to fake. Tests using it must not run in
// parallel.
func useFake(t *testing.T, fake *vault.FakeReader) {
	t.Helper()
	readerOverride = func() vault.Reader { return fake }
	t.Cleanup(func() { readerOverride = nil })
}

func runCLI(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

//nolint:paralleltest // swaps the reader factory
func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCLI(t, "")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage: vaultctl")
	assert.Contains(t, stderr, "selftest")
	assert.Contains(t, stderr, "-config")

	code, _, stderr = runCLI(t, "", "explode")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "explode"`)

	code, _, _ = runCLI(t, "", "-h")
	assert.Equal(t, 0, code)
}

//nolint:paralleltest // swaps the reader factory
func TestRun_Firmware(t *testing.T) {
	fake := vault.NewFakeReader()
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "", "-port", "/dev/ttyUSB0", "firmware")
	require.Equal(t, 0, code, stdout)
	assert.Equal(t, "OK: IC: 0x32, Ver.Rev: 1.6, Support: 0x07\n", stdout)
	assert.Equal(t, []string{"Connect", "FirmwareVersion", "Disconnect"}, fake.Calls())
}

//nolint:paralleltest // swaps the reader factory
func TestRun_SelfTest(t *testing.T) {
	fake := vault.NewFakeReader()
	fake.SelfTests.Results[4] = vault.SelfTestResult{
		Name: vault.TestAntenna, Outcome: vault.OutcomeFailed, Detail: "antenna open",
	}
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "", "-port", "/dev/ttyUSB0", "selftest")
	require.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, "ROM Check      SUCCESS")
	assert.Contains(t, stdout, "Antenna        FAILED   antenna open")
	assert.Contains(t, stdout, "WARNING: not every self-test passed")
}

//nolint:paralleltest // swaps the reader factory
func TestRun_CardCommands(t *testing.T) {
	fake := vault.NewFakeReader()
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "", "-port", "/dev/ttyUSB0", "peek")
	require.Equal(t, 0, code)
	assert.Equal(t, "INFO: no card present\n", stdout)

	fake.PresentCard(&vault.FakeCard{
		UID:  []byte{0x04, 0xA1, 0xB2, 0xC3},
		Free: 4096,
		Version: &vault.CardVersionInfo{
			HWVersion: "1.0", SWVersion: "1.4", UIDHex: "04:A1:B2:C3", Storage: "4 KB",
		},
	})

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "peek")
	require.Equal(t, 0, code)
	assert.Equal(t, "04:A1:B2:C3\n", stdout)

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "probe")
	require.Equal(t, 0, code)
	assert.Equal(t, "UID: 04:A1:B2:C3 (not initialised)\n", stdout)

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "version")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Storage:  4 KB")

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "free")
	require.Equal(t, 0, code)
	assert.Equal(t, "4096 bytes free\n", stdout)

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "apps")
	require.Equal(t, 0, code)
	assert.Equal(t, "INFO: no applications\n", stdout)
}

//nolint:paralleltest // swaps the reader factory
func TestRun_InitAndRead(t *testing.T) {
	fake := vault.NewFakeReader()
	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04, 0x11}})
	useFake(t, fake)

	master := strings.Repeat("01", 16)
	readKey := strings.Repeat("02", 16)
	secret := "00112233445566778899AABBCCDDEEFF"
	stdin := master + "\n" + readKey + "\n" + secret + "\n"

	code, stdout, stderr := runCLI(t, stdin, "-port", "/dev/ttyUSB0", "init")
	require.Equal(t, 0, code, stdout)
	assert.Equal(t, "OK: card initialised with application 505700\n", stdout)
	assert.Contains(t, stderr, "Enter application master key")

	code, stdout, _ = runCLI(t, readKey+"\n", "-port", "/dev/ttyUSB0", "read")
	require.Equal(t, 0, code, stdout)
	assert.Equal(t, secret+"\n", stdout)

	code, stdout, _ = runCLI(t, strings.Repeat("ff", 16)+"\n", "-port", "/dev/ttyUSB0", "read")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "ERROR: HARDWARE_ERROR")

	code, stdout, _ = runCLI(t, "0011\n", "-port", "/dev/ttyUSB0", "read")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "read key: key must be 32 hex chars")
}

//nolint:paralleltest // swaps the reader factory
func TestRun_KeyFilesFromConfig(t *testing.T) {
	fake := vault.NewFakeReader()
	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04, 0x11}})
	useFake(t, fake)

	dir := t.TempDir()
	for name, key := range map[string]string{
		"master.hex": strings.Repeat("01", 16),
		"read.hex":   strings.Repeat("02", 16),
		"secret.hex": strings.Repeat("AB", 16),
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(key+"\n"), 0o600))
	}
	cfgPath := filepath.Join(dir, "vault.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`reader:
  port: /dev/ttyACM0
keys:
  app_master_key_file: master.hex
  read_key_file: read.hex
  card_secret_file: secret.hex
`), 0o600))

	code, stdout, _ := runCLI(t, "", "-config", cfgPath, "init")
	require.Equal(t, 0, code, stdout)

	code, stdout, _ = runCLI(t, "", "-config", cfgPath, "read")
	require.Equal(t, 0, code, stdout)
	assert.Equal(t, strings.Repeat("AB", 16)+"\n", stdout)
}

//nolint:paralleltest // swaps the reader factory
func TestRun_Format(t *testing.T) {
	fake := vault.NewFakeReader()
	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04}})
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "", "-port", "/dev/ttyUSB0", "format")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "pass -yes to confirm")
	assert.NotContains(t, fake.Calls(), "FormatCard")

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "format", "-yes")
	require.Equal(t, 0, code, stdout)
	assert.Equal(t, "OK: card formatted\n", stdout)
}

//nolint:paralleltest // swaps the reader factory
func TestRun_ErrorsKeepTheirCode(t *testing.T) {
	fake := vault.NewFakeReader()
	fake.FailNext("Connect", vault.NewError(vault.CodeNotSupported, "I2C is not available", nil))
	useFake(t, fake)

	code, stdout, _ := runCLI(t, "", "-port", "/dev/i2c-1", "firmware")
	assert.Equal(t, 1, code)
	assert.Equal(t, "ERROR: NOT_SUPPORTED: I2C is not available\n", stdout)

	code, stdout, _ = runCLI(t, "", "-port", "/dev/ttyUSB0", "firmware", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "unexpected arguments: extra")
}

//nolint:paralleltest // swaps the reader factory
func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reader:\n  speed: 9\n"), 0o600))

	code, _, stderr := runCLI(t, "", "-config", path, "firmware")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "field speed not found")
}

func TestKeySource_PrefersFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "read.hex")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("0F", 16)), 0o600))

	var prompt bytes.Buffer
	keys := newKeySource(config.KeysConfig{ReadKeyFile: path}, strings.NewReader(""), &prompt)
	key, err := keys.ReadKey()
	require.NoError(t, err)
	assert.Equal(t, byte(0x0F), key[0])
	assert.Empty(t, prompt.String())

	_, err = keys.CardSecret()
	require.Error(t, err)
	assert.Contains(t, prompt.String(), "Enter card secret")
}

func TestServe(t *testing.T) {
	t.Parallel()

	fake := vault.NewFakeReader()
	var out bytes.Buffer
	a := &app{
		cfg:       config.Default(),
		out:       NewOutput(&out, false),
		newReader: func() vault.Reader { return fake },
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln) }()

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	require.NoError(t, conn.WriteJSON(ws.Message{
		Type:    "connect",
		ID:      "1",
		Payload: []byte(`{"port":"/dev/ttyUSB0"}`),
	}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg ws.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == ws.TypeLog {
			continue
		}
		assert.Equal(t, "1", msg.ID)
		assert.Nil(t, msg.Error)
		break
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	_ = conn.Close()

	assert.Contains(t, out.String(), "serving on ws://")
	assert.Contains(t, fake.Calls(), "Disconnect")
}
