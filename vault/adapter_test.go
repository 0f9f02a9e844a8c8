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
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/desfire"
	virt "github.com/ZaparooProject/go-pn532-vault/internal/testing"
)

const testPort = "/dev/ttyUSB0"

var (
	testMasterKey = [16]byte{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F}
	testReadKey   = [16]byte{0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27, 0x28, 0x29, 0x2A, 0x2B, 0x2C, 0x2D, 0x2E, 0x2F}
	testSecret    = [16]byte{'v', 'a', 'u', 'l', 't', '-', 's', 'e', 'c', 'r', 'e', 't', '-', '0', '0', '1'}
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRig struct {
	adapter *Adapter
	reader  *virt.VirtualPN532
	mocks   []*pn532.MockTransport
	mu      sync.Mutex
}

func (r *testRig) mock() *pn532.MockTransport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mocks[len(r.mocks)-1]
}

func newRig(t *testing.T, opts ...AdapterOption) *testRig {
	t.Helper()
	r := &testRig{reader: virt.NewVirtualPN532()}
	factory := func(string) (pn532.Transport, error) {
		mock := pn532.NewMockTransport()
		mock.SetHandler(r.reader.Handle)
		r.mu.Lock()
		r.mocks = append(r.mocks, mock)
		r.mu.Unlock()
		return mock, nil
	}
	r.adapter = NewAdapter(append([]AdapterOption{WithTransportFactory(factory)}, opts...)...)
	return r
}

func connectedRig(t *testing.T, opts ...AdapterOption) *testRig {
	t.Helper()
	r := newRig(t, opts...)
	_, err := r.adapter.Connect(context.Background(), testPort)
	require.NoError(t, err)
	t.Cleanup(func() { r.adapter.Disconnect(context.Background()) })
	return r
}

func testInitOptions() *CardInitOptions {
	return &CardInitOptions{
		AID:          DefaultAID,
		AppMasterKey: testMasterKey,
		ReadKey:      testReadKey,
		CardSecret:   testSecret,
	}
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	require.Error(t, err)
	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, code, ve.Code, "error: %v", err)
}

func TestAdapter_Connect(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	msg, err := r.adapter.Connect(context.Background(), testPort)
	require.NoError(t, err)
	assert.Equal(t, "Successfully connected to PN532 on "+testPort, msg)
	assert.True(t, r.adapter.Connected())

	var cmds []byte
	for _, sent := range r.mock().History() {
		cmds = append(cmds, sent.Cmd)
	}
	assert.Equal(t, []byte{virt.CmdGetFirmwareVersion, virt.CmdSAMConfiguration, virt.CmdRFConfiguration}, cmds)
	assert.Equal(t, []byte{0x01, 0x14, 0x01}, r.mock().History()[1].Args)
	assert.Equal(t, []byte{0x05, 0xFF, 0x01, 0x01}, r.mock().History()[2].Args)

	assert.True(t, r.adapter.Disconnect(context.Background()))
}

func TestAdapter_ConnectTwice(t *testing.T) {
	t.Parallel()

	r := connectedRig(t)
	first := r.mock()

	_, err := r.adapter.Connect(context.Background(), "/dev/ttyUSB1")
	requireCode(t, err, CodeHardwareError)
	assert.Same(t, first, r.mock())
	assert.Equal(t, 0, first.CloseCount())

	_, err = r.adapter.FirmwareVersion(context.Background())
	require.NoError(t, err)
}

func TestAdapter_ConnectOpenFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		openErr error
		name    string
		want    Code
	}{
		{
			name:    "port missing",
			openErr: pn532.NewTransportError("open", "/dev/nope", pn532.ErrDeviceNotFound, pn532.ErrorTypePermanent),
			want:    CodeHardwareError,
		},
		{
			name:    "no backend",
			openErr: pn532.NewTransportError("open plan9", "/dev/nope", pn532.ErrNotSupported, pn532.ErrorTypePermanent),
			want:    CodeNotSupported,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			adapter := NewAdapter(WithTransportFactory(func(string) (pn532.Transport, error) {
				return nil, tt.openErr
			}))
			_, err := adapter.Connect(context.Background(), "/dev/nope")
			requireCode(t, err, tt.want)
			assert.ErrorIs(t, err, tt.openErr)
			assert.False(t, adapter.Connected())
			if tt.want == CodeHardwareError {
				assert.Contains(t, err.Error(), "failed to open serial port: /dev/nope")
			}
		})
	}
}

func TestAdapter_ConnectInitFailureClosesTransport(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.reader.Firmware = [4]byte{0x31, 0x01, 0x00, 0x07}

	_, err := r.adapter.Connect(context.Background(), testPort)
	requireCode(t, err, CodeHardwareError)
	assert.ErrorIs(t, err, pn532.ErrNotPN532)
	assert.False(t, r.adapter.Connected())
	assert.Equal(t, 1, r.mock().CloseCount())
}

func TestAdapter_DisconnectOrderAndIdempotence(t *testing.T) {
	t.Parallel()

	var stages []TeardownStage
	r := newRig(t, WithTeardownHook(func(s TeardownStage) { stages = append(stages, s) }))
	ctx := context.Background()

	_, err := r.adapter.Connect(ctx, testPort)
	require.NoError(t, err)

	assert.True(t, r.adapter.Disconnect(ctx))
	assert.True(t, r.adapter.Disconnect(ctx))
	assert.Equal(t, []TeardownStage{StageSessionManager, StageDevice, StageDriver, StageTransport}, stages)
	assert.Equal(t, 1, r.mock().CloseCount())
	assert.False(t, r.adapter.Connected())

	_, err = r.adapter.Connect(ctx, testPort)
	require.NoError(t, err)
	assert.True(t, r.adapter.Disconnect(ctx))
}

func TestAdapter_DisconnectNeverConnected(t *testing.T) {
	t.Parallel()

	called := false
	adapter := NewAdapter(WithTeardownHook(func(TeardownStage) { called = true }))
	assert.True(t, adapter.Disconnect(context.Background()))
	assert.False(t, called)
}

func TestAdapter_NotConnected(t *testing.T) {
	t.Parallel()

	opened := 0
	adapter := NewAdapter(WithTransportFactory(func(string) (pn532.Transport, error) {
		opened++
		return nil, errors.New("unexpected open")
	}))
	ctx := context.Background()

	ops := map[string]func() error{
		"FirmwareVersion": func() error { _, err := adapter.FirmwareVersion(ctx); return err },
		"RunSelfTests": func() error {
			_, err := adapter.RunSelfTests(ctx, func(SelfTestResult) { t.Error("progress without connection") })
			return err
		},
		"CardVersion":        func() error { _, err := adapter.CardVersion(ctx); return err },
		"PeekCardUID":        func() error { _, err := adapter.PeekCardUID(ctx); return err },
		"IsCardInitialised":  func() error { _, err := adapter.IsCardInitialised(ctx); return err },
		"ProbeCard":          func() error { _, err := adapter.ProbeCard(ctx); return err },
		"InitCard":           func() error { _, err := adapter.InitCard(ctx, testInitOptions()); return err },
		"ReadCardSecret":     func() error { _, err := adapter.ReadCardSecret(ctx, testReadKey); return err },
		"CardFreeMemory":     func() error { _, err := adapter.CardFreeMemory(ctx); return err },
		"FormatCard":         func() error { _, err := adapter.FormatCard(ctx); return err },
		"CardApplicationIDs": func() error { _, err := adapter.CardApplicationIDs(ctx); return err },
	}
	for name, op := range ops {
		err := op()
		requireCode(t, err, CodeNotConnected)
		assert.ErrorIs(t, err, ErrNotConnected, name)
	}
	assert.Equal(t, 0, opened)
}

func TestAdapter_FirmwareVersion(t *testing.T) {
	t.Parallel()

	r := connectedRig(t)
	fw, err := r.adapter.FirmwareVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "IC: 0x32, Ver.Rev: 1.6, Support: 0x07", fw)
}

func TestAdapter_FirmwareVersionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want Code
	}{
		{name: "timeout", err: pn532.NewTimeoutError("read", testPort), want: CodeIOTimeout},
		{name: "deadline", err: context.DeadlineExceeded, want: CodeIOTimeout},
		{name: "closed", err: pn532.ErrTransportClosed, want: CodeHardwareError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := connectedRig(t)
			r.mock().SetError(virt.CmdGetFirmwareVersion, tt.err)
			_, err := r.adapter.FirmwareVersion(context.Background())
			requireCode(t, err, tt.want)
		})
	}
}

func TestAdapter_RunSelfTests(t *testing.T) {
	t.Parallel()

	r := connectedRig(t)
	var progress []SelfTestResult
	report, err := r.adapter.RunSelfTests(context.Background(), func(res SelfTestResult) {
		progress = append(progress, res)
	})
	require.NoError(t, err)
	assert.True(t, report.AllPassed())
	require.Len(t, progress, 5)
	for i, res := range report.Results {
		assert.Equal(t, SelfTestNames[i], res.Name)
		assert.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Empty(t, res.Detail)
		assert.Equal(t, res, progress[i])
	}

	// ROM, RAM, communication, echo, antenna
	var tests []byte
	var antenna []byte
	for _, sent := range r.mock().History() {
		if sent.Cmd != virt.CmdDiagnose {
			continue
		}
		tests = append(tests, sent.Args[0])
		if sent.Args[0] == 0x07 {
			antenna = sent.Args
		}
	}
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x00, 0x07}, tests)
	assert.Equal(t, []byte{0x07, 0x23}, antenna)
}

func TestAdapter_RunSelfTestsFailuresDoNotAbort(t *testing.T) {
	t.Parallel()

	r := connectedRig(t, WithAntennaThresholds(0x03, 0x01))
	r.reader.SetDiagnoseStatus(0x02, 0xFF)
	r.reader.BreakEcho(true)
	r.reader.SetDiagnoseStatus(0x07, 0x01)

	calls := 0
	report, err := r.adapter.RunSelfTests(context.Background(), func(SelfTestResult) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.False(t, report.AllPassed())

	want := []Outcome{OutcomeSuccess, OutcomeFailed, OutcomeFailed, OutcomeFailed, OutcomeFailed}
	for i, res := range report.Results {
		assert.Equal(t, want[i], res.Outcome, res.Name)
		if res.Outcome == OutcomeFailed {
			assert.NotEmpty(t, res.Detail, res.Name)
		}
	}
	assert.Equal(t, "failed", report.Results[1].Outcome.String())
}

func TestAdapter_RunSelfTestsSkipsMemoryTests(t *testing.T) {
	t.Parallel()

	r := connectedRig(t)
	r.mock().SetCapability(pn532.CapabilityRawDiagnoseByte, false)

	report, err := r.adapter.RunSelfTests(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Results[0].Outcome)
	assert.Equal(t, OutcomeSkipped, report.Results[1].Outcome)
	assert.Empty(t, report.Results[0].Detail)
	assert.Equal(t, OutcomeSuccess, report.Results[4].Outcome)
	assert.False(t, report.AllPassed())
}

func TestAdapter_PeekCardUID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)

	_, err := r.adapter.PeekCardUID(ctx)
	requireCode(t, err, CodeNoCard)

	r.reader.InsertCard([2]byte{0x00, 0x04}, 0x08, virt.TestMIFARE1KUID)
	uid, err := r.adapter.PeekCardUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestMIFARE1KUID, uid)

	r.reader.InsertDESFire(virt.NewVirtualDESFire(nil))
	uid, err = r.adapter.PeekCardUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestDESFireUID, uid)
	assert.Equal(t, 0, r.mock().GetCallCount(virt.CmdInDataExchange))
}

func TestAdapter_DetectionTimeout(t *testing.T) {
	t.Parallel()

	r := connectedRig(t)
	r.mock().SetError(virt.CmdInListPassiveTarget, pn532.NewTimeoutError("read", testPort))

	_, err := r.adapter.PeekCardUID(context.Background())
	requireCode(t, err, CodeIOTimeout)
	_, err = r.adapter.ProbeCard(context.Background())
	requireCode(t, err, CodeIOTimeout)
}

func TestAdapter_InitAndReadSecret(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	card := virt.NewVirtualDESFire(nil)
	r.reader.InsertDESFire(card)

	initialised, err := r.adapter.IsCardInitialised(ctx)
	require.NoError(t, err)
	assert.False(t, initialised)

	ok, err := r.adapter.InitCard(ctx, testInitOptions())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, byte(0x00), card.Configuration())
	assert.Equal(t, testMasterKey[:], card.Key(DefaultAID, 0))
	assert.Equal(t, testReadKey[:], card.Key(DefaultAID, 1))

	secret, err := r.adapter.ReadCardSecret(ctx, testReadKey)
	require.NoError(t, err)
	assert.Equal(t, testSecret[:], secret)

	initialised, err = r.adapter.IsCardInitialised(ctx)
	require.NoError(t, err)
	assert.True(t, initialised)

	ids, err := r.adapter.CardApplicationIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "505700")

	probe, err := r.adapter.ProbeCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestDESFireUID, probe.UID)
	assert.True(t, probe.IsInitialised)
}

func TestAdapter_InitCardCommandSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	card := virt.NewVirtualDESFire(nil)
	r.reader.InsertDESFire(card)

	_, err := r.adapter.InitCard(ctx, testInitOptions())
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x5A, 0x1A, 0x5C, 0xCA, 0x5A, 0xAA, 0xCB, 0xC4, 0xC4, 0xAA, 0x3D, 0xC7,
	}, card.Commands())
	assert.Equal(t, 1, r.reader.Detections())
	assert.Equal(t, 1, r.reader.Releases())
}

func TestAdapter_InitCardStepFailureClosesSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	card := virt.NewVirtualDESFire(nil)
	r.reader.InsertDESFire(card)
	card.FailNext(0xCA, 0xDE)

	ok, err := r.adapter.InitCard(ctx, testInitOptions())
	requireCode(t, err, CodeHardwareError)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "create application")
	assert.True(t, desfire.IsStatus(err, desfire.StatusDuplicateError))
	assert.Equal(t, 1, r.reader.Releases())
	assert.NotContains(t, card.Commands(), byte(0xCB))

	uid, err := r.adapter.PeekCardUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestDESFireUID, uid)
}

func TestAdapter_ReadSecretWrongKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	card := virt.NewVirtualDESFire(nil)
	card.Provision(DefaultAID, testMasterKey[:], testReadKey[:], append(testSecret[:], make([]byte, 16)...))
	r.reader.InsertDESFire(card)

	wrong := testReadKey
	wrong[0] ^= 0xFF
	_, err := r.adapter.ReadCardSecret(ctx, wrong)
	requireCode(t, err, CodeHardwareError)
	assert.ErrorIs(t, err, desfire.ErrAuthenticationFailed)
	assert.Equal(t, 1, r.reader.Releases())

	uid, err := r.adapter.PeekCardUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestDESFireUID, uid)

	secret, err := r.adapter.ReadCardSecret(ctx, testReadKey)
	require.NoError(t, err)
	assert.Equal(t, testSecret[:], secret)
}

func TestAdapter_CustomVaultAID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	aid := desfire.AID{0x12, 0x34, 0x56}
	r := connectedRig(t, WithVaultAID(aid))
	card := virt.NewVirtualDESFire(nil)
	card.Provision(aid, testMasterKey[:], testReadKey[:], append(testSecret[:], make([]byte, 16)...))
	r.reader.InsertDESFire(card)

	initialised, err := r.adapter.IsCardInitialised(ctx)
	require.NoError(t, err)
	assert.True(t, initialised)

	secret, err := r.adapter.ReadCardSecret(ctx, testReadKey)
	require.NoError(t, err)
	assert.Equal(t, testSecret[:], secret)
}

func TestAdapter_NonDESFireCard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	r.reader.InsertCard([2]byte{0x00, 0x04}, 0x08, virt.TestMIFARE1KUID)

	// every detection of the wrong card is released before returning
	_, err := r.adapter.IsCardInitialised(ctx)
	requireCode(t, err, CodeNotDESFire)
	assert.Equal(t, 1, r.reader.Releases())
	_, err = r.adapter.InitCard(ctx, testInitOptions())
	requireCode(t, err, CodeNotDESFire)
	assert.Equal(t, 2, r.reader.Releases())
	_, err = r.adapter.ReadCardSecret(ctx, testReadKey)
	requireCode(t, err, CodeNotDESFire)
	assert.Equal(t, 3, r.reader.Releases())
	_, err = r.adapter.CardVersion(ctx)
	requireCode(t, err, CodeNotDESFire)
	assert.Equal(t, 4, r.reader.Releases())

	probe, err := r.adapter.ProbeCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestMIFARE1KUID, probe.UID)
	assert.False(t, probe.IsInitialised)
	assert.Equal(t, 5, r.reader.Releases())

	uid, err := r.adapter.PeekCardUID(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestMIFARE1KUID, uid)
	assert.Equal(t, 6, r.reader.Releases())
	assert.Equal(t, r.reader.Detections(), r.reader.Releases())
	assert.Equal(t, 0, r.mock().GetCallCount(virt.CmdInDataExchange))
}

func TestAdapter_ProbeCard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)

	probe, err := r.adapter.ProbeCard(ctx)
	require.NoError(t, err)
	assert.Nil(t, probe.UID)
	assert.False(t, probe.IsInitialised)

	card := virt.NewVirtualDESFire(nil)
	r.reader.InsertDESFire(card)
	probe, err = r.adapter.ProbeCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestDESFireUID, probe.UID)
	assert.False(t, probe.IsInitialised)
	assert.Equal(t, 2, r.reader.Detections())
}

func TestAdapter_ProbeCardDegrades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	card := virt.NewVirtualDESFire(nil)
	card.Provision(DefaultAID, testMasterKey[:], testReadKey[:], make([]byte, 32))
	r.reader.InsertDESFire(card)
	card.FailNext(0x6A, 0x9D)

	probe, err := r.adapter.ProbeCard(ctx)
	require.NoError(t, err)
	assert.Equal(t, virt.TestDESFireUID, probe.UID)
	assert.False(t, probe.IsInitialised)
	assert.Equal(t, 1, r.reader.Detections())
	assert.Equal(t, 1, r.reader.Releases())
}

func TestAdapter_FreeMemoryAndFormat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	card := virt.NewVirtualDESFire(nil)
	r.reader.InsertDESFire(card)

	before, err := r.adapter.CardFreeMemory(ctx)
	require.NoError(t, err)
	assert.Equal(t, card.FreeMemoryBytes(), before)

	_, err = r.adapter.InitCard(ctx, testInitOptions())
	require.NoError(t, err)
	after, err := r.adapter.CardFreeMemory(ctx)
	require.NoError(t, err)
	assert.Less(t, after, before)

	ok, err := r.adapter.FormatCard(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, card.Applications())

	ids, err := r.adapter.CardApplicationIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	free, err := r.adapter.CardFreeMemory(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, free)
}

func TestAdapter_CardVersion(t *testing.T) {
	t.Parallel()

	r := connectedRig(t)
	r.reader.InsertDESFire(virt.NewVirtualDESFire(nil))

	info, err := r.adapter.CardVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.0", info.HWVersion)
	assert.Equal(t, "1.4", info.SWVersion)
	assert.Equal(t, "04:11:22:33:44:55:66", info.UIDHex)
	assert.Equal(t, "4 KB", info.Storage)
	assert.Equal(t, "04 01 01 01 00 18 05 04 01 01 01 04 18 05 04 11 22 33 44 55 66 BA 34 CD 57 10 24 19",
		info.RawVersionHex)
}

func TestAdapter_CardOperationsWithoutCard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)

	_, err := r.adapter.CardFreeMemory(ctx)
	requireCode(t, err, CodeNoCard)
	_, err = r.adapter.FormatCard(ctx)
	requireCode(t, err, CodeNoCard)
	_, err = r.adapter.CardApplicationIDs(ctx)
	requireCode(t, err, CodeNoCard)
	assert.Equal(t, 0, r.reader.Releases())
}

func TestAdapter_CardRemovedMidOperation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := connectedRig(t)
	r.reader.InsertDESFire(virt.NewVirtualDESFire(nil))
	r.mock().SetError(virt.CmdInDataExchange, pn532.NewPN532Error(0x01, "InDataExchange", "target 1"))

	_, err := r.adapter.CardFreeMemory(ctx)
	requireCode(t, err, CodeIOTimeout)
	assert.Equal(t, 1, r.reader.Releases())
}

func TestAdapter_LogCallback(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var lines []string
	r := newRig(t, WithLogger(zerolog.New(&bytes.Buffer{}).Level(zerolog.InfoLevel)))
	r.adapter.SetLogCallback(func(level, message string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, level+" "+message)
	})

	ctx := context.Background()
	_, err := r.adapter.Connect(ctx, testPort)
	require.NoError(t, err)

	r.adapter.SetLogCallback(nil)
	r.adapter.Disconnect(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "info connected to PN532 on "+testPort)
}
