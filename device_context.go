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

package pn532

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// communicationTestPattern is echoed by the communication line test
var communicationTestPattern = []byte("PN532")

// echoTestLength is the payload size of the large-frame echo test
const echoTestLength = 192

// InitContext wakes the PN532 and verifies it answers as a PN532. The
// firmware query is retried on transient transport errors.
func (d *Device) InitContext(ctx context.Context) error {
	var fw *FirmwareVersion
	err := RetryWithConfig(ctx, d.config.RetryConfig, func() error {
		var err error
		fw, err = d.FirmwareVersionContext(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("PN532 handshake failed: %w", err)
	}
	if fw.IC != ICPN532 {
		return fmt.Errorf("unexpected IC 0x%02X: %w", fw.IC, ErrNotPN532)
	}
	debugf("PN532 firmware %s", fw)
	return nil
}

// FirmwareVersion returns the firmware reported during the last query
func (d *Device) FirmwareVersion() *FirmwareVersion {
	return d.firmwareVersion
}

// FirmwareVersionContext queries the PN532 firmware version
func (d *Device) FirmwareVersionContext(ctx context.Context) (*FirmwareVersion, error) {
	res, err := d.execute(ctx, cmdGetFirmwareVersion, nil)
	if err != nil {
		return nil, err
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("firmware response has %d bytes: %w", len(res), ErrInvalidResponse)
	}
	fw := &FirmwareVersion{IC: res[1], Version: res[2], Revision: res[3], Support: res[4]}
	d.firmwareVersion = fw
	return fw, nil
}

// SAMConfigurationContext sets the SAM configuration register
func (d *Device) SAMConfigurationContext(ctx context.Context, mode SAMMode) error {
	// timeout 0x14 (1s) is only relevant to virtual card mode, IRQ pin enabled
	_, err := d.execute(ctx, cmdSamConfiguration, []byte{byte(mode), 0x14, 0x01})
	return err
}

// SetPassiveActivationRetriesContext sets how many times InListPassiveTarget
// retries activation before reporting no target. 0xFF retries forever.
func (d *Device) SetPassiveActivationRetriesContext(ctx context.Context, maxRetries byte) error {
	_, err := d.execute(ctx, cmdRFConfiguration, []byte{rfItemMaxRetries, 0xFF, 0x01, maxRetries})
	if err != nil {
		return err
	}
	d.maxRetries = maxRetries
	return nil
}

// DiagnoseContext runs one PN532 built-in test and reports its raw result
func (d *Device) DiagnoseContext(ctx context.Context, testNumber byte, data []byte) (*DiagnoseResult, error) {
	payload := append([]byte{testNumber}, data...)
	res, err := d.execute(ctx, cmdDiagnose, payload)
	if err != nil {
		return nil, err
	}

	result := &DiagnoseResult{TestNumber: testNumber, Data: res[1:]}
	switch testNumber {
	case DiagnoseCommunicationTest:
		result.Success = bytes.Equal(result.Data, payload)
	case DiagnoseROMTest, DiagnoseRAMTest, DiagnoseSelfAntennaTest, DiagnosePollingTest:
		result.Success = len(result.Data) > 0 && result.Data[0] == 0x00
	default:
		result.Success = true
	}
	return result, nil
}

// ROMTestContext verifies the checksum of the PN532 ROM
func (d *Device) ROMTestContext(ctx context.Context) error {
	return d.memoryTest(ctx, DiagnoseROMTest, "ROM")
}

// RAMTestContext checks the PN532 internal RAM
func (d *Device) RAMTestContext(ctx context.Context) error {
	return d.memoryTest(ctx, DiagnoseRAMTest, "RAM")
}

func (d *Device) memoryTest(ctx context.Context, test byte, name string) error {
	// these tests answer with a bare byte instead of a frame
	if !d.hasCapability(CapabilityRawDiagnoseByte) {
		return fmt.Errorf("%s test on %s transport: %w", name, d.transport.Type(), ErrNotSupported)
	}
	result, err := d.DiagnoseContext(ctx, test, nil)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%s test reported % X: %w", name, result.Data, ErrSelfTestFailed)
	}
	return nil
}

// CommunicationTestContext checks the host link with a short echo
func (d *Device) CommunicationTestContext(ctx context.Context) error {
	return d.lineTest(ctx, communicationTestPattern)
}

// EchoTestContext checks the host link with a large frame echo
func (d *Device) EchoTestContext(ctx context.Context) error {
	pattern := make([]byte, echoTestLength)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	return d.lineTest(ctx, pattern)
}

func (d *Device) lineTest(ctx context.Context, pattern []byte) error {
	result, err := d.DiagnoseContext(ctx, DiagnoseCommunicationTest, pattern)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("echoed %d bytes did not match the %d sent: %w",
			len(result.Data), len(pattern)+1, ErrSelfTestFailed)
	}
	return nil
}

// AntennaTestContext runs the self-antenna continuity test with the given
// low and high current detector thresholds.
func (d *Device) AntennaTestContext(ctx context.Context, lowThreshold, highThreshold byte) error {
	result, err := d.DiagnoseContext(ctx, DiagnoseSelfAntennaTest,
		[]byte{AntennaThreshold(lowThreshold, highThreshold)})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("antenna detectors reported % X: %w", result.Data, ErrSelfTestFailed)
	}
	return nil
}

// InListPassiveTargetContext activates up to maxTg targets at brTy. An empty
// slice means no target answered within the configured activation retries.
func (d *Device) InListPassiveTargetContext(ctx context.Context, maxTg, brTy byte) ([]*DetectedTarget, error) {
	if maxTg == 0 || maxTg > 2 {
		return nil, fmt.Errorf("max targets %d out of range: %w", maxTg, ErrInvalidParameter)
	}
	res, err := d.execute(ctx, cmdInListPassiveTarget, []byte{maxTg, brTy})
	if err != nil {
		return nil, err
	}
	targets, err := parseTargets(res)
	if err != nil {
		return nil, err
	}
	debugf("InListPassiveTarget found %d targets", len(targets))
	return targets, nil
}

// InDataExchangeContext sends data to an activated target and returns its answer
func (d *Device) InDataExchangeContext(ctx context.Context, targetNumber byte, data []byte) ([]byte, error) {
	res, err := d.execute(ctx, cmdInDataExchange, append([]byte{targetNumber}, data...))
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("InDataExchange response too short: %w", ErrInvalidResponse)
	}
	if status := res[1] & 0x3F; status != StatusOK {
		return nil, NewPN532Error(res[1], "InDataExchange", fmt.Sprintf("target %d", targetNumber))
	}
	return res[2:], nil
}

// InReleaseContext releases an activated target. Target 0 releases all.
func (d *Device) InReleaseContext(ctx context.Context, targetNumber byte) error {
	res, err := d.execute(ctx, cmdInRelease, []byte{targetNumber})
	if err != nil {
		return err
	}
	if len(res) < 2 {
		return fmt.Errorf("InRelease response too short: %w", ErrInvalidResponse)
	}
	if res[1]&0x3F != StatusOK {
		return NewPN532Error(res[1], "InRelease", fmt.Sprintf("target %d", targetNumber))
	}
	return nil
}

// IsSelfTestSkip reports whether a self-test error means the test could not
// run on this transport rather than that it failed.
func IsSelfTestSkip(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
