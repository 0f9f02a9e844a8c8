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

// Package vault orchestrates a PN532 reader and MIFARE DESFire cards used as
// a hardware backed secret vault. The Adapter owns the connection and runs
// every card operation in its own detection and session; the Service is the
// facade the host binding talks to.
package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-pn532-vault/desfire"
	"github.com/ZaparooProject/go-pn532-vault/session"
)

// DefaultAID is the application that holds the vault secret
var DefaultAID = desfire.AID{0x50, 0x57, 0x00}

// LogCallback receives every adapter log line as (level, message)
type LogCallback func(level, message string)

// ProgressCallback is invoked after each self-test
type ProgressCallback func(SelfTestResult)

// Reader is the capability set of a vault reader backend
type Reader interface {
	Connect(ctx context.Context, port string) (string, error)
	Disconnect(ctx context.Context) bool
	SetLogCallback(fn LogCallback)
	FirmwareVersion(ctx context.Context) (string, error)
	RunSelfTests(ctx context.Context, onProgress ProgressCallback) (*SelfTestReport, error)
	CardVersion(ctx context.Context) (*CardVersionInfo, error)
	PeekCardUID(ctx context.Context) ([]byte, error)
	IsCardInitialised(ctx context.Context) (bool, error)
	ProbeCard(ctx context.Context) (*CardProbeResult, error)
	InitCard(ctx context.Context, opts *CardInitOptions) (bool, error)
	ReadCardSecret(ctx context.Context, readKey [16]byte) ([]byte, error)
	CardFreeMemory(ctx context.Context) (uint32, error)
	FormatCard(ctx context.Context) (bool, error)
	CardApplicationIDs(ctx context.Context) ([]string, error)
}

// CardInitOptions is the key material written by InitCard. The values are
// opaque to this package.
type CardInitOptions struct {
	AID          desfire.AID
	AppMasterKey [16]byte
	ReadKey      [16]byte
	CardSecret   [16]byte
}

// CardProbeResult is the outcome of one combined detection pass. UID is nil
// when no card was present.
type CardProbeResult struct {
	UID           []byte
	IsInitialised bool
}

// CardVersionInfo is the display form of a DESFire GetVersion answer
type CardVersionInfo struct {
	HWVersion     string `json:"hwVersion"`
	SWVersion     string `json:"swVersion"`
	UIDHex        string `json:"uidHex"`
	Storage       string `json:"storage"`
	RawVersionHex string `json:"rawVersionHex"`
}

// NewCardVersionInfo formats a parsed GetVersion payload
func NewCardVersionInfo(v *desfire.Version) *CardVersionInfo {
	raw := make([]string, len(v.Raw))
	for i, b := range v.Raw {
		raw[i] = fmt.Sprintf("%02X", b)
	}
	return &CardVersionInfo{
		HWVersion:     fmt.Sprintf("%d.%d", v.Hardware.Major, v.Hardware.Minor),
		SWVersion:     fmt.Sprintf("%d.%d", v.Software.Major, v.Software.Minor),
		UIDHex:        session.FormatUID(v.UID),
		Storage:       FormatStorage(v.Hardware.StorageSize),
		RawVersionHex: strings.Join(raw, " "),
	}
}

// FormatStorage renders a storage size code, e.g. 0x18 as "4 KB" and 0x19 as
// "~4 KB"
func FormatStorage(code byte) string {
	size, approximate := desfire.StorageBytes(code)
	var s string
	switch {
	case size == 0:
		return fmt.Sprintf("unknown (0x%02X)", code)
	case size >= 1<<20:
		s = fmt.Sprintf("%d MB", size>>20)
	case size >= 1<<10:
		s = fmt.Sprintf("%d KB", size>>10)
	default:
		s = fmt.Sprintf("%d B", size)
	}
	if approximate {
		return "~" + s
	}
	return s
}
