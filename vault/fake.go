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
	"sort"
	"sync"

	"github.com/ZaparooProject/go-pn532-vault/desfire"
	"github.com/ZaparooProject/go-pn532-vault/session"
)

// FakeCard is a card held by a FakeReader
type FakeCard struct {
	Apps    map[desfire.AID][16]byte
	Version *CardVersionInfo
	UID     []byte
	Secret  []byte
	ReadKey [16]byte
	Free    uint32
	// NotDESFire makes the card answer detection but no DESFire command
	NotDESFire bool
}

// FakeReader is an in-memory Reader. It follows the same connection and
// error rules as the Adapter without any hardware.
type FakeReader struct {
	card        *FakeCard
	failures    map[string]error
	logCallback LogCallback
	calls       []string
	// SelfTests is returned by RunSelfTests
	SelfTests SelfTestReport
	Firmware  string
	mu        sync.Mutex
	connected bool
}

// NewFakeReader creates a disconnected fake with passing self-tests
func NewFakeReader() *FakeReader {
	f := &FakeReader{
		Firmware: "IC: 0x32, Ver.Rev: 1.6, Support: 0x07",
		failures: make(map[string]error),
	}
	for i, name := range SelfTestNames {
		f.SelfTests.Results[i] = SelfTestResult{Name: name, Outcome: OutcomeSuccess}
	}
	return f
}

// PresentCard puts card in the field; nil empties it
func (f *FakeReader) PresentCard(card *FakeCard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if card != nil && card.Apps == nil {
		card.Apps = make(map[desfire.AID][16]byte)
	}
	f.card = card
}

// FailNext makes the next call of op return err
func (f *FakeReader) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Calls returns the operations invoked so far
func (f *FakeReader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// begin records op and returns an injected or NOT_CONNECTED error. The lock
// must be held.
func (f *FakeReader) begin(op string) error {
	f.calls = append(f.calls, op)
	if err, ok := f.failures[op]; ok {
		delete(f.failures, op)
		return err
	}
	if !f.connected {
		return NewError(CodeNotConnected, "reader is not connected", nil)
	}
	return nil
}

func (f *FakeReader) log(level, msg string) {
	if f.logCallback != nil {
		f.logCallback(level, msg)
	}
}

// desfireCard must be called with the lock held
func (f *FakeReader) desfireCard() (*FakeCard, error) {
	switch {
	case f.card == nil:
		return nil, NewError(CodeNoCard, "no card present", nil)
	case f.card.NotDESFire:
		return nil, NewError(CodeNotDESFire, "unsupported card type", nil)
	}
	return f.card, nil
}

// Connect implements Reader
func (f *FakeReader) Connect(_ context.Context, port string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Connect")
	if err, ok := f.failures["Connect"]; ok {
		delete(f.failures, "Connect")
		return "", err
	}
	if f.connected {
		return "", NewError(CodeHardwareError, "already connected", nil)
	}
	f.connected = true
	f.log("info", "connected to "+port)
	return "Successfully connected to PN532 on " + port, nil
}

// Disconnect implements Reader
func (f *FakeReader) Disconnect(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Disconnect")
	if f.connected {
		f.log("info", "disconnected")
	}
	f.connected = false
	return true
}

// SetLogCallback implements Reader
func (f *FakeReader) SetLogCallback(fn LogCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCallback = fn
}

// FirmwareVersion implements Reader
func (f *FakeReader) FirmwareVersion(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FirmwareVersion"); err != nil {
		return "", err
	}
	return f.Firmware, nil
}

// RunSelfTests implements Reader
func (f *FakeReader) RunSelfTests(_ context.Context, onProgress ProgressCallback) (*SelfTestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("RunSelfTests"); err != nil {
		return nil, err
	}
	report := f.SelfTests
	for _, res := range report.Results {
		if onProgress != nil {
			onProgress(res)
		}
	}
	return &report, nil
}

// CardVersion implements Reader
func (f *FakeReader) CardVersion(context.Context) (*CardVersionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CardVersion"); err != nil {
		return nil, err
	}
	card, err := f.desfireCard()
	if err != nil {
		return nil, err
	}
	if card.Version == nil {
		return &CardVersionInfo{UIDHex: session.FormatUID(card.UID)}, nil
	}
	info := *card.Version
	return &info, nil
}

// PeekCardUID implements Reader
func (f *FakeReader) PeekCardUID(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PeekCardUID"); err != nil {
		return nil, err
	}
	if f.card == nil {
		return nil, NewError(CodeNoCard, "no card present", nil)
	}
	return append([]byte(nil), f.card.UID...), nil
}

// IsCardInitialised implements Reader
func (f *FakeReader) IsCardInitialised(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("IsCardInitialised"); err != nil {
		return false, err
	}
	card, err := f.desfireCard()
	if err != nil {
		return false, err
	}
	_, ok := card.Apps[DefaultAID]
	return ok, nil
}

// ProbeCard implements Reader
func (f *FakeReader) ProbeCard(context.Context) (*CardProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ProbeCard"); err != nil {
		return nil, err
	}
	if f.card == nil {
		return &CardProbeResult{}, nil
	}
	_, ok := f.card.Apps[DefaultAID]
	return &CardProbeResult{
		UID:           append([]byte(nil), f.card.UID...),
		IsInitialised: ok && !f.card.NotDESFire,
	}, nil
}

// InitCard implements Reader
func (f *FakeReader) InitCard(_ context.Context, opts *CardInitOptions) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("InitCard"); err != nil {
		return false, err
	}
	if opts == nil {
		return false, NewError(CodeHardwareError, "missing card init options", nil)
	}
	card, err := f.desfireCard()
	if err != nil {
		return false, err
	}
	if _, ok := card.Apps[opts.AID]; ok {
		return false, NewError(CodeHardwareError, "create application: duplicate application", nil)
	}
	card.Apps[opts.AID] = opts.AppMasterKey
	card.ReadKey = opts.ReadKey
	card.Secret = append([]byte(nil), opts.CardSecret[:]...)
	return true, nil
}

// ReadCardSecret implements Reader
func (f *FakeReader) ReadCardSecret(_ context.Context, readKey [16]byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("ReadCardSecret"); err != nil {
		return nil, err
	}
	card, err := f.desfireCard()
	if err != nil {
		return nil, err
	}
	if _, ok := card.Apps[DefaultAID]; !ok {
		return nil, NewError(CodeHardwareError, "application not found", nil)
	}
	if readKey != card.ReadKey {
		return nil, NewError(CodeHardwareError, "authentication error", nil)
	}
	return append([]byte(nil), card.Secret...), nil
}

// CardFreeMemory implements Reader
func (f *FakeReader) CardFreeMemory(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CardFreeMemory"); err != nil {
		return 0, err
	}
	card, err := f.desfireCard()
	if err != nil {
		return 0, err
	}
	return card.Free, nil
}

// FormatCard implements Reader
func (f *FakeReader) FormatCard(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("FormatCard"); err != nil {
		return false, err
	}
	card, err := f.desfireCard()
	if err != nil {
		return false, err
	}
	card.Apps = make(map[desfire.AID][16]byte)
	card.Secret = nil
	return true, nil
}

// CardApplicationIDs implements Reader
func (f *FakeReader) CardApplicationIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CardApplicationIDs"); err != nil {
		return nil, err
	}
	card, err := f.desfireCard()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(card.Apps))
	for aid := range card.Apps {
		ids = append(ids, aid.String())
	}
	sort.Strings(ids)
	return ids, nil
}
