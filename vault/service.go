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

import "context"

// notInitializedMessage is reported by a Service without a reader
const notInitializedMessage = "NFC Reader is not initialized"

// Service is the facade between the host binding and a Reader. A Service
// built without a reader answers every operation with NOT_CONNECTED.
type Service struct {
	reader Reader
}

// NewService wraps reader
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

func errNoReader() error {
	return NewError(CodeNotConnected, notInitializedMessage, nil)
}

// Connect opens the reader on port
func (s *Service) Connect(ctx context.Context, port string) (string, error) {
	if s.reader == nil {
		return "", errNoReader()
	}
	return s.reader.Connect(ctx, port)
}

// Disconnect closes the reader connection
func (s *Service) Disconnect(ctx context.Context) (bool, error) {
	if s.reader == nil {
		return false, errNoReader()
	}
	return s.reader.Disconnect(ctx), nil
}

// SetLogCallback forwards reader log lines to fn; nil detaches. Without a
// reader it does nothing.
func (s *Service) SetLogCallback(fn LogCallback) {
	if s.reader != nil {
		s.reader.SetLogCallback(fn)
	}
}

// FirmwareVersion returns the reader firmware description
func (s *Service) FirmwareVersion(ctx context.Context) (string, error) {
	if s.reader == nil {
		return "", errNoReader()
	}
	return s.reader.FirmwareVersion(ctx)
}

// RunSelfTests runs the reader self-tests
func (s *Service) RunSelfTests(ctx context.Context, onProgress ProgressCallback) (*SelfTestReport, error) {
	if s.reader == nil {
		return nil, errNoReader()
	}
	return s.reader.RunSelfTests(ctx, onProgress)
}

// CardVersion reads the card manufacturing data
func (s *Service) CardVersion(ctx context.Context) (*CardVersionInfo, error) {
	if s.reader == nil {
		return nil, errNoReader()
	}
	return s.reader.CardVersion(ctx)
}

// PeekCardUID returns the UID of the card in the field
func (s *Service) PeekCardUID(ctx context.Context) ([]byte, error) {
	if s.reader == nil {
		return nil, errNoReader()
	}
	return s.reader.PeekCardUID(ctx)
}

// IsCardInitialised reports whether the card holds the vault application
func (s *Service) IsCardInitialised(ctx context.Context) (bool, error) {
	if s.reader == nil {
		return false, errNoReader()
	}
	return s.reader.IsCardInitialised(ctx)
}

// ProbeCard detects a card and checks for the vault application in one pass
func (s *Service) ProbeCard(ctx context.Context) (*CardProbeResult, error) {
	if s.reader == nil {
		return nil, errNoReader()
	}
	return s.reader.ProbeCard(ctx)
}

// InitCard provisions the card
func (s *Service) InitCard(ctx context.Context, opts *CardInitOptions) (bool, error) {
	if s.reader == nil {
		return false, errNoReader()
	}
	return s.reader.InitCard(ctx, opts)
}

// ReadCardSecret reads the card secret with readKey
func (s *Service) ReadCardSecret(ctx context.Context, readKey [16]byte) ([]byte, error) {
	if s.reader == nil {
		return nil, errNoReader()
	}
	return s.reader.ReadCardSecret(ctx, readKey)
}

// CardFreeMemory returns the free card memory in bytes
func (s *Service) CardFreeMemory(ctx context.Context) (uint32, error) {
	if s.reader == nil {
		return 0, errNoReader()
	}
	return s.reader.CardFreeMemory(ctx)
}

// FormatCard erases the card
func (s *Service) FormatCard(ctx context.Context) (bool, error) {
	if s.reader == nil {
		return false, errNoReader()
	}
	return s.reader.FormatCard(ctx)
}

// CardApplicationIDs lists the card applications
func (s *Service) CardApplicationIDs(ctx context.Context) ([]string, error) {
	if s.reader == nil {
		return nil, errNoReader()
	}
	return s.reader.CardApplicationIDs(ctx)
}

// Close detaches the log callback and disconnects the reader
func (s *Service) Close(ctx context.Context) {
	if s.reader == nil {
		return
	}
	s.reader.SetLogCallback(nil)
	s.reader.Disconnect(ctx)
}
