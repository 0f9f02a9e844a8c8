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

package desfire

import (
	"errors"
	"fmt"
)

// DESFire native status codes
const (
	StatusOK                        byte = 0x00
	StatusNoChanges                 byte = 0x0C
	StatusOutOfEEPROM               byte = 0x0E
	StatusIllegalCommand            byte = 0x1C
	StatusIntegrityError            byte = 0x1E
	StatusNoSuchKey                 byte = 0x40
	StatusLengthError               byte = 0x7E
	StatusPermissionDenied          byte = 0x9D
	StatusParameterError            byte = 0x9E
	StatusApplicationNotFound       byte = 0xA0
	StatusApplicationIntegrityError byte = 0xA1
	StatusAuthenticationError       byte = 0xAE
	StatusAdditionalFrame           byte = 0xAF
	StatusBoundaryError             byte = 0xBE
	StatusPICCIntegrityError        byte = 0xC1
	StatusCommandAborted            byte = 0xCA
	StatusPICCDisabled              byte = 0xCD
	StatusCountError                byte = 0xCE
	StatusDuplicateError            byte = 0xDE
	StatusEEPROMError               byte = 0xEE
	StatusFileNotFound              byte = 0xF0
	StatusFileIntegrityError        byte = 0xF1
)

var statusText = map[byte]string{
	StatusNoChanges:                 "no changes",
	StatusOutOfEEPROM:               "out of EEPROM",
	StatusIllegalCommand:            "illegal command",
	StatusIntegrityError:            "integrity error",
	StatusNoSuchKey:                 "no such key",
	StatusLengthError:               "length error",
	StatusPermissionDenied:          "permission denied",
	StatusParameterError:            "parameter error",
	StatusApplicationNotFound:       "application not found",
	StatusApplicationIntegrityError: "application integrity error",
	StatusAuthenticationError:       "authentication error",
	StatusBoundaryError:             "boundary error",
	StatusPICCIntegrityError:        "PICC integrity error",
	StatusCommandAborted:            "command aborted",
	StatusPICCDisabled:              "PICC disabled",
	StatusCountError:                "count error",
	StatusDuplicateError:            "duplicate error",
	StatusEEPROMError:               "EEPROM error",
	StatusFileNotFound:              "file not found",
	StatusFileIntegrityError:        "file integrity error",
}

var (
	// ErrAuthenticationFailed is matched by authentication status errors and
	// by a mutual authentication that did not verify
	ErrAuthenticationFailed = errors.New("DESFire authentication failed")
	// ErrNotAuthenticated is returned by secured commands without a session
	ErrNotAuthenticated = errors.New("DESFire command requires authentication")
	// ErrIntegrity is returned when a response MAC or CRC does not verify
	ErrIntegrity = errors.New("DESFire response integrity check failed")
	// ErrShortResponse is returned for a response without a status byte
	ErrShortResponse = errors.New("DESFire response too short")
	// ErrInvalidArgument is returned for arguments that cannot be encoded
	ErrInvalidArgument = errors.New("invalid DESFire argument")
)

// StatusError is a non-OK status returned by the card for a command
type StatusError struct {
	Command byte
	Status  byte
}

func (e *StatusError) Error() string {
	text, ok := statusText[e.Status]
	if !ok {
		text = "unknown status"
	}
	return fmt.Sprintf("DESFire command 0x%02X returned 0x%02X (%s)", e.Command, e.Status, text)
}

// Is matches ErrAuthenticationFailed for authentication errors
func (e *StatusError) Is(target error) bool {
	return target == ErrAuthenticationFailed && e.Status == StatusAuthenticationError
}

// IsStatus reports whether err carries the given card status
func IsStatus(err error, status byte) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
