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
	"errors"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/session"
)

// Code is the stable error code reported across the host boundary
type Code string

// Error codes
const (
	CodeNotConnected  Code = "NOT_CONNECTED"
	CodeNoCard        Code = "NO_CARD"
	CodeNotDESFire    Code = "NOT_DESFIRE"
	CodeIOTimeout     Code = "IO_TIMEOUT"
	CodeHardwareError Code = "HARDWARE_ERROR"
	CodeNotSupported  Code = "NOT_SUPPORTED"
)

// Sentinels for errors.Is. Any *Error with the same code matches them.
var (
	ErrNotConnected = &Error{Code: CodeNotConnected, Message: "reader is not connected"}
	ErrNoCard       = &Error{Code: CodeNoCard, Message: "no card present"}
	ErrNotDESFire   = &Error{Code: CodeNotDESFire, Message: "card is not a DESFire"}
	ErrIOTimeout    = &Error{Code: CodeIOTimeout, Message: "reader timed out"}
	ErrHardware     = &Error{Code: CodeHardwareError, Message: "hardware error"}
	ErrNotSupported = &Error{Code: CodeNotSupported, Message: "not supported on this platform"}
)

// Error is the only error type that leaves the vault layer
type Error struct {
	cause   error
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error with code. cause may be nil.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap returns the low level error the code was derived from
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error carrying the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of err, HARDWARE_ERROR for foreign errors and ""
// for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return CodeHardwareError
}

// toError funnels every driver, session and card failure into the taxonomy
func toError(err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	switch {
	case errors.As(err, &ve):
		return ve
	case pn532.IsTimeout(err):
		return NewError(CodeIOTimeout, err.Error(), err)
	case errors.Is(err, session.ErrNoCardPresent):
		return NewError(CodeNoCard, err.Error(), err)
	case errors.Is(err, session.ErrUnsupportedCardType):
		return NewError(CodeNotDESFire, err.Error(), err)
	case errors.Is(err, pn532.ErrNotSupported):
		return NewError(CodeNotSupported, err.Error(), err)
	default:
		return NewError(CodeHardwareError, err.Error(), err)
	}
}
