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
	"context"
	"errors"
	"fmt"
)

// Transport errors
var (
	ErrTransportTimeout    = errors.New("transport timeout")
	ErrTransportRead       = errors.New("transport read failed")
	ErrTransportWrite      = errors.New("transport write failed")
	ErrTransportClosed     = errors.New("transport closed")
	ErrCommunicationFailed = errors.New("communication with PN532 failed")
	ErrNoACK               = errors.New("no ACK received from PN532")
	ErrNACKReceived        = errors.New("NACK received from PN532")
	ErrFrameCorrupted      = errors.New("frame corrupted")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrInvalidResponse     = errors.New("invalid response")
)

// Device errors
var (
	ErrDeviceNotFound   = errors.New("PN532 device not found")
	ErrNotPN532         = errors.New("device is not a PN532")
	ErrNotSupported     = errors.New("operation not supported")
	ErrTagNotFound      = errors.New("tag not found")
	ErrDataTooLarge     = errors.New("data too large")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrSelfTestFailed   = errors.New("self-test failed")
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// ErrorTypePermanent errors should not be retried
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient errors may succeed on retry
	ErrorTypeTransient
	// ErrorTypeTimeout errors were caused by a deadline
	ErrorTypeTimeout
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// TransportError carries transport level context for a failed operation
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a TransportError, marking it retryable unless permanent
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType != ErrorTypePermanent,
	}
}

// NewTimeoutError creates a retryable timeout error
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewFrameCorruptedError creates a retryable frame corruption error
func NewFrameCorruptedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

// NewDataTooLargeError creates a permanent payload size error
func NewDataTooLargeError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrDataTooLarge, ErrorTypePermanent)
}

// NewNoACKError creates a retryable missing ACK error
func NewNoACKError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrNoACK, ErrorTypeTransient)
}

// NewTransportWriteError creates a retryable short write error
func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

// PN532 status codes, from the error byte of a response
const (
	StatusOK                  byte = 0x00
	StatusTimeout             byte = 0x01
	StatusCRCError            byte = 0x02
	StatusParityError         byte = 0x03
	StatusBitCountError       byte = 0x04
	StatusFramingError        byte = 0x05
	StatusCollisionError      byte = 0x06
	StatusBufferTooSmall      byte = 0x07
	StatusRFBufferOverflow    byte = 0x09
	StatusRFFieldTimeout      byte = 0x0A
	StatusRFProtocolError     byte = 0x0B
	StatusOverheated          byte = 0x0D
	StatusInternalBuffer      byte = 0x0E
	StatusInvalidParameter    byte = 0x10
	StatusDEPUnsupported      byte = 0x12
	StatusDataFormat          byte = 0x13
	StatusAuthError           byte = 0x14
	StatusUIDCheckByte        byte = 0x23
	StatusDEPInvalidState     byte = 0x25
	StatusOperationNotAllowed byte = 0x26
	StatusCommandNotAccepted  byte = 0x27
	StatusTargetReleased      byte = 0x29
	StatusCardIDMismatch      byte = 0x2A
	StatusCardDisappeared     byte = 0x2B
	StatusNFCID3Mismatch      byte = 0x2C
	StatusOverCurrent         byte = 0x2D
	StatusNADMissing          byte = 0x2E
)

var statusText = map[byte]string{
	StatusTimeout:             "target did not answer in time",
	StatusCRCError:            "CRC error",
	StatusParityError:         "parity error",
	StatusBitCountError:       "erroneous bit count during anti-collision",
	StatusFramingError:        "framing error",
	StatusCollisionError:      "abnormal bit collision",
	StatusBufferTooSmall:      "communication buffer too small",
	StatusRFBufferOverflow:    "RF buffer overflow",
	StatusRFFieldTimeout:      "RF field not switched on in time",
	StatusRFProtocolError:     "RF protocol error",
	StatusOverheated:          "antenna drivers overheated",
	StatusInternalBuffer:      "internal buffer overflow",
	StatusInvalidParameter:    "invalid parameter",
	StatusDEPUnsupported:      "DEP command not supported",
	StatusDataFormat:          "data format does not match specification",
	StatusAuthError:           "MIFARE authentication error",
	StatusUIDCheckByte:        "wrong UID check byte",
	StatusDEPInvalidState:     "invalid device state",
	StatusOperationNotAllowed: "operation not allowed in this configuration",
	StatusCommandNotAccepted:  "command not acceptable in current context",
	StatusTargetReleased:      "target released by initiator",
	StatusCardIDMismatch:      "card ID does not match",
	StatusCardDisappeared:     "card disappeared",
	StatusNFCID3Mismatch:      "NFCID3 mismatch",
	StatusOverCurrent:         "over-current event detected",
	StatusNADMissing:          "NAD missing in DEP frame",
}

// PN532Error is a non-zero status reported by the PN532 for a command
type PN532Error struct {
	Command string
	Context string
	Status  byte
}

// NewPN532Error creates a PN532Error for the given status byte
func NewPN532Error(status byte, command, context string) *PN532Error {
	return &PN532Error{Status: status, Command: command, Context: context}
}

func (e *PN532Error) Error() string {
	text, ok := statusText[e.Status&0x3F]
	if !ok {
		text = "unknown error"
	}
	msg := fmt.Sprintf("%s failed with status 0x%02X (%s)", e.Command, e.Status, text)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	return msg
}

// IsTimeout reports whether the PN532 status is an RF timeout
func (e *PN532Error) IsTimeout() bool {
	return e.Status&0x3F == StatusTimeout
}

// IsRetryable reports whether err is worth retrying
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrCommunicationFailed),
		errors.Is(err, ErrNoACK),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// GetErrorType classifies err
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrTransportTimeout):
		return ErrorTypeTimeout
	case IsRetryable(err):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// IsTimeout reports whether err was caused by a transport deadline, a context
// deadline or an RF timeout reported by the PN532.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypeTimeout {
		return true
	}
	var pe *PN532Error
	return errors.As(err, &pe) && pe.IsTimeout()
}
