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
	"sync"
	"time"
)

// CommandHandler answers a command on a MockTransport. Returning a nil
// response and nil error falls through to the configured responses.
type CommandHandler func(cmd byte, args []byte) ([]byte, error)

// MockTransport is an in-memory Transport for tests. Responses are looked up
// per command: handler first, then queued responses, then the fixed response.
type MockTransport struct {
	responses     map[byte][]byte
	responseQueue map[byte][][]byte
	errorMap      map[byte]error
	callCount     map[byte]int
	handler       CommandHandler
	history       []SentCommand
	capabilities  map[TransportCapability]bool
	timeout       time.Duration
	delay         time.Duration
	mu            sync.Mutex
	closeCount    int
	connected     bool
}

// SentCommand records one command received by a MockTransport
type SentCommand struct {
	Args []byte
	Cmd  byte
}

// NewMockTransport creates a connected mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected:     true,
		timeout:       time.Second,
		responses:     make(map[byte][]byte),
		responseQueue: make(map[byte][][]byte),
		errorMap:      make(map[byte]error),
		callCount:     make(map[byte]int),
		capabilities:  map[TransportCapability]bool{CapabilityRawDiagnoseByte: true},
	}
}

// SendCommand implements Transport
func (m *MockTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return m.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext implements Transport
func (m *MockTransport) SendCommandWithContext(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	connected := m.connected
	delay := m.delay
	m.mu.Unlock()

	if !connected {
		return nil, ErrTransportClosed
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, NewTimeoutError("SendCommand", "mock")
		}
	}

	m.mu.Lock()
	m.callCount[cmd]++
	m.history = append(m.history, SentCommand{Cmd: cmd, Args: append([]byte(nil), args...)})

	if err, ok := m.errorMap[cmd]; ok {
		m.mu.Unlock()
		return nil, err
	}
	handler := m.handler
	m.mu.Unlock()

	if handler != nil {
		res, err := handler(cmd, args)
		if res != nil || err != nil {
			return res, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if queue := m.responseQueue[cmd]; len(queue) > 0 {
		m.responseQueue[cmd] = queue[1:]
		return queue[0], nil
	}
	if res, ok := m.responses[cmd]; ok {
		return res, nil
	}
	return []byte{cmd + 1, 0x00}, nil
}

// Close implements Transport
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closeCount++
	return nil
}

// SetTimeout implements Transport
func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = timeout
	return nil
}

// IsConnected implements Transport
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Type implements Transport
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// HasCapability implements TransportCapabilityChecker
func (m *MockTransport) HasCapability(capability TransportCapability) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capabilities[capability]
}

// SetCapability toggles a transport capability
func (m *MockTransport) SetCapability(capability TransportCapability, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capabilities[capability] = enabled
}

// SetHandler installs a dynamic command handler
func (m *MockTransport) SetHandler(handler CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// SetResponse configures a fixed response for cmd
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[cmd] = response
}

// QueueResponses appends responses returned in FIFO order for cmd
func (m *MockTransport) QueueResponses(cmd byte, responses ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseQueue[cmd] = append(m.responseQueue[cmd], responses...)
}

// SetError makes every call of cmd fail with err
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMap[cmd] = err
}

// ClearError removes error injection for cmd
func (m *MockTransport) ClearError(cmd byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.errorMap, cmd)
}

// SetDelay delays every command, simulating a slow link
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// GetCallCount returns how many times cmd was sent
func (m *MockTransport) GetCallCount(cmd byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[cmd]
}

// TotalCalls returns the number of commands sent
func (m *MockTransport) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// History returns a copy of the commands sent so far
func (m *MockTransport) History() []SentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentCommand(nil), m.history...)
}

// CloseCount returns how many times Close was called
func (m *MockTransport) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// BlockingMockTransport blocks every command until Unblock or Close is called.
// It is used to exercise context cancellation and lock contention.
type BlockingMockTransport struct {
	blockChan chan struct{}
	Response  []byte
	mu        sync.Mutex
	closed    bool
}

// NewBlockingMockTransport creates a new blocking mock transport
func NewBlockingMockTransport() *BlockingMockTransport {
	return &BlockingMockTransport{blockChan: make(chan struct{})}
}

// SendCommand blocks until unblocked or closed
func (m *BlockingMockTransport) SendCommand(cmd byte, args []byte) ([]byte, error) {
	return m.SendCommandWithContext(context.Background(), cmd, args)
}

// SendCommandWithContext blocks until unblocked, closed or ctx is done
func (m *BlockingMockTransport) SendCommandWithContext(ctx context.Context, cmd byte, _ []byte) ([]byte, error) {
	m.mu.Lock()
	blockChan := m.blockChan
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return nil, ErrTransportClosed
	}

	select {
	case <-blockChan:
	case <-ctx.Done():
		return nil, NewTimeoutError("SendCommand", "mock")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrTransportClosed
	}
	if m.Response != nil {
		return append([]byte(nil), m.Response...), nil
	}
	return []byte{cmd + 1, 0x00}, nil
}

// Unblock releases every blocked command
func (m *BlockingMockTransport) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		close(m.blockChan)
		m.blockChan = make(chan struct{})
	}
}

// Close unblocks all operations and marks transport as closed
func (m *BlockingMockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.blockChan)
	}
	return nil
}

// SetTimeout implements Transport
func (*BlockingMockTransport) SetTimeout(time.Duration) error { return nil }

// IsConnected implements Transport
func (m *BlockingMockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Type implements Transport
func (*BlockingMockTransport) Type() TransportType { return TransportMock }

var (
	_ Transport = (*MockTransport)(nil)
	_ Transport = (*BlockingMockTransport)(nil)
)
