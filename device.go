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
	"fmt"
	"sync"
	"time"
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig configures retry behavior for the initial handshake
	RetryConfig *RetryConfig
	// CommandTimeouts overrides the host side timeout of individual commands
	CommandTimeouts map[byte]time.Duration
	// Timeout is the fallback timeout for commands without a policy entry
	Timeout time.Duration
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig:     DefaultRetryConfig(),
		CommandTimeouts: make(map[byte]time.Duration),
		Timeout:         1 * time.Second,
	}
}

// Device represents a PN532 reader.
//
// Thread Safety: Device serializes its own commands, but a multi-command
// exchange (detection followed by data exchange) must be guarded by the
// caller.
type Device struct {
	transport       Transport
	config          *DeviceConfig
	firmwareVersion *FirmwareVersion
	mu              sync.Mutex
	maxRetries      byte
}

// New creates a new PN532 device with the given transport
func New(transport Transport, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, fmt.Errorf("nil transport: %w", ErrInvalidParameter)
	}
	device := &Device{
		transport:  transport,
		config:     DefaultDeviceConfig(),
		maxRetries: 0xFF,
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}

	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport
}

// Init initializes the PN532 device
func (d *Device) Init() error {
	return d.InitContext(context.Background())
}

// SetTimeout sets the fallback timeout for operations
func (d *Device) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %w", ErrInvalidParameter)
	}
	d.config.Timeout = timeout
	if err := d.transport.SetTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set timeout on transport: %w", err)
	}
	return nil
}

// SetRetryConfig updates the retry configuration
func (d *Device) SetRetryConfig(config *RetryConfig) {
	d.config.RetryConfig = config
}

// CommandTimeout returns the host side timeout applied to cmd
func (d *Device) CommandTimeout(cmd byte) time.Duration {
	if timeout, ok := d.config.CommandTimeouts[cmd]; ok {
		return timeout
	}
	if timeout, ok := defaultCommandTimeouts[cmd]; ok {
		return timeout
	}
	return d.config.Timeout
}

// hasCapability checks if the transport has the specified capability
func (d *Device) hasCapability(capability TransportCapability) bool {
	if checker, ok := d.transport.(TransportCapabilityChecker); ok {
		return checker.HasCapability(capability)
	}
	return false
}

// execute sends one command under its timeout policy and unwraps PN532 error
// frames.
func (d *Device) execute(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	timeout := d.CommandTimeout(cmd)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	debugf("-> %s % X", commandName(cmd), args)
	res, err := d.transport.SendCommandWithContext(ctx, cmd, args)
	if err != nil {
		if ctx.Err() != nil && !IsTimeout(err) {
			err = fmt.Errorf("%w: %w", err, NewTimeoutError(commandName(cmd), ""))
		}
		return nil, fmt.Errorf("%s command failed: %w", commandName(cmd), err)
	}
	debugf("<- %s % X", commandName(cmd), res)

	if len(res) >= 2 && res[0] == errorFrameCode {
		return nil, NewPN532Error(res[1], commandName(cmd), "error frame")
	}
	if len(res) == 0 || res[0] != cmd+1 {
		return nil, fmt.Errorf("unexpected %s response % X: %w", commandName(cmd), res, ErrInvalidResponse)
	}
	return res, nil
}

// Close closes the device connection
func (d *Device) Close() error {
	if d.transport != nil {
		if err := d.transport.Close(); err != nil {
			return fmt.Errorf("failed to close transport: %w", err)
		}
	}
	return nil
}
