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

package polling

import (
	"errors"
	"time"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid polling configuration")

// Config controls how often the monitor probes and how quickly it gives up
// on a card that stopped answering
type Config struct {
	// PollInterval is the delay between two probes
	PollInterval time.Duration
	// RemovalTimeout is how long a card may go unseen before it is
	// reported removed. Zero reports removal on the first empty probe.
	RemovalTimeout time.Duration
	// ErrorBackoff is the extra delay after a failed probe
	ErrorBackoff time.Duration
	// MaxConsecutiveErrors stops Run after that many failed probes in a
	// row. Zero never stops.
	MaxConsecutiveErrors int
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   250 * time.Millisecond,
		RemovalTimeout: 600 * time.Millisecond,
		ErrorBackoff:   500 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("poll interval must be positive"))
	}
	if c.RemovalTimeout < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("removal timeout must not be negative"))
	}
	if c.ErrorBackoff < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("error backoff must not be negative"))
	}
	if c.MaxConsecutiveErrors < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("max consecutive errors must not be negative"))
	}
	return nil
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
