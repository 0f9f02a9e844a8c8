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

// Package session detects cards in the field of a PN532 and scopes each card
// operation to a session that is released when the operation ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/desfire"
)

var (
	// ErrNoCardPresent is returned when no card answered a detection
	ErrNoCardPresent = errors.New("no card present")
	// ErrUnsupportedCardType is returned when the detected card is not a
	// DESFire. The card identity is still returned alongside it.
	ErrUnsupportedCardType = errors.New("unsupported card type")
	// ErrSessionActive is returned when a session is already open
	ErrSessionActive = errors.New("a card session is already open")
	// ErrSessionClosed is returned when using a closed session
	ErrSessionClosed = errors.New("card session is closed")
	// ErrManagerClosed is returned after the manager was torn down
	ErrManagerClosed = errors.New("session manager is closed")
)

// Driver is the part of the reader driver a session needs
type Driver interface {
	InListPassiveTargetContext(ctx context.Context, maxTg, brTy byte) ([]*pn532.DetectedTarget, error)
	InDataExchangeContext(ctx context.Context, targetNumber byte, data []byte) ([]byte, error)
	InReleaseContext(ctx context.Context, targetNumber byte) error
}

// Handle is the protocol handle of an open session
type Handle interface {
	Transceive(ctx context.Context, data []byte) ([]byte, error)
}

// Manager owns card detection and the single open session of a reader
type Manager struct {
	driver Driver
	active *Session
	mu     sync.Mutex
	closed bool
}

// NewManager creates a session manager bound to driver
func NewManager(driver Driver) *Manager {
	return &Manager{driver: driver}
}

// Detect runs one detection for a single 106 kbps type A target
func (m *Manager) Detect(ctx context.Context) (*Card, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrManagerClosed
	}

	targets, err := m.driver.InListPassiveTargetContext(ctx, 1, pn532.BaudRate106kbpsTypeA)
	if err != nil {
		return nil, fmt.Errorf("card detection failed: %w", err)
	}
	if len(targets) == 0 {
		return nil, ErrNoCardPresent
	}

	card := cardFromTarget(targets[0])
	pn532.Logger().Debug().
		Str("uid", card.UIDString()).
		Stringer("type", card.Type).
		Msg("card detected")
	if card.Type != CardTypeDESFire {
		return card, fmt.Errorf("%s card (SAK 0x%02X): %w", card.Type, card.SAK, ErrUnsupportedCardType)
	}
	return card, nil
}

// Open starts a session on a detected card
func (m *Manager) Open(card *Card) (*Session, error) {
	if card == nil {
		return nil, ErrNoCardPresent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.active != nil {
		return nil, ErrSessionActive
	}

	s := &Session{manager: m, card: card}
	if card.Type == CardTypeDESFire {
		s.handle = desfire.New(s)
	} else {
		s.handle = s
	}
	m.active = s
	return s, nil
}

// Release deactivates a detected card no session was opened on
func (m *Manager) Release(ctx context.Context, card *Card) error {
	if card == nil {
		return nil
	}
	if err := m.driver.InReleaseContext(ctx, card.Target); err != nil {
		return fmt.Errorf("failed to release target %d: %w", card.Target, err)
	}
	return nil
}

// Active reports whether a session is open
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Close releases the open session, if any, and refuses further use
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	active := m.active
	m.closed = true
	m.mu.Unlock()

	if active != nil {
		return active.Close(ctx)
	}
	return nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// Session scopes card operations to one detected card
type Session struct {
	manager *Manager
	card    *Card
	handle  Handle
	mu      sync.Mutex
	closed  bool
}

// Card returns the identity of the session's card
func (s *Session) Card() *Card {
	return s.card
}

// Handle returns the protocol handle: a *desfire.Card for DESFire cards,
// otherwise the raw session.
func (s *Session) Handle() Handle {
	return s.handle
}

// Transceive exchanges raw data with the card
func (s *Session) Transceive(ctx context.Context, data []byte) ([]byte, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	return s.manager.driver.InDataExchangeContext(ctx, s.card.Target, data)
}

// Close releases the target. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.manager.release(s)
	if err := s.manager.driver.InReleaseContext(ctx, s.card.Target); err != nil {
		return fmt.Errorf("failed to release target %d: %w", s.card.Target, err)
	}
	return nil
}
