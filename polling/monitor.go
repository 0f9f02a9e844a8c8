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

// Package polling watches a reader for cards entering and leaving the field.
package polling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-pn532-vault/session"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

// Monitor errors
var (
	ErrNilProber      = errors.New("prober cannot be nil")
	ErrAlreadyRunning = errors.New("monitor is already running")
)

// Prober is the part of vault.Reader the monitor needs
type Prober interface {
	ProbeCard(ctx context.Context) (*vault.CardProbeResult, error)
}

// Event describes a card at the time of a state change
type Event struct {
	At            time.Time
	UID           []byte
	IsInitialised bool
}

// UIDString returns the UID as colon separated hex
func (e Event) UIDString() string {
	return session.FormatUID(e.UID)
}

// Stats are the monitor counters
type Stats struct {
	PollCycles    int64
	PollErrors    int64
	CardsDetected int64
}

// Monitor polls a Prober and reports card arrival and removal. Callbacks
// run on the goroutine that called Run.
type Monitor struct {
	prober Prober
	config *Config
	logger zerolog.Logger
	now    func() time.Time

	// OnCardArrived is called when a card enters the field
	OnCardArrived func(Event)
	// OnCardRemoved is called with the last sighting of a card that left
	OnCardRemoved func(Event)
	// OnCardChanged is called when the card stays but its vault
	// application appears or disappears
	OnCardChanged func(Event)
	// OnError is called for every failed probe
	OnError func(error)

	state         CardState
	mu            sync.Mutex
	pollCycles    atomic.Int64
	pollErrors    atomic.Int64
	cardsDetected atomic.Int64
	consecutive   int
	paused        atomic.Bool
	running       atomic.Bool
}

// Option configures a Monitor
type Option func(*Monitor)

// WithLogger sets the monitor logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a monitor for prober. A nil config uses DefaultConfig.
func NewMonitor(prober Prober, config *Config, opts ...Option) (*Monitor, error) {
	if prober == nil {
		return nil, ErrNilProber
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		prober: prober,
		config: config.Clone(),
		logger: zerolog.New(io.Discard),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run polls until ctx is done, the reader goes away or too many probes
// fail in a row
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		if !m.paused.Load() {
			failed, err := m.poll(ctx)
			if err != nil {
				return err
			}
			if failed && m.config.ErrorBackoff > 0 {
				if err := sleepCtx(ctx, m.config.ErrorBackoff); err != nil {
					return err
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// poll runs one probe. failed reports a probe error that Run should back
// off from; err stops Run.
func (m *Monitor) poll(ctx context.Context) (failed bool, err error) {
	m.pollCycles.Add(1)
	res, probeErr := m.prober.ProbeCard(ctx)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if probeErr != nil {
		return true, m.handleProbeError(probeErr)
	}
	m.consecutive = 0

	now := m.now()
	if res == nil || len(res.UID) == 0 {
		m.handleEmptyProbe(now)
		return false, nil
	}
	m.handleCard(res, now)
	return false, nil
}

func (m *Monitor) handleProbeError(err error) error {
	m.pollErrors.Add(1)
	m.consecutive++
	m.logger.Debug().Err(err).Int("consecutive", m.consecutive).Msg("probe failed")
	if m.OnError != nil {
		m.OnError(err)
	}

	// a failing reader cannot vouch for the card still being there
	m.removeCard()

	if errors.Is(err, vault.ErrNotConnected) {
		return fmt.Errorf("stopped polling: %w", err)
	}
	if m.config.MaxConsecutiveErrors > 0 && m.consecutive >= m.config.MaxConsecutiveErrors {
		return fmt.Errorf("stopped polling after %d failed probes: %w", m.consecutive, err)
	}
	return nil
}

func (m *Monitor) handleEmptyProbe(now time.Time) {
	m.mu.Lock()
	gone := m.state.TransitionToMissed(m.config.RemovalTimeout, now)
	m.mu.Unlock()
	if gone {
		m.removeCard()
	}
}

func (m *Monitor) handleCard(res *vault.CardProbeResult, now time.Time) {
	m.mu.Lock()
	swapped := m.state.Present() && !m.state.SameCard(res.UID)
	m.mu.Unlock()
	if swapped {
		m.removeCard()
	}

	m.mu.Lock()
	arrived := !m.state.Present()
	changed := !arrived && m.state.Initialised != res.IsInitialised
	m.state.TransitionToPresent(res.UID, res.IsInitialised, now)
	ev := m.eventLocked()
	m.mu.Unlock()

	switch {
	case arrived:
		m.cardsDetected.Add(1)
		m.logger.Debug().Str("uid", ev.UIDString()).Bool("initialised", ev.IsInitialised).Msg("card arrived")
		if m.OnCardArrived != nil {
			m.OnCardArrived(ev)
		}
	case changed:
		m.logger.Debug().Str("uid", ev.UIDString()).Bool("initialised", ev.IsInitialised).Msg("card changed")
		if m.OnCardChanged != nil {
			m.OnCardChanged(ev)
		}
	}
}

// removeCard reports the tracked card as removed, if any
func (m *Monitor) removeCard() {
	m.mu.Lock()
	if !m.state.Present() {
		m.mu.Unlock()
		return
	}
	ev := m.eventLocked()
	m.state.TransitionToIdle()
	m.mu.Unlock()

	m.logger.Debug().Str("uid", ev.UIDString()).Msg("card removed")
	if m.OnCardRemoved != nil {
		m.OnCardRemoved(ev)
	}
}

func (m *Monitor) eventLocked() Event {
	return Event{
		At:            m.state.LastSeenTime,
		UID:           append([]byte(nil), m.state.LastUID...),
		IsInitialised: m.state.Initialised,
	}
}

// Pause stops probing until Resume. The tracked card is kept.
func (m *Monitor) Pause() {
	m.paused.Store(true)
}

// Resume restarts probing after Pause
func (m *Monitor) Resume() {
	m.paused.Store(false)
}

// Paused reports whether the monitor is paused
func (m *Monitor) Paused() bool {
	return m.paused.Load()
}

// GetState returns a copy of the tracked card state
func (m *Monitor) GetState() CardState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.LastUID = append([]byte(nil), m.state.LastUID...)
	return st
}

// GetStats returns the monitor counters
func (m *Monitor) GetStats() Stats {
	return Stats{
		PollCycles:    m.pollCycles.Load(),
		PollErrors:    m.pollErrors.Load(),
		CardsDetected: m.cardsDetected.Load(),
	}
}
