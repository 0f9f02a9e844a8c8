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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ZaparooProject/go-pn532-vault/vault"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type proberFunc func(ctx context.Context) (*vault.CardProbeResult, error)

func (f proberFunc) ProbeCard(ctx context.Context) (*vault.CardProbeResult, error) {
	return f(ctx)
}

func fastConfig() *Config {
	return &Config{PollInterval: 2 * time.Millisecond}
}

type events struct {
	arrived chan Event
	removed chan Event
	changed chan Event
}

func watch(m *Monitor) *events {
	ev := &events{
		arrived: make(chan Event, 16),
		removed: make(chan Event, 16),
		changed: make(chan Event, 16),
	}
	m.OnCardArrived = func(e Event) { ev.arrived <- e }
	m.OnCardRemoved = func(e Event) { ev.removed <- e }
	m.OnCardChanged = func(e Event) { ev.changed <- e }
	return ev
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

// start runs m until the test ends. stop cancels Run and returns its
// error; it may be called any number of times.
func start(t *testing.T, m *Monitor) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	var (
		once   sync.Once
		runErr error
	)
	stop = func() error {
		once.Do(func() {
			cancel()
			runErr = <-done
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func connectedFake(t *testing.T) *vault.FakeReader {
	t.Helper()
	fake := vault.NewFakeReader()
	_, err := fake.Connect(context.Background(), "/dev/ttyUSB0")
	require.NoError(t, err)
	return fake
}

func TestNewMonitor(t *testing.T) {
	t.Parallel()

	t.Run("NilProber", func(t *testing.T) {
		t.Parallel()
		_, err := NewMonitor(nil, nil)
		require.ErrorIs(t, err, ErrNilProber)
	})

	t.Run("DefaultConfig", func(t *testing.T) {
		t.Parallel()
		m, err := NewMonitor(vault.NewFakeReader(), nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), m.config)
		assert.False(t, m.Paused())
	})

	t.Run("InvalidConfig", func(t *testing.T) {
		t.Parallel()
		_, err := NewMonitor(vault.NewFakeReader(), &Config{})
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("ConfigIsCopied", func(t *testing.T) {
		t.Parallel()
		cfg := fastConfig()
		m, err := NewMonitor(vault.NewFakeReader(), cfg)
		require.NoError(t, err)
		cfg.PollInterval = time.Hour
		assert.Equal(t, 2*time.Millisecond, m.config.PollInterval)
	})
}

func TestMonitor_ArrivalAndRemoval(t *testing.T) {
	t.Parallel()

	fake := connectedFake(t)
	m, err := NewMonitor(fake, fastConfig())
	require.NoError(t, err)
	ev := watch(m)
	stop := start(t, m)

	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04, 0xA1, 0xB2}})
	arrived := next(t, ev.arrived)
	assert.Equal(t, "04:A1:B2", arrived.UIDString())
	assert.False(t, arrived.IsInitialised)
	assert.Equal(t, StatePresent, m.GetState().DetectionState)

	fake.PresentCard(nil)
	removed := next(t, ev.removed)
	assert.Equal(t, []byte{0x04, 0xA1, 0xB2}, removed.UID)

	require.Eventually(t, func() bool {
		return m.GetState().DetectionState == StateIdle
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, stop(), context.Canceled)
	require.ErrorIs(t, stop(), context.Canceled)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.CardsDetected)
	assert.Positive(t, stats.PollCycles)
	assert.Zero(t, stats.PollErrors)
}

func TestMonitor_CardSwap(t *testing.T) {
	t.Parallel()

	fake := connectedFake(t)
	m, err := NewMonitor(fake, fastConfig())
	require.NoError(t, err)
	ev := watch(m)
	start(t, m)

	fake.PresentCard(&vault.FakeCard{UID: []byte{0x01}})
	next(t, ev.arrived)

	fake.PresentCard(&vault.FakeCard{UID: []byte{0x02}})
	assert.Equal(t, []byte{0x01}, next(t, ev.removed).UID)
	assert.Equal(t, []byte{0x02}, next(t, ev.arrived).UID)
}

func TestMonitor_InitialisationChange(t *testing.T) {
	t.Parallel()

	fake := connectedFake(t)
	m, err := NewMonitor(fake, fastConfig())
	require.NoError(t, err)
	ev := watch(m)
	start(t, m)

	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04, 0x11}})
	assert.False(t, next(t, ev.arrived).IsInitialised)

	ok, err := fake.InitCard(context.Background(), &vault.CardInitOptions{AID: vault.DefaultAID})
	require.NoError(t, err)
	require.True(t, ok)

	changed := next(t, ev.changed)
	assert.True(t, changed.IsInitialised)
	assert.Equal(t, "04:11", changed.UIDString())
	assert.Empty(t, ev.removed)
}

func TestMonitor_RemovalTimeout(t *testing.T) {
	t.Parallel()

	fake := connectedFake(t)
	cfg := fastConfig()
	cfg.RemovalTimeout = time.Hour
	m, err := NewMonitor(fake, cfg)
	require.NoError(t, err)
	ev := watch(m)
	start(t, m)

	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04}})
	next(t, ev.arrived)

	fake.PresentCard(nil)
	require.Eventually(t, func() bool {
		return m.GetState().DetectionState == StateRemovalPending
	}, time.Second, time.Millisecond)
	assert.Empty(t, ev.removed)

	// the card coming back within the timeout is not a new arrival
	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04}})
	require.Eventually(t, func() bool {
		return m.GetState().DetectionState == StatePresent
	}, time.Second, time.Millisecond)
	assert.Empty(t, ev.arrived)
}

func TestMonitor_StopsWhenDisconnected(t *testing.T) {
	t.Parallel()

	m, err := NewMonitor(vault.NewFakeReader(), fastConfig())
	require.NoError(t, err)
	var errs atomic.Int32
	m.OnError = func(error) { errs.Add(1) }

	err = m.Run(context.Background())
	require.ErrorIs(t, err, vault.ErrNotConnected)
	assert.Equal(t, int32(1), errs.Load())
	assert.Equal(t, int64(1), m.GetStats().PollErrors)
}

func TestMonitor_MaxConsecutiveErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("usb unplugged")
	var calls atomic.Int32
	prober := proberFunc(func(context.Context) (*vault.CardProbeResult, error) {
		if calls.Add(1) == 1 {
			return &vault.CardProbeResult{UID: []byte{0x09}}, nil
		}
		return nil, boom
	})

	cfg := fastConfig()
	cfg.MaxConsecutiveErrors = 3
	m, err := NewMonitor(prober, cfg)
	require.NoError(t, err)
	ev := watch(m)

	err = m.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(4), calls.Load())

	// the first failure drops the card
	assert.Equal(t, []byte{0x09}, next(t, ev.arrived).UID)
	assert.Equal(t, []byte{0x09}, next(t, ev.removed).UID)
	assert.Empty(t, ev.removed)
}

func TestMonitor_PauseResume(t *testing.T) {
	t.Parallel()

	fake := connectedFake(t)
	m, err := NewMonitor(fake, fastConfig())
	require.NoError(t, err)
	ev := watch(m)

	m.Pause()
	m.Pause()
	assert.True(t, m.Paused())
	start(t, m)

	fake.PresentCard(&vault.FakeCard{UID: []byte{0x04}})
	select {
	case <-ev.arrived:
		t.Fatal("paused monitor reported a card")
	case <-time.After(30 * time.Millisecond):
	}

	m.Resume()
	assert.False(t, m.Paused())
	next(t, ev.arrived)
}

func TestMonitor_RunTwice(t *testing.T) {
	t.Parallel()

	m, err := NewMonitor(connectedFake(t), fastConfig())
	require.NoError(t, err)
	start(t, m)

	require.Eventually(t, func() bool {
		return m.GetStats().PollCycles > 0
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, m.Run(context.Background()), ErrAlreadyRunning)
}
