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

// Package binding exposes a vault.Service to a host runtime. Every operation
// runs on its own goroutine and completes through a channel that receives
// exactly one Result. Self-test progress and log lines are delivered through
// bounded queues that drop events instead of blocking the reader.
package binding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ZaparooProject/go-pn532-vault/session"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

// Default queue capacities
const (
	DefaultProgressCapacity = 8
	DefaultLogCapacity      = 128
)

// Result is the single outcome of an operation. Err is nil or a *vault.Error.
type Result[T any] struct {
	Value T
	Err   error
}

// Unwrap returns the value and error of the result
func (r Result[T]) Unwrap() (T, error) {
	return r.Value, r.Err
}

// SelfTestRow is the host form of one self-test result
type SelfTestRow struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// SelfTestRows is the host form of a self-test report
type SelfTestRows struct {
	Results []SelfTestRow `json:"results"`
}

// ProbeRow is the host form of a card probe. UID is nil without a card.
type ProbeRow struct {
	UID           *string `json:"uid"`
	IsInitialised bool    `json:"isInitialised"`
}

type logEvent struct {
	level   string
	message string
}

// Binding runs service operations asynchronously
type Binding struct {
	service          *vault.Service
	logs             *eventQueue[logEvent]
	droppedProgress  atomic.Uint64
	droppedLogs      atomic.Uint64
	wg               sync.WaitGroup
	progressCapacity int
	logCapacity      int
	mu               sync.Mutex
	closed           bool
}

// Option configures a Binding
type Option func(*Binding)

// WithProgressCapacity sets the size of the self-test progress queue
func WithProgressCapacity(n int) Option {
	return func(b *Binding) {
		if n > 0 {
			b.progressCapacity = n
		}
	}
}

// WithLogCapacity sets the size of the log queue
func WithLogCapacity(n int) Option {
	return func(b *Binding) {
		if n > 0 {
			b.logCapacity = n
		}
	}
}

// New binds service
func New(service *vault.Service, opts ...Option) *Binding {
	b := &Binding{
		service:          service,
		progressCapacity: DefaultProgressCapacity,
		logCapacity:      DefaultLogCapacity,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// toVaultError makes sure nothing but a *vault.Error crosses the binding
func toVaultError(err error) error {
	if err == nil {
		return nil
	}
	var ve *vault.Error
	if errors.As(err, &ve) {
		return ve
	}
	return vault.NewError(vault.CodeHardwareError, err.Error(), err)
}

func run[T any](b *Binding, op func(ctx context.Context) (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		out <- Result[T]{Err: vault.NewError(vault.CodeNotConnected, "binding is closed", nil)}
		return out
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		v, err := op(context.Background())
		out <- Result[T]{Value: v, Err: toVaultError(err)}
	}()
	return out
}

// Connect opens the reader on port
func (b *Binding) Connect(port string) <-chan Result[string] {
	return run(b, func(ctx context.Context) (string, error) {
		return b.service.Connect(ctx, port)
	})
}

// Disconnect closes the reader connection
func (b *Binding) Disconnect() <-chan Result[bool] {
	return run(b, b.service.Disconnect)
}

// SetLogCallback routes reader log lines to fn through the log queue. A nil
// fn detaches the current callback: the reader stops logging to the queue,
// the queue is closed and its pending lines are delivered before returning.
// fn must not call SetLogCallback or Close.
func (b *Binding) SetLogCallback(fn func(level, message string)) {
	b.AttachLogCallback(fn)
}

// AttachLogCallback is SetLogCallback returning a detach func that only
// removes fn. Once another callback replaced fn, detach does nothing.
func (b *Binding) AttachLogCallback(fn func(level, message string)) (detach func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLogs()
	if fn == nil || b.closed {
		return func() {}
	}

	q := newEventQueue(b.logCapacity, func(ev logEvent) {
		fn(ev.level, ev.message)
	})
	b.logs = q
	b.service.SetLogCallback(func(level, message string) {
		if !q.Send(logEvent{level: level, message: message}) {
			b.droppedLogs.Add(1)
		}
	})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.logs == q {
			b.detachLogs()
		}
	}
}

// detachLogs must be called with the lock held
func (b *Binding) detachLogs() {
	if b.logs == nil {
		return
	}
	b.service.SetLogCallback(nil)
	b.logs.Close()
	b.logs = nil
}

// FirmwareVersion returns the reader firmware description
func (b *Binding) FirmwareVersion() <-chan Result[string] {
	return run(b, b.service.FirmwareVersion)
}

// RunSelfTests runs the reader self-tests. onProgress may be nil; every
// progress row it receives is delivered before the result.
func (b *Binding) RunSelfTests(onProgress func(SelfTestRow)) <-chan Result[SelfTestRows] {
	return run(b, func(ctx context.Context) (SelfTestRows, error) {
		var progress vault.ProgressCallback
		if onProgress != nil {
			q := newEventQueue(b.progressCapacity, onProgress)
			defer q.Close()
			progress = func(res vault.SelfTestResult) {
				if !q.Send(selfTestRow(res)) {
					b.droppedProgress.Add(1)
				}
			}
		}

		report, err := b.service.RunSelfTests(ctx, progress)
		if err != nil {
			return SelfTestRows{}, err
		}
		rows := SelfTestRows{Results: make([]SelfTestRow, len(report.Results))}
		for i, res := range report.Results {
			rows.Results[i] = selfTestRow(res)
		}
		return rows, nil
	})
}

func selfTestRow(res vault.SelfTestResult) SelfTestRow {
	return SelfTestRow{Name: res.Name, Status: res.Outcome.String(), Detail: res.Detail}
}

// CardVersion reads the card manufacturing data
func (b *Binding) CardVersion() <-chan Result[vault.CardVersionInfo] {
	return run(b, func(ctx context.Context) (vault.CardVersionInfo, error) {
		info, err := b.service.CardVersion(ctx)
		if err != nil {
			return vault.CardVersionInfo{}, err
		}
		return *info, nil
	})
}

// PeekCardUID returns the colon separated UID of the card in the field, or
// nil when there is none
func (b *Binding) PeekCardUID() <-chan Result[*string] {
	return run(b, func(ctx context.Context) (*string, error) {
		uid, err := b.service.PeekCardUID(ctx)
		switch {
		case errors.Is(err, vault.ErrNoCard):
			return nil, nil
		case err != nil:
			return nil, err
		}
		s := session.FormatUID(uid)
		return &s, nil
	})
}

// IsCardInitialised reports whether the card holds the vault application
func (b *Binding) IsCardInitialised() <-chan Result[bool] {
	return run(b, b.service.IsCardInitialised)
}

// ProbeCard detects a card and checks for the vault application in one pass
func (b *Binding) ProbeCard() <-chan Result[ProbeRow] {
	return run(b, func(ctx context.Context) (ProbeRow, error) {
		probe, err := b.service.ProbeCard(ctx)
		if err != nil {
			return ProbeRow{}, err
		}
		row := ProbeRow{IsInitialised: probe.IsInitialised}
		if probe.UID != nil {
			uid := session.FormatUID(probe.UID)
			row.UID = &uid
		}
		return row, nil
	})
}

// InitCard provisions the card with opts
func (b *Binding) InitCard(opts vault.CardInitOptions) <-chan Result[bool] {
	return run(b, func(ctx context.Context) (bool, error) {
		return b.service.InitCard(ctx, &opts)
	})
}

// ReadCardSecret reads the card secret with readKey
func (b *Binding) ReadCardSecret(readKey [16]byte) <-chan Result[[]byte] {
	return run(b, func(ctx context.Context) ([]byte, error) {
		return b.service.ReadCardSecret(ctx, readKey)
	})
}

// CardFreeMemory returns the free card memory in bytes
func (b *Binding) CardFreeMemory() <-chan Result[uint32] {
	return run(b, b.service.CardFreeMemory)
}

// FormatCard erases the card
func (b *Binding) FormatCard() <-chan Result[bool] {
	return run(b, b.service.FormatCard)
}

// CardApplicationIDs lists the card applications as 6 uppercase hex digits
func (b *Binding) CardApplicationIDs() <-chan Result[[]string] {
	return run(b, b.service.CardApplicationIDs)
}

// Dropped returns how many progress and log events were discarded
func (b *Binding) Dropped() (progress, logs uint64) {
	return b.droppedProgress.Load(), b.droppedLogs.Load()
}

// Close detaches the log callback, waits for running operations and closes
// the service. Operations started afterwards fail with NOT_CONNECTED.
func (b *Binding) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.detachLogs()
	b.mu.Unlock()

	b.wg.Wait()
	b.service.Close(context.Background())
}
