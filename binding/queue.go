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

package binding

import "sync"

// eventQueue hands events to fn on a dedicated goroutine through a bounded
// channel. Send never blocks: events are dropped when the channel is full or
// the queue is closing.
type eventQueue[T any] struct {
	ch     chan T
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func newEventQueue[T any](capacity int, fn func(T)) *eventQueue[T] {
	q := &eventQueue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
	go func() {
		defer close(q.done)
		for ev := range q.ch {
			fn(ev)
		}
	}()
	return q
}

// Send queues ev and reports whether it was accepted
func (q *eventQueue[T]) Send(ev T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ev:
		return true
	default:
		return false
	}
}

// Close stops accepting events and waits until the queued ones were
// delivered. fn must not call Close.
func (q *eventQueue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	<-q.done
}
