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
	"bytes"
	"time"
)

// CardDetectionState is the state of the card presence machine
type CardDetectionState int

const (
	// StateIdle means no card is in the field
	StateIdle CardDetectionState = iota
	// StatePresent means the last probe saw the card
	StatePresent
	// StateRemovalPending means the card was missed but the removal
	// timeout has not run out yet
	StateRemovalPending
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePresent:
		return "present"
	case StateRemovalPending:
		return "removal pending"
	default:
		return "unknown"
	}
}

// CardState tracks the card currently in the field
type CardState struct {
	LastSeenTime   time.Time
	FirstSeenTime  time.Time
	LastUID        []byte
	DetectionState CardDetectionState
	Initialised    bool
}

// Present reports whether a card is being tracked
func (cs *CardState) Present() bool {
	return cs.DetectionState != StateIdle
}

// SameCard reports whether uid is the tracked card
func (cs *CardState) SameCard(uid []byte) bool {
	return cs.Present() && bytes.Equal(cs.LastUID, uid)
}

// TransitionToPresent records a sighting of the card
func (cs *CardState) TransitionToPresent(uid []byte, initialised bool, now time.Time) {
	if !cs.SameCard(uid) {
		cs.FirstSeenTime = now
		cs.LastUID = append([]byte(nil), uid...)
	}
	cs.DetectionState = StatePresent
	cs.Initialised = initialised
	cs.LastSeenTime = now
}

// TransitionToMissed records an empty probe and reports whether the card
// has now been gone for longer than timeout
func (cs *CardState) TransitionToMissed(timeout time.Duration, now time.Time) bool {
	if !cs.Present() {
		return false
	}
	if now.Sub(cs.LastSeenTime) >= timeout {
		return true
	}
	cs.DetectionState = StateRemovalPending
	return false
}

// TransitionToIdle forgets the card
func (cs *CardState) TransitionToIdle() {
	*cs = CardState{}
}
