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

package testing

import "sync"

type virtualTarget struct {
	desfire *VirtualDESFire
	uid     []byte
	atqa    [2]byte
	sak     byte
}

// VirtualPN532 answers PN532 commands for a MockTransport handler. It owns
// at most one card in its field and the results of the Diagnose tests.
type VirtualPN532 struct {
	target     *virtualTarget
	diagnose   map[byte]byte
	Firmware   [4]byte
	mu         sync.Mutex
	detections int
	releases   int
	activated  bool
	breakEcho  bool
}

// NewVirtualPN532 creates a PN532 v1.6 with an empty field and passing
// self-tests
func NewVirtualPN532() *VirtualPN532 {
	return &VirtualPN532{
		Firmware: [4]byte{0x32, 0x01, 0x06, 0x07},
		diagnose: make(map[byte]byte),
	}
}

// InsertDESFire places a DESFire card in the field
func (p *VirtualPN532) InsertDESFire(card *VirtualDESFire) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = &virtualTarget{desfire: card, uid: card.UID, atqa: DESFireATQA, sak: 0x20}
}

// InsertCard places a non DESFire card in the field
func (p *VirtualPN532) InsertCard(atqa [2]byte, sak byte, uid []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = &virtualTarget{uid: uid, atqa: atqa, sak: sak}
}

// RemoveCard empties the field
func (p *VirtualPN532) RemoveCard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = nil
	p.activated = false
}

// SetDiagnoseStatus sets the status byte answered by a ROM, RAM or antenna test
func (p *VirtualPN532) SetDiagnoseStatus(test, status byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.diagnose[test] = status
}

// BreakEcho makes the communication line test return corrupted data
func (p *VirtualPN532) BreakEcho(broken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakEcho = broken
}

// Detections returns how many InListPassiveTarget commands were answered
func (p *VirtualPN532) Detections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detections
}

// Releases returns how many InRelease commands were answered
func (p *VirtualPN532) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

// Handle answers one command. Unknown commands return nil so the transport
// falls back to its default response.
func (p *VirtualPN532) Handle(cmd byte, args []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cmd {
	case CmdGetFirmwareVersion:
		fw := p.Firmware
		return BuildFirmwareVersionResponse(fw[0], fw[1], fw[2], fw[3]), nil
	case CmdSAMConfiguration, CmdRFConfiguration:
		return []byte{cmd + 1}, nil
	case CmdDiagnose:
		return p.handleDiagnose(args), nil
	case CmdInListPassiveTarget:
		p.detections++
		if p.target == nil {
			return BuildNoTagResponse(), nil
		}
		p.activated = true
		t := p.target
		if t.desfire != nil {
			t.desfire.Activate()
			return BuildDESFireDetectionResponse(t.uid), nil
		}
		return BuildDetectionResponse(t.atqa, t.sak, t.uid, nil), nil
	case CmdInDataExchange:
		if p.target == nil || !p.activated {
			// no answer from the field
			return BuildDataExchangeResponse(0x01, nil), nil
		}
		if p.target.desfire == nil || len(args) < 2 {
			return BuildDataExchangeResponse(0x27, nil), nil
		}
		return BuildDataExchangeResponse(0x00, p.target.desfire.Transceive(args[1:])), nil
	case CmdInRelease:
		p.releases++
		p.activated = false
		return []byte{CmdInRelease + 1, 0x00}, nil
	default:
		return nil, nil
	}
}

func (p *VirtualPN532) handleDiagnose(args []byte) []byte {
	if len(args) == 0 {
		return BuildErrorResponse(CmdDiagnose, 0x10)
	}
	test := args[0]
	if test == 0x00 {
		echo := append([]byte(nil), args...)
		if p.breakEcho && len(echo) > 1 {
			echo[len(echo)-1] ^= 0xFF
		}
		return BuildDiagnoseResponse(echo...)
	}
	return BuildDiagnoseResponse(p.diagnose[test])
}
