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

package vault

import (
	"context"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
)

// Outcome is the result of one self-test
type Outcome int

const (
	// OutcomeSuccess means the test passed
	OutcomeSuccess Outcome = iota
	// OutcomeFailed means the test ran and failed; Detail says why
	OutcomeFailed
	// OutcomeSkipped means the transport cannot run the test
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Canonical self-test names, in run order
const (
	TestROM           = "ROM Check"
	TestRAM           = "RAM Check"
	TestCommunication = "Communication"
	TestEcho          = "Echo Test"
	TestAntenna       = "Antenna"
)

// SelfTestNames lists the self-tests in the order RunSelfTests reports them
var SelfTestNames = [5]string{TestROM, TestRAM, TestCommunication, TestEcho, TestAntenna}

// SelfTestResult is one row of a self-test report
type SelfTestResult struct {
	Name    string
	Detail  string
	Outcome Outcome
}

// SelfTestReport always holds the five tests in canonical order
type SelfTestReport struct {
	Results [5]SelfTestResult
}

// AllPassed reports whether every test succeeded. Skipped tests count as not
// passed.
func (r *SelfTestReport) AllPassed() bool {
	for _, res := range r.Results {
		if res.Outcome != OutcomeSuccess {
			return false
		}
	}
	return true
}

type selfTest func(ctx context.Context, d *pn532.Device) error

func (a *Adapter) selfTests() [5]selfTest {
	low, high := a.antennaLow, a.antennaHigh
	return [5]selfTest{
		func(ctx context.Context, d *pn532.Device) error { return d.ROMTestContext(ctx) },
		func(ctx context.Context, d *pn532.Device) error { return d.RAMTestContext(ctx) },
		func(ctx context.Context, d *pn532.Device) error { return d.CommunicationTestContext(ctx) },
		func(ctx context.Context, d *pn532.Device) error { return d.EchoTestContext(ctx) },
		func(ctx context.Context, d *pn532.Device) error {
			return d.AntennaTestContext(ctx, low, high)
		},
	}
}

func runSelfTest(ctx context.Context, d *pn532.Device, name string, test selfTest) SelfTestResult {
	err := test(ctx, d)
	switch {
	case err == nil:
		return SelfTestResult{Name: name, Outcome: OutcomeSuccess}
	case pn532.IsSelfTestSkip(err):
		return SelfTestResult{Name: name, Outcome: OutcomeSkipped}
	default:
		return SelfTestResult{Name: name, Outcome: OutcomeFailed, Detail: err.Error()}
	}
}
