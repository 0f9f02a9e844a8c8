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

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZaparooProject/go-pn532-vault/detection"
	"github.com/ZaparooProject/go-pn532-vault/session"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

// Output handles consistent formatting of messages
type Output struct {
	w       io.Writer
	verbose bool
}

// NewOutput creates a new output handler
func NewOutput(w io.Writer, verbose bool) *Output {
	return &Output{w: w, verbose: verbose}
}

func (o *Output) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(o.w, format, args...)
}

// Error prints an error message. Vault errors keep their code.
func (o *Output) Error(format string, args ...any) {
	o.printf("ERROR: "+format+"\n", args...)
}

// Warning prints a warning message
func (o *Output) Warning(format string, args ...any) {
	o.printf("WARNING: "+format+"\n", args...)
}

// Info prints an info message
func (o *Output) Info(format string, args ...any) {
	o.printf("INFO: "+format+"\n", args...)
}

// OK prints a success message
func (o *Output) OK(format string, args ...any) {
	o.printf("OK: "+format+"\n", args...)
}

// Verbose prints only if verbose mode is enabled
func (o *Output) Verbose(format string, args ...any) {
	if o.verbose {
		o.printf(format+"\n", args...)
	}
}

// Ports prints the candidate reader ports
func (o *Output) Ports(devices []detection.DeviceInfo) {
	for _, d := range devices {
		line := fmt.Sprintf("%-5s %s", d.Transport, d.Path)
		if d.VIDPID != "" {
			line += " [" + d.VIDPID + "]"
		}
		if chip := d.Metadata["bridge"]; chip != "" {
			line += " " + chip
		}
		if d.Likely {
			line += " (likely)"
		}
		o.printf("%s\n", line)
	}
}

// SelfTestRow prints one self-test result as it completes
func (o *Output) SelfTestRow(res vault.SelfTestResult) {
	status := strings.ToUpper(res.Outcome.String())
	if res.Detail != "" {
		o.printf("  %-14s %-8s %s\n", res.Name, status, res.Detail)
		return
	}
	o.printf("  %-14s %s\n", res.Name, status)
}

// SelfTestSummary prints the report verdict
func (o *Output) SelfTestSummary(report *vault.SelfTestReport) {
	if report.AllPassed() {
		o.OK("all self-tests passed")
		return
	}
	o.Warning("not every self-test passed")
}

// Probe prints a probe result
func (o *Output) Probe(res *vault.CardProbeResult) {
	if res.UID == nil {
		o.Info("no card present")
		return
	}
	state := "not initialised"
	if res.IsInitialised {
		state = "initialised"
	}
	o.printf("UID: %s (%s)\n", session.FormatUID(res.UID), state)
}

// Version prints card manufacturing data
func (o *Output) Version(info *vault.CardVersionInfo) {
	o.printf("UID:      %s\n", info.UIDHex)
	o.printf("Hardware: %s\n", info.HWVersion)
	o.printf("Software: %s\n", info.SWVersion)
	o.printf("Storage:  %s\n", info.Storage)
	o.Verbose("Raw:      %s", info.RawVersionHex)
}
