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
	"context"
	"fmt"

	"github.com/ZaparooProject/go-pn532-vault/detection"
)

func (a *app) detectionOptions() *detection.Options {
	opts := detection.DefaultOptions()
	opts.Blocklist = append(opts.Blocklist, a.cfg.Reader.Blocklist...)
	opts.IgnorePaths = a.cfg.Reader.IgnorePaths
	opts.IncludeI2C = a.cfg.Reader.IncludeI2C
	return opts
}

// resolvePort returns the configured port or the best detected candidate
func (a *app) resolvePort(ctx context.Context) (string, error) {
	if a.port != "" {
		return a.port, nil
	}

	a.out.Verbose("Discovering readers...")
	devices, err := detection.ListPorts(ctx, a.detectionOptions())
	if err != nil {
		return "", fmt.Errorf("reader discovery failed: %w", err)
	}
	a.out.Verbose("   Found %d candidate port(s), using %s", len(devices), devices[0].Path)
	return devices[0].Path, nil
}
