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

// Package detection lists the ports a PN532 may be attached to.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Transport names reported in DeviceInfo
const (
	TransportUART = "uart"
	TransportI2C  = "i2c"
)

// ErrNoDevicesFound is returned when every candidate was filtered out or
// none exist
var ErrNoDevicesFound = errors.New("no candidate ports found")

// DeviceInfo describes one candidate port
type DeviceInfo struct {
	Metadata  map[string]string
	Transport string
	Path      string
	VIDPID    string
	// Likely is set for USB serial bridges commonly used on PN532 boards
	Likely bool
}

// Options controls ListPorts
type Options struct {
	// Blocklist holds VID:PID pairs that are never reported
	Blocklist []string
	// IgnorePaths holds port paths that are never reported
	IgnorePaths []string
	// IncludeI2C adds the I2C buses known to the host
	IncludeI2C bool
	// USBOnly drops serial ports without USB descriptors
	USBOnly bool
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() *Options {
	return &Options{
		Blocklist: DefaultBlocklist(),
	}
}

// bridges are USB serial chips found on common PN532 breakout boards
var bridges = map[string]string{
	"1A86:7523": "CH340",
	"1A86:55D4": "CH9102",
	"10C4:EA60": "CP210x",
	"0403:6001": "FT232R",
	"0403:6015": "FT231X",
	"067B:2303": "PL2303",
}

// Enumeration hooks
var (
	listSerialPorts = enumerator.GetDetailedPortsList
	listI2CBuses    = periphI2CBuses
)

func periphI2CBuses() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	refs := i2creg.All()
	buses := make([]string, 0, len(refs))
	for _, ref := range refs {
		buses = append(buses, ref.Name)
	}
	return buses, nil
}

// ListPorts returns the candidate ports, likely PN532 bridges first. A nil
// opts uses DefaultOptions.
func ListPorts(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	ports, err := listSerialPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var devices []DeviceInfo
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if info, ok := serialDevice(port, opts); ok {
			devices = append(devices, info)
		}
	}

	if opts.IncludeI2C {
		buses, err := listI2CBuses()
		if err != nil {
			return nil, err
		}
		for _, bus := range buses {
			if IsPathIgnored(bus, opts.IgnorePaths) {
				continue
			}
			devices = append(devices, DeviceInfo{
				Transport: TransportI2C,
				Path:      bus,
				Metadata:  map[string]string{},
			})
		}
	}

	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Likely != devices[j].Likely {
			return devices[i].Likely
		}
		return devices[i].Path < devices[j].Path
	})
	return devices, nil
}

func serialDevice(port *enumerator.PortDetails, opts *Options) (DeviceInfo, bool) {
	if port == nil || IsPathIgnored(port.Name, opts.IgnorePaths) {
		return DeviceInfo{}, false
	}
	if !port.IsUSB {
		if opts.USBOnly {
			return DeviceInfo{}, false
		}
		return DeviceInfo{Transport: TransportUART, Path: port.Name, Metadata: map[string]string{}}, true
	}

	vidpid := strings.ToUpper(port.VID + ":" + port.PID)
	if IsBlocked(vidpid, opts.Blocklist) {
		return DeviceInfo{}, false
	}

	info := DeviceInfo{
		Transport: TransportUART,
		Path:      port.Name,
		VIDPID:    vidpid,
		Metadata:  map[string]string{},
	}
	if chip, ok := bridges[vidpid]; ok {
		info.Likely = true
		info.Metadata["bridge"] = chip
	}
	if port.SerialNumber != "" {
		info.Metadata["serial"] = port.SerialNumber
	}
	return info, true
}
