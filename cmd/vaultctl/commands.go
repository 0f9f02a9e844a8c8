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
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ZaparooProject/go-pn532-vault/detection"
	"github.com/ZaparooProject/go-pn532-vault/polling"
	"github.com/ZaparooProject/go-pn532-vault/session"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

type command struct {
	run     func(ctx context.Context, a *app, args []string) error
	summary string
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"ports":    {summary: "List candidate reader ports", run: cmdPorts},
		"firmware": {summary: "Print the reader firmware version", run: oneShot(cmdFirmware)},
		"selftest": {summary: "Run the reader self-tests", run: oneShot(cmdSelfTest)},
		"probe":    {summary: "Detect a card and check for the vault application", run: oneShot(cmdProbe)},
		"peek":     {summary: "Print the UID of the card in the field", run: oneShot(cmdPeek)},
		"version":  {summary: "Print the card manufacturing data", run: oneShot(cmdVersion)},
		"apps":     {summary: "List the card applications", run: oneShot(cmdApps)},
		"free":     {summary: "Print the free card memory", run: oneShot(cmdFree)},
		"init":     {summary: "Provision the vault application on a card", run: oneShot(cmdInit)},
		"read":     {summary: "Read the card secret", run: oneShot(cmdRead)},
		"format":   {summary: "Erase the card (requires -yes)", run: cmdFormat},
		"watch":    {summary: "Report cards entering and leaving the field", run: cmdWatch},
		"serve":    {summary: "Serve the reader over a websocket", run: cmdServe},
	}
}

type serviceFunc func(ctx context.Context, a *app, svc *vault.Service) error

// oneShot connects, runs fn under the command timeout and disconnects
func oneShot(fn serviceFunc) func(ctx context.Context, a *app, args []string) error {
	return func(ctx context.Context, a *app, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))
		}
		if a.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}
		return a.withService(ctx, func(ctx context.Context, svc *vault.Service, _ vault.Reader) error {
			return fn(ctx, a, svc)
		})
	}
}

func (a *app) withService(
	ctx context.Context,
	fn func(ctx context.Context, svc *vault.Service, reader vault.Reader) error,
) error {
	port, err := a.resolvePort(ctx)
	if err != nil {
		return err
	}

	reader := a.newReader()
	svc := vault.NewService(reader)
	msg, err := svc.Connect(ctx, port)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())
	a.out.Verbose("%s", msg)

	return fn(ctx, svc, reader)
}

func cmdPorts(ctx context.Context, a *app, _ []string) error {
	devices, err := detection.ListPorts(ctx, a.detectionOptions())
	if errors.Is(err, detection.ErrNoDevicesFound) {
		a.out.Info("no candidate ports found")
		return nil
	}
	if err != nil {
		return err
	}
	a.out.Ports(devices)
	return nil
}

func cmdFirmware(ctx context.Context, a *app, svc *vault.Service) error {
	fw, err := svc.FirmwareVersion(ctx)
	if err != nil {
		return err
	}
	a.out.OK("%s", fw)
	return nil
}

func cmdSelfTest(ctx context.Context, a *app, svc *vault.Service) error {
	report, err := svc.RunSelfTests(ctx, a.out.SelfTestRow)
	if err != nil {
		return err
	}
	a.out.SelfTestSummary(report)
	return nil
}

func cmdProbe(ctx context.Context, a *app, svc *vault.Service) error {
	res, err := svc.ProbeCard(ctx)
	if err != nil {
		return err
	}
	a.out.Probe(res)
	return nil
}

func cmdPeek(ctx context.Context, a *app, svc *vault.Service) error {
	uid, err := svc.PeekCardUID(ctx)
	if errors.Is(err, vault.ErrNoCard) {
		a.out.Info("no card present")
		return nil
	}
	if err != nil {
		return err
	}
	a.out.printf("%s\n", session.FormatUID(uid))
	return nil
}

func cmdVersion(ctx context.Context, a *app, svc *vault.Service) error {
	info, err := svc.CardVersion(ctx)
	if err != nil {
		return err
	}
	a.out.Version(info)
	return nil
}

func cmdApps(ctx context.Context, a *app, svc *vault.Service) error {
	ids, err := svc.CardApplicationIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		a.out.Info("no applications")
		return nil
	}
	for _, id := range ids {
		a.out.printf("%s\n", id)
	}
	return nil
}

func cmdFree(ctx context.Context, a *app, svc *vault.Service) error {
	free, err := svc.CardFreeMemory(ctx)
	if err != nil {
		return err
	}
	a.out.printf("%d bytes free\n", free)
	return nil
}

func cmdInit(ctx context.Context, a *app, svc *vault.Service) error {
	aid, err := a.cfg.VaultAID()
	if err != nil {
		return err
	}
	opts := vault.CardInitOptions{AID: aid}
	if opts.AppMasterKey, err = a.keys.AppMasterKey(); err != nil {
		return err
	}
	if opts.ReadKey, err = a.keys.ReadKey(); err != nil {
		return err
	}
	if opts.CardSecret, err = a.keys.CardSecret(); err != nil {
		return err
	}

	if _, err := svc.InitCard(ctx, &opts); err != nil {
		return err
	}
	a.out.OK("card initialised with application %s", aid)
	return nil
}

func cmdRead(ctx context.Context, a *app, svc *vault.Service) error {
	key, err := a.keys.ReadKey()
	if err != nil {
		return err
	}
	secret, err := svc.ReadCardSecret(ctx, key)
	if err != nil {
		return err
	}
	a.out.printf("%s\n", strings.ToUpper(hex.EncodeToString(secret)))
	return nil
}

func cmdFormat(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("format", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("yes", false, "Confirm erasing every application on the card")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if !*yes {
		return errors.New("format erases every application on the card; pass -yes to confirm")
	}

	return oneShot(func(ctx context.Context, a *app, svc *vault.Service) error {
		if _, err := svc.FormatCard(ctx); err != nil {
			return err
		}
		a.out.OK("card formatted")
		return nil
	})(ctx, a, nil)
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))
	}
	return a.withService(ctx, func(ctx context.Context, _ *vault.Service, reader vault.Reader) error {
		cfg := polling.DefaultConfig()
		cfg.PollInterval = a.cfg.Polling.Interval
		cfg.RemovalTimeout = a.cfg.Polling.RemovalTimeout

		monitor, err := polling.NewMonitor(reader, cfg, polling.WithLogger(a.logger))
		if err != nil {
			return err
		}
		monitor.OnCardArrived = func(ev polling.Event) {
			state := "not initialised"
			if ev.IsInitialised {
				state = "initialised"
			}
			a.out.printf("CARD: %s arrived (%s)\n", ev.UIDString(), state)
		}
		monitor.OnCardChanged = func(ev polling.Event) {
			a.out.printf("CARD: %s initialised=%t\n", ev.UIDString(), ev.IsInitialised)
		}
		monitor.OnCardRemoved = func(ev polling.Event) {
			a.out.printf("CARD: %s removed\n", ev.UIDString())
		}
		monitor.OnError = func(err error) {
			a.out.Verbose("probe failed: %v", err)
		}

		a.out.Info("watching for cards, press Ctrl-C to stop")
		err = monitor.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
