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

// vaultctl drives a PN532 reader and the DESFire vault cards it provisions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/internal/config"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// readerOverride replaces the PN532 adapter when set
var readerOverride func() vault.Reader

// app carries what every subcommand needs
type app struct {
	cfg       *config.Config
	out       *Output
	newReader func() vault.Reader
	keys      *keySource
	logger    zerolog.Logger
	port      string
	timeout   time.Duration
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vaultctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	portFlag := fs.String("port", "", "Serial port or I2C bus (default: first detected)")
	verbose := fs.Bool("verbose", false, "Enable debug logging, including PN532 frames")
	timeout := fs.Duration("timeout", 30*time.Second, "Timeout for one command")
	fs.Usage = func() { usage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if *portFlag != "" {
		cfg.Reader.Port = *portFlag
	}

	logger := newLogger(cfg, stderr, *verbose)
	if *verbose {
		pn532.SetLogger(logger.With().Str("component", "pn532").Logger())
	}

	a := &app{
		cfg:     cfg,
		out:     NewOutput(stdout, *verbose),
		logger:  logger,
		port:    cfg.Reader.Port,
		timeout: *timeout,
	}
	a.keys = newKeySource(cfg.Keys, stdin, stderr)
	a.newReader = a.newAdapter
	if readerOverride != nil {
		a.newReader = readerOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		a.out.Error("%v", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config, w io.Writer, verbose bool) zerolog.Logger {
	level, err := cfg.LogLevel()
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}

	if !cfg.Log.JSON {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func (a *app) newAdapter() vault.Reader {
	aid, err := a.cfg.VaultAID()
	if err != nil {
		aid = vault.DefaultAID
	}
	return vault.NewAdapter(
		vault.WithLogger(a.logger),
		vault.WithVaultAID(aid),
		vault.WithAntennaThresholds(a.cfg.Reader.AntennaLow, a.cfg.Reader.AntennaHigh),
	)
}

func usage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: vaultctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Flags:")
	var b strings.Builder
	fs.SetOutput(&b)
	fs.PrintDefaults()
	fs.SetOutput(w)
	_, _ = fmt.Fprint(w, b.String())
}
