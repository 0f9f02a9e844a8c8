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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/ZaparooProject/go-pn532-vault/internal/config"
)

var errNoTerminal = errors.New("no key file configured and stdin is not a terminal")

// keySource resolves keys from the configured files, falling back to a
// prompt. Prompts hide the input when stdin is a terminal.
type keySource struct {
	files  config.KeysConfig
	stdin  io.Reader
	prompt io.Writer
	lines  *bufio.Reader
}

func newKeySource(files config.KeysConfig, stdin io.Reader, prompt io.Writer) *keySource {
	return &keySource{files: files, stdin: stdin, prompt: prompt}
}

// AppMasterKey returns the vault application master key
func (k *keySource) AppMasterKey() ([16]byte, error) {
	return k.key(k.files.AppMasterKeyFile, "application master key")
}

// ReadKey returns the key that unlocks the card secret
func (k *keySource) ReadKey() ([16]byte, error) {
	return k.key(k.files.ReadKeyFile, "read key")
}

// CardSecret returns the secret written by init
func (k *keySource) CardSecret() ([16]byte, error) {
	return k.key(k.files.CardSecretFile, "card secret")
}

func (k *keySource) key(path, name string) ([16]byte, error) {
	if path != "" {
		key, err := config.LoadKeyHexFile(path)
		if err != nil {
			return key, fmt.Errorf("%s: %w", name, err)
		}
		return key, nil
	}

	line, err := k.readLine(fmt.Sprintf("Enter %s (32 hex chars): ", name))
	if err != nil {
		return [16]byte{}, fmt.Errorf("%s: %w", name, err)
	}
	key, err := config.ParseKey(line)
	if err != nil {
		return key, fmt.Errorf("%s: %w", name, err)
	}
	return key, nil
}

func (k *keySource) readLine(prompt string) (string, error) {
	_, _ = fmt.Fprint(k.prompt, prompt)

	if f, ok := k.stdin.(*os.File); ok {
		fd := int(f.Fd())
		if !term.IsTerminal(fd) {
			return "", errNoTerminal
		}
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(k.prompt)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	if k.lines == nil {
		k.lines = bufio.NewReader(k.stdin)
	}
	line, err := k.lines.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
