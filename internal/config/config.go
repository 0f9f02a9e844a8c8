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

// Package config loads the vaultctl YAML configuration.
package config

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ZaparooProject/go-pn532-vault/desfire"
)

// ErrEmptyKeyFile is returned for a key file without a key line
var ErrEmptyKeyFile = errors.New("key file is empty")

// Config is the vaultctl configuration file
type Config struct {
	Reader  ReaderConfig  `yaml:"reader"`
	Vault   VaultConfig   `yaml:"vault"`
	Keys    KeysConfig    `yaml:"keys"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Polling PollingConfig `yaml:"polling"`
}

// ReaderConfig selects and tunes the reader
type ReaderConfig struct {
	// Port is the serial port or I2C bus. Empty picks the first detected
	// candidate.
	Port        string   `yaml:"port"`
	IgnorePaths []string `yaml:"ignore_paths"`
	Blocklist   []string `yaml:"blocklist"`
	AntennaLow  byte     `yaml:"antenna_low"`
	AntennaHigh byte     `yaml:"antenna_high"`
	IncludeI2C  bool     `yaml:"include_i2c"`
}

// VaultConfig describes the card application
type VaultConfig struct {
	AID string `yaml:"aid"`
}

// KeysConfig points at hex key files. Unset files are prompted for.
type KeysConfig struct {
	AppMasterKeyFile string `yaml:"app_master_key_file"`
	ReadKeyFile      string `yaml:"read_key_file"`
	CardSecretFile   string `yaml:"card_secret_file"`
}

// LogConfig controls console logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the websocket server
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// PollingConfig configures card presence monitoring
type PollingConfig struct {
	Interval       time.Duration `yaml:"interval"`
	RemovalTimeout time.Duration `yaml:"removal_timeout"`
}

// Default returns the configuration used without a file
func Default() *Config {
	return &Config{
		Reader: ReaderConfig{
			AntennaLow:  0x01,
			AntennaHigh: 0x02,
		},
		Vault:  VaultConfig{AID: "505700"},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Listen: "127.0.0.1:8532"},
		Polling: PollingConfig{
			Interval:       250 * time.Millisecond,
			RemovalTimeout: 600 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected and relative
// key file paths resolve against the directory of path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(path)
	if err := cfg.validateKeyFiles(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML content over the defaults and validates it
func Parse(content []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that do not touch the filesystem
func (c *Config) Validate() error {
	if c.Reader.AntennaLow > 3 {
		return errors.New("config.reader.antenna_low must be between 0 and 3")
	}
	if c.Reader.AntennaHigh > 3 {
		return errors.New("config.reader.antenna_high must be between 0 and 3")
	}
	if _, err := c.VaultAID(); err != nil {
		return fmt.Errorf("config.vault.aid: %w", err)
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("config.server.listen is required")
	}
	if c.Polling.Interval <= 0 {
		return errors.New("config.polling.interval must be positive")
	}
	if c.Polling.RemovalTimeout < 0 {
		return errors.New("config.polling.removal_timeout must not be negative")
	}
	return nil
}

// VaultAID returns the configured application id
func (c *Config) VaultAID() (desfire.AID, error) {
	aid, err := desfire.ParseAID(strings.TrimSpace(c.Vault.AID))
	if err != nil {
		return desfire.AID{}, err
	}
	return aid, nil
}

// LogLevel returns the configured zerolog level
func (c *Config) LogLevel() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Log.Level)))
	if err != nil {
		return zerolog.NoLevel, err
	}
	return level, nil
}

func (c *Config) validateKeyFiles() error {
	files := []struct {
		path  string
		field string
	}{
		{c.Keys.AppMasterKeyFile, "config.keys.app_master_key_file"},
		{c.Keys.ReadKeyFile, "config.keys.read_key_file"},
		{c.Keys.CardSecretFile, "config.keys.card_secret_file"},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if err := validateReadableFile(f.path, f.field); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Keys.AppMasterKeyFile = resolvePath(configDir, c.Keys.AppMasterKeyFile)
	c.Keys.ReadKeyFile = resolvePath(configDir, c.Keys.ReadKeyFile)
	c.Keys.CardSecretFile = resolvePath(configDir, c.Keys.CardSecretFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}

// LoadKeyHexFile reads a 16 byte key from the first non-empty line of path,
// written as 32 hex characters
func LoadKeyHexFile(path string) ([16]byte, error) {
	var key [16]byte
	f, err := os.Open(path)
	if err != nil {
		return key, fmt.Errorf("open key file: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		return ParseKey(line)
	}
	if err := scanner.Err(); err != nil {
		return key, fmt.Errorf("read key file: %w", err)
	}
	return key, ErrEmptyKeyFile
}

// ParseKey decodes 32 hex characters into a key
func ParseKey(s string) ([16]byte, error) {
	var key [16]byte
	s = strings.TrimSpace(s)
	if len(s) != 2*len(key) {
		return key, fmt.Errorf("key must be 32 hex chars, got %d", len(s))
	}
	if _, err := hex.Decode(key[:], []byte(s)); err != nil {
		return key, fmt.Errorf("invalid hex key: %w", err)
	}
	return key, nil
}
