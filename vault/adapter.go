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
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	pn532 "github.com/ZaparooProject/go-pn532-vault"
	"github.com/ZaparooProject/go-pn532-vault/desfire"
	"github.com/ZaparooProject/go-pn532-vault/internal/crypt"
	"github.com/ZaparooProject/go-pn532-vault/session"
	"github.com/ZaparooProject/go-pn532-vault/transport/i2c"
	"github.com/ZaparooProject/go-pn532-vault/transport/uart"
)

// Default self-antenna test thresholds
const (
	DefaultAntennaLow  byte = 0x01
	DefaultAntennaHigh byte = 0x02
)

// passiveActivationRetries makes a detection give up after one attempt
const passiveActivationRetries = 0x01

// TeardownStage names one step of Disconnect
type TeardownStage string

// Teardown stages, in the order Disconnect runs them
const (
	StageSessionManager TeardownStage = "session_manager"
	StageDevice         TeardownStage = "device"
	StageDriver         TeardownStage = "driver"
	StageTransport      TeardownStage = "transport"
)

// Adapter drives one PN532 and the DESFire cards presented to it.
//
// Thread Safety: every exported method holds the adapter lock for its whole
// duration, so at most one operation touches the reader at a time.
type Adapter struct {
	transportFactory pn532.TransportFactory
	teardownHook     func(TeardownStage)
	transport        pn532.Transport
	device           *pn532.Device
	manager          *session.Manager
	logCallback      atomic.Pointer[LogCallback]
	logger           zerolog.Logger
	deviceOpts       []pn532.Option
	mu               sync.Mutex
	vaultAID         desfire.AID
	antennaLow       byte
	antennaHigh      byte
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithVaultAID sets the application that holds the vault secret
func WithVaultAID(aid desfire.AID) AdapterOption {
	return func(a *Adapter) {
		a.vaultAID = aid
	}
}

// WithAntennaThresholds sets the current detector thresholds of the antenna
// self-test
func WithAntennaThresholds(low, high byte) AdapterOption {
	return func(a *Adapter) {
		a.antennaLow, a.antennaHigh = low, high
	}
}

// WithTransportFactory replaces the factory that opens ports
func WithTransportFactory(factory pn532.TransportFactory) AdapterOption {
	return func(a *Adapter) {
		a.transportFactory = factory
	}
}

// WithLogger sets the base logger. Lines below its level never reach the
// log callback.
func WithLogger(l zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = l
	}
}

// WithTeardownHook registers fn to observe each Disconnect stage
func WithTeardownHook(fn func(TeardownStage)) AdapterOption {
	return func(a *Adapter) {
		a.teardownHook = fn
	}
}

// WithDeviceOptions passes options to every pn532.Device the adapter creates
func WithDeviceOptions(opts ...pn532.Option) AdapterOption {
	return func(a *Adapter) {
		a.deviceOpts = append(a.deviceOpts, opts...)
	}
}

// NewAdapter creates a disconnected adapter
func NewAdapter(opts ...AdapterOption) *Adapter {
	a := &Adapter{
		transportFactory: OpenTransport,
		logger:           zerolog.New(io.Discard),
		vaultAID:         DefaultAID,
		antennaLow:       DefaultAntennaLow,
		antennaHigh:      DefaultAntennaHigh,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().Str("component", "vault").Logger().Hook(callbackHook{a: a})
	return a
}

// OpenTransport opens an I2C bus when port names one and a UART otherwise
func OpenTransport(port string) (pn532.Transport, error) {
	if i2c.IsI2CPort(port) {
		t, err := i2c.New(port)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := uart.New(port)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type callbackHook struct {
	a *Adapter
}

func (h callbackHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if fn := h.a.logCallback.Load(); fn != nil {
		(*fn)(level.String(), msg)
	}
}

// SetLogCallback forwards every adapter log line to fn. nil detaches the
// current callback.
func (a *Adapter) SetLogCallback(fn LogCallback) {
	if fn == nil {
		a.logCallback.Store(nil)
		return
	}
	a.logCallback.Store(&fn)
}

// Connected reports whether a connection is open
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device != nil
}

// Connect opens port, initializes the PN532 and prepares card sessions
func (a *Adapter) Connect(ctx context.Context, port string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.device != nil {
		return "", NewError(CodeHardwareError, "already connected", nil)
	}

	t, err := a.transportFactory(port)
	if err != nil {
		a.logger.Error().Err(err).Str("port", port).Msg("failed to open serial port")
		if errors.Is(err, pn532.ErrNotSupported) {
			return "", NewError(CodeNotSupported, "no transport backend for "+port, err)
		}
		return "", NewError(CodeHardwareError, "failed to open serial port: "+port, err)
	}

	device, err := pn532.New(t, a.deviceOpts...)
	if err == nil {
		err = initDevice(ctx, device)
	}
	if err != nil {
		if cerr := t.Close(); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("failed to close transport after init failure")
		}
		a.logger.Error().Err(err).Str("port", port).Msg("PN532 initialization failed")
		return "", toError(err)
	}

	a.transport = t
	a.device = device
	a.manager = session.NewManager(device)
	a.logger.Info().Msgf("connected to PN532 on %s (%s)", port, device.FirmwareVersion())
	return "Successfully connected to PN532 on " + port, nil
}

func initDevice(ctx context.Context, device *pn532.Device) error {
	if err := device.InitContext(ctx); err != nil {
		return err
	}
	if err := device.SAMConfigurationContext(ctx, pn532.SAMModeNormal); err != nil {
		return fmt.Errorf("SAM configuration failed: %w", err)
	}
	if err := device.SetPassiveActivationRetriesContext(ctx, passiveActivationRetries); err != nil {
		return fmt.Errorf("failed to set activation retries: %w", err)
	}
	return nil
}

// Disconnect tears the connection down. It always returns true.
func (a *Adapter) Disconnect(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.teardown(ctx)
	return true
}

func (a *Adapter) teardown(ctx context.Context) {
	if a.transport == nil {
		return
	}

	if err := a.manager.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close card session")
	}
	a.manager = nil
	a.stage(StageSessionManager)

	// targets activated without a session stay selected in the field
	if err := a.device.InReleaseContext(ctx, 0); err != nil {
		a.logger.Debug().Err(err).Msg("failed to release targets")
	}
	a.stage(StageDevice)

	a.device = nil
	a.stage(StageDriver)

	if err := a.transport.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close transport")
	}
	a.transport = nil
	a.stage(StageTransport)

	a.logger.Info().Msg("disconnected")
}

func (a *Adapter) stage(s TeardownStage) {
	if a.teardownHook != nil {
		a.teardownHook(s)
	}
}

// checkConnected must be called with the lock held
func (a *Adapter) checkConnected() error {
	if a.device == nil {
		return NewError(CodeNotConnected, "reader is not connected", nil)
	}
	return nil
}

// fail maps err and logs it under op
func (a *Adapter) fail(op string, err error) error {
	mapped := toError(err)
	var ve *Error
	if errors.As(mapped, &ve) && ve.Code != CodeNotConnected && ve.Code != CodeNoCard {
		a.logger.Error().Str("code", string(ve.Code)).Msgf("%s failed: %s", op, ve.Message)
	}
	return mapped
}

// FirmwareVersion queries the PN532 firmware
func (a *Adapter) FirmwareVersion(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return "", err
	}

	fw, err := a.device.FirmwareVersionContext(ctx)
	if err != nil {
		return "", a.fail("firmware query", err)
	}
	return fw.String(), nil
}

// RunSelfTests runs the five reader self-tests in canonical order. onProgress
// is called after each test; a failed test does not stop the rest.
func (a *Adapter) RunSelfTests(ctx context.Context, onProgress ProgressCallback) (*SelfTestReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	report := &SelfTestReport{}
	for i, test := range a.selfTests() {
		res := runSelfTest(ctx, a.device, SelfTestNames[i], test)
		report.Results[i] = res

		ev := a.logger.Info()
		if res.Outcome == OutcomeFailed {
			ev = a.logger.Warn()
		}
		ev.Msgf("self-test %s: %s", res.Name, res.Outcome)

		if onProgress != nil {
			onProgress(res)
		}
	}
	return report, nil
}

// withSession opens a session on card and runs fn with its DESFire handle.
// The session is closed on every path.
func (a *Adapter) withSession(ctx context.Context, card *session.Card, fn func(*desfire.Card) error) error {
	sess, err := a.manager.Open(card)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			a.logger.Warn().Err(cerr).Msg("failed to close card session")
		}
	}()

	handle, ok := sess.Handle().(*desfire.Card)
	if !ok {
		return fmt.Errorf("session handle is %T: %w", sess.Handle(), session.ErrUnsupportedCardType)
	}
	return fn(handle)
}

// withCard runs one detection and then fn in a session on the card found
func (a *Adapter) withCard(ctx context.Context, fn func(*desfire.Card) error) error {
	card, err := a.manager.Detect(ctx)
	if errors.Is(err, session.ErrUnsupportedCardType) {
		a.release(ctx, card)
	}
	if err != nil {
		return err
	}
	return a.withSession(ctx, card, fn)
}

// release deactivates a card that was detected but never got a session
func (a *Adapter) release(ctx context.Context, card *session.Card) {
	if err := a.manager.Release(ctx, card); err != nil {
		a.logger.Warn().Err(err).Msg("failed to release card")
	}
}

func (a *Adapter) hasVaultApp(ctx context.Context, card *desfire.Card) (bool, error) {
	if err := card.SelectApplication(ctx, desfire.RootAID); err != nil {
		return false, err
	}
	aids, err := card.ApplicationIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, aid := range aids {
		if aid == a.vaultAID {
			return true, nil
		}
	}
	return false, nil
}

// PeekCardUID returns the UID of the card in the field without opening a
// session. Any card type is accepted.
func (a *Adapter) PeekCardUID(ctx context.Context) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	card, err := a.manager.Detect(ctx)
	if err != nil && !errors.Is(err, session.ErrUnsupportedCardType) {
		return nil, a.fail("card detection", err)
	}
	a.release(ctx, card)
	return append([]byte(nil), card.UID...), nil
}

// IsCardInitialised reports whether the card carries the vault application
func (a *Adapter) IsCardInitialised(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return false, err
	}

	var found bool
	err := a.withCard(ctx, func(card *desfire.Card) error {
		var err error
		found, err = a.hasVaultApp(ctx, card)
		return err
	})
	if err != nil {
		return false, a.fail("vault lookup", err)
	}
	return found, nil
}

// ProbeCard combines PeekCardUID and IsCardInitialised in one detection. An
// empty field is not an error, and once a card is seen every later failure
// reads as not initialised.
func (a *Adapter) ProbeCard(ctx context.Context) (*CardProbeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	card, err := a.manager.Detect(ctx)
	switch {
	case errors.Is(err, session.ErrNoCardPresent):
		return &CardProbeResult{}, nil
	case errors.Is(err, session.ErrUnsupportedCardType):
		a.logger.Debug().Msgf("probe found %s card %s", card.Type, card.UIDString())
		a.release(ctx, card)
		return &CardProbeResult{UID: append([]byte(nil), card.UID...)}, nil
	case err != nil:
		return nil, a.fail("card detection", err)
	}

	result := &CardProbeResult{UID: append([]byte(nil), card.UID...)}
	err = a.withSession(ctx, card, func(dc *desfire.Card) error {
		var err error
		result.IsInitialised, err = a.hasVaultApp(ctx, dc)
		return err
	})
	if err != nil {
		a.logger.Debug().Err(err).Msg("probe could not list applications")
		result.IsInitialised = false
	}
	return result, nil
}

type initStep struct {
	run  func() error
	name string
}

// InitCard provisions a factory fresh card as a vault. The steps are not
// rolled back when one fails.
func (a *Adapter) InitCard(ctx context.Context, opts *CardInitOptions) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return false, err
	}
	if opts == nil {
		return false, NewError(CodeHardwareError, "missing card init options", nil)
	}

	err := a.withCard(ctx, func(card *desfire.Card) error {
		zero := make([]byte, 16)
		payload := append(append([]byte(nil), opts.CardSecret[:]...), zero...)
		steps := []initStep{
			{name: "select root application", run: func() error {
				return card.SelectApplication(ctx, desfire.RootAID)
			}},
			{name: "authenticate PICC master key", run: func() error {
				return card.Authenticate(ctx, desfire.AuthISO, 0, zero)
			}},
			{name: "disable random UID", run: func() error {
				return card.SetConfiguration(ctx, 0x00, []byte{0x00})
			}},
			{name: "create application", run: func() error {
				return card.CreateApplication(ctx, opts.AID, desfire.KeySettingsDefault, 2, crypt.KeyAES)
			}},
			{name: "select application", run: func() error {
				return card.SelectApplication(ctx, opts.AID)
			}},
			{name: "authenticate default application key", run: func() error {
				return card.Authenticate(ctx, desfire.AuthAES, 0, zero)
			}},
			{name: "create secret file", run: func() error {
				return card.CreateBackupDataFile(ctx, 0, desfire.CommEnciphered,
					desfire.AccessRights{Read: 1, Write: 0, ReadWrite: 0, Change: 0}, 32)
			}},
			{name: "change read key", run: func() error {
				return card.ChangeKey(ctx, 1, opts.ReadKey[:], zero, 0x00)
			}},
			{name: "change application master key", run: func() error {
				return card.ChangeKey(ctx, 0, opts.AppMasterKey[:], nil, 0x00)
			}},
			{name: "authenticate application master key", run: func() error {
				return card.Authenticate(ctx, desfire.AuthAES, 0, opts.AppMasterKey[:])
			}},
			{name: "write secret", run: func() error {
				return card.WriteData(ctx, 0, 0, payload, desfire.CommEnciphered)
			}},
			{name: "commit transaction", run: func() error {
				return card.CommitTransaction(ctx)
			}},
		}
		for _, step := range steps {
			if err := step.run(); err != nil {
				return fmt.Errorf("%s: %w", step.name, err)
			}
			a.logger.Debug().Msgf("init card: %s", step.name)
		}
		return nil
	})
	if err != nil {
		return false, a.fail("card initialisation", err)
	}
	a.logger.Info().Msgf("initialised vault application %s", opts.AID)
	return true, nil
}

// ReadCardSecret authenticates with the read key and returns the 16 byte
// card secret
func (a *Adapter) ReadCardSecret(ctx context.Context, readKey [16]byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	var secret []byte
	err := a.withCard(ctx, func(card *desfire.Card) error {
		if err := card.SelectApplication(ctx, a.vaultAID); err != nil {
			return err
		}
		if err := card.Authenticate(ctx, desfire.AuthAES, 1, readKey[:]); err != nil {
			return err
		}
		var err error
		secret, err = card.ReadData(ctx, 0, 0, 16, desfire.CommEnciphered)
		return err
	})
	if err != nil {
		return nil, a.fail("secret read", err)
	}
	return secret, nil
}

// CardFreeMemory returns the free user memory of the card in bytes
func (a *Adapter) CardFreeMemory(ctx context.Context) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return 0, err
	}

	var free uint32
	err := a.withCard(ctx, func(card *desfire.Card) error {
		var err error
		free, err = card.FreeMemory(ctx)
		return err
	})
	if err != nil {
		return 0, a.fail("free memory query", err)
	}
	return free, nil
}

// FormatCard erases every application. The PICC master key must still be the
// factory default.
func (a *Adapter) FormatCard(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return false, err
	}

	err := a.withCard(ctx, func(card *desfire.Card) error {
		if err := card.SelectApplication(ctx, desfire.RootAID); err != nil {
			return err
		}
		if err := card.Authenticate(ctx, desfire.AuthISO, 0, make([]byte, 16)); err != nil {
			return err
		}
		return card.FormatPICC(ctx)
	})
	if err != nil {
		return false, a.fail("format", err)
	}
	a.logger.Info().Msg("card formatted")
	return true, nil
}

// CardApplicationIDs lists the applications on the card as 6 hex digits each
func (a *Adapter) CardApplicationIDs(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	var ids []string
	err := a.withCard(ctx, func(card *desfire.Card) error {
		if err := card.SelectApplication(ctx, desfire.RootAID); err != nil {
			return err
		}
		aids, err := card.ApplicationIDs(ctx)
		if err != nil {
			return err
		}
		ids = make([]string, len(aids))
		for i, aid := range aids {
			ids[i] = aid.String()
		}
		return nil
	})
	if err != nil {
		return nil, a.fail("application listing", err)
	}
	return ids, nil
}

// CardVersion reads and formats the card's GetVersion data
func (a *Adapter) CardVersion(ctx context.Context) (*CardVersionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkConnected(); err != nil {
		return nil, err
	}

	var info *CardVersionInfo
	err := a.withCard(ctx, func(card *desfire.Card) error {
		v, err := card.Version(ctx)
		if err != nil {
			return err
		}
		info = NewCardVersionInfo(v)
		return nil
	})
	if err != nil {
		return nil, a.fail("card version query", err)
	}
	return info, nil
}
