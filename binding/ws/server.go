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

// Package ws serves a binding.Binding as JSON messages over a websocket.
//
// A client sends {"type","id","payload"} requests and receives one reply per
// request carrying the same type and id, with either a payload or an error
// of the form {"code","message"}. Self-test progress rows are pushed as
// "selftest_progress" messages tagged with the request id, and reader log
// lines are broadcast to every client as "log" messages.
package ws

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ZaparooProject/go-pn532-vault/binding"
	"github.com/ZaparooProject/go-pn532-vault/desfire"
	"github.com/ZaparooProject/go-pn532-vault/vault"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// DefaultSendBuffer is the number of outgoing messages queued per client
	DefaultSendBuffer = 64
)

// CodeInvalidRequest reports a message the server could not dispatch. It
// never comes from the reader itself.
const CodeInvalidRequest vault.Code = "INVALID_REQUEST"

// Pushed message types
const (
	TypeSelfTestProgress = "selftest_progress"
	TypeLog              = "log"
)

// Message is both the request and the reply envelope
type Message struct {
	Error   *vault.Error    `json:"error,omitempty"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LogPayload is the payload of a pushed log message
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ConnectRequest is the payload of a connect request
type ConnectRequest struct {
	Port string `json:"port"`
}

// InitCardRequest is the payload of an init_card request. Keys and the
// secret are 32 hex characters; AID is 6 hex characters and defaults to the
// vault application.
type InitCardRequest struct {
	AID          string `json:"aid,omitempty"`
	AppMasterKey string `json:"appMasterKey"`
	ReadKey      string `json:"readKey"`
	CardSecret   string `json:"cardSecret"`
}

// ReadSecretRequest is the payload of a read_card_secret request
type ReadSecretRequest struct {
	ReadKey string `json:"readKey"`
}

type handler func(c *client, req Message) (any, error)

// Server upgrades HTTP requests to websocket sessions bound to one Binding
type Server struct {
	binding  *binding.Binding
	logger   zerolog.Logger
	handlers map[string]handler
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
	detach   func()
	buffer   int
	mu       sync.RWMutex
	closed   bool
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSendBuffer sets the per client outgoing queue size
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// WithCheckOrigin overrides the origin check of the upgrader. By default
// every origin is accepted since the server is meant to listen on loopback.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewServer serves b and routes its log lines to every connected client
func NewServer(b *binding.Binding, opts ...Option) *Server {
	s := &Server{
		binding: b,
		logger:  zerolog.New(io.Discard),
		clients: make(map[*client]struct{}),
		buffer:  DefaultSendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handlers = map[string]handler{
		"connect":              s.handleConnect,
		"disconnect":           s.handleDisconnect,
		"firmware_version":     s.handleFirmwareVersion,
		"run_self_tests":       s.handleRunSelfTests,
		"card_version":         s.handleCardVersion,
		"peek_card_uid":        s.handlePeekCardUID,
		"is_card_initialised":  s.handleIsCardInitialised,
		"probe_card":           s.handleProbeCard,
		"init_card":            s.handleInitCard,
		"read_card_secret":     s.handleReadCardSecret,
		"card_free_memory":     s.handleCardFreeMemory,
		"format_card":          s.handleFormatCard,
		"card_application_ids": s.handleCardApplicationIDs,
	}
	s.detach = b.AttachLogCallback(s.broadcastLog)
	return s
}

// ServeHTTP upgrades the request and starts the client pumps
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	c := &client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, s.buffer),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("client connected")

	go c.writePump()
	go c.readPump()
}

// Close detaches the server's log callback, drops every client and waits for
// running requests. The binding itself stays open.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.detach()
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) broadcastLog(level, message string) {
	msg, err := encode(Message{Type: TypeLog}, LogPayload{Level: level, Message: message})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		c.enqueue(msg)
	}
}

// dispatch runs req and queues the reply. Runs on its own goroutine.
func (s *Server) dispatch(c *client, req Message) {
	defer s.wg.Done()

	reply := Message{Type: req.Type, ID: req.ID}
	h, ok := s.handlers[req.Type]
	if !ok {
		reply.Error = vault.NewError(CodeInvalidRequest, "unknown message type: "+req.Type, nil)
		c.reply(reply, nil)
		return
	}

	value, err := h(c, req)
	if err != nil {
		reply.Error = asVaultError(err)
		s.logger.Debug().Str("type", req.Type).Str("id", req.ID).
			Str("code", string(reply.Error.Code)).Msg("request failed")
		c.reply(reply, nil)
		return
	}
	c.reply(reply, value)
}

func asVaultError(err error) *vault.Error {
	var ve *vault.Error
	if errors.As(err, &ve) {
		return ve
	}
	return vault.NewError(vault.CodeHardwareError, err.Error(), err)
}

func invalid(format string, args ...any) error {
	return vault.NewError(CodeInvalidRequest, fmt.Sprintf(format, args...), nil)
}

func await[T any](ch <-chan binding.Result[T]) (any, error) {
	res := <-ch
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Value, nil
}

func decodePayload(req Message, v any) error {
	if len(req.Payload) == 0 {
		return invalid("%s: missing payload", req.Type)
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return invalid("%s: invalid payload: %v", req.Type, err)
	}
	return nil
}

func parseKey(field, s string) ([16]byte, error) {
	var key [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(key) {
		return key, invalid("%s must be 32 hex characters", field)
	}
	copy(key[:], b)
	return key, nil
}

func (s *Server) handleConnect(_ *client, req Message) (any, error) {
	var p ConnectRequest
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	if p.Port == "" {
		return nil, invalid("connect: port is required")
	}
	return await(s.binding.Connect(p.Port))
}

func (s *Server) handleDisconnect(*client, Message) (any, error) {
	return await(s.binding.Disconnect())
}

func (s *Server) handleFirmwareVersion(*client, Message) (any, error) {
	return await(s.binding.FirmwareVersion())
}

func (s *Server) handleRunSelfTests(c *client, req Message) (any, error) {
	return await(s.binding.RunSelfTests(func(row binding.SelfTestRow) {
		msg, err := encode(Message{Type: TypeSelfTestProgress, ID: req.ID}, row)
		if err == nil {
			c.enqueue(msg)
		}
	}))
}

func (s *Server) handleCardVersion(*client, Message) (any, error) {
	return await(s.binding.CardVersion())
}

func (s *Server) handlePeekCardUID(*client, Message) (any, error) {
	return await(s.binding.PeekCardUID())
}

func (s *Server) handleIsCardInitialised(*client, Message) (any, error) {
	return await(s.binding.IsCardInitialised())
}

func (s *Server) handleProbeCard(*client, Message) (any, error) {
	return await(s.binding.ProbeCard())
}

func (s *Server) handleInitCard(_ *client, req Message) (any, error) {
	var p InitCardRequest
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}

	opts := vault.CardInitOptions{AID: vault.DefaultAID}
	if p.AID != "" {
		aid, err := desfire.ParseAID(p.AID)
		if err != nil {
			return nil, invalid("aid must be 6 hex characters")
		}
		opts.AID = aid
	}
	var err error
	if opts.AppMasterKey, err = parseKey("appMasterKey", p.AppMasterKey); err != nil {
		return nil, err
	}
	if opts.ReadKey, err = parseKey("readKey", p.ReadKey); err != nil {
		return nil, err
	}
	if opts.CardSecret, err = parseKey("cardSecret", p.CardSecret); err != nil {
		return nil, err
	}
	return await(s.binding.InitCard(opts))
}

func (s *Server) handleReadCardSecret(_ *client, req Message) (any, error) {
	var p ReadSecretRequest
	if err := decodePayload(req, &p); err != nil {
		return nil, err
	}
	key, err := parseKey("readKey", p.ReadKey)
	if err != nil {
		return nil, err
	}
	res := <-s.binding.ReadCardSecret(key)
	if res.Err != nil {
		return nil, res.Err
	}
	return hex.EncodeToString(res.Value), nil
}

func (s *Server) handleCardFreeMemory(*client, Message) (any, error) {
	return await(s.binding.CardFreeMemory())
}

func (s *Server) handleFormatCard(*client, Message) (any, error) {
	return await(s.binding.FormatCard())
}

func (s *Server) handleCardApplicationIDs(*client, Message) (any, error) {
	return await(s.binding.CardApplicationIDs())
}

func encode(msg Message, payload any) ([]byte, error) {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
		}
		msg.Payload = raw
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return out, nil
}

// newRequestID fills in ids for clients that do not track their own
func newRequestID() string {
	return uuid.NewString()
}
