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

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ZaparooProject/go-pn532-vault/vault"
)

// client is one websocket session. Outgoing messages go through send and are
// written by writePump only; done is closed once when the session ends.
type client struct {
	conn      *websocket.Conn
	server    *Server
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue drops msg when the client is gone or too slow
func (c *client) enqueue(msg []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.server.logger.Warn().Msg("client send buffer full, dropping message")
	}
}

func (c *client) reply(msg Message, payload any) {
	out, err := encode(msg, payload)
	if err != nil {
		c.server.logger.Error().Err(err).Msg("failed to encode reply")
		msg.Error = vault.NewError(vault.CodeHardwareError, err.Error(), err)
		if out, err = encode(msg, nil); err != nil {
			return
		}
	}
	c.enqueue(out)
}

func (c *client) readPump() {
	defer c.server.wg.Done()
	defer func() {
		c.server.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}

		var req Message
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(Message{Type: "error", Error: vault.NewError(CodeInvalidRequest, "invalid message format", nil)}, nil)
			continue
		}
		if req.ID == "" {
			req.ID = newRequestID()
		}

		c.server.wg.Add(1)
		go c.server.dispatch(c, req)
	}
}

func (c *client) writePump() {
	defer c.server.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
