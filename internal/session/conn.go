// SPDX-License-Identifier: MIT

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/clipmux/clipmux/internal/log"
)

// Transport bounds for the duplex connection.
const (
	// readIdleTimeout bounds the wait for the next client frame or pong.
	readIdleTimeout = 30 * time.Second
	// pingInterval must stay below readIdleTimeout so pongs keep an idle
	// but healthy peer alive.
	pingInterval = readIdleTimeout * 9 / 10
	// writeTimeout bounds one outbound write.
	writeTimeout = 10 * time.Second
	// maxFrameBytes caps one inbound frame.
	maxFrameBytes = 20 << 20
	// sendQueueDepth buffers outbound replies and chat broadcasts.
	sendQueueDepth = 64
)

// ErrConnClosed reports a send attempted after the peer went away.
var ErrConnClosed = errors.New("session: connection closed")

// Conn is the outbound half of a client connection. Send marshals v into
// one JSON text frame and queues it for the writer; it is safe for
// concurrent use across the four workers and the chat relay and reports a
// dead peer with an error so the caller can drain the session.
type Conn interface {
	Send(v any) error
	Close() error
}

// WSConn adapts a gorilla connection. A single pump goroutine owns every
// write (replies, broadcasts, pings), so handler goroutines never race on
// the socket; reads stay with the gateway loop via ReadFrame.
type WSConn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewWSConn wraps an upgraded connection and starts its write pump.
func NewWSConn(ws *websocket.Conn, logger *zerolog.Logger) *WSConn {
	l := log.WithComponent("conn")
	if logger != nil {
		l = *logger
	}
	c := &WSConn{
		ws:     ws,
		sendCh: make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
		logger: l,
	}
	ws.SetReadLimit(maxFrameBytes)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})
	go c.writePump()
	return c
}

// ReadFrame blocks for the next text frame. The idle deadline restarts on
// every call so a slow inline handler upstream does not expire a healthy
// peer between reads.
func (c *WSConn) ReadFrame() ([]byte, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(readIdleTimeout)); err != nil {
		return nil, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Send queues one JSON frame. It blocks while the outbound buffer is full
// and fails once the connection is closing.
func (c *WSConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case <-c.done:
		return ErrConnClosed
	case c.sendCh <- data:
		return nil
	}
}

// Close tears the connection down exactly once. Pending Sends fail with
// ErrConnClosed and a blocked ReadFrame returns an error.
func (c *WSConn) Close() error {
	c.shutdown()
	return nil
}

func (c *WSConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump serializes all socket writes and keeps the peer alive with
// periodic pings. Any write failure drops the connection.
func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case data := <-c.sendCh:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().
					Err(err).
					Str(log.FieldEvent, "conn.write.failed").
					Msg("write failed, dropping connection")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
