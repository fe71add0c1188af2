// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package port

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketPort talks to a remote serial bridge. Serial bytes travel in
// tagged binary messages; line control uses CBOR control messages.
//
// A background goroutine owns the connection's read side so Read can honour
// a timeout without setting read deadlines, which leave a gorilla
// connection unusable once they fire.
type WebSocketPort struct {
	conn *websocket.Conn
	url  string

	incoming chan []byte
	done     chan struct{}
	readErr  error // set before incoming is closed

	buf         []byte
	readTimeout time.Duration
	baud        int

	writeMu   sync.Mutex
	modemMu   sync.Mutex
	cts, dsr  bool
	closeOnce sync.Once
}

// OpenWebSocket dials a serial bridge at rawURL
func OpenWebSocket(rawURL string, cfg Config) (*WebSocketPort, error) {
	cfg = cfg.withDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	p := newWebSocketPort(conn, rawURL, cfg)
	if err := p.SetBaudRate(cfg.BaudRate); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func newWebSocketPort(conn *websocket.Conn, name string, cfg Config) *WebSocketPort {
	p := &WebSocketPort{
		conn:        conn,
		url:         name,
		incoming:    make(chan []byte, 64),
		done:        make(chan struct{}),
		readTimeout: cfg.ReadTimeout,
		baud:        cfg.BaudRate,
	}
	go p.readLoop()
	return p
}

// readLoop forwards data messages and applies modem status updates
func (w *WebSocketPort) readLoop() {
	defer close(w.incoming)

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.readErr = err
			return
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}

		switch data[0] {
		case tagData:
			if len(data) == 1 {
				continue
			}
			select {
			case w.incoming <- data[1:]:
			case <-w.done:
				return
			}
		case tagControl:
			w.handleControl(data[1:])
		}
	}
}

func (w *WebSocketPort) handleControl(body []byte) {
	op, payload, err := ParseControl(body)
	if err != nil || op != OpModemStatus {
		return
	}

	w.modemMu.Lock()
	defer w.modemMu.Unlock()
	if v, ok := GetMapBool(payload, KeyCTS); ok {
		w.cts = v
	}
	if v, ok := GetMapBool(payload, KeyDSR); ok {
		w.dsr = v
	}
}

func (w *WebSocketPort) Read(p []byte) (int, error) {
	if len(w.buf) > 0 {
		n := copy(p, w.buf)
		w.buf = w.buf[n:]
		return n, nil
	}

	var timeout <-chan time.Time
	if w.readTimeout > 0 {
		timer := time.NewTimer(w.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case data, ok := <-w.incoming:
		if !ok {
			return 0, fmt.Errorf("%w: %v", ErrDisconnected, w.readErr)
		}
		n := copy(p, data)
		w.buf = data[n:]
		return n, nil
	case <-timeout:
		return 0, nil
	case <-w.done:
		return 0, ErrClosed
	}
}

func (w *WebSocketPort) Write(p []byte) (int, error) {
	if err := w.send(frameData(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketPort) send(msg []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	if err := w.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (w *WebSocketPort) control(op uint8, payload map[int]interface{}) error {
	msg, err := frameControl(op, payload)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}
	return w.send(msg)
}

func (w *WebSocketPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

// Name returns the bridge URL
func (w *WebSocketPort) Name() string {
	return w.url
}

func (w *WebSocketPort) SetReadTimeout(d time.Duration) error {
	w.readTimeout = d
	return nil
}

func (w *WebSocketPort) BaudRate() int {
	return w.baud
}

// SetBaudRate asks the bridge to change the line rate of its serial port
func (w *WebSocketPort) SetBaudRate(baud int) error {
	if err := w.control(OpSetBaudRate, map[int]interface{}{KeyValue: uint64(baud)}); err != nil {
		return err
	}
	w.baud = baud
	return nil
}

func (w *WebSocketPort) SetDTR(on bool) error {
	return w.control(OpSetDTR, map[int]interface{}{KeyValue: on})
}

func (w *WebSocketPort) SetRTS(on bool) error {
	return w.control(OpSetRTS, map[int]interface{}{KeyValue: on})
}

// CTS returns the last state reported by the bridge
func (w *WebSocketPort) CTS() (bool, error) {
	w.modemMu.Lock()
	defer w.modemMu.Unlock()
	return w.cts, nil
}

// DSR returns the last state reported by the bridge
func (w *WebSocketPort) DSR() (bool, error) {
	w.modemMu.Lock()
	defer w.modemMu.Unlock()
	return w.dsr, nil
}

// Flush is a no-op; WriteMessage returns once the frame is on the socket
func (w *WebSocketPort) Flush() error {
	return nil
}

// ClearBuffers drops locally queued input and asks the bridge to clear
// its serial buffers
func (w *WebSocketPort) ClearBuffers() error {
	w.buf = nil
	for {
		select {
		case _, ok := <-w.incoming:
			if !ok {
				return w.control(OpClearBuffers, nil)
			}
		default:
			return w.control(OpClearBuffers, nil)
		}
	}
}
