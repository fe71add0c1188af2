// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package port

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// ============================================================
// Error Classification Tests
// ============================================================

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"EIO", fmt.Errorf("read: %w", syscall.EIO), true},
		{"ENXIO", syscall.ENXIO, true},
		{"ENODEV", syscall.ENODEV, true},
		{"EPIPE", &os.PathError{Op: "write", Path: "/dev/ttyUSB0", Err: syscall.EPIPE}, true},
		{"EOF", io.EOF, true},
		{"os.ErrClosed", os.ErrClosed, true},
		{"serial busy", &serial.PortError{}, false},
		{"disconnected sentinel", fmt.Errorf("%w: gone", ErrDisconnected), true},
		{"websocket close", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"text only", errors.New("write /dev/ttyACM0: Broken pipe"), true},
		{"timeout", errors.New("timeout waiting for ACK"), false},
		{"busy", syscall.EBUSY, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDisconnect(tt.err); got != tt.want {
				t.Errorf("IsDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsBusyAndPermission(t *testing.T) {
	if !IsBusy(fmt.Errorf("open: %w", syscall.EBUSY)) {
		t.Error("EBUSY should be busy")
	}
	if IsBusy(syscall.EIO) {
		t.Error("EIO is not busy")
	}
	if !IsPermission(&os.PathError{Op: "open", Path: "/dev/ttyUSB0", Err: syscall.EACCES}) {
		t.Error("EACCES should be a permission error")
	}
	if IsPermission(nil) || IsBusy(nil) {
		t.Error("nil is neither busy nor permission")
	}
}

// ============================================================
// Control Message Tests
// ============================================================

func TestControl_RoundTrip(t *testing.T) {
	data, err := EncodeControl(OpSetBaudRate, map[int]interface{}{KeyValue: uint64(921600)})
	if err != nil {
		t.Fatalf("EncodeControl failed: %v", err)
	}

	op, payload, err := ParseControl(data)
	if err != nil {
		t.Fatalf("ParseControl failed: %v", err)
	}
	if op != OpSetBaudRate {
		t.Errorf("op = %d, want %d", op, OpSetBaudRate)
	}
	// CBOR decodes non-negative integers as uint64
	if v, ok := payload[KeyValue].(uint64); !ok || v != 921600 {
		t.Errorf("value = %v (%T), want uint64 921600", payload[KeyValue], payload[KeyValue])
	}
}

func TestControl_EmptyPayload(t *testing.T) {
	data, err := EncodeControl(OpClearBuffers, nil)
	if err != nil {
		t.Fatalf("EncodeControl failed: %v", err)
	}
	op, payload, err := ParseControl(data)
	if err != nil || op != OpClearBuffers || payload != nil {
		t.Errorf("ParseControl = %d, %v, %v", op, payload, err)
	}
}

func TestControl_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xFF, 0x00}},
		{"not an array", []byte{0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseControl(tt.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ============================================================
// Enumerator Tests
// ============================================================

type staticLister []Info

func (s staticLister) List() ([]Info, error) { return s, nil }

func TestAutodetect(t *testing.T) {
	ports := staticLister{
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyACM0", IsUSB: true, VID: 0x2E8A, PID: 0x0005},
		{Path: "/dev/ttyUSB0", IsUSB: true, VID: 0x1A86, PID: 0x7523},
	}
	got, err := Autodetect(ports)
	if err != nil {
		t.Fatalf("Autodetect failed: %v", err)
	}
	if got.Path != "/dev/ttyUSB0" {
		t.Errorf("Autodetect = %s, want known bridge /dev/ttyUSB0", got.Path)
	}

	got, err = Autodetect(ports[:2])
	if err != nil || got.Path != "/dev/ttyACM0" {
		t.Errorf("fallback = %v, %v", got, err)
	}

	if _, err := Autodetect(ports[:1]); err == nil {
		t.Error("expected error with no USB ports")
	}
}

func TestParseUSBID(t *testing.T) {
	if got := parseUSBID("1a86"); got != 0x1A86 {
		t.Errorf("parseUSBID = 0x%04X", got)
	}
	if got := parseUSBID("zz"); got != 0 {
		t.Errorf("invalid id should parse as 0, got 0x%04X", got)
	}
	if got := (Info{VID: 0x10C4, PID: 0xEA60}).USBID(); got != "10c4:ea60" {
		t.Errorf("USBID = %s", got)
	}
}

func TestIsWebSocketURL(t *testing.T) {
	for name, want := range map[string]bool{
		"ws://bridge.local/serial": true,
		"wss://bridge.local":       true,
		"/dev/ttyUSB0":             false,
		"COM3":                     false,
	} {
		if got := IsWebSocketURL(name); got != want {
			t.Errorf("IsWebSocketURL(%q) = %v", name, got)
		}
	}
}

// ============================================================
// WebSocket Bridge Tests
// ============================================================

// bridgeServer echoes data messages and records control operations
func bridgeServer(t *testing.T, controls chan<- uint8) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		status, _ := frameControl(OpModemStatus, map[int]interface{}{KeyCTS: true, KeyDSR: false})
		_ = conn.WriteMessage(websocket.BinaryMessage, status)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			switch data[0] {
			case tagData:
				if string(data[1:]) == "bye" {
					return
				}
				_ = conn.WriteMessage(websocket.BinaryMessage, data)
			case tagControl:
				if op, _, err := ParseControl(data[1:]); err == nil {
					controls <- op
				}
			}
		}
	}))
}

func TestWebSocketPort_EchoAndControl(t *testing.T) {
	controls := make(chan uint8, 16)
	srv := bridgeServer(t, controls)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := OpenWebSocket(url, Config{BaudRate: 115200, ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer p.Close()

	if op := <-controls; op != OpSetBaudRate {
		t.Errorf("first control op = %d, want baud rate", op)
	}

	if _, err := p.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got := make([]byte, 0, 5)
	buf := make([]byte, 2)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 5 && time.Now().Before(deadline) {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "hello" {
		t.Errorf("echo = %q, want %q", got, "hello")
	}

	if err := p.SetDTR(true); err != nil {
		t.Fatalf("SetDTR failed: %v", err)
	}
	if op := <-controls; op != OpSetDTR {
		t.Errorf("control op = %d, want DTR", op)
	}

	if cts, _ := p.CTS(); !cts {
		t.Error("CTS should reflect the bridge status message")
	}
}

func TestWebSocketPort_ReadTimeout(t *testing.T) {
	controls := make(chan uint8, 16)
	srv := bridgeServer(t, controls)
	defer srv.Close()

	p, err := OpenWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), Config{ReadTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer p.Close()

	n, err := p.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("idle Read = %d, %v; want 0, nil", n, err)
	}
}

func TestWebSocketPort_RemoteCloseIsDisconnect(t *testing.T) {
	controls := make(chan uint8, 16)
	srv := bridgeServer(t, controls)
	defer srv.Close()

	p, err := OpenWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), Config{ReadTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("OpenWebSocket failed: %v", err)
	}
	defer p.Close()

	if _, err := p.Write([]byte("bye")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := p.Read(make([]byte, 8))
		if err != nil {
			if !IsDisconnect(err) {
				t.Errorf("remote close error %v not classified as disconnect", err)
			}
			return
		}
	}
	t.Error("remote close never surfaced")
}

func TestWebSocketPort_BadScheme(t *testing.T) {
	if _, err := OpenWebSocket("http://example.com", Config{}); err == nil {
		t.Error("expected error for http scheme")
	}
}
