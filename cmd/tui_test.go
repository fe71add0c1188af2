// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/hisiflash/pkg/devsim"
	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
)

// ============================================================
// Test Helpers
// ============================================================

// quietPeer never answers
type quietPeer struct{}

func (quietPeer) Receive([]byte) []byte { return nil }
func (quietPeer) Idle() []byte          { return nil }

// scriptedPort replays data and then reports a disconnect
type scriptedPort struct {
	*devsim.Stream
	data []byte
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.data) == 0 {
		return 0, port.ErrDisconnected
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}

func update(t *testing.T, m flashModel, msg tea.Msg) (flashModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	fm, ok := next.(flashModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return fm, cmd
}

// ============================================================
// Flash TUI Tests
// ============================================================

func TestFlashModel_Progress(t *testing.T) {
	m := newFlashModel("HISIFLASH - FLASH", "Serial: /dev/ttyUSB0", func() {})

	m, _ = update(t, m, stageMsg("Booting loader"))
	m, _ = update(t, m, progressMsg{partition: "loaderboot", done: 1024, total: 4096})
	m, _ = update(t, m, progressMsg{partition: "app", done: 0, total: 8192})
	m, _ = update(t, m, progressMsg{partition: "loaderboot", done: 4096, total: 4096})

	if m.stage != "Booting loader" {
		t.Errorf("stage = %q", m.stage)
	}
	if len(m.partitions) != 2 {
		t.Fatalf("partitions = %d, want 2", len(m.partitions))
	}
	if p := m.partitions[0]; p.name != "loaderboot" || p.done != 4096 {
		t.Errorf("loaderboot = %+v", *p)
	}

	view := m.View()
	for _, want := range []string{"HISIFLASH - FLASH", "loaderboot", "app", "Booting loader"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestFlashModel_QuitCancels(t *testing.T) {
	cancelled := 0
	m := newFlashModel("t", "h", func() { cancelled++ })

	q := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
	m, cmd := update(t, m, q)
	if cancelled != 1 || !m.cancelling {
		t.Fatalf("first q: cancelled=%d cancelling=%v", cancelled, m.cancelling)
	}
	if cmd != nil {
		t.Error("q must not quit before the session ends")
	}

	m, _ = update(t, m, q)
	if cancelled != 1 {
		t.Errorf("cancel called %d times, want 1", cancelled)
	}

	m, cmd = update(t, m, doneMsg{err: iox.ErrInterrupted})
	if !m.finished || cmd == nil {
		t.Fatal("doneMsg should finish and quit")
	}
	if !strings.Contains(m.View(), "Interrupted") {
		t.Error("view should show the interruption")
	}
}

func TestFlashModel_DoneWithError(t *testing.T) {
	m := newFlashModel("t", "h", func() {})
	m, _ = update(t, m, logMsg{message: "WARN\tretrying", isError: true})
	m, _ = update(t, m, doneMsg{err: errors.New("partition 1 (app) download: boom")})

	view := m.View()
	if !strings.Contains(view, "boom") {
		t.Errorf("view should show the error:\n%s", view)
	}
	if len(m.eventLog) != 1 || !m.eventLog[0].isError {
		t.Errorf("eventLog = %+v", m.eventLog)
	}
}

func TestTUISink_FlagsWarnings(t *testing.T) {
	var got []logMsg
	log := newTUILogger(1, func(msg tea.Msg) { got = append(got, msg.(logMsg)) })

	log.Info("Connected")
	log.Warn("Retrying")
	log.Debug("hidden")

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].isError || !strings.Contains(got[0].message, "Connected") {
		t.Errorf("info = %+v", got[0])
	}
	if !got[1].isError {
		t.Errorf("warn should be flagged: %+v", got[1])
	}
}

// ============================================================
// Port Command Tests
// ============================================================

func TestWritePortTable(t *testing.T) {
	ports := []port.Info{
		{Path: "/dev/ttyS0"},
		{Path: "/dev/ttyUSB0", IsUSB: true, VID: 0x1A86, PID: 0x7523, Product: "USB Serial"},
		{Path: "/dev/ttyACM0", IsUSB: true, VID: 0x1234, PID: 0x0001, SerialNumber: "ABC"},
	}

	var out bytes.Buffer
	if n := writePortTable(&out, ports, false); n != 2 {
		t.Errorf("shown = %d, want 2", n)
	}
	s := out.String()
	if strings.Contains(s, "/dev/ttyS0") {
		t.Error("non-USB port listed without --all")
	}
	for _, want := range []string{"/dev/ttyUSB0", "1a86:7523", "WCH", "ABC"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}

	out.Reset()
	if n := writePortTable(&out, ports, true); n != 3 {
		t.Errorf("shown with all = %d, want 3", n)
	}
}

func TestPulseReset(t *testing.T) {
	s := devsim.NewStream("sim", quietPeer{})
	s.DTR = true

	if err := pulseReset(context.Background(), s); err != nil {
		t.Fatalf("pulseReset failed: %v", err)
	}
	if s.DTR || s.RTS {
		t.Errorf("lines left asserted: DTR=%v RTS=%v", s.DTR, s.RTS)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pulseReset(ctx, s); !iox.IsInterrupted(err) {
		t.Errorf("expected interruption, got %v", err)
	}
}

func TestMonitor(t *testing.T) {
	tests := []struct {
		name string
		hex  bool
		want string
	}{
		{"text", false, "boot ok\r\n"},
		{"hex", true, "62 6f 6f 74"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedPort{Stream: devsim.NewStream("sim", quietPeer{}), data: []byte("boot ok\r\n")}

			var out bytes.Buffer
			if err := monitor(context.Background(), p, &out, tt.hex); err != nil {
				t.Fatalf("monitor returned %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestMonitor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := devsim.NewStream("sim", quietPeer{})
	if err := monitor(ctx, s, &bytes.Buffer{}, false); !iox.IsInterrupted(err) {
		t.Errorf("expected interruption, got %v", err)
	}
}
