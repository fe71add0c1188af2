// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
	"github.com/Thermoquad/hisiflash/pkg/seboot"
)

// ConnState is the state of the handshake
type ConnState int

const (
	StateIdle ConnState = iota
	StateProbing
	StateConnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Phase selects the probe pacing while probing
type Phase int

const (
	PhaseStartup Phase = iota
	PhaseHeartbeatBoost
	PhaseNormal
	PhaseAppMode
)

func (p Phase) String() string {
	switch p {
	case PhaseStartup:
		return "startup"
	case PhaseHeartbeatBoost:
		return "heartbeat boost"
	case PhaseNormal:
		return "normal"
	case PhaseAppMode:
		return "app mode suspected"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Boot ROM output that signals a reset into download mode
var (
	heartbeatByte = byte('.')
	bootBanners   = [][]byte{
		[]byte("boot"), []byte("Boot"), []byte("BOOT"),
		[]byte("ROM"), []byte("rom"),
	}
)

// Banner fragments longer than this are treated as application output
const maxBannerChunk = 64

func isHeartbeat(chunk []byte) bool {
	if len(chunk) > 0 && bytes.Count(chunk, []byte{heartbeatByte}) == len(chunk) {
		return true
	}
	if len(chunk) > maxBannerChunk {
		return false
	}
	for _, b := range bootBanners {
		if bytes.Contains(chunk, b) {
			return true
		}
	}
	return false
}

// probeState tracks pacing for one attempt
type probeState struct {
	timing HandshakeTiming

	start      time.Time
	lastTx     time.Time
	lastRx     time.Time
	boostUntil time.Time
	graceUntil time.Time

	phase   Phase
	noise   int
	appMode bool
	probes  int
}

func newProbeState(t HandshakeTiming, now time.Time) *probeState {
	return &probeState{timing: t, start: now, phase: PhaseStartup}
}

// observe accounts for a chunk of non-ACK input
func (s *probeState) observe(chunk []byte, now time.Time) {
	s.lastRx = now
	if isHeartbeat(chunk) {
		s.boostUntil = now.Add(s.timing.HeartbeatWindow)
		s.noise = 0
		s.appMode = false
		return
	}
	s.noise += len(chunk)
	if s.noise > s.timing.AppModeThreshold {
		s.appMode = true
	}
}

// update recomputes the phase; it reports whether the phase changed
func (s *probeState) update(now time.Time) bool {
	next := PhaseNormal
	switch {
	case now.Sub(s.start) < s.timing.StartupWindow:
		next = PhaseStartup
	case now.Before(s.boostUntil):
		next = PhaseHeartbeatBoost
	case s.appMode:
		next = PhaseAppMode
	}
	if next == s.phase {
		return false
	}
	if next == PhaseAppMode {
		s.graceUntil = now.Add(s.timing.AppModeGrace)
	}
	s.phase = next
	return true
}

func (s *probeState) shouldProbe(now time.Time) bool {
	since := now.Sub(s.lastTx)
	if s.lastTx.IsZero() {
		since = time.Duration(1<<63 - 1)
	}
	switch s.phase {
	case PhaseStartup:
		return since >= s.timing.StartupInterval
	case PhaseHeartbeatBoost:
		return since >= s.timing.HeartbeatInterval
	case PhaseAppMode:
		if now.Before(s.graceUntil) {
			return false
		}
		return since >= s.timing.AppModeInterval && now.Sub(s.lastRx) >= s.timing.AppModeQuiet
	default:
		return since >= s.timing.NormalInterval
	}
}

// PortReconnector replaces a port that disappeared
type PortReconnector interface {
	Reconnect(ctx context.Context, stale port.Port) (port.Port, error)
}

// HandshakeController probes the boot ROM until it acknowledges
type HandshakeController struct {
	port        port.Port
	baud        uint32
	timing      HandshakeTiming
	reconnector PortReconnector
	backoff     Backoff
	logger      *zap.Logger

	state ConnState
	phase Phase
	now   func() time.Time
}

// NewHandshakeController creates a controller probing p. The handshake
// frame advertises baud; zero uses the port's current rate.
func NewHandshakeController(p port.Port, baud uint32, timing HandshakeTiming, logger *zap.Logger) *HandshakeController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baud == 0 {
		baud = uint32(p.BaudRate())
	}
	return &HandshakeController{
		port:    p,
		baud:    baud,
		timing:  timing,
		backoff: DefaultBackoff(),
		logger:  logger,
		now:     time.Now,
	}
}

// SetReconnector enables reopening the port when it disappears
func (h *HandshakeController) SetReconnector(r PortReconnector) {
	h.reconnector = r
}

// SetBackoff overrides the retry delays used by Connect
func (h *HandshakeController) SetBackoff(b Backoff) {
	h.backoff = b
}

// Port returns the current port, which changes after a reconnect
func (h *HandshakeController) Port() port.Port {
	return h.port
}

// State returns the connection state and the last probing phase
func (h *HandshakeController) State() (ConnState, Phase) {
	return h.state, h.phase
}

// TryConnect runs a single attempt. It returns nil once the ACK is seen,
// ErrTimeout when the attempt budget runs out, an interruption error on
// cancellation and the port error if the transport fails.
func (h *HandshakeController) TryConnect(ctx context.Context) error {
	if err := h.port.SetReadTimeout(h.timing.ReadTimeout); err != nil {
		h.state = StateFailed
		return fmt.Errorf("set read timeout: %w", err)
	}

	probe := seboot.Handshake(h.baud)
	scanner := seboot.NewAckScanner()
	st := newProbeState(h.timing, h.now())
	buf := make([]byte, 256)

	h.state = StateProbing
	h.phase = st.phase
	h.logger.Debug("Handshake attempt started",
		zap.String("port", h.port.Name()),
		zap.Uint32("baud", h.baud))

	for {
		if err := iox.Checkpoint(ctx); err != nil {
			h.state = StateFailed
			return err
		}

		now := h.now()
		if now.Sub(st.start) >= h.timing.Timeout {
			h.state = StateFailed
			return fmt.Errorf("%w: no handshake acknowledgement after %s (%d probes)",
				ErrTimeout, h.timing.Timeout, st.probes)
		}

		n, err := h.port.Read(buf)
		if err != nil {
			h.state = StateFailed
			return fmt.Errorf("handshake read: %w", err)
		}
		now = h.now()
		if n > 0 {
			if scanner.Feed(buf[:n]) {
				h.state = StateConnected
				h.logger.Info("Boot ROM acknowledged handshake",
					zap.Int("probes", st.probes),
					zap.Duration("elapsed", now.Sub(st.start)))
				return nil
			}
			st.observe(buf[:n], now)
		}

		if st.update(now) {
			h.phase = st.phase
			h.logger.Debug("Handshake phase changed", zap.Stringer("phase", st.phase))
		}

		if !st.shouldProbe(now) {
			continue
		}
		if err := writeAll(h.port, probe); err != nil {
			h.state = StateFailed
			return fmt.Errorf("handshake write: %w", err)
		}
		if err := h.port.Flush(); err != nil {
			h.state = StateFailed
			return fmt.Errorf("handshake flush: %w", err)
		}
		st.lastTx = now
		st.probes++
	}
}

// Connect retries TryConnect up to the configured number of attempts. The
// port is reopened only when an attempt fails because the device went
// away; timeouts retry on the same port.
func (h *HandshakeController) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= h.timing.Attempts; attempt++ {
		err := h.TryConnect(ctx)
		if err == nil {
			return nil
		}
		if iox.IsInterrupted(err) {
			return err
		}
		lastErr = err

		h.logger.Warn("Handshake attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("attempts", h.timing.Attempts),
			zap.Error(err))

		if attempt == h.timing.Attempts {
			break
		}

		if port.IsDisconnect(err) {
			if h.reconnector == nil {
				return err
			}
			p, rerr := h.reconnector.Reconnect(ctx, h.port)
			if rerr != nil {
				return rerr
			}
			h.port = p
		}

		if d := h.backoff.Delay(err); d > 0 {
			if err := iox.Sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func writeAll(p port.Port, b []byte) error {
	for len(b) > 0 {
		n, err := p.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
