// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
)

// UsbFingerprint identifies a USB serial adapter across re-enumeration
type UsbFingerprint struct {
	VID          uint16
	PID          uint16
	Manufacturer string
	Product      string
	SerialNumber string
}

func (f UsbFingerprint) String() string {
	s := fmt.Sprintf("%04x:%04x", f.VID, f.PID)
	if f.SerialNumber != "" {
		s += " serial=" + f.SerialNumber
	}
	if f.Product != "" {
		s += fmt.Sprintf(" product=%q", f.Product)
	}
	return s
}

func (f UsbFingerprint) matchesSerial(i port.Info) bool {
	return i.IsUSB && i.VID == f.VID && i.PID == f.PID &&
		f.SerialNumber != "" && i.SerialNumber == f.SerialNumber
}

// matchesDescriptor ignores the serial number. Adapters that report a
// serial are only accepted when the fingerprint has none or the new
// enumeration lost it. Manufacturer and product only reject a candidate
// when both sides report them.
func (f UsbFingerprint) matchesDescriptor(i port.Info) bool {
	if !i.IsUSB || i.VID != f.VID || i.PID != f.PID {
		return false
	}
	if f.SerialNumber != "" && i.SerialNumber != "" {
		return false
	}
	if f.Manufacturer != "" && i.Manufacturer != "" && i.Manufacturer != f.Manufacturer {
		return false
	}
	if f.Product != "" && i.Product != "" && i.Product != f.Product {
		return false
	}
	return true
}

// CaptureFingerprint records the identity of the USB adapter behind path.
// It returns false for ports that are not USB or are not listed.
func CaptureFingerprint(l port.Lister, path string) (UsbFingerprint, bool, error) {
	ports, err := l.List()
	if err != nil {
		return UsbFingerprint{}, false, err
	}
	for _, p := range ports {
		if p.Path != path || !p.IsUSB {
			continue
		}
		return UsbFingerprint{
			VID:          p.VID,
			PID:          p.PID,
			Manufacturer: p.Manufacturer,
			Product:      p.Product,
			SerialNumber: p.SerialNumber,
		}, true, nil
	}
	return UsbFingerprint{}, false, nil
}

// ReconnectConfig controls how long the Reconnector waits for the device
type ReconnectConfig struct {
	// Settle is waited after closing the stale port
	Settle time.Duration
	// PollInterval is the delay between enumeration rounds
	PollInterval time.Duration
	// MaxWait bounds the whole search
	MaxWait time.Duration
}

// DefaultReconnectConfig returns the standard reconnect timing
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Settle:       500 * time.Millisecond,
		PollInterval: 250 * time.Millisecond,
		MaxWait:      10 * time.Second,
	}
}

// Reconnector reopens a port after the device re-enumerated, possibly
// under a different path
type Reconnector struct {
	opener      port.Opener
	lister      port.Lister
	path        string
	cfg         port.Config
	fingerprint *UsbFingerprint
	timing      ReconnectConfig
	logger      *zap.Logger
}

// NewReconnector creates a Reconnector for the port opened at path with
// cfg. fingerprint may be nil, in which case only the original path is
// tried.
func NewReconnector(opener port.Opener, lister port.Lister, path string, cfg port.Config, fingerprint *UsbFingerprint, timing ReconnectConfig, logger *zap.Logger) *Reconnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconnector{
		opener:      opener,
		lister:      lister,
		path:        path,
		cfg:         cfg,
		fingerprint: fingerprint,
		timing:      timing,
		logger:      logger,
	}
}

// Path returns the path of the most recently opened port
func (r *Reconnector) Path() string {
	return r.path
}

// Resolve finds the path the device is currently reachable at. The
// original path wins when it is still listed; otherwise the fingerprint
// picks a candidate, with ties broken by path.
func (r *Reconnector) Resolve() (string, bool, error) {
	if port.IsWebSocketURL(r.path) {
		return r.path, true, nil
	}

	ports, err := r.lister.List()
	if err != nil {
		return "", false, err
	}
	for _, p := range ports {
		if p.Path == r.path {
			return r.path, true, nil
		}
	}
	if r.fingerprint == nil {
		return "", false, nil
	}

	var candidates []string
	for _, p := range ports {
		if r.fingerprint.matchesSerial(p) {
			candidates = append(candidates, p.Path)
		}
	}
	if len(candidates) == 0 {
		for _, p := range ports {
			if r.fingerprint.matchesDescriptor(p) {
				candidates = append(candidates, p.Path)
			}
		}
	}
	if len(candidates) == 0 {
		return "", false, nil
	}
	sort.Strings(candidates)
	return candidates[0], true, nil
}

// Reconnect closes stale, waits for the device to come back and opens it
// again with the original configuration
func (r *Reconnector) Reconnect(ctx context.Context, stale port.Port) (port.Port, error) {
	if stale != nil {
		iox.DiscardClose(stale)
	}

	r.logger.Info("Waiting for device to reappear",
		zap.String("path", r.path),
		zap.Duration("max_wait", r.timing.MaxWait))

	if err := iox.Sleep(ctx, r.timing.Settle); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(r.timing.MaxWait)
	var lastErr error
	for {
		if err := iox.Checkpoint(ctx); err != nil {
			return nil, err
		}

		path, ok, err := r.Resolve()
		switch {
		case err != nil:
			lastErr = err
		case ok:
			p, err := r.opener.Open(path, r.cfg)
			if err == nil {
				if path != r.path {
					r.logger.Info("Device re-enumerated",
						zap.String("old_path", r.path),
						zap.String("new_path", path))
				}
				r.path = path
				return p, nil
			}
			lastErr = err
			r.logger.Debug("Reopen failed", zap.String("path", path), zap.Error(err))
		}

		if !time.Now().Before(deadline) {
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %s after %s: %v", ErrDeviceNotFound, r.path, r.timing.MaxWait, lastErr)
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrDeviceNotFound, r.path, r.timing.MaxWait)
		}
		if err := iox.Sleep(ctx, r.timing.PollInterval); err != nil {
			return nil, err
		}
	}
}
