// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
	"github.com/Thermoquad/hisiflash/pkg/port"
)

// GetPassword retrieves the bridge password from the environment, the
// config file, or prompts the user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("HISIFLASH_PASSWORD"); pw != "" {
		return pw, nil
	}
	if conf.Password != "" {
		return conf.Password, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// resolvePort returns --port, or picks a USB adapter when it is unset
func resolvePort(lister port.Lister) (string, error) {
	if gopts.port != "" {
		return gopts.port, nil
	}

	if useTUI() {
		ports, err := lister.List()
		if err != nil {
			return "", err
		}
		var usb []port.Info
		for _, p := range ports {
			if p.IsUSB {
				usb = append(usb, p)
			}
		}
		if len(usb) > 1 {
			return pickPort(usb)
		}
	}

	info, err := port.Autodetect(lister)
	if err != nil {
		return "", fmt.Errorf("%w; use --port", err)
	}
	logger.Info("Auto-detected port", zap.String("path", info.Path), zap.String("usb_id", info.USBID()))
	return info.Path, nil
}

// portConfig builds the open settings from the global options
func portConfig(name string) (port.Config, error) {
	cfg := port.Config{
		BaudRate:           gopts.baud,
		ReadTimeout:        port.DefaultReadTimeout,
		Username:           gopts.username,
		InsecureSkipVerify: gopts.insecure,
	}
	if port.IsWebSocketURL(name) && gopts.username != "" {
		pw, err := GetPassword()
		if err != nil {
			return cfg, err
		}
		cfg.Password = pw
	}
	return cfg, nil
}

// OpenConnection opens the port named by the flags. The returned config is
// reused when the port has to be reopened.
func OpenConnection() (port.Port, port.Config, error) {
	name, err := resolvePort(port.SerialLister{})
	if err != nil {
		return nil, port.Config{}, err
	}
	cfg, err := portConfig(name)
	if err != nil {
		return nil, cfg, err
	}
	p, err := port.Open(name, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

// connectionInfo describes an open port for headers
func connectionInfo(p port.Port) string {
	if port.IsWebSocketURL(p.Name()) {
		return fmt.Sprintf("WebSocket: %s", p.Name())
	}
	return fmt.Sprintf("Serial: %s @ %d baud", p.Name(), p.BaudRate())
}

// captureFingerprint records the adapter identity while the port is known
// to be present
func captureFingerprint(name string) *flasher.UsbFingerprint {
	if port.IsWebSocketURL(name) {
		return nil
	}
	fp, ok, err := flasher.CaptureFingerprint(port.SerialLister{}, name)
	if err != nil {
		logger.Debug("Port enumeration failed", zap.Error(err))
		return nil
	}
	if !ok {
		logger.Debug("Port is not a USB adapter; reconnect limited to the same path", zap.String("path", name))
		return nil
	}
	logger.Debug("Captured USB fingerprint", zap.Stringer("fingerprint", fp))
	return &fp
}
