// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/hisiflash/pkg/flasher"
	"github.com/Thermoquad/hisiflash/pkg/iox"
	"github.com/Thermoquad/hisiflash/pkg/port"
	"github.com/Thermoquad/hisiflash/pkg/ymodem"
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode maps a command error to the process exit status
func ExitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &ee):
		return ee.code
	case iox.IsInterrupted(err):
		return 130
	default:
		return 1
	}
}

// useTUI reports whether progress is drawn with the terminal UI
func useTUI() bool {
	return !gopts.noTUI && term.IsTerminal(int(os.Stdout.Fd()))
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// sessionFunc runs the command specific part of a session on a connected
// flasher
type sessionFunc func(ctx context.Context, f *flasher.SebootFlasher, r reporter) error

// flasherOptions builds the library options from flags and config
func flasherOptions(log *zap.Logger, rc flasher.PortReconnector) ([]flasher.Option, error) {
	timing, err := conf.HandshakeTiming(flasher.DefaultHandshakeTiming())
	if err != nil {
		return nil, err
	}
	return []flasher.Option{
		flasher.WithLogger(log),
		flasher.WithChip(family),
		flasher.WithTargetBaud(gopts.targetBaud),
		flasher.WithRetries(gopts.retries),
		flasher.WithHandshakeTiming(timing),
		flasher.WithTransferConfig(conf.TransferSettings(ymodem.DefaultConfig())),
		flasher.WithReconnector(rc),
	}, nil
}

// runSession opens the port, waits for the boot ROM and hands the
// connected flasher to fn, drawing progress with the TUI or text bars
func runSession(parent context.Context, title string, fn sessionFunc) error {
	ctx, stop := signalContext(parent)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p, cfg, err := OpenConnection()
	if err != nil {
		return err
	}
	fingerprint := captureFingerprint(p.Name())
	header := fmt.Sprintf("%s | Chip: %s", connectionInfo(p), family.Name)

	body := func(ctx context.Context, log *zap.Logger, r reporter) (string, error) {
		rc := flasher.NewReconnector(port.DefaultOpener{}, port.SerialLister{}, p.Name(), cfg, fingerprint,
			conf.ReconnectTiming(flasher.DefaultReconnectConfig()), log.Named("reconnect"))
		opts, err := flasherOptions(log, rc)
		if err != nil {
			iox.DiscardClose(p)
			return "", err
		}

		f := flasher.New(p, opts...)
		defer iox.DiscardClose(f)

		r.Stage("Waiting for boot ROM, reset the device now")
		if err := f.Connect(ctx); err != nil {
			return "", err
		}
		r.Stage("Boot ROM connected")

		if err := fn(ctx, f, r); err != nil {
			return "", err
		}
		return f.Stats().String(), nil
	}

	if useTUI() {
		return runTUISession(ctx, cancel, title, header, body)
	}
	return runTextSession(ctx, title, header, body)
}

type sessionBody func(ctx context.Context, log *zap.Logger, r reporter) (string, error)

func runTextSession(ctx context.Context, title, header string, body sessionBody) error {
	fmt.Fprintf(os.Stderr, "%s\n%s\nPress Ctrl+C to cancel\n\n", title, header)

	r := newTextReporter(os.Stderr)
	summary, err := body(ctx, logger, r)
	r.Close()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "\nDone.\n%s", summary)
	return nil
}

func runTUISession(ctx context.Context, cancel context.CancelFunc, title, header string, body sessionBody) error {
	program := tea.NewProgram(newFlashModel(title, header, cancel))
	log := newTUILogger(gopts.verbose, program.Send)

	errc := make(chan error, 1)
	go func() {
		summary, err := body(ctx, log, tuiReporter{program: program})
		errc <- err
		program.Send(doneMsg{err: err, summary: summary})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-errc
		return fmt.Errorf("terminal UI: %w", err)
	}
	return <-errc
}
