// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// logLevel maps the -v count to a zap level
func logLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity >= 2:
		return zapcore.DebugLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}

func encoderConfig(color bool) zapcore.EncoderConfig {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		EncodeTime:     zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// newLogger creates a console logger writing to w
func newLogger(verbosity int, w io.Writer) *zap.Logger {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig(color)),
		zapcore.AddSync(w),
		logLevel(verbosity),
	)
	return zap.New(core)
}

// tuiSink forwards encoded log lines to the terminal UI
type tuiSink struct {
	send func(tea.Msg)
}

func (s tuiSink) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	s.send(logMsg{
		message: line,
		isError: strings.HasPrefix(line, "ERROR\t") || strings.HasPrefix(line, "WARN\t"),
	})
	return len(p), nil
}

// newTUILogger creates a logger whose output appears in the TUI event pane.
// The pane adds its own timestamp, so lines start with the level.
func newTUILogger(verbosity int, send func(tea.Msg)) *zap.Logger {
	cfg := encoderConfig(false)
	cfg.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(tuiSink{send: send}),
		logLevel(verbosity),
	)
	return zap.New(core)
}
