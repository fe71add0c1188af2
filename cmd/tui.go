// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/hisiflash/pkg/iox"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors and warnings
}

// Transfer state of one partition
type partitionState struct {
	name        string
	done, total int
}

// Messages
type stageMsg string
type progressMsg struct {
	partition   string
	done, total int
}
type logMsg struct {
	message string
	isError bool
}
type doneMsg struct {
	err     error
	summary string
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "cancel"),
	),
}

// TUI model
type flashModel struct {
	title         string
	header        string
	stage         string
	spinner       spinner.Model
	bar           progress.Model
	partitions    []*partitionState
	index         map[string]int
	eventLog      []logEntry
	maxLogEntries int
	width         int
	height        int
	cancel        context.CancelFunc
	cancelling    bool
	finished      bool
	err           error
	summary       string
}

func newFlashModel(title, header string, cancel context.CancelFunc) flashModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return flashModel{
		title:         title,
		header:        header,
		stage:         "Starting",
		spinner:       s,
		bar:           progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		index:         make(map[string]int),
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		cancel:        cancel,
	}
}

func (m flashModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m flashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			if m.finished {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				m.stage = "Cancelling"
				m.cancel()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = min(max(msg.Width-40, 10), 60)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stageMsg:
		m.stage = string(msg)
		m.addLogEntry(string(msg), false)

	case progressMsg:
		m.updatePartition(msg)

	case logMsg:
		m.addLogEntry(msg.message, msg.isError)

	case doneMsg:
		m.finished = true
		m.err = msg.err
		m.summary = msg.summary
		return m, tea.Quit
	}

	return m, nil
}

func (m *flashModel) updatePartition(msg progressMsg) {
	i, ok := m.index[msg.partition]
	if !ok {
		i = len(m.partitions)
		m.index[msg.partition] = i
		m.partitions = append(m.partitions, &partitionState{name: msg.partition})
	}
	m.partitions[i].done = msg.done
	m.partitions[i].total = msg.total
}

func (m *flashModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m flashModel) View() string {
	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(m.header + " | Press 'q' to cancel"))
	s.WriteString("\n\n")

	// Stage
	switch {
	case !m.finished:
		s.WriteString(m.spinner.View() + " " + warningStyle.Render(m.stage))
	case m.err == nil:
		s.WriteString(valueStyle.Render("✓ Done"))
	case errors.Is(m.err, iox.ErrInterrupted):
		s.WriteString(warningStyle.Render("Interrupted"))
	default:
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	}
	s.WriteString("\n\n")

	// Partitions
	if len(m.partitions) > 0 {
		var rows strings.Builder
		for i, p := range m.partitions {
			pct := 0.0
			if p.total > 0 {
				pct = float64(p.done) / float64(p.total)
			}
			if i > 0 {
				rows.WriteString("\n")
			}
			rows.WriteString(fmt.Sprintf("%s %s %s",
				labelStyle.Render(fmt.Sprintf("%-16s", p.name)),
				m.bar.ViewAs(pct),
				headerStyle.Render(fmt.Sprintf("%d/%d bytes", p.done, p.total)),
			))
		}
		s.WriteString(boxStyle.Render(rows.String()))
		s.WriteString("\n\n")
	}

	if m.summary != "" {
		s.WriteString(headerStyle.Render(m.summary))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 12 - len(m.partitions)
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(logContent.String()))
	s.WriteString("\n")

	return s.String()
}

// tuiReporter forwards session progress to a running program
type tuiReporter struct {
	program *tea.Program
}

func (r tuiReporter) Stage(msg string) {
	r.program.Send(stageMsg(msg))
}

func (r tuiReporter) Progress(partition string, done, total int) {
	r.program.Send(progressMsg{partition: partition, done: done, total: total})
}
