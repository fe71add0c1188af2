// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/hisiflash/pkg/port"
)

var errNoSelection = errors.New("no port selected")

// portItem implements list.Item for a serial port
type portItem struct {
	info port.Info
}

func (i portItem) Title() string { return i.info.Path }

func (i portItem) Description() string {
	parts := []string{i.info.USBID()}
	if vendor, ok := port.VendorName(i.info.VID); ok {
		parts = append(parts, vendor)
	}
	if i.info.Product != "" {
		parts = append(parts, i.info.Product)
	}
	if i.info.SerialNumber != "" {
		parts = append(parts, "S/N "+i.info.SerialNumber)
	}
	return strings.Join(parts, " | ")
}

func (i portItem) FilterValue() string { return i.info.Path + " " + i.info.Product }

type pickerModel struct {
	list     list.Model
	selected *port.Info
	quitting bool
}

func newPickerModel(ports []port.Info) pickerModel {
	items := make([]list.Item, len(ports))
	for i, p := range ports {
		items[i] = portItem{info: p}
	}

	l := list.New(items, list.NewDefaultDelegate(), 60, 14)
	l.Title = "Select serial port"
	l.Styles.Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	l.SetShowStatusBar(false)

	return pickerModel{list: l}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, min(msg.Height, 20))
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(portItem); ok {
				m.selected = &item.info
			}
			return m, tea.Quit
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	if m.quitting || m.selected != nil {
		return ""
	}
	return m.list.View()
}

// pickPort lets the user choose between several USB adapters
func pickPort(ports []port.Info) (string, error) {
	final, err := tea.NewProgram(newPickerModel(ports)).Run()
	if err != nil {
		return "", fmt.Errorf("port picker: %w", err)
	}
	m, ok := final.(pickerModel)
	if !ok || m.selected == nil {
		return "", errNoSelection
	}
	return m.selected.Path, nil
}
