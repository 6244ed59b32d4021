package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	classStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	implStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserState int

const (
	stateList browserState = iota
	stateFilter
	stateDetail
)

type browserModel struct {
	classes  []classInfo
	visible  []int
	filter   textinput.Model
	selected int
	state    browserState
}

func newBrowserModel(classes []classInfo) *browserModel {
	ti := textinput.New()
	ti.Prompt = "filter: "
	ti.Placeholder = "class name"
	ti.Width = 40

	m := &browserModel{classes: classes, filter: ti}
	m.applyFilter()
	return m
}

func (m *browserModel) Init() tea.Cmd { return nil }

func (m *browserModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for i, c := range m.classes {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.state == stateFilter {
		switch key.String() {
		case "enter", "esc":
			m.filter.Blur()
			m.state = stateList
			return m, nil
		}
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}

	switch key.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.state == stateList && m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.state == stateList && m.selected < len(m.visible)-1 {
			m.selected++
		}

	case "/":
		if m.state == stateList {
			m.state = stateFilter
			return m, m.filter.Focus()
		}

	case "enter":
		switch m.state {
		case stateList:
			if len(m.visible) > 0 {
				m.state = stateDetail
			}
		case stateDetail:
			m.state = stateList
		}

	case "esc":
		m.state = stateList
	}
	return m, nil
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Class Browser"))
	fmt.Fprintf(&b, " %d classes\n\n", len(m.classes))

	switch m.state {
	case stateList, stateFilter:
		if m.state == stateFilter || m.filter.Value() != "" {
			b.WriteString(m.filter.View())
			b.WriteString("\n\n")
		}
		for i, idx := range m.visible {
			c := m.classes[idx]
			line := classStyle.Render(c.Name)
			if c.Super != "" {
				line += " : " + c.Super
			}
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + c.Name))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter methods • / filter • q quit"))

	case stateDetail:
		c := m.classes[m.visible[m.selected]]
		fmt.Fprintf(&b, "%s", classStyle.Render(c.Name))
		if c.Super != "" {
			fmt.Fprintf(&b, " : %s", c.Super)
		}
		fmt.Fprintf(&b, "\n%s, %d-byte instances\n\n", c.Addr, c.InstanceSize)
		for _, meth := range c.Methods {
			sign := "-"
			if meth.Class {
				sign = "+"
			}
			fmt.Fprintf(&b, "  %s%-28s %s\n", sign, meth.Selector, implStyle.Render(meth.Impl))
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter/esc back • q quit"))
	}
	return b.String()
}

func runBrowser(classes []classInfo) error {
	p := tea.NewProgram(newBrowserModel(classes), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
