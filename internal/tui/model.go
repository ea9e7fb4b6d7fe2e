// Package tui is the terminal dashboard: a live resource list that
// refreshes itself through the query cache. Mutations made here
// invalidate the cache directly; mutations made elsewhere arrive over
// the watch stream and invalidate it too. The view only ever rerenders
// when the cache reports fresh data, so both paths converge on the same
// redraw.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pulse/internal/client"
	"pulse/internal/event"
)

var (
	colorPrimary = lipgloss.Color("#f7c0af")
	colorFg      = lipgloss.Color("#dddddd")
	colorMuted   = lipgloss.Color("#7f7f7f")
	colorError   = lipgloss.Color("#bf5d47")

	headerStyle   = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	rowStyle      = lipgloss.NewStyle().Foreground(colorFg)
	selectedStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
)

type (
	resourcesLoadedMsg struct {
		resources []event.Resource
		err       error
	}
	cacheFreshMsg   struct{}
	serverEventMsg  struct{ ev event.Event }
	watchEndedMsg   struct{ err error }
	mutationDoneMsg struct{ err error }
)

type model struct {
	live *client.Live
	ctx  context.Context

	keys    keyMap
	help    help.Model
	spinner spinner.Model
	input   textinput.Model

	resources []event.Resource
	cursor    int
	creating  bool
	loading   bool
	lastEvent string
	width     int
	height    int
	err       error
}

func newModel(ctx context.Context, live *client.Live) model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	in := textinput.New()
	in.Placeholder = "resource name"
	in.CharLimit = 120
	in.Width = 40

	return model{
		live:    live,
		ctx:     ctx,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: sp,
		input:   in,
		loading: true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadResources())
}

func (m model) loadResources() tea.Cmd {
	return func() tea.Msg {
		resources, err := m.live.Resources(m.ctx)
		return resourcesLoadedMsg{resources: resources, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if m.creating {
			return m.updateCreating(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.resources)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.New):
			m.creating = true
			m.input.SetValue("")
			return m, m.input.Focus()
		case key.Matches(msg, m.keys.Delete):
			if m.cursor < len(m.resources) {
				id := m.resources[m.cursor].ID
				return m, func() tea.Msg {
					return mutationDoneMsg{err: m.live.DeleteResource(id)}
				}
			}
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			m.live.Cache().Invalidate(client.KeyResources)
		}
		return m, nil

	case resourcesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.resources = msg.resources
		if m.cursor >= len(m.resources) && m.cursor > 0 {
			m.cursor = len(m.resources) - 1
		}
		return m, nil

	case cacheFreshMsg:
		// The cache finished a refetch; re-read it for the view.
		return m, m.loadResources()

	case serverEventMsg:
		m.lastEvent = fmt.Sprintf("%s %s", msg.ev.Type, msg.ev.ResourceID)
		return m, nil

	case mutationDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil

	case watchEndedMsg:
		m.err = fmt.Errorf("watch stream ended: %v", msg.err)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) updateCreating(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.creating = false
		m.input.Blur()
		return m, nil
	case "enter":
		name := strings.TrimSpace(m.input.Value())
		m.creating = false
		m.input.Blur()
		if name == "" {
			return m, nil
		}
		return m, func() tea.Msg {
			_, err := m.live.CreateResource(name, "")
			return mutationDoneMsg{err: err}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Pulse"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d resources", len(m.resources))))
	if m.loading {
		b.WriteString("  " + m.spinner.View())
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: "+m.err.Error()) + "\n\n")
	}

	if m.creating {
		b.WriteString(rowStyle.Render("New resource: ") + m.input.View() + "\n")
		b.WriteString(mutedStyle.Render("enter to create, esc to cancel") + "\n")
		return b.String()
	}

	if len(m.resources) == 0 && !m.loading {
		b.WriteString(mutedStyle.Render("No resources yet. Press n to create one.") + "\n")
	}
	for i, r := range m.resources {
		line := fmt.Sprintf("%-36s  %s", r.Name, mutedStyle.Render(r.UpdatedAt))
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
		} else {
			b.WriteString(rowStyle.Render("  "+line) + "\n")
		}
	}

	b.WriteString("\n")
	if m.lastEvent != "" {
		b.WriteString(mutedStyle.Render("last event: "+m.lastEvent) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
