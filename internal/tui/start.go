package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"pulse/internal/client"
	"pulse/internal/event"
)

// Start runs the dashboard against an established live client. It wires
// the cache's fresh hook and the watch stream into the program's message
// loop and blocks until the user quits.
func Start(live *client.Live) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(newModel(ctx, live), tea.WithAltScreen())

	live.Cache().OnFresh(func(string) {
		p.Send(cacheFreshMsg{})
	})
	live.OnEvent(func(ev event.Event) {
		p.Send(serverEventMsg{ev: ev})
	})

	go func() {
		if err := live.Watch(ctx); err != nil && ctx.Err() == nil {
			p.Send(watchEndedMsg{err: err})
		}
	}()

	_, err := p.Run()
	return err
}
