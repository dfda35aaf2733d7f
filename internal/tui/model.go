package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
)

// DefaultRefreshInterval is the polling fallback when no watcher is running.
const DefaultRefreshInterval = 2 * time.Second

// Loader produces a fresh board.
type Loader func(ctx context.Context) Board

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	}
}

type boardMsg Board

type refreshRequest struct{}

type tickMsg time.Time

type watchClosedMsg struct{}

var frameStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("#444444")).
	Padding(0, 1)

// Model is the live status view.
type Model struct {
	load     Loader
	watcher  *fsnotify.Watcher
	interval time.Duration
	keys     keyMap
	viewport viewport.Model
	board    Board
	ready    bool
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithWatcher refreshes the board whenever the watcher reports a change.
// The model does not close the watcher.
func WithWatcher(w *fsnotify.Watcher) ModelOption {
	return func(m *Model) { m.watcher = w }
}

// WithRefreshInterval sets the polling interval used without a watcher.
func WithRefreshInterval(d time.Duration) ModelOption {
	return func(m *Model) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewModel builds a status model over load.
func NewModel(load Loader, opts ...ModelOption) Model {
	m := Model{load: load, interval: DefaultRefreshInterval, keys: defaultKeys()}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// NewWatcher watches the given paths, skipping those that do not exist yet.
func NewWatcher(paths ...string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	added := 0
	for _, path := range paths {
		if err := w.Add(path); err == nil {
			added++
		}
	}
	if added == 0 {
		_ = w.Close()
		return nil, fmt.Errorf("tui: none of %v can be watched", paths)
	}
	return w, nil
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.fetch()}
	if m.watcher != nil {
		cmds = append(cmds, waitForChange(m.watcher))
	} else {
		cmds = append(cmds, m.tick())
	}
	return tea.Batch(cmds...)
}

func (m Model) fetch() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return boardMsg(load(ctx))
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForChange(w *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return watchClosedMsg{}
				}
				return refreshRequest{}
			case _, ok := <-w.Errors:
				if !ok {
					return watchClosedMsg{}
				}
			}
		}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		width, height := msg.Width-frameStyle.GetHorizontalFrameSize(), msg.Height-frameStyle.GetVerticalFrameSize()-1
		if !m.ready {
			m.viewport = viewport.New(width, height)
			m.ready = true
		} else {
			m.viewport.Width, m.viewport.Height = width, height
		}
		m.viewport.SetContent(Render(m.board))
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		}
	case boardMsg:
		m.board = Board(msg)
		if m.ready {
			m.viewport.SetContent(Render(m.board))
		}
		return m, nil
	case refreshRequest:
		return m, tea.Batch(m.fetch(), waitForChange(m.watcher))
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case watchClosedMsg:
		return m, m.tick()
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "loading…"
	}
	help := hintStyle.Render(m.keys.Refresh.Help().Key + " " + m.keys.Refresh.Help().Desc + " · " +
		m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc)
	return frameStyle.Render(m.viewport.View()) + "\n" + help
}

// Board returns the most recently loaded board.
func (m Model) Board() Board {
	return m.board
}
