// Package tui renders the orchestration status board and keeps it live.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/lattice-hooks/internal/logbook"
	"github.com/kingrea/lattice-hooks/internal/state"
	"github.com/kingrea/lattice-hooks/internal/workflow/engine"
)

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleGate    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	headingStyle      = lipgloss.NewStyle().Bold(true).Underline(true)
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Board is everything the status view shows.
type Board struct {
	Chains   []engine.ChainStatus
	State    state.State
	Log      []string
	LogTotal int
	Err      error
}

// Snapshotter reads the current workflow snapshot.
type Snapshotter interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
}

// LoadBoard assembles a board from the engine and the last logLines logbook
// entries.
func LoadBoard(ctx context.Context, src Snapshotter, book *logbook.Logbook, logLines int) Board {
	snap, err := src.Snapshot(ctx)
	board := Board{Chains: snap.Chains, State: snap.State, Err: err}
	board.Log, board.LogTotal = book.Tail(logLines)
	return board
}

type chainLabel struct {
	text  string
	style lipgloss.Style
}

func labelForState(s engine.ChainState) chainLabel {
	switch s {
	case engine.ChainActive:
		return chainLabel{text: "active", style: labelStyleRunning}
	case engine.ChainComplete:
		return chainLabel{text: "complete", style: labelStyleReady}
	default:
		return chainLabel{text: "not started", style: labelStyleDefault}
	}
}

func levelStyle(level logbook.Level) lipgloss.Style {
	switch level {
	case logbook.LevelError:
		return labelStyleBlocked
	case logbook.LevelWarn:
		return labelStyleGate
	default:
		return detailTextStyle
	}
}

// Render draws the board as plain lines styled for a terminal.
func Render(board Board) string {
	var b strings.Builder
	if board.Err != nil {
		b.WriteString(labelStyleBlocked.Render("state unavailable: " + board.Err.Error()))
		b.WriteString("\n\n")
	}

	b.WriteString(headingStyle.Render("Chains"))
	b.WriteString("\n")
	if len(board.Chains) == 0 {
		b.WriteString(hintStyle.Render("  no chains defined"))
		b.WriteString("\n")
	}
	for _, chain := range board.Chains {
		b.WriteString(renderChainLine(chain))
		b.WriteString("\n")
		if chain.State == engine.ChainActive {
			b.WriteString(renderMembers(chain))
		}
	}

	b.WriteString("\n")
	b.WriteString(renderWorkers("Pending", board.State.PendingWorkers, labelStyleGate))
	b.WriteString(renderWorkers("Completed", board.State.CompletedWorkers, labelStyleReady))

	b.WriteString("\n")
	b.WriteString(headingStyle.Render("Logbook"))
	if board.LogTotal > len(board.Log) {
		b.WriteString(hintStyle.Render(fmt.Sprintf(" (last %d of %d)", len(board.Log), board.LogTotal)))
	}
	b.WriteString("\n")
	if len(board.Log) == 0 {
		b.WriteString(hintStyle.Render("  empty"))
		b.WriteString("\n")
	}
	for _, line := range board.Log {
		entry := logbook.Parse(line)
		stamp := ""
		if !entry.Time.IsZero() {
			stamp = entry.Time.Format("15:04:05") + " "
		}
		b.WriteString("  ")
		b.WriteString(hintStyle.Render(stamp))
		b.WriteString(levelStyle(entry.Level).Render(entry.Message))
		b.WriteString("\n")
	}
	return b.String()
}

func renderChainLine(chain engine.ChainStatus) string {
	label := labelForState(chain.State)
	done, total := chain.Progress()
	return fmt.Sprintf("> %s · [%s] %s",
		chain.Title,
		label.style.Render(label.text),
		detailTextStyle.Render(fmt.Sprintf("%d/%d", done, total)),
	)
}

func renderMembers(chain engine.ChainStatus) string {
	var b strings.Builder
	for _, member := range chain.Members {
		mark, style := "·", labelStyleDefault
		switch {
		case member.Completed:
			mark, style = "✓", labelStyleReady
		case member.Pending:
			mark, style = "…", labelStyleGate
		}
		b.WriteString("    ")
		b.WriteString(style.Render(mark + " " + member.Worker.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func renderWorkers(title string, workers []string, style lipgloss.Style) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render(title))
	b.WriteString("\n")
	if len(workers) == 0 {
		b.WriteString(hintStyle.Render("  none"))
		b.WriteString("\n")
		return b.String()
	}
	for _, worker := range workers {
		b.WriteString("  ")
		b.WriteString(style.Render(worker))
		b.WriteString("\n")
	}
	return b.String()
}
