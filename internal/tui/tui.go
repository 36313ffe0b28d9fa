// Package tui is a minimal record picker used when fzf is not installed.
package tui

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fakeyudi/tuick/internal/block"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237"))

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Loader produces the records shown by the picker.
type Loader func(ctx context.Context) ([]block.Block, error)

// Opener builds the command that opens a location.
type Opener func(loc *block.Location) (*exec.Cmd, error)

type loadedMsg struct {
	blocks []block.Block
	err    error
}

type openedMsg struct{ err error }

// Model is the Bubble Tea model of the picker.
type Model struct {
	header  string
	load    Loader
	open    Opener
	blocks  []block.Block
	cursor  int
	vp      viewport.Model
	width   int
	height  int
	ready   bool
	running bool
	aborted bool
	err     error
	// offsets[i] is the first viewport line of blocks[i].
	offsets []int
}

// New creates a picker that shows header and the records from load.
func New(header string, load Loader, open Opener) Model {
	return Model{header: header, load: load, open: open, running: true}
}

// Aborted reports whether the user quit without the list running empty.
func (m Model) Aborted() bool { return m.aborted }

// Blocks returns the records currently listed.
func (m Model) Blocks() []block.Block { return m.blocks }

// Cursor returns the index of the highlighted record.
func (m Model) Cursor() int { return m.cursor }

func (m Model) loadCmd() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		blocks, err := load(context.Background())
		return loadedMsg{blocks: blocks, err: err}
	}
}

func (m Model) Init() tea.Cmd { return m.loadCmd() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		m.running = false
		m.err = msg.err
		m.blocks = msg.blocks
		if len(m.blocks) == 0 && msg.err == nil {
			return m, tea.Quit
		}
		m.cursor = min(m.cursor, max(len(m.blocks)-1, 0))
		m.refresh()
		return m, nil

	case openedMsg:
		m.err = msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		case "down", "j", " ":
			if m.cursor < len(m.blocks)-1 {
				m.cursor++
			}
		case "up", "k", "backspace":
			if m.cursor > 0 {
				m.cursor--
			}
		case "home", "g":
			m.cursor = 0
		case "end", "G":
			m.cursor = max(len(m.blocks)-1, 0)
		case "r":
			if m.running {
				return m, nil
			}
			m.running = true
			return m, m.loadCmd()
		case "enter":
			return m, m.openSelected()
		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp = viewport.New(m.width, max(m.height-2, 1))
		m.ready = true
		m.refresh()
		return m, nil
	}
	return m, nil
}

// openSelected suspends the picker while the editor runs. Informational
// records have nowhere to go.
func (m Model) openSelected() tea.Cmd {
	if m.cursor >= len(m.blocks) || m.blocks[m.cursor].Informational() || m.open == nil {
		return nil
	}
	cmd, err := m.open(m.blocks[m.cursor].Location)
	if err != nil {
		return func() tea.Msg { return openedMsg{err: err} }
	}
	return tea.ExecProcess(cmd, func(err error) tea.Msg { return openedMsg{err: err} })
}

// refresh renders the list into the viewport and keeps the cursor visible.
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	var sb strings.Builder
	m.offsets = m.offsets[:0]
	line := 0
	for i, b := range m.blocks {
		m.offsets = append(m.offsets, line)
		content := strings.TrimRight(b.Content, "\n")
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
			content = selectedStyle.Render(content)
		}
		for j, l := range strings.Split(content, "\n") {
			if j == 0 {
				sb.WriteString(marker)
			} else {
				sb.WriteString("  ")
			}
			sb.WriteString(l)
			sb.WriteByte('\n')
			line++
		}
	}
	m.vp.SetContent(sb.String())

	if m.cursor < len(m.offsets) {
		top := m.offsets[m.cursor]
		bottom := line
		if m.cursor+1 < len(m.offsets) {
			bottom = m.offsets[m.cursor+1]
		}
		switch {
		case top < m.vp.YOffset:
			m.vp.SetYOffset(top)
		case bottom > m.vp.YOffset+m.vp.Height:
			m.vp.SetYOffset(bottom - m.vp.Height)
		}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}
	title := m.header
	if m.running {
		title += " Running..."
	}
	head := headerStyle.Width(m.width).Render(title)

	status := fmt.Sprintf("%d/%d  enter open  r reload  q quit", min(m.cursor+1, len(m.blocks)), len(m.blocks))
	if m.err != nil {
		status = errorStyle.Render(m.err.Error())
	}
	bar := statusBarStyle.Width(m.width).Render(status)

	return lipgloss.JoinVertical(lipgloss.Left, head, m.vp.View(), bar)
}

// Run shows the picker until the user quits. It reports whether the user
// aborted.
func Run(header string, load Loader, open Opener) (bool, error) {
	final, err := tea.NewProgram(New(header, load, open), tea.WithAltScreen()).Run()
	if err != nil {
		return false, err
	}
	m := final.(Model)
	if m.err != nil && len(m.blocks) == 0 {
		return m.aborted, m.err
	}
	return m.aborted, nil
}
