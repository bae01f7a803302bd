// Package tui is the interactive log monitor behind `ccrelay monitor`. It
// tails the invocation log so an operator can watch daemon starts and local
// fallbacks scroll by while a build runs. Strictly read-only and entirely off
// the compile hot path.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// tailBytes is how much of the log file's tail is rendered. Older history is
// of no interest during a live build.
const tailBytes = 64 * 1024

// --- Styles ---

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)

	errorLine = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	warnLine  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// --- Model ---

type Model struct {
	logPath string

	width  int
	height int

	viewport viewport.Model
	follow   bool
	lastSize int64
	readErr  error
}

type tickMsg time.Time

func NewMonitor(logPath string) *Model {
	vp := viewport.New(80, 20)
	return &Model{
		logPath:  logPath,
		viewport: vp,
		follow:   true,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), tea.EnterAltScreen)
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			if m.follow {
				m.viewport.GotoBottom()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = m.width - 6
		m.viewport.Height = m.height - 7

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// refresh re-reads the log tail. Skipped when the file hasn't grown.
func (m *Model) refresh() {
	info, err := os.Stat(m.logPath)
	if err != nil {
		m.readErr = err
		return
	}
	if info.Size() == m.lastSize {
		return
	}
	m.lastSize = info.Size()

	content, err := readTail(m.logPath, tailBytes)
	if err != nil {
		m.readErr = err
		return
	}
	m.readErr = nil
	m.viewport.SetContent(colorize(content))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func readTail(path string, max int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.Size() > max {
		if _, err := f.Seek(-max, io.SeekEnd); err != nil {
			return "", err
		}
	}
	b, err := io.ReadAll(f)
	return string(b), err
}

func colorize(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		switch {
		case strings.Contains(line, "level=ERROR"):
			lines[i] = errorLine.Render(line)
		case strings.Contains(line, "level=WARN"):
			lines[i] = warnLine.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}

func (m *Model) View() string {
	title := titleStyle.Render(fmt.Sprintf("ccrelay monitor: %s", m.logPath))

	status := "following"
	if !m.follow {
		status = "paused (f to follow)"
	}
	if m.readErr != nil {
		status = m.readErr.Error()
	}
	footer := dimStyle.Render(fmt.Sprintf("%s · q to quit", status))

	return docStyle.Render(strings.Join([]string{
		title,
		borderStyle.Render(m.viewport.View()),
		footer,
	}, "\n"))
}

// Run blocks inside the monitor until the user quits.
func Run(logPath string) error {
	_, err := tea.NewProgram(NewMonitor(logPath), tea.WithAltScreen()).Run()
	return err
}
