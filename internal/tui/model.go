package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"termscan/internal/batchapi"
	"termscan/internal/db"
	"termscan/internal/pipeline"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ── Styles ──────────────────────────────────────────────────────────────────

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	phaseStyle = map[batchapi.Phase]lipgloss.Style{
		batchapi.PhaseQueued:     lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
		batchapi.PhaseInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		batchapi.PhaseCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		batchapi.PhaseFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		batchapi.PhaseExpired:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

// ── Model ───────────────────────────────────────────────────────────────────

// Model is the BubbleTea model for the live batch monitor. It polls one
// batch on a fixed interval and quits when the remote job reaches a
// terminal phase, the poll budget runs out, or the operator quits.
type Model struct {
	poller   *pipeline.Poller
	batch    *db.Batch
	interval time.Duration
	maxPolls int

	bar      progress.Model
	status   pipeline.BatchStatus
	polls    int
	done     bool
	quitting bool
	err      error
}

func NewModel(poller *pipeline.Poller, batch *db.Batch, interval time.Duration, maxPolls int) Model {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return Model{
		poller:   poller,
		batch:    batch,
		interval: interval,
		maxPolls: maxPolls,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// ── Messages ────────────────────────────────────────────────────────────────

type tickMsg time.Time

type statusMsg struct {
	status pipeline.BatchStatus
	err    error
}

// ── Init / Update ───────────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd { return m.poll }

func (m Model) poll() tea.Msg {
	st, err := m.poller.Poll(context.Background(), m.batch)
	return statusMsg{status: st, err: err}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.poll

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, tea.Quit
		}
		m.status = msg.status
		m.polls++

		if m.status.Phase.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		if m.maxPolls > 0 && m.polls >= m.maxPolls {
			m.err = fmt.Errorf("batch %s still %s after %d polls: %w",
				db.ShortID(m.batch.ID), m.status.Phase, m.polls, pipeline.ErrWatchExhausted)
			m.done = true
			return m, tea.Quit
		}
		return m, m.tick()
	}

	return m, nil
}

// ── View ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.status.Job == nil {
		return fmt.Sprintf("%s\n\n  %s\n",
			m.header(), dimStyle.Render("Contacting remote service..."))
	}

	counts := m.status.Job.RequestCounts
	pct := 0.0
	if counts.Total > 0 {
		pct = float64(counts.Completed) / float64(counts.Total)
	}

	itemsLine := fmt.Sprintf("%s  %d/%d items", m.bar.ViewAs(pct), counts.Completed, counts.Total)
	if counts.Failed > 0 {
		itemsLine += warnStyle.Render(fmt.Sprintf(" (%d failed)", counts.Failed))
	}

	rate := "n/a"
	if m.status.Throughput > 0 {
		rate = fmt.Sprintf("%.0f items/hour", m.status.Throughput)
	}
	pollCount := fmt.Sprintf("poll %d", m.polls)
	if m.maxPolls > 0 {
		pollCount = fmt.Sprintf("poll %d/%d", m.polls, m.maxPolls)
	}

	var b strings.Builder
	b.WriteString(m.header() + "\n\n")
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "Phase:")), m.phaseText())
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "Progress:")), itemsLine)
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "Throughput:")), rate)
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", "Checked:")), fmt.Sprintf("%s (%s)", time.Now().Format("15:04:05"), pollCount))
	b.WriteString("\n  " + dimStyle.Render(fmt.Sprintf("q quit · polling every %s", m.interval)) + "\n")
	return b.String()
}

func (m Model) header() string {
	head := titleStyle.Render("Watching " + db.ShortID(m.batch.ID))
	if m.batch.RemoteJobID != "" {
		head += dimStyle.Render("  " + m.batch.RemoteJobID)
	}
	return head
}

func (m Model) phaseText() string {
	st, ok := phaseStyle[m.status.Phase]
	if !ok {
		return m.status.Phase.String()
	}
	return st.Render(m.status.Phase.String())
}

func (m Model) finalView() string {
	if m.quitting && !m.done {
		return dimStyle.Render(fmt.Sprintf("Stopped watching %s; the remote job keeps running.\nRun 'termscan check' for the next update.",
			db.ShortID(m.batch.ID))) + "\n"
	}
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("✗ %v", m.err)) + "\n"
	}

	counts := m.status.Job.RequestCounts
	if m.status.Phase == batchapi.PhaseCompleted {
		head := okStyle.Render(fmt.Sprintf("✓ Batch %s completed: %d/%d items", db.ShortID(m.batch.ID), counts.Completed, counts.Total))
		if counts.Failed > 0 {
			head += warnStyle.Render(fmt.Sprintf(" (%d failed)", counts.Failed))
		}
		return head + "\n" + dimStyle.Render("Fetch results with: termscan fetch --batch "+db.ShortID(m.batch.ID)) + "\n"
	}

	out := errStyle.Render(fmt.Sprintf("✗ Batch %s %s after %d/%d items", db.ShortID(m.batch.ID), m.status.Phase, counts.Completed, counts.Total)) + "\n"
	if m.status.Job.Errors != nil {
		for _, e := range m.status.Job.Errors.Data {
			line := e.Code
			if e.Line != nil {
				line += fmt.Sprintf(" line %d", *e.Line)
			}
			out += dimStyle.Render(fmt.Sprintf("  %s: %s", line, e.Message)) + "\n"
		}
	}
	return out
}

// ── Runner ──────────────────────────────────────────────────────────────────

// Run drives the monitor until the batch finishes or the operator quits
// early. The returned status is the last observation; its Batch field is
// nil when no poll ever landed. A quit before the terminal phase is not
// an error.
func Run(poller *pipeline.Poller, batch *db.Batch, interval time.Duration, maxPolls int) (pipeline.BatchStatus, error) {
	model := NewModel(poller, batch, interval, maxPolls)
	p := tea.NewProgram(model)
	final, err := p.Run()
	if err != nil {
		return pipeline.BatchStatus{}, fmt.Errorf("tui error: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return pipeline.BatchStatus{}, nil
	}
	if m.quitting && !m.done {
		return m.status, nil
	}
	return m.status, m.err
}
