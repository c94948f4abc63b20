// Package tui renders the live progress of a sync run in the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bina/bimsync/internal/events"
	"github.com/bina/bimsync/pkg/models"
)

// styles

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	dimStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().
			Faint(true).
			PaddingLeft(2)

	barFull  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	barEmpty = lipgloss.NewStyle().Faint(true)
)

const barWidth = 30

// messages

type eventMsg events.Event

type subClosedMsg struct{}

type doneMsg struct {
	result *models.SyncResult
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-sub
		if !ok {
			return subClosedMsg{}
		}
		return eventMsg(e)
	}
}

// model

type row struct {
	label  string
	file   string
	status models.Status
	detail string
}

// Model is the bubbletea model of one sync run.
type Model struct {
	title   string
	sub     <-chan events.Event
	cancel  context.CancelFunc
	spinner spinner.Model

	rows       []row
	total      int
	done       int
	listingErr string
	cancelling bool
	result     *models.SyncResult
}

func newModel(title string, sub <-chan events.Event, cancel context.CancelFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Line
	s.Style = barFull
	return Model{
		title:   title,
		sub:     sub,
		cancel:  cancel,
		spinner: s,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.sub))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.result != nil {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.cancel()
			}
		}
		return m, nil

	case eventMsg:
		m.apply(events.Event(msg))
		return m, waitForEvent(m.sub)

	case subClosedMsg:
		return m, nil

	case doneMsg:
		m.result = msg.result
		m.fromResult(msg.result)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e events.Event) {
	switch e.Type {
	case events.EventListingFailed:
		m.listingErr = e.Detail
	case events.EventResolved:
		m.total = e.Total
		m.rows = make([]row, e.Total)
	case events.EventItem:
		if e.Index < 0 {
			return
		}
		for len(m.rows) <= e.Index {
			m.rows = append(m.rows, row{})
		}
		status := e.ItemStatus()
		if status.Terminal() && !m.rows[e.Index].status.Terminal() {
			m.done++
		}
		m.rows[e.Index] = row{label: e.Label, file: e.FileName, status: status, detail: e.Detail}
		if e.Total > m.total {
			m.total = e.Total
		}
	}
}

// fromResult replaces the rows with the final outcomes, covering events
// dropped by a slow subscriber.
func (m *Model) fromResult(r *models.SyncResult) {
	if r == nil || len(r.Outcomes) == 0 {
		return
	}
	m.rows = m.rows[:0]
	for _, o := range r.Outcomes {
		m.rows = append(m.rows, row{
			label:  o.Item.Label(),
			file:   o.Item.DisplayName(),
			status: o.Status,
			detail: o.Detail,
		})
	}
	m.total = len(r.Outcomes)
	m.done = m.total
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString("\n" + titleStyle.Render(m.title) + "\n\n")

	if m.result == nil {
		switch {
		case m.listingErr != "":
			b.WriteString("  " + errStyle.Render("Failed to fetch file list: "+m.listingErr) + "\n")
		case m.total == 0:
			b.WriteString("  " + m.spinner.View() + " Fetching file list...\n")
		default:
			fmt.Fprintf(&b, "  %s %s %d/%d\n", m.spinner.View(), progressBar(m.done, m.total, barWidth), m.done, m.total)
		}
		b.WriteString("\n")
	}

	for _, r := range m.rows {
		if r.label == "" {
			continue
		}
		b.WriteString("  " + renderRow(r, m.spinner.View()) + "\n")
	}

	if m.result != nil {
		b.WriteString("\n" + RenderResult(m.result) + "\n")
		return b.String()
	}

	help := "q cancel"
	if m.cancelling {
		help = "cancelling..."
	}
	b.WriteString("\n" + helpStyle.Render(help) + "\n")
	return b.String()
}

func renderRow(r row, spin string) string {
	var glyph string
	switch r.status {
	case models.StatusDownloading:
		glyph = spin
	case models.StatusSucceeded:
		glyph = okStyle.Render("✓")
	case models.StatusFailed:
		glyph = errStyle.Render("✗")
	case models.StatusSkipped:
		glyph = warnStyle.Render("!")
	default:
		glyph = dimStyle.Render("·")
	}
	line := glyph + " " + boldStyle.Render(r.label) + "  " + dimStyle.Render(r.file)
	if (r.status == models.StatusFailed || r.status == models.StatusSkipped) && r.detail != "" {
		line += "  " + dimStyle.Render(r.detail)
	}
	return line
}

func progressBar(done, total, width int) string {
	if total <= 0 {
		return barEmpty.Render(strings.Repeat("░", width))
	}
	if done > total {
		done = total
	}
	filled := done * width / total
	return barFull.Render(strings.Repeat("█", filled)) + barEmpty.Render(strings.Repeat("░", width-filled))
}

// RenderResult formats the end-of-run summary: the headline, the counts
// line and one line per item that did not succeed.
func RenderResult(r *models.SyncResult) string {
	var headline string
	switch {
	case r.Err != nil:
		headline = errStyle.Render(r.Headline())
	case r.NothingToSync:
		headline = warnStyle.Render(r.Headline())
	default:
		switch r.Classify() {
		case models.AggregateAllSucceeded:
			headline = okStyle.Render(r.Headline())
		case models.AggregateAllFailed:
			headline = errStyle.Render(r.Headline())
		default:
			headline = warnStyle.Render(r.Headline())
		}
	}

	var b strings.Builder
	b.WriteString("  " + boldStyle.Render(headline) + "\n")
	b.WriteString("  " + r.Summary() + "\n")
	for _, o := range r.Outcomes {
		switch o.Status {
		case models.StatusFailed:
			fmt.Fprintf(&b, "    %s %s: %s\n", errStyle.Render("✗"), o.Item.Label(), o.Detail)
		case models.StatusSkipped:
			fmt.Fprintf(&b, "    %s %s: %s\n", warnStyle.Render("!"), o.Item.Label(), o.Detail)
		}
	}
	if r.Completed() && r.Succeeded > 0 {
		b.WriteString("  " + dimStyle.Render("Files saved under "+r.DownloadRoot) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Run shows the progress of run until it returns. Pressing q cancels the
// context passed to run; the program exits once run has returned. The
// result of run is returned even when the terminal program fails.
func Run(ctx context.Context, title string, sub <-chan events.Event, run func(context.Context) *models.SyncResult) (*models.SyncResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(title, sub, cancel))
	results := make(chan *models.SyncResult, 1)
	go func() {
		r := run(runCtx)
		results <- r
		p.Send(doneMsg{result: r})
	}()

	_, err := p.Run()
	if err != nil {
		cancel()
	}
	return <-results, err
}
