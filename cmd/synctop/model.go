package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"kasirinaja/terminal/internal/domain"
)

const (
	requestTimeout = 5 * time.Second
	failedShown    = 8
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Width(10).Foreground(lipgloss.Color("245"))
	pendingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	failedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	syncedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type snapshotMsg struct {
	counts domain.SyncCounts
	failed []domain.TransactionRecord
	err    error
	at     time.Time
}

type tickMsg time.Time

type sweepMsg struct {
	result domain.SweepResult
	err    error
}

type catalogMsg struct {
	result domain.CatalogResult
	err    error
}

type model struct {
	client   *apiClient
	interval time.Duration
	printer  *message.Printer

	counts  domain.SyncCounts
	failed  []domain.TransactionRecord
	updated time.Time
	status  string
	err     error
	busy    bool
}

func newModel(client *apiClient, interval time.Duration) model {
	return model{
		client:   client,
		interval: interval,
		printer:  message.NewPrinter(language.Indonesian),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		counts, err := client.summary(ctx)
		if err != nil {
			return snapshotMsg{err: err, at: time.Now()}
		}
		failed, err := client.failedRecords(ctx, failedShown)
		return snapshotMsg{counts: counts, failed: failed, err: err, at: time.Now()}
	}
}

func (m model) sweep() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		result, err := client.syncAll(context.Background())
		return sweepMsg{result: result, err: err}
	}
}

func (m model) pullCatalog() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		result, err := client.refreshCatalog(context.Background())
		return catalogMsg{result: result, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		case "s":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "syncing..."
			return m, m.sweep()
		case "c":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "pulling catalog..."
			return m, m.pullCatalog()
		}
	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.counts = msg.counts
			m.failed = msg.failed
			m.updated = msg.at
		}
	case sweepMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "sync failed: " + msg.err.Error()
			return m, nil
		}
		m.status = m.printer.Sprintf("sync: %d attempted, %d synced, %d pending, %d failed",
			msg.result.Attempted, msg.result.Synced, msg.result.Pending, msg.result.Failed)
		return m, m.fetch()
	case catalogMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.status = "catalog failed: " + msg.err.Error()
		case msg.result.Success:
			m.status = m.printer.Sprintf("catalog: %d items, %d users", msg.result.Counts.Items, msg.result.Counts.Users)
		default:
			m.status = "catalog: " + msg.result.Message
		}
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("kasirinaja sync"))
	b.WriteString("\n\n")

	counts := lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render("pending")+pendingStyle.Render(m.printer.Sprintf("%d", m.counts.Pending)),
		labelStyle.Render("failed")+failedStyle.Render(m.printer.Sprintf("%d", m.counts.Failed)),
		labelStyle.Render("synced")+syncedStyle.Render(m.printer.Sprintf("%d", m.counts.Synced)),
	)
	b.WriteString(boxStyle.Render(counts))
	b.WriteString("\n")

	if len(m.failed) > 0 {
		b.WriteString("\nlast failures\n")
		for _, rec := range m.failed {
			fmt.Fprintf(&b, "  %-4s %-22s %s\n", rec.Kind, rec.Number, failedStyle.Render(rec.Error))
		}
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(failedStyle.Render("local api unreachable: " + m.err.Error()))
		b.WriteString("\n")
	} else if !m.updated.IsZero() {
		b.WriteString(helpStyle.Render("updated " + m.updated.Format("15:04:05")))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("s sync now • c pull catalog • r refresh • q quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}
