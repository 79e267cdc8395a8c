// Package tui renders the interactive review screen for pending learning
// insights and prompt revisions.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/tabgruppen/internal/learning"
)

type reviewItem struct {
	kind     string // "insight" or "revision"
	insight  learning.Insight
	revision learning.Revision
}

type itemsLoadedMsg struct {
	items []reviewItem
	err   error
}

type statusUpdatedMsg struct {
	err error
}

// ReviewModel lists pending insights and revisions and lets the user
// accept or reject each one.
type ReviewModel struct {
	store  *learning.Store
	items  []reviewItem
	cursor int
	width  int
	height int
	status string
	err    error
}

// NewReview builds the review model over the learning store.
func NewReview(store *learning.Store) ReviewModel {
	return ReviewModel{store: store}
}

// Run starts the review program and blocks until it exits.
func Run(store *learning.Store) error {
	p := tea.NewProgram(NewReview(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m ReviewModel) Init() tea.Cmd {
	return m.loadItems()
}

func (m ReviewModel) loadItems() tea.Cmd {
	store := m.store
	return func() tea.Msg {
		insights, err := store.InsightsByStatus("pending")
		if err != nil {
			return itemsLoadedMsg{err: err}
		}
		revisions, err := store.RevisionsByStatus("pending")
		if err != nil {
			return itemsLoadedMsg{err: err}
		}

		var items []reviewItem
		for _, ins := range insights {
			items = append(items, reviewItem{kind: "insight", insight: ins})
		}
		for _, rev := range revisions {
			items = append(items, reviewItem{kind: "revision", revision: rev})
		}
		return itemsLoadedMsg{items: items}
	}
}

func (m ReviewModel) setStatus(status string) tea.Cmd {
	if m.cursor >= len(m.items) {
		return nil
	}
	item := m.items[m.cursor]
	store := m.store
	return func() tea.Msg {
		var err error
		switch item.kind {
		case "insight":
			err = store.UpdateInsightStatus(item.insight.ID, status)
		case "revision":
			err = store.UpdateRevisionStatus(item.revision.ID, status)
		}
		return statusUpdatedMsg{err: err}
	}
}

func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case itemsLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.items = msg.items
		m.err = nil
		if m.cursor >= len(m.items) {
			m.cursor = len(m.items) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		return m, nil

	case statusUpdatedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		return m, m.loadItems()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "a":
			m.status = "accepted"
			return m, m.setStatus("accepted")
		case "r":
			m.status = "rejected"
			return m, m.setStatus("rejected")
		}
	}
	return m, nil
}

func (m ReviewModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	selectedStyle := lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1)
	normalStyle := lipgloss.NewStyle().Padding(0, 1)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	kindStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("Pending learning review") + "\n\n")

	if m.err != nil {
		b.WriteString(fmt.Sprintf("Error: %v\n", m.err))
	}
	if len(m.items) == 0 {
		b.WriteString(normalStyle.Render("Nothing pending.") + "\n")
		b.WriteString("\n" + dimStyle.Render("q quit"))
		return b.String()
	}

	for i, item := range m.items {
		var label string
		switch item.kind {
		case "insight":
			label = fmt.Sprintf("[insight · %s · %.2f] %s",
				item.insight.Category, item.insight.Confidence, item.insight.PreferenceText)
		case "revision":
			label = fmt.Sprintf("[revision · %d changes] %s",
				len(item.revision.Changes), item.revision.Reasoning)
		}
		label = truncate(label, m.width-4)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render(label) + "\n")
		} else {
			b.WriteString(normalStyle.Render("  "+label) + "\n")
		}
	}

	if m.cursor < len(m.items) {
		b.WriteString("\n" + kindStyle.Render(m.detailView(m.items[m.cursor])) + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("↑↓ navigate · a accept · r reject · q quit"))
	return b.String()
}

func (m ReviewModel) detailView(item reviewItem) string {
	width := m.width - 4
	switch item.kind {
	case "insight":
		return fmt.Sprintf("Reasoning: %s\nEvidence: %d events",
			truncate(item.insight.Reasoning, width), len(item.insight.EvidenceIDs))
	case "revision":
		changes := strings.Join(item.revision.Changes, "; ")
		return fmt.Sprintf("Changes: %s\nBased on %d insights",
			truncate(changes, width), len(item.revision.BasedOn))
	}
	return ""
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
