package tui

import (
	"context"
	"fmt"
	"strings"

	"prediction-pulse/internal/domain"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Signal explorer message types.
type filteredSignalsMsg []domain.Signal
type filteredSignalsErrMsg struct{ err error }

var (
	sourceOptions    = []string{"ALL", string(domain.SourcePolymarket), string(domain.SourceKalshi)}
	typeOptions      = []string{"ALL", string(domain.SignalTypeAlert), string(domain.SignalTypeTrend)}
	directionOptions = []string{"ALL", string(domain.DirectionUp), string(domain.DirectionDown)}
)

const explorerLimit = 200

// SignalExplorerModel is the Bubble Tea model for the signal explorer screen.
type SignalExplorerModel struct {
	services     Services
	signals      []domain.Signal
	sourceIdx    int
	typeIdx      int
	directionIdx int
	scrollOffset int
	loading      bool
	err          error
	width        int
	height       int
}

// NewSignalExplorerModel creates a new signal explorer model.
func NewSignalExplorerModel(svc Services) SignalExplorerModel {
	return SignalExplorerModel{
		services: svc,
		loading:  true,
	}
}

// Init fires initial signal fetch.
func (m SignalExplorerModel) Init() tea.Cmd {
	return m.fetchSignalsCmd()
}

// Update handles incoming messages.
func (m SignalExplorerModel) Update(msg tea.Msg) (SignalExplorerModel, tea.Cmd) {
	switch msg := msg.(type) {
	case filteredSignalsMsg:
		m.signals = []domain.Signal(msg)
		m.loading = false
		m.scrollOffset = 0
		m.err = nil
		return m, nil

	case filteredSignalsErrMsg:
		m.err = msg.err
		m.loading = false
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, DefaultKeyMap.FilterSource):
			m.sourceIdx = (m.sourceIdx + 1) % len(sourceOptions)
			m.loading = true
			return m, m.fetchSignalsCmd()

		case key.Matches(msg, DefaultKeyMap.FilterType):
			m.typeIdx = (m.typeIdx + 1) % len(typeOptions)
			m.loading = true
			return m, m.fetchSignalsCmd()

		case key.Matches(msg, DefaultKeyMap.FilterDirection):
			m.directionIdx = (m.directionIdx + 1) % len(directionOptions)
			m.loading = true
			return m, m.fetchSignalsCmd()

		case key.Matches(msg, DefaultKeyMap.Refresh):
			m.loading = true
			return m, m.fetchSignalsCmd()

		case key.Matches(msg, DefaultKeyMap.Down):
			if m.scrollOffset < len(m.signals)-m.visibleRows() {
				m.scrollOffset++
			}
			return m, nil

		case key.Matches(msg, DefaultKeyMap.Up):
			if m.scrollOffset > 0 {
				m.scrollOffset--
			}
			return m, nil
		}
	}

	return m, nil
}

// View renders the signal explorer.
func (m SignalExplorerModel) View() string {
	sections := []string{
		HeaderStyle.Render("  Signal Explorer"),
		"",
		m.renderFilters(),
		SubtextStyle.Render(strings.Repeat("─", max(m.width-2, 10))),
	}

	if m.loading {
		sections = append(sections, SubtextStyle.Render("  Loading..."))
		return strings.Join(sections, "\n")
	}

	if m.err != nil {
		sections = append(sections, ErrorStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
		return strings.Join(sections, "\n")
	}

	if len(m.signals) == 0 {
		sections = append(sections, SubtextStyle.Render("  No signals match the current filters"))
		return strings.Join(sections, "\n")
	}

	sections = append(sections, SubtextStyle.Render(
		fmt.Sprintf("  %-1s %-5s %-10s %-24s %-14s %7s %5s  %s",
			"", "Type", "Source", "Market", "Prior -> New", "Change", "Win", "Time"),
	))

	maxVisible := m.visibleRows()
	end := min(m.scrollOffset+maxVisible, len(m.signals))
	for i := m.scrollOffset; i < end; i++ {
		sections = append(sections, "  "+FormatSignal(m.signals[i]))
	}

	if len(m.signals) > maxVisible {
		sections = append(sections, SubtextStyle.Render(
			fmt.Sprintf("  Showing %d-%d of %d (j/k to scroll)", m.scrollOffset+1, end, len(m.signals)),
		))
	}

	sections = append(sections, "", SubtextStyle.Render("  [s] source  [t] type  [d] direction  [R] refresh  [j/k] scroll"))
	return strings.Join(sections, "\n")
}

// SetSize updates the model dimensions.
func (m *SignalExplorerModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// FilterState returns current filter indices (for testing).
func (m SignalExplorerModel) FilterState() (sourceIdx, typeIdx, directionIdx int) {
	return m.sourceIdx, m.typeIdx, m.directionIdx
}

// SignalCount returns the number of loaded signals (for testing).
func (m SignalExplorerModel) SignalCount() int { return len(m.signals) }

func (m SignalExplorerModel) renderFilters() string {
	return "  " + lipgloss.JoinHorizontal(lipgloss.Top,
		renderChip("Source", sourceOptions, m.sourceIdx), "  ",
		renderChip("Type", typeOptions, m.typeIdx), "  ",
		renderChip("Dir", directionOptions, m.directionIdx),
	)
}

func renderChip(label string, options []string, active int) string {
	parts := []string{SubtextStyle.Render(label + ": ")}
	for i, opt := range options {
		display := strings.ToUpper(opt)
		if i == active {
			parts = append(parts, ActiveTabStyle.Render(display))
		} else {
			parts = append(parts, SubtextStyle.Render(display))
		}
		parts = append(parts, " ")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m SignalExplorerModel) buildFilter() domain.SignalFilter {
	filter := domain.SignalFilter{Limit: explorerLimit}
	if m.sourceIdx > 0 {
		filter.Source = domain.Source(sourceOptions[m.sourceIdx])
	}
	if m.typeIdx > 0 {
		filter.SignalType = domain.SignalType(typeOptions[m.typeIdx])
	}
	if m.directionIdx > 0 {
		filter.Direction = domain.SignalDirection(directionOptions[m.directionIdx])
	}
	return filter
}

func (m SignalExplorerModel) fetchSignalsCmd() tea.Cmd {
	filter := m.buildFilter()
	return func() tea.Msg {
		if m.services.Signals == nil {
			return filteredSignalsErrMsg{err: fmt.Errorf("signal service not available")}
		}
		signals, err := m.services.Signals.ListSignals(context.Background(), filter)
		if err != nil {
			return filteredSignalsErrMsg{err: err}
		}
		return filteredSignalsMsg(signals)
	}
}

func (m SignalExplorerModel) visibleRows() int {
	// header, filters, table header, help footer
	return max(m.height-10, 5)
}
