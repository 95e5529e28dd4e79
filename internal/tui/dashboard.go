package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Dashboard message types.
type marketsMsg []domain.TrackedMarket
type marketsErrMsg struct{ err error }
type signalsMsg []domain.Signal
type signalsErrMsg struct{ err error }
type dashTickMsg time.Time

const dashRefreshInterval = 30 * time.Second

// DashboardModel shows tracked market counts, a heat map of recent moves and the latest signals.
type DashboardModel struct {
	services Services
	markets  []domain.TrackedMarket
	signals  []domain.Signal
	loading  bool
	err      error
	width    int
	height   int
}

// NewDashboardModel creates a new dashboard model.
func NewDashboardModel(svc Services) DashboardModel {
	return DashboardModel{
		services: svc,
		loading:  true,
	}
}

// Init fires initial data fetch commands.
func (m DashboardModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchMarketsCmd(),
		m.fetchSignalsCmd(),
		m.tickCmd(),
	)
}

// Update handles incoming messages.
func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	switch msg := msg.(type) {
	case marketsMsg:
		m.markets = []domain.TrackedMarket(msg)
		m.loading = false
		m.err = nil
		return m, nil

	case marketsErrMsg:
		m.err = msg.err
		m.loading = false
		return m, nil

	case signalsMsg:
		m.signals = []domain.Signal(msg)
		return m, nil

	case signalsErrMsg:
		if m.err == nil {
			m.err = msg.err
		}
		return m, nil

	case dashTickMsg:
		return m, tea.Batch(
			m.fetchMarketsCmd(),
			m.fetchSignalsCmd(),
			m.tickCmd(),
		)
	}

	return m, nil
}

// View renders the dashboard.
func (m DashboardModel) View() string {
	if m.loading && len(m.markets) == 0 {
		return SubtextStyle.Render("Loading markets...")
	}
	if m.err != nil && len(m.markets) == 0 && len(m.signals) == 0 {
		return ErrorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	summaryWidth := max(m.width/3-2, 30)
	heatWidth := max(m.width-summaryWidth-4, 20)

	summaryBox := BorderStyle.Width(summaryWidth).Render(m.renderSummary())
	heatBox := BorderStyle.Width(heatWidth).Render(m.renderHeatMapSection(heatWidth))
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, summaryBox, heatBox)

	signalBox := BorderStyle.Width(max(m.width-2, 40)).Render(m.renderSignals())
	return lipgloss.JoinVertical(lipgloss.Left, topRow, signalBox)
}

// SetSize updates the model dimensions.
func (m *DashboardModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Markets returns the current markets (for testing).
func (m DashboardModel) Markets() []domain.TrackedMarket { return m.markets }

// Signals returns the current signals (for testing).
func (m DashboardModel) Signals() []domain.Signal { return m.signals }

func (m DashboardModel) renderSummary() string {
	counts := make(map[domain.Source]int)
	for _, mk := range m.markets {
		counts[mk.Source]++
	}

	lines := []string{HeaderStyle.Render("  Tracked Markets")}
	for _, src := range domain.SupportedSources {
		lines = append(lines, fmt.Sprintf("  %-12s %d", src, counts[src]))
	}
	lines = append(lines, SubtextStyle.Render(fmt.Sprintf("  %-12s %d", "total", len(m.markets))))
	if m.services.Username != "" {
		lines = append(lines, "", SubtextStyle.Render("  signed in as "+m.services.Username))
	}
	return strings.Join(lines, "\n")
}

func (m DashboardModel) renderHeatMapSection(width int) string {
	header := HeaderStyle.Render("  Recent Moves")
	return header + "\n" + RenderHeatMap(m.signals, width-2)
}

func (m DashboardModel) renderSignals() string {
	lines := []string{HeaderStyle.Render("  Latest Signals")}

	count := min(len(m.signals), 10)
	for i := 0; i < count; i++ {
		lines = append(lines, "  "+FormatSignal(m.signals[i]))
	}

	if len(m.signals) == 0 {
		lines = append(lines, SubtextStyle.Render("  No signals yet"))
	}

	return strings.Join(lines, "\n")
}

func (m DashboardModel) fetchMarketsCmd() tea.Cmd {
	return func() tea.Msg {
		if m.services.Markets == nil {
			return marketsErrMsg{err: fmt.Errorf("market service not available")}
		}
		markets, err := m.services.Markets.ListTracked(context.Background(), "", true)
		if err != nil {
			return marketsErrMsg{err: err}
		}
		return marketsMsg(markets)
	}
}

func (m DashboardModel) fetchSignalsCmd() tea.Cmd {
	return func() tea.Msg {
		if m.services.Signals == nil {
			return signalsErrMsg{err: fmt.Errorf("signal service not available")}
		}
		signals, err := m.services.Signals.ListSignals(context.Background(), domain.SignalFilter{Limit: 30})
		if err != nil {
			return signalsErrMsg{err: err}
		}
		return signalsMsg(signals)
	}
}

func (m DashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(dashRefreshInterval, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}
