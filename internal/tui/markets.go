package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type marketListMsg []domain.TrackedMarket
type marketListErrMsg struct{ err error }

type seriesMsg struct {
	key    string
	points []domain.PricePoint
}
type seriesErrMsg struct {
	key string
	err error
}

const (
	sparkLookback = 24 * time.Hour
	sparkLimit    = 1440
)

// MarketBrowserModel lists tracked markets and shows a 24h sparkline for the selected one.
type MarketBrowserModel struct {
	services  Services
	markets   []domain.TrackedMarket
	sourceIdx int
	cursor    int
	offset    int
	series    []domain.PricePoint
	seriesKey string
	seriesErr error
	loading   bool
	err       error
	width     int
	height    int
}

func NewMarketBrowserModel(svc Services) MarketBrowserModel {
	return MarketBrowserModel{services: svc, loading: true}
}

func (m MarketBrowserModel) Init() tea.Cmd {
	return m.fetchMarketsCmd()
}

func (m MarketBrowserModel) Update(msg tea.Msg) (MarketBrowserModel, tea.Cmd) {
	switch msg := msg.(type) {
	case marketListMsg:
		m.markets = []domain.TrackedMarket(msg)
		m.loading = false
		m.err = nil
		if m.cursor >= len(m.markets) {
			m.cursor = max(len(m.markets)-1, 0)
		}
		m.clampOffset()
		return m, nil

	case marketListErrMsg:
		m.err = msg.err
		m.loading = false
		return m, nil

	case seriesMsg:
		// Ignore late replies for a market that is no longer selected.
		if msg.key == m.seriesKey {
			m.series = msg.points
			m.seriesErr = nil
		}
		return m, nil

	case seriesErrMsg:
		if msg.key == m.seriesKey {
			m.series = nil
			m.seriesErr = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, DefaultKeyMap.FilterSource):
			m.sourceIdx = (m.sourceIdx + 1) % len(sourceOptions)
			m.cursor, m.offset = 0, 0
			m.loading = true
			return m, m.fetchMarketsCmd()

		case key.Matches(msg, DefaultKeyMap.Refresh):
			m.loading = true
			return m, m.fetchMarketsCmd()

		case key.Matches(msg, DefaultKeyMap.Down):
			if m.cursor < len(m.markets)-1 {
				m.cursor++
				m.clampOffset()
			}
			return m, nil

		case key.Matches(msg, DefaultKeyMap.Up):
			if m.cursor > 0 {
				m.cursor--
				m.clampOffset()
			}
			return m, nil

		case key.Matches(msg, DefaultKeyMap.Select):
			if len(m.markets) == 0 {
				return m, nil
			}
			selected := m.markets[m.cursor]
			m.seriesKey = marketKey(selected)
			m.series = nil
			m.seriesErr = nil
			return m, m.fetchSeriesCmd(selected)
		}
	}
	return m, nil
}

func (m MarketBrowserModel) View() string {
	sections := []string{
		HeaderStyle.Render("  Tracked Markets"),
		"",
		"  " + renderChip("Source", sourceOptions, m.sourceIdx),
		SubtextStyle.Render(strings.Repeat("─", max(m.width-2, 10))),
	}

	switch {
	case m.loading:
		sections = append(sections, SubtextStyle.Render("  Loading..."))
		return strings.Join(sections, "\n")
	case m.err != nil:
		sections = append(sections, ErrorStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
		return strings.Join(sections, "\n")
	case len(m.markets) == 0:
		sections = append(sections, SubtextStyle.Render("  No tracked markets"))
		return strings.Join(sections, "\n")
	}

	end := min(m.offset+m.visibleRows(), len(m.markets))
	for i := m.offset; i < end; i++ {
		line := FormatMarket(m.markets[i])
		if i == m.cursor {
			sections = append(sections, SelectedStyle.Render("> ")+line)
		} else {
			sections = append(sections, "  "+line)
		}
	}

	sections = append(sections, "", m.renderSeries())
	sections = append(sections, "", SubtextStyle.Render("  [s] source  [enter] 24h chart  [R] refresh  [j/k] move"))
	return strings.Join(sections, "\n")
}

func (m *MarketBrowserModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.clampOffset()
}

// Cursor returns the selected row (for testing).
func (m MarketBrowserModel) Cursor() int { return m.cursor }

// MarketCount returns the number of loaded markets (for testing).
func (m MarketBrowserModel) MarketCount() int { return len(m.markets) }

func (m MarketBrowserModel) renderSeries() string {
	if m.seriesKey == "" {
		return SubtextStyle.Render("  Select a market to load its last 24h")
	}
	if m.seriesErr != nil {
		return ErrorStyle.Render(fmt.Sprintf("  %s: %v", m.seriesKey, m.seriesErr))
	}
	if m.series == nil {
		return SubtextStyle.Render("  Loading " + m.seriesKey + "...")
	}
	return "  " + m.seriesKey + "\n  " + RenderSparkline(m.series, max(m.width-16, 20))
}

func (m *MarketBrowserModel) clampOffset() {
	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

func (m MarketBrowserModel) visibleRows() int {
	// header, filter, series block, help footer
	return max(m.height-12, 5)
}

func (m MarketBrowserModel) fetchMarketsCmd() tea.Cmd {
	var source domain.Source
	if m.sourceIdx > 0 {
		source = domain.Source(sourceOptions[m.sourceIdx])
	}
	return func() tea.Msg {
		if m.services.Markets == nil {
			return marketListErrMsg{err: fmt.Errorf("market service not available")}
		}
		markets, err := m.services.Markets.ListTracked(context.Background(), source, false)
		if err != nil {
			return marketListErrMsg{err: err}
		}
		return marketListMsg(markets)
	}
}

func (m MarketBrowserModel) fetchSeriesCmd(mk domain.TrackedMarket) tea.Cmd {
	k := marketKey(mk)
	return func() tea.Msg {
		if m.services.Signals == nil {
			return seriesErrMsg{key: k, err: fmt.Errorf("signal service not available")}
		}
		points, err := m.services.Signals.Series(context.Background(), mk.Source, mk.MarketID, time.Now().Add(-sparkLookback), sparkLimit)
		if err != nil {
			return seriesErrMsg{key: k, err: err}
		}
		if points == nil {
			points = []domain.PricePoint{}
		}
		return seriesMsg{key: k, points: points}
	}
}

func marketKey(mk domain.TrackedMarket) string {
	return string(mk.Source) + "/" + mk.MarketID
}
