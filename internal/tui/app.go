package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Tab represents a screen tab in the TUI.
type Tab int

const (
	TabDashboard Tab = iota
	TabSignals
	TabMarkets
)

var tabNames = []string{"1:Dashboard", "2:Signals", "3:Markets"}

// AppModel is the root Bubble Tea model that manages tab navigation and child screens.
type AppModel struct {
	services  Services
	activeTab Tab
	dashboard DashboardModel
	signals   SignalExplorerModel
	markets   MarketBrowserModel
	width     int
	height    int
	quitting  bool
}

// NewAppModel creates the root application model with all child screens.
func NewAppModel(svc Services) AppModel {
	return AppModel{
		services:  svc,
		activeTab: TabDashboard,
		dashboard: NewDashboardModel(svc),
		signals:   NewSignalExplorerModel(svc),
		markets:   NewMarketBrowserModel(svc),
	}
}

// Init initializes all child models.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.Init(),
		m.signals.Init(),
		m.markets.Init(),
	)
}

// Update handles incoming messages, routing to the active tab.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.propagateSize()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, DefaultKeyMap.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, DefaultKeyMap.Tab):
			m.activeTab = Tab((int(m.activeTab) + 1) % len(tabNames))
			return m, nil

		case key.Matches(msg, DefaultKeyMap.ShiftTab):
			m.activeTab = Tab((int(m.activeTab) + len(tabNames) - 1) % len(tabNames))
			return m, nil

		case len(msg.String()) == 1 && msg.String() >= "1" && msg.String() <= "3":
			m.activeTab = Tab(msg.String()[0] - '1')
			return m, nil
		}
	}

	// Data messages go to their owner; everything else to the active tab.
	var cmd tea.Cmd
	switch msg.(type) {
	case marketsMsg, marketsErrMsg, signalsMsg, signalsErrMsg, dashTickMsg:
		m.dashboard, cmd = m.dashboard.Update(msg)

	case filteredSignalsMsg, filteredSignalsErrMsg:
		m.signals, cmd = m.signals.Update(msg)

	case marketListMsg, marketListErrMsg, seriesMsg, seriesErrMsg:
		m.markets, cmd = m.markets.Update(msg)

	default:
		switch m.activeTab {
		case TabDashboard:
			m.dashboard, cmd = m.dashboard.Update(msg)
		case TabSignals:
			m.signals, cmd = m.signals.Update(msg)
		case TabMarkets:
			m.markets, cmd = m.markets.Update(msg)
		}
	}

	return m, cmd
}

// View renders the tab bar and active screen.
func (m AppModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	var content string
	switch m.activeTab {
	case TabDashboard:
		content = m.dashboard.View()
	case TabSignals:
		content = m.signals.View()
	case TabMarkets:
		content = m.markets.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabBar(), content)
}

// SetSize updates dimensions on the root model and propagates to children.
func (m *AppModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.propagateSize()
}

// ActiveTab returns the currently active tab (for testing).
func (m AppModel) ActiveTab() Tab { return m.activeTab }

func (m *AppModel) propagateSize() {
	contentHeight := m.height - 2 // tab bar
	m.dashboard.SetSize(m.width, contentHeight)
	m.signals.SetSize(m.width, contentHeight)
	m.markets.SetSize(m.width, contentHeight)
}

func (m AppModel) renderTabBar() string {
	tabs := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		if Tab(i) == m.activeTab {
			tabs = append(tabs, ActiveTabStyle.Render(name))
		} else {
			tabs = append(tabs, InactiveTabStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}
