package tui

import (
	"errors"
	"testing"

	"prediction-pulse/internal/domain"

	tea "github.com/charmbracelet/bubbletea"
)

func TestSignalExplorerFilterCycling(t *testing.T) {
	svc := testServices()
	signals := svc.Signals.(*stubSignalQuerier)
	m := NewSignalExplorerModel(svc)
	m.SetSize(120, 40)

	si, ti, di := m.FilterState()
	if si != 0 || ti != 0 || di != 0 {
		t.Fatalf("expected all filters at 0, got %d/%d/%d", si, ti, di)
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'s'}})
	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}})
	updated, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}})

	si, ti, di = updated.FilterState()
	if si != 1 || ti != 2 || di != 1 {
		t.Fatalf("unexpected filter state %d/%d/%d", si, ti, di)
	}
	if cmd == nil {
		t.Fatal("expected a fetch command")
	}
	if _, ok := cmd().(filteredSignalsMsg); !ok {
		t.Fatal("expected filteredSignalsMsg")
	}

	want := domain.SignalFilter{
		Source:     domain.SourcePolymarket,
		SignalType: domain.SignalTypeTrend,
		Direction:  domain.DirectionUp,
		Limit:      explorerLimit,
	}
	if signals.lastFilter != want {
		t.Fatalf("unexpected filter: %+v", signals.lastFilter)
	}
}

func TestSignalExplorerUpdateSignals(t *testing.T) {
	m := NewSignalExplorerModel(testServices())
	m.SetSize(120, 40)

	updated, _ := m.Update(filteredSignalsMsg{
		testSignal(1, "0xabc", domain.DirectionUp, 0.1),
		testSignal(2, "0xdef", domain.DirectionDown, -0.2),
	})
	if updated.SignalCount() != 2 {
		t.Fatalf("expected 2 signals, got %d", updated.SignalCount())
	}
	if updated.View() == "" {
		t.Fatal("expected non-empty view")
	}
}

func TestSignalExplorerError(t *testing.T) {
	m := NewSignalExplorerModel(testServices())
	updated, _ := m.Update(filteredSignalsErrMsg{err: errors.New("boom")})
	if updated.err == nil || updated.loading {
		t.Fatal("expected error state")
	}
}

func TestSignalExplorerScrolling(t *testing.T) {
	m := NewSignalExplorerModel(testServices())
	m.SetSize(120, 20)
	m.loading = false

	for i := 0; i < 50; i++ {
		m.signals = append(m.signals, testSignal(int64(i), "0xabc", domain.DirectionUp, 0.1))
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	if updated.scrollOffset != 1 {
		t.Fatalf("expected scroll offset 1, got %d", updated.scrollOffset)
	}

	updated, _ = updated.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	if updated.scrollOffset != 0 {
		t.Fatalf("expected scroll offset 0, got %d", updated.scrollOffset)
	}
}
