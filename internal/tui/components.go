package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"prediction-pulse/internal/domain"

	"github.com/charmbracelet/lipgloss"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// FormatSignal renders a signal as a single line.
func FormatSignal(s domain.Signal) string {
	arrow := DirectionUpStyle.Render("▲")
	if s.Direction == domain.DirectionDown {
		arrow = DirectionDownStyle.Render("▼")
	}

	typeStyle := AlertTypeStyle
	if s.SignalType == domain.SignalTypeTrend {
		typeStyle = TrendTypeStyle
	}

	return fmt.Sprintf("%s %-5s %-10s %-24s %.3f -> %.3f %+6.1f%% %4dm  %s",
		arrow,
		typeStyle.Render(strings.ToUpper(string(s.SignalType))),
		string(s.Source),
		truncate(s.MarketID, 24),
		s.PriorPrice,
		s.NewPrice,
		s.PercentChange*100,
		s.TimeWindowMinutes,
		s.Timestamp.Format(time.RFC822),
	)
}

// FormatMarket renders a tracked market as a single line.
func FormatMarket(m domain.TrackedMarket) string {
	title := m.Title
	if title == "" {
		title = m.Slug
	}
	if m.OutcomeLabel != "" {
		title += " [" + m.OutcomeLabel + "]"
	}
	state := ""
	if !m.Active {
		state = SubtextStyle.Render(" (inactive)")
	}
	return fmt.Sprintf("%-10s %-24s %s%s", string(m.Source), truncate(m.MarketID, 24), truncate(title, 48), state)
}

// RenderHeatMap renders one cell per market, colored by the direction of its most
// recent signal and shaded by the size of the move.
func RenderHeatMap(signals []domain.Signal, width int) string {
	if len(signals) == 0 {
		return SubtextStyle.Render("No signals")
	}

	cellWidth := 10
	cols := width / cellWidth
	if cols < 1 {
		cols = 1
	}

	seen := make(map[string]bool)
	var cells []string
	for _, s := range signals {
		if seen[s.MarketID] {
			continue
		}
		seen[s.MarketID] = true

		bg := HeatNeutral
		switch s.Direction {
		case domain.DirectionUp:
			bg = heatColorScale(math.Abs(s.PercentChange), 0.25, HeatGreen)
		case domain.DirectionDown:
			bg = heatColorScale(math.Abs(s.PercentChange), 0.25, HeatRed)
		}

		cells = append(cells, lipgloss.NewStyle().
			Background(bg).
			Foreground(lipgloss.Color("#000000")).
			Bold(true).
			Width(cellWidth-1).
			Align(lipgloss.Center).
			Render(truncate(s.MarketID, cellWidth-1)))
	}

	var rows []string
	for start := 0; start < len(cells); start += cols {
		end := min(start+cols, len(cells))
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells[start:end]...))
	}
	return strings.Join(rows, "\n")
}

// RenderSparkline draws the series on a fixed 0..1 probability scale, resampled to width.
func RenderSparkline(points []domain.PricePoint, width int) string {
	if len(points) == 0 {
		return SubtextStyle.Render("No price data")
	}
	if width <= 0 {
		width = 40
	}

	cols := min(width, len(points))
	var b strings.Builder
	for i := 0; i < cols; i++ {
		idx := i * (len(points) - 1) / max(cols-1, 1)
		p := points[idx].Price
		if math.IsNaN(p) {
			p = 0
		}
		p = math.Max(0, math.Min(1, p))
		level := int(math.Round(p * float64(len(sparkRunes)-1)))
		b.WriteRune(sparkRunes[level])
	}
	last := points[len(points)-1]
	return SparkStyle.Render(b.String()) + fmt.Sprintf("  %.3f", last.Price)
}

// heatColorScale produces a color scaled by magnitude.
func heatColorScale(magnitude, maxMagnitude float64, baseColor lipgloss.Color) lipgloss.Color {
	intensity := magnitude / maxMagnitude
	if intensity < 0.1 {
		return HeatNeutral
	}
	return baseColor
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return string(r[:1])
	}
	return string(r[:n-1]) + "…"
}
