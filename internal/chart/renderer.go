package chart

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"time"

	"prediction-pulse/internal/domain"
)

const (
	defaultChartWidth  = 960
	defaultChartHeight = 480
	maxChartPoints     = 1440
	markerSize         = 5
)

var (
	colBackground = color.RGBA{R: 250, G: 252, B: 255, A: 255}
	colGrid       = color.RGBA{R: 225, G: 232, B: 240, A: 255}
	colUp         = color.RGBA{R: 18, G: 140, B: 126, A: 255}
	colDown       = color.RGBA{R: 210, G: 61, B: 87, A: 255}
	colPrice      = color.RGBA{R: 62, G: 106, B: 214, A: 255}
	colTrend      = color.RGBA{R: 255, G: 149, B: 0, A: 255}
	colBand       = color.RGBA{R: 104, G: 122, B: 146, A: 255}
)

type Image struct {
	MimeType string
	Width    int
	Height   int
	Bytes    []byte
}

type Renderer struct {
	width  int
	height int
}

func NewRenderer() *Renderer {
	return &Renderer{width: defaultChartWidth, height: defaultChartHeight}
}

// RenderSeries draws a probability line on a fixed 0..1 axis with a marker at every signal.
// Alerts are drawn as filled squares and trends as a bracket from prior to current timestamp.
func (r *Renderer) RenderSeries(points []domain.PricePoint, signals []domain.Signal) (*Image, error) {
	series := normalizePoints(points)
	if len(series) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 price points to render chart", domain.ErrNoPriceData)
	}
	if len(series) > maxChartPoints {
		series = series[len(series)-maxChartPoints:]
	}

	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	fillRect(img, img.Bounds(), colBackground)

	plot := image.Rect(50, 20, r.width-20, r.height-30)
	drawGrid(img, plot, 8, 4)
	drawHorizontalValueLine(img, plot, 0.5, 0, 1, colBand)

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Price
	}
	drawSeries(img, plot, values, 0, 1, colPrice)

	for _, sig := range signals {
		idx := indexAt(series, sig)
		if idx < 0 {
			continue
		}
		x := mapIndexToX(idx, len(series), plot)
		y := mapValueToY(sig.NewPrice, 0, 1, plot)
		col := colUp
		if sig.Direction == domain.DirectionDown {
			col = colDown
		}
		if sig.SignalType == domain.SignalTypeTrend {
			if prior := indexAtTime(series, sig.PriorTimestamp); prior >= 0 {
				px := mapIndexToX(prior, len(series), plot)
				py := mapValueToY(sig.PriorPrice, 0, 1, plot)
				drawLine(img, px, py, x, y, colTrend)
			}
		}
		fillRect(img, image.Rect(x-markerSize/2, y-markerSize/2, x+markerSize/2+1, y+markerSize/2+1), col)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return &Image{MimeType: "image/png", Width: r.width, Height: r.height, Bytes: buf.Bytes()}, nil
}

func normalizePoints(in []domain.PricePoint) []domain.PricePoint {
	out := make([]domain.PricePoint, 0, len(in))
	for _, p := range in {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func indexAt(series []domain.PricePoint, sig domain.Signal) int {
	return indexAtTime(series, sig.Timestamp)
}

// indexAtTime returns the first point at or after ts, or -1 when ts is outside the series.
func indexAtTime(series []domain.PricePoint, ts time.Time) int {
	if len(series) == 0 {
		return -1
	}
	target := ts.Unix()
	if target < series[0].Timestamp.Unix() || target > series[len(series)-1].Timestamp.Unix() {
		return -1
	}
	return sort.Search(len(series), func(i int) bool { return series[i].Timestamp.Unix() >= target })
}

func drawSeries(img *image.RGBA, rect image.Rectangle, series []float64, minV, maxV float64, col color.RGBA) {
	lastX, lastY := -1, -1
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			lastX, lastY = -1, -1
			continue
		}
		x := mapIndexToX(i, len(series), rect)
		y := mapValueToY(v, minV, maxV, rect)
		if lastX >= 0 {
			drawLine(img, lastX, lastY, x, y, col)
		}
		lastX, lastY = x, y
	}
}

func drawGrid(img *image.RGBA, rect image.Rectangle, verticalLines, horizontalLines int) {
	for i := 0; i <= verticalLines; i++ {
		x := rect.Min.X + (rect.Dx()*i)/max(1, verticalLines)
		drawLine(img, x, rect.Min.Y, x, rect.Max.Y, colGrid)
	}
	for i := 0; i <= horizontalLines; i++ {
		y := rect.Min.Y + (rect.Dy()*i)/max(1, horizontalLines)
		drawLine(img, rect.Min.X, y, rect.Max.X, y, colGrid)
	}
}

func drawHorizontalValueLine(img *image.RGBA, rect image.Rectangle, value, minV, maxV float64, col color.RGBA) {
	y := mapValueToY(value, minV, maxV, rect)
	drawLine(img, rect.Min.X, y, rect.Max.X, y, col)
}

func mapIndexToX(idx, total int, rect image.Rectangle) int {
	if total <= 1 {
		return rect.Min.X
	}
	return rect.Min.X + (idx*(rect.Dx()-1))/(total-1)
}

func mapValueToY(value, minV, maxV float64, rect image.Rectangle) int {
	if maxV <= minV {
		return rect.Max.Y
	}
	ratio := (value - minV) / (maxV - minV)
	ratio = math.Max(0, math.Min(1, ratio))
	return rect.Max.Y - int(ratio*float64(rect.Dy()-1))
}

func fillRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	r := rect.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}

// drawLine is Bresenham's algorithm clipped to the image bounds.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		if image.Pt(x0, y0).In(img.Bounds()) {
			img.SetRGBA(x0, y0, col)
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			if x0 == x1 {
				break
			}
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			if y0 == y1 {
				break
			}
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
