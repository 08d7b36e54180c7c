package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"lineaclaim/internal/storage"
)

// Downsample keeps at most max evenly spaced items, always including the first and last.
func Downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[:1]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

// WriteCSV writes one row per wallet result to path.
func WriteCSV(path string, results []storage.WalletResult) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return EncodeCSV(file, results)
}

// EncodeCSV writes the results table to w.
func EncodeCSV(w io.Writer, results []storage.WalletResult) error {
	writer := csv.NewWriter(w)

	header := []string{"run_id", "wallet", "success", "value", "attempts", "finished_at", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range results {
		errMsg := ""
		if res.Error != nil {
			errMsg = *res.Error
		}
		record := []string{
			strconv.FormatInt(res.RunID, 10),
			res.Wallet,
			strconv.FormatBool(res.Success),
			res.Value.String(),
			strconv.Itoa(res.Attempts),
			res.FinishedAt.UTC().Format(time.RFC3339),
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WritePNG renders claimed value per wallet as a bar chart.
func WritePNG(path string, run storage.Run, results []storage.WalletResult) error {
	if len(results) == 0 {
		return fmt.Errorf("run %d has no results to chart", run.ID)
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return RenderPNG(file, run, results)
}

// RenderPNG writes the bar chart to w.
func RenderPNG(w io.Writer, run storage.Run, results []storage.WalletResult) error {
	bars := make([]chart.Value, 0, len(results))
	for _, res := range results {
		style := chart.Style{FillColor: chart.ColorBlue, StrokeColor: chart.ColorBlue}
		if !res.Success {
			style = chart.Style{FillColor: chart.ColorRed, StrokeColor: chart.ColorRed}
		}
		bars = append(bars, chart.Value{
			Label: shortAddress(res.Wallet),
			Value: res.Value.InexactFloat64(),
			Style: style,
		})
	}

	width := 120 + 60*len(bars)
	if width < 640 {
		width = 640
	}
	graph := chart.BarChart{
		Title:    fmt.Sprintf("Run #%d (%s) claimed %s", run.ID, run.Mode, run.ClaimedTotal.StringFixed(2)),
		Width:    width,
		Height:   480,
		BarWidth: 40,
		Background: chart.Style{
			Padding: chart.Box{Top: 48},
		},
		YAxis: chart.YAxis{
			Name: "LINEA",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}
	// go-chart rejects an empty value range, which a single bar or equal bars would produce.
	graph.YAxis.Range = &chart.ContinuousRange{Min: 0, Max: upperBound(bars)}

	return graph.Render(chart.PNG, w)
}

func upperBound(bars []chart.Value) float64 {
	max := 0.0
	for _, b := range bars {
		max = math.Max(max, b.Value)
	}
	if max == 0 {
		return 1
	}
	return max * 1.1
}

func shortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
