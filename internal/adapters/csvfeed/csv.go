// Package csvfeed reads and writes bars as CSV and replays them as a data feed.
package csvfeed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"trendbot/internal/domain"
)

var header = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteBars writes bars with a header row. Times are RFC3339 UTC.
func WriteBars(w io.Writer, bars []*domain.Bar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, b := range bars {
		err := writer.Write([]string{
			b.OpenTime.UTC().Format(time.RFC3339),
			b.CloseTime.UTC().Format(time.RFC3339),
			b.Symbol,
			b.Interval,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteFile writes bars to filename, replacing it and creating its directory.
func WriteFile(filename string, bars []*domain.Bar) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filename, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteBars(file, bars); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadBars parses bars written by WriteBars. Columns are matched by header name;
// times may be RFC3339 or unix milliseconds. Every row is a final bar.
func ReadBars(r io.Reader) ([]*domain.Bar, error) {
	reader := csv.NewReader(r)
	head, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(head))
	for i, name := range head {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"open_time", "open", "high", "low", "close"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var bars []*domain.Bar
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return bars, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b, err := parseRow(rec, col)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n := len(bars); n > 0 && !b.OpenTime.After(bars[n-1].OpenTime) {
			return nil, fmt.Errorf("line %d: open time %s not after previous bar", line, b.OpenTime)
		}
		bars = append(bars, b)
	}
}

// ReadFile reads bars from filename.
func ReadFile(filename string) ([]*domain.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadBars(file)
}

func parseRow(rec []string, col map[string]int) (*domain.Bar, error) {
	get := func(name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	num := func(name string) (float64, error) {
		s := get(name)
		if s == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %s '%s': %w", name, s, err)
		}
		return v, nil
	}

	b := &domain.Bar{Symbol: domain.NormalizeSymbol(get("symbol")), Interval: get("interval"), IsFinal: true}
	var err error
	if b.OpenTime, err = parseTime(get("open_time")); err != nil {
		return nil, err
	}
	if s := get("close_time"); s != "" {
		if b.CloseTime, err = parseTime(s); err != nil {
			return nil, err
		}
	}
	if b.Open, err = num("open"); err != nil {
		return nil, err
	}
	if b.High, err = num("high"); err != nil {
		return nil, err
	}
	if b.Low, err = num("low"); err != nil {
		return nil, err
	}
	if b.Close, err = num("close"); err != nil {
		return nil, err
	}
	if b.Volume, err = num("volume"); err != nil {
		return nil, err
	}
	return b, nil
}

func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time '%s': %w", s, err)
	}
	return t.UTC(), nil
}

// Feed replays a fixed bar series: the first Warmup bars as history, the rest
// through Stream.
type Feed struct {
	bars   []*domain.Bar
	warmup int
}

// NewFeed splits bars at warmup.
func NewFeed(bars []*domain.Bar, warmup int) *Feed {
	if warmup < 0 {
		warmup = 0
	}
	if warmup > len(bars) {
		warmup = len(bars)
	}
	return &Feed{bars: bars, warmup: warmup}
}

// History returns up to limit of the warmup bars, most recent last.
func (f *Feed) History(ctx context.Context, limit int) ([]*domain.Bar, error) {
	hist := f.bars[:f.warmup]
	if limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	return hist, nil
}

// Stream emits the bars after the warmup, then closes.
func (f *Feed) Stream(ctx context.Context) (<-chan *domain.Bar, error) {
	out := make(chan *domain.Bar)
	go func() {
		defer close(out)
		for _, b := range f.bars[f.warmup:] {
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
