package csvfeed

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendbot/internal/domain"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func series(n int) []*domain.Bar {
	bars := make([]*domain.Bar, n)
	for i := range bars {
		open := t0.Add(time.Duration(i) * time.Hour)
		bars[i] = &domain.Bar{
			OpenTime: open, CloseTime: open.Add(time.Hour - time.Second), Symbol: "BTCUSDT", Interval: "1h",
			Open: 100 + float64(i), High: 101.5 + float64(i), Low: 99.25 + float64(i), Close: 100.5 + float64(i), Volume: 12.5, IsFinal: true,
		}
	}
	return bars
}

func TestWriteThenReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	in := series(3)
	require.NoError(t, WriteFile(path, in))

	out, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteBars_Header(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteBars(&buf, series(1)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "open_time,close_time,symbol,interval,open,high,low,close,volume", lines[0])
	assert.Equal(t, "2024-06-01T10:00:00Z,2024-06-01T10:59:59Z,BTCUSDT,1h,100,101.5,99.25,100.5,12.5", lines[1])
}

func TestReadBars_Variants(t *testing.T) {
	// reordered columns, millisecond times, no close_time
	src := "close,open_time,open,high,low,symbol\n" +
		"10,1717236000000,9,11,8,btc/usdt\n" +
		"11,1717239600000,10,12,9,btc/usdt\n"
	bars, err := ReadBars(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, t0, bars[0].OpenTime)
	assert.Equal(t, "BTCUSDT", bars[0].Symbol)
	assert.Equal(t, 10.0, bars[0].Close)
	assert.True(t, bars[1].IsFinal)

	empty, err := ReadBars(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadBars_Errors(t *testing.T) {
	tests := map[string]string{
		"missing column": "open_time,open,high,low\n1,1,1,1\n",
		"bad number":     "open_time,open,high,low,close\n1,x,1,1,1\n",
		"bad time":       "open_time,open,high,low,close\nyesterday,1,1,1,1\n",
		"out of order":   "open_time,open,high,low,close\n2,1,1,1,1\n1,1,1,1,1\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadBars(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestFeed(t *testing.T) {
	bars := series(5)
	f := NewFeed(bars, 3)
	ctx := context.Background()

	hist, err := f.History(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, bars[1:3], hist)

	stream, err := f.Stream(ctx)
	require.NoError(t, err)
	var got []*domain.Bar
	for b := range stream {
		got = append(got, b)
	}
	assert.Equal(t, bars[3:], got)

	all, err := NewFeed(bars, 10).History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}
