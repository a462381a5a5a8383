package binanceclient

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"

	"trendbot/internal/domain"
)

const maxKlinesLimit = 1000

// Feed implements ports.DataFeed for one symbol and interval.
type Feed struct {
	client   *Client
	symbol   string
	interval string
	now      func() time.Time
}

// NewFeed creates a data feed over c.
func (c *Client) NewFeed(symbol, interval string) *Feed {
	return &Feed{client: c, symbol: domain.NormalizeSymbol(symbol), interval: interval, now: time.Now}
}

// History returns up to limit closed bars, oldest first. The candle still in
// progress is dropped.
func (f *Feed) History(ctx context.Context, limit int) ([]*domain.Bar, error) {
	op := "History"
	if limit <= 0 || limit > maxKlinesLimit {
		limit = maxKlinesLimit
	}
	c := f.client
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	defer cancel()
	// one extra so the open candle can be dropped
	klines, err := c.spot.NewKlinesService().Symbol(f.symbol).Interval(f.interval).Limit(min(limit+1, maxKlinesLimit)).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	bars, err := f.translate(klines)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (f *Feed) translate(klines []*binance.Kline) ([]*domain.Bar, error) {
	now := f.now()
	bars := make([]*domain.Bar, 0, len(klines))
	for _, bk := range klines {
		bar, err := translateKline(bk, f.symbol, f.interval, now)
		if err != nil {
			return nil, fmt.Errorf("failed to translate historical kline: %w", err)
		}
		if bar.IsFinal {
			bars = append(bars, bar)
		}
	}
	return bars, nil
}

// Range fetches all closed bars between start and end, paging through the REST API.
func (f *Feed) Range(ctx context.Context, start, end time.Time) ([]*domain.Bar, error) {
	op := "Range"
	c := f.client
	var all []*domain.Bar
	from := start
	for {
		rctx, cancel, err := c.begin(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		klines, err := c.spot.NewKlinesService().
			Symbol(f.symbol).
			Interval(f.interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesLimit).
			Do(rctx)
		cancel()
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		bars, err := f.translate(klines)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		all = append(all, bars...)
		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesLimit {
			break
		}
	}
	return all, nil
}

// Stream delivers final bars from the kline websocket, reconnecting with
// exponential backoff. The channel closes when ctx ends or reconnection gives up.
func (f *Feed) Stream(ctx context.Context) (<-chan *domain.Bar, error) {
	op := "StreamKlines"
	c := f.client
	out := make(chan *domain.Bar, 16)
	fields := map[string]interface{}{"symbol": f.symbol, "interval": f.interval}

	handler := func(event *binance.WsKlineEvent) {
		bar, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(ctx, err, op+": Failed to translate WebSocket kline event")
			return
		}
		if !bar.IsFinal {
			return
		}
		select {
		case out <- bar:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		c.logger.Warn(ctx, op+": WebSocket error reported", map[string]interface{}{"error": c.handleError(ctx, err, op+" WebSocket")})
	}

	go func() {
		defer close(out)
		attempt := 0
		for {
			if ctx.Err() != nil {
				c.logger.Info(ctx, op+": Context cancelled, stopping connection attempts.", fields)
				return
			}
			c.logger.Info(ctx, op+": Attempting WebSocket connection...", map[string]interface{}{"symbol": f.symbol, "interval": f.interval, "attempt": attempt + 1})
			doneC, stopC, err := binance.WsKlineServe(f.symbol, f.interval, handler, errHandler)
			if err != nil {
				_ = c.handleError(ctx, err, op+" connection attempt")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(ctx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"symbol": f.symbol, "maxAttempts": c.maxReconnectAttempts})
					return
				}
				delay := backoff(c.reconnectDelay, attempt)
				c.logger.Info(ctx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": attempt + 1, "delay": delay.String()})
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return
				}
			}

			c.logger.Info(ctx, op+": WebSocket connection established.", fields)
			attempt = 0
			select {
			case <-doneC:
				c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
			case <-ctx.Done():
				close(stopC)
				<-doneC
				c.logger.Info(ctx, op+": Context cancelled, WebSocket stopped.", fields)
				return
			}
		}
	}()
	return out, nil
}

// backoff doubles base per failed attempt, capped at one minute.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(1<<uint(min(attempt-1, 16)))
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
