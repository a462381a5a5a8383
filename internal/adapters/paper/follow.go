package paper

import (
	"context"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// followedFeed marks the venue from the bars it passes on.
type followedFeed struct {
	feed  ports.DataFeed
	venue *Venue
}

// Follow wraps feed so every bar it yields first marks the venue at its close.
// History marks the last bar. A consumer that is still evaluating the previous
// bar may see the new mark, so replays drive Mark directly instead.
func (v *Venue) Follow(feed ports.DataFeed) ports.DataFeed {
	return &followedFeed{feed: feed, venue: v}
}

func (f *followedFeed) History(ctx context.Context, limit int) ([]*domain.Bar, error) {
	bars, err := f.feed.History(ctx, limit)
	if err != nil {
		return nil, err
	}
	if n := len(bars); n > 0 {
		f.venue.Mark(bars[n-1].Close)
	}
	return bars, nil
}

func (f *followedFeed) Stream(ctx context.Context) (<-chan *domain.Bar, error) {
	in, err := f.feed.Stream(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan *domain.Bar)
	go func() {
		defer close(out)
		for b := range in {
			if b.IsFinal {
				f.venue.Mark(b.Close)
			}
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
