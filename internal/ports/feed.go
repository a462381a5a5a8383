package ports

import (
	"context"

	"trendbot/internal/domain"
)

// DataFeed supplies bars for one symbol and timeframe.
type DataFeed interface {
	// History returns up to limit closed bars, most recent last.
	History(ctx context.Context, limit int) ([]*domain.Bar, error)
	// Stream returns closed bars as they complete. The channel is closed when the
	// feed ends or ctx is canceled; a stream cannot be restarted.
	Stream(ctx context.Context) (<-chan *domain.Bar, error)
}
