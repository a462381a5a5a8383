// Package signal routes external trading directives (webhooks, operators) to the
// orchestrator that owns the symbol.
package signal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"trendbot/internal/app"
	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/ports"
)

const defaultSource = "external"

// Direction is the normalized intent of a directive.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ParseDirection maps charting vocabulary onto buy or sell.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "ENTRY":
		return DirectionBuy, true
	case "SELL", "EXIT", "CLOSE":
		return DirectionSell, true
	}
	return "", false
}

// Directive is one external BUY/SELL request.
type Directive struct {
	Symbol    string
	Timeframe string
	Direction string
	Price     float64
	BarTime   time.Time // zero means now
	Source    string
	Meta      map[string]string
}

// Target is the orchestrator surface the router dispatches to.
type Target interface {
	Symbol() string
	Timeframe() string
	ForceBuyIntent(ctx context.Context, in app.ForcedIntent) (*app.Result, error)
	ForceSellIntent(ctx context.Context, in app.ForcedIntent) (*app.Result, error)
}

// Config holds router dependencies.
type Config struct {
	Ledger *ledger.Ledger
	Logger ports.Logger
	Now    func() time.Time
}

// Router dispatches directives by normalized symbol.
type Router struct {
	ledger *ledger.Ledger
	logger ports.Logger
	now    func() time.Time

	mu      sync.RWMutex
	targets map[string]Target
}

// NewRouter creates a Router with no registered targets.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Ledger == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for signal router")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{ledger: cfg.Ledger, logger: cfg.Logger, now: now, targets: make(map[string]Target)}, nil
}

// Register makes t the handler for its symbol.
func (r *Router) Register(t Target) error {
	symbol := domain.NormalizeSymbol(t.Symbol())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[symbol]; ok {
		return fmt.Errorf("symbol %s already registered: %w", symbol, ports.ErrConfigurationError)
	}
	r.targets[symbol] = t
	return nil
}

// Symbols lists the registered symbols in order.
func (r *Router) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.targets))
	for s := range r.targets {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *Router) target(symbol string) Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.targets[symbol]
}

// Route records the directive and hands it to the owning orchestrator.
// An unknown direction is logged IGNORED and an unknown symbol is logged before
// the error is returned.
func (r *Router) Route(ctx context.Context, d Directive) (*app.Result, error) {
	op := "route"
	symbol := domain.NormalizeSymbol(d.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("directive without symbol: %w", ports.ErrInvalidRequest)
	}
	source := d.Source
	if source == "" {
		source = defaultSource
	}
	at := d.BarTime
	if at.IsZero() {
		at = r.now()
	}
	at = at.UTC()

	t := r.target(symbol)
	timeframe := d.Timeframe
	if t != nil {
		timeframe = t.Timeframe()
	}
	fields := map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "direction": d.Direction, "price": d.Price, "source": source,
	}
	for k, v := range d.Meta {
		fields["meta."+k] = v
	}

	dir, ok := ParseDirection(d.Direction)
	if !ok {
		r.logger.Warn(ctx, op+": Unknown direction, directive ignored", fields)
		notes := fmt.Sprintf("unknown-direction=%s; source=%s", d.Direction, source)
		if err := r.record(ctx, symbol, timeframe, at, domain.ActionIgnored, notes, source); err != nil {
			return nil, err
		}
		return &app.Result{Action: domain.ActionIgnored, Reason: "unknown-direction"},
			fmt.Errorf("direction %q: %w", d.Direction, ports.ErrInvalidRequest)
	}

	if err := r.record(ctx, symbol, timeframe, at, domain.ActionForwarded, "source="+source, source); err != nil {
		return nil, err
	}
	if t == nil {
		r.logger.Warn(ctx, op+": No orchestrator for symbol", fields)
		return nil, fmt.Errorf("route %s: %w", symbol, ports.ErrUnknownSymbol)
	}

	r.logger.Info(ctx, op+": Forwarding directive", fields)
	in := app.ForcedIntent{Symbol: symbol, RefPrice: d.Price, BarTime: at, Source: source}
	if dir == DirectionBuy {
		return t.ForceBuyIntent(ctx, in)
	}
	return t.ForceSellIntent(ctx, in)
}

// record commits the audit row in its own unit so it survives a failed dispatch.
func (r *Router) record(ctx context.Context, symbol, timeframe string, at time.Time, action domain.Action, notes, source string) error {
	err := r.ledger.Run(ctx, func(u *ledger.Unit) error {
		return u.LogSignal(ctx, &domain.SignalLog{
			Symbol:        symbol,
			Timeframe:     timeframe,
			BarTime:       at,
			DecidedAction: action,
			Notes:         notes,
			Source:        source,
		})
	})
	if err != nil {
		r.logger.Error(ctx, err, "route: Failed to record directive", map[string]interface{}{"symbol": symbol, "action": action})
	}
	return err
}
