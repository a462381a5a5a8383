package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/ports"
)

// ForcedIntent is an externally sourced BUY or SELL, e.g. from a webhook.
type ForcedIntent struct {
	Symbol   string
	RefPrice float64
	BarTime  time.Time
	Source   string
}

func (o *Orchestrator) intentTime(in ForcedIntent) (time.Time, error) {
	if sym := domain.NormalizeSymbol(in.Symbol); sym != o.symbol {
		return time.Time{}, fmt.Errorf("intent for %s sent to %s orchestrator: %w", sym, o.symbol, ports.ErrUnknownSymbol)
	}
	if in.RefPrice <= 0 {
		return time.Time{}, fmt.Errorf("intent reference price %v: %w", in.RefPrice, ports.ErrInvalidRequest)
	}
	if in.BarTime.IsZero() {
		return o.now().UTC(), nil
	}
	return in.BarTime.UTC(), nil
}

// ForceBuyIntent opens a long on an external signal. It runs the same kill-switch,
// open-position and sizing checks as a bar-close entry.
func (o *Orchestrator) ForceBuyIntent(ctx context.Context, in ForcedIntent) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	at, err := o.intentTime(in)
	if err != nil {
		return nil, err
	}
	var (
		skip     *Result
		snapshot domain.IndicatorSnapshot
	)
	err = o.ledger.Run(ctx, func(u *ledger.Unit) error {
		ks, err := o.pnl.KillSwitch(ctx, u, at)
		if err != nil {
			return err
		}
		if ks.Tripped {
			skip = &Result{Action: domain.ActionHold, Reason: "kill-switch"}
			return u.LogSignal(ctx, o.signal(at, domain.ActionHold, skip.Reason, in.Source))
		}
		pos, err := u.OpenPositionFor(ctx, o.symbol)
		if err != nil {
			return err
		}
		if pos != nil {
			skip = &Result{Action: domain.ActionIgnored, Reason: "position-open", PositionID: pos.ID}
			return u.LogSignal(ctx, o.signal(at, domain.ActionIgnored, skip.Reason, in.Source))
		}
		_, curr, err := o.indicators.Latest(ctx, o.bars)
		if errors.Is(err, ports.ErrInsufficientData) {
			skip = &Result{Action: domain.ActionHold, Reason: "insufficient-data"}
			return u.LogSignal(ctx, o.signal(at, domain.ActionHold, skip.Reason, in.Source))
		}
		if err != nil {
			return err
		}
		snapshot = curr
		s := o.signal(at, domain.ActionBuy, "forced-buy", in.Source).WithSnapshot(curr)
		s.EntrySignal = true
		return u.LogSignal(ctx, s)
	})
	if err != nil {
		o.logger.Error(ctx, err, "forceBuy: Failed to evaluate intent", map[string]interface{}{"source": in.Source})
		return nil, err
	}
	if skip != nil {
		o.logger.Info(ctx, "forceBuy: Intent not executed", map[string]interface{}{"reason": skip.Reason, "source": in.Source})
		return skip, nil
	}
	stop := decimal.NewNullDecimal(roundPrice(o.risk.StopPrice(in.RefPrice, snapshot.Volatility)))
	return o.enter(ctx, at, in.RefPrice, snapshot.Volatility, stop, in.Source)
}

// ForceSellIntent closes the open long on an external signal.
func (o *Orchestrator) ForceSellIntent(ctx context.Context, in ForcedIntent) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	at, err := o.intentTime(in)
	if err != nil {
		return nil, err
	}
	var (
		skip  *Result
		posID int64
	)
	err = o.ledger.Run(ctx, func(u *ledger.Unit) error {
		ks, err := o.pnl.KillSwitch(ctx, u, at)
		if err != nil {
			return err
		}
		if ks.Tripped {
			skip = &Result{Action: domain.ActionHold, Reason: "kill-switch"}
			return u.LogSignal(ctx, o.signal(at, domain.ActionHold, skip.Reason, in.Source))
		}
		pos, err := u.OpenPositionFor(ctx, o.symbol)
		if err != nil {
			return err
		}
		if pos == nil {
			skip = &Result{Action: domain.ActionIgnored, Reason: "no-position"}
			return u.LogSignal(ctx, o.signal(at, domain.ActionIgnored, skip.Reason, in.Source))
		}
		posID = pos.ID
		s := o.signal(at, domain.ActionSell, "forced-sell", in.Source)
		s.ExitSignal = true
		return u.LogSignal(ctx, s)
	})
	if err != nil {
		o.logger.Error(ctx, err, "forceSell: Failed to evaluate intent", map[string]interface{}{"source": in.Source})
		return nil, err
	}
	if skip != nil {
		o.logger.Info(ctx, "forceSell: Intent not executed", map[string]interface{}{"reason": skip.Reason, "source": in.Source})
		return skip, nil
	}
	return o.exit(ctx, at, posID, in.RefPrice, domain.CloseReasonSignal, in.Source)
}
