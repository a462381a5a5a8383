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

// size runs outside any ledger unit: equity sources may open their own.
func (o *Orchestrator) size(ctx context.Context, price, volatility float64) (float64, string, error) {
	qty, err := o.risk.PositionSize(ctx, price, volatility)
	if err != nil {
		return 0, "", err
	}
	if qty <= 0 {
		return 0, "size-zero", nil
	}
	if n, ok := o.execution.(ports.QuantityNormalizer); ok {
		normalized, err := n.NormalizeQuantity(ctx, o.symbol, qty, price)
		if errors.Is(err, ports.ErrNotionalTooSmall) {
			return 0, "size-below-minimum", nil
		}
		if err != nil {
			return 0, "", err
		}
		qty = normalized
	}
	if qty <= 0 {
		return 0, "size-zero", nil
	}
	return qty, "", nil
}

// enter sizes and opens a long. The SignalLog for the decision is already committed.
func (o *Orchestrator) enter(ctx context.Context, at time.Time, price, volatility float64, stop decimal.NullDecimal, source string) (*Result, error) {
	op := "enter"
	qty, skip, err := o.size(ctx, price, volatility)
	if err != nil {
		o.logger.Error(ctx, err, op+": Failed to size position", map[string]interface{}{"price": price})
		return nil, err
	}
	if skip != "" {
		o.logger.Info(ctx, op+": Entry skipped", map[string]interface{}{"reason": skip, "volatility": volatility})
		if err := o.logSignal(ctx, o.signal(at, domain.ActionHold, skip, source)); err != nil {
			return nil, err
		}
		return &Result{Action: domain.ActionHold, Reason: skip}, nil
	}

	quantity := decimal.NewFromFloat(qty).Truncate(8)
	target := decimal.NullDecimal{}
	if o.targetRMult > 0 && stop.Valid {
		if dist := decimal.NewFromFloat(price).Sub(stop.Decimal); dist.IsPositive() {
			target = decimal.NewNullDecimal(roundPrice(price + o.targetRMult*dist.InexactFloat64()))
		}
	}

	result := &Result{Action: domain.ActionBuy, Reason: "entry", Quantity: quantity.InexactFloat64(), Price: price}
	err = o.ledger.Run(ctx, func(u *ledger.Unit) error {
		params := o.session.Params()
		pos, order, err := u.OpenPosition(ctx, ledger.OpenRequest{
			Symbol:          o.symbol,
			Quantity:        quantity,
			EntryPrice:      decimal.NewFromFloat(price),
			StopPrice:       stop,
			TargetPrice:     target,
			Strategy:        params.Name,
			StrategyVersion: params.Version,
			At:              at,
		})
		if err != nil {
			return err
		}
		result.PositionID = pos.ID

		o.logger.Info(ctx, op+": Placing entry market order", map[string]interface{}{
			"symbol": o.symbol, "qty": quantity.String(), "clientOrderID": order.ClientOrderID,
		})
		report, err := o.execution.BuyMarket(ctx, o.symbol, quantity.InexactFloat64(), order.ClientOrderID)
		if err != nil {
			return fmt.Errorf("entry market order: %w", err)
		}
		if report == nil || report.VenueOrderID == "" {
			return fmt.Errorf("entry market order %s: %w", order.ClientOrderID, ports.ErrNoAcknowledgment)
		}

		if report.FilledQty <= 0 {
			// acknowledged but not filled yet: Reconcile records the fill later
			acked, err := u.AcknowledgeOrder(ctx, order.ID, report.VenueOrderID, report.Status, at)
			if err != nil {
				return err
			}
			if acked.Status.IsTerminal() {
				if _, err := u.AbandonPosition(ctx, pos.ID, at); err != nil {
					return err
				}
				result.Action, result.Reason = domain.ActionHold, "entry-"+string(acked.Status)
			}
			return nil
		}

		fillPrice := report.AvgPrice
		if fillPrice == 0 {
			o.logger.Warn(ctx, op+": Entry AvgPrice is 0, using bar close as fallback", map[string]interface{}{
				"venueOrderID": report.VenueOrderID, "fallbackPrice": price,
			})
			fillPrice = price
		}
		filled, err := u.RecordFill(ctx, ledger.FillRequest{
			OrderID:      order.ID,
			Quantity:     decimal.NewFromFloat(report.FilledQty),
			Price:        decimal.NewFromFloat(fillPrice),
			VenueOrderID: report.VenueOrderID,
			VenueTradeID: report.VenueTradeID,
			Fee:          decimal.NewFromFloat(report.Fee),
			FeeAsset:     report.FeeAsset,
			Withheld:     decimal.NewFromFloat(report.BaseFee),
			At:           at,
		})
		if err != nil {
			return err
		}
		o.noteOtherFee(ctx, op, report)
		held, err := u.Position(ctx, pos.ID)
		if err != nil {
			return err
		}
		result.Price = filled.AvgFillPrice.Decimal.InexactFloat64()
		result.Quantity = held.Quantity.InexactFloat64()

		if _, _, err := u.PlaceProtectiveOrders(ctx, pos.ID, stop, target, at); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		o.logger.Error(ctx, err, op+": Entry rolled back", map[string]interface{}{"symbol": o.symbol, "kind": ports.KindOf(err).String()})
		return nil, err
	}
	o.logger.Info(ctx, op+": Position entered", map[string]interface{}{
		"positionID": result.PositionID, "qty": result.Quantity, "price": result.Price, "source": source,
	})
	return result, nil
}

// exit closes the open position with a market sell and books the realized PnL.
func (o *Orchestrator) exit(ctx context.Context, at time.Time, positionID int64, price float64, reason domain.CloseReason, source string) (*Result, error) {
	op := "exit"
	result := &Result{Action: domain.ActionSell, Reason: string(reason), PositionID: positionID}
	var canceled []*domain.Order
	err := o.ledger.Run(ctx, func(u *ledger.Unit) error {
		pos, err := u.Position(ctx, positionID)
		if err != nil {
			return err
		}
		if !pos.IsOpen() {
			return fmt.Errorf("exit position %d: %w", pos.ID, ports.ErrPositionAlreadyClosed)
		}
		cid := ledger.ClientOrderID(domain.PurposeExit, o.symbol, at)
		o.logger.Info(ctx, op+": Placing closing market order", map[string]interface{}{
			"positionID": pos.ID, "qty": pos.Quantity.String(), "reason": reason, "clientOrderID": cid,
		})
		report, err := o.execution.SellMarket(ctx, o.symbol, pos.Quantity.InexactFloat64(), cid)
		if err != nil {
			return fmt.Errorf("closing market order: %w", err)
		}
		if report == nil || report.VenueOrderID == "" || report.FilledQty <= 0 {
			return fmt.Errorf("closing market order %s: %w", cid, ports.ErrNoAcknowledgment)
		}
		if diff := pos.Quantity.Sub(decimal.NewFromFloat(report.FilledQty)).Abs(); diff.GreaterThan(pos.Quantity.Mul(decimal.RequireFromString("0.000001"))) {
			o.logger.Warn(ctx, op+": Venue filled a different quantity than the position", map[string]interface{}{
				"positionID": pos.ID, "positionQty": pos.Quantity.String(), "filledQty": report.FilledQty,
			})
		}
		exitPrice := report.AvgPrice
		if exitPrice == 0 {
			o.logger.Warn(ctx, op+": Close AvgPrice is 0, using fallback", map[string]interface{}{"fallbackPrice": price})
			exitPrice = price
		}

		res, err := u.ClosePosition(ctx, ledger.CloseRequest{
			PositionID:    pos.ID,
			ExitPrice:     decimal.NewFromFloat(exitPrice),
			Fee:           decimal.NewFromFloat(report.Fee),
			FeeAsset:      report.FeeAsset,
			VenueOrderID:  report.VenueOrderID,
			VenueTradeID:  report.VenueTradeID,
			ClientOrderID: cid,
			Reason:        reason,
			At:            at,
		})
		if err != nil {
			return err
		}
		o.noteOtherFee(ctx, op, report)
		if _, err := o.pnl.RecordClose(ctx, u, res.Position.RealizedPNL, at); err != nil {
			return err
		}
		canceled = res.Canceled
		result.Price = exitPrice
		result.Quantity = res.Position.Quantity.InexactFloat64()
		return nil
	})
	if err != nil {
		o.logger.Error(ctx, err, op+": Exit rolled back", map[string]interface{}{"positionID": positionID, "kind": ports.KindOf(err).String()})
		return nil, err
	}
	o.cancelVenueOrders(ctx, canceled)
	o.logger.Info(ctx, op+": Position closed", map[string]interface{}{
		"positionID": positionID, "price": result.Price, "reason": reason, "source": source,
	})
	return result, nil
}

// manage ratchets the stop of an open position and marks unrealized PnL.
func (o *Orchestrator) manage(ctx context.Context, at time.Time, positionID int64, price, volatility float64) (*Result, error) {
	op := "manage"
	result := &Result{Action: domain.ActionHold, Reason: "manage", PositionID: positionID, Price: price}
	err := o.ledger.Run(ctx, func(u *ledger.Unit) error {
		pos, err := u.Position(ctx, positionID)
		if err != nil {
			return err
		}
		if !pos.IsOpen() {
			return nil
		}
		entry := pos.EntryPrice.InexactFloat64()
		initial := pos.InitialStopPrice.Decimal.InexactFloat64()
		current := pos.StopPrice.Decimal.InexactFloat64()
		if up, ok := o.session.ManageStop(entry, initial, current, price, volatility); ok {
			moved, err := u.RatchetStop(ctx, pos.ID, roundPrice(up.Stop), at)
			if err != nil {
				return err
			}
			if moved {
				result.Reason = "stop-raised"
				o.logger.Info(ctx, op+": Stop raised", map[string]interface{}{
					"positionID": pos.ID, "stop": up.Stop, "breakeven": up.Breakeven, "trailing": up.Trailing,
				})
			}
		}
		_, err = o.pnl.MarkUnrealized(ctx, u, pos, decimal.NewFromFloat(price), at)
		return err
	})
	if err != nil {
		o.logger.Error(ctx, err, op+": Position management rolled back", map[string]interface{}{"positionID": positionID})
		return nil, err
	}
	return result, nil
}

// cancelVenueOrders cancels orders the ledger canceled that exist on the venue.
// Protective orders that were never sent carry no venue id and are skipped.
func (o *Orchestrator) cancelVenueOrders(ctx context.Context, orders []*domain.Order) {
	for _, ord := range orders {
		if ord.VenueOrderID == "" {
			continue
		}
		_ = o.cancelOrderWarn(ctx, ord.VenueOrderID, string(ord.Purpose))
	}
}

// noteOtherFee logs commission paid in a third asset. Realized PnL is booked in
// the quote asset only, so this amount is not subtracted.
func (o *Orchestrator) noteOtherFee(ctx context.Context, op string, report *ports.ExecutionReport) {
	if report.OtherFee <= 0 {
		return
	}
	o.logger.Info(ctx, op+": Commission charged outside the quote asset", map[string]interface{}{
		"venueOrderID": report.VenueOrderID, "fee": report.OtherFee, "asset": report.OtherFeeAsset,
	})
}

// cancelOrderWarn attempts to cancel an order and logs a warning on failure.
func (o *Orchestrator) cancelOrderWarn(ctx context.Context, venueOrderID, purpose string) error {
	op := "cancelOrderWarn"
	err := o.execution.CancelOrder(ctx, o.symbol, venueOrderID)
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			o.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"venueOrderID": venueOrderID, "purpose": purpose})
			return nil
		}
		o.logger.Error(ctx, err, op+": Failed to cancel order", map[string]interface{}{"venueOrderID": venueOrderID, "purpose": purpose})
		return err
	}
	o.logger.Info(ctx, op+": Order cancelled", map[string]interface{}{"venueOrderID": venueOrderID, "purpose": purpose})
	return nil
}
