package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ledger"
	"trendbot/internal/ports"
)

// Reconcile polls the venue for every working, venue-acknowledged order of the
// symbol and records fills and terminal states the ledger has not seen yet.
// It returns the number of orders that changed.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	op := "reconcile"
	changed := 0
	err := o.ledger.Run(ctx, func(u *ledger.Unit) error {
		changed = 0
		working, err := u.WorkingOrders(ctx, o.symbol)
		if err != nil {
			return err
		}
		for _, ord := range working {
			if ord.IsProtective || ord.VenueOrderID == "" {
				continue
			}
			report, err := o.execution.GetOrder(ctx, o.symbol, ord.VenueOrderID)
			if errors.Is(err, ports.ErrOrderNotFound) {
				o.logger.Warn(ctx, op+": Venue does not know order", map[string]interface{}{"orderID": ord.ID, "venueOrderID": ord.VenueOrderID})
				continue
			}
			if err != nil {
				return err
			}
			ok, err := o.applyReport(ctx, u, ord, report)
			if err != nil {
				return err
			}
			if ok {
				changed++
			}
		}
		return nil
	})
	if err != nil {
		o.logger.Error(ctx, err, op+": Reconciliation rolled back", map[string]interface{}{"symbol": o.symbol})
		return 0, err
	}
	if changed > 0 {
		o.logger.Info(ctx, op+": Orders updated from venue", map[string]interface{}{"symbol": o.symbol, "changed": changed})
	}
	return changed, nil
}

func (o *Orchestrator) applyReport(ctx context.Context, u *ledger.Unit, ord *domain.Order, report *ports.ExecutionReport) (bool, error) {
	at := report.Timestamp
	if at.IsZero() {
		at = o.now()
	}
	changed := false

	venueFilled := decimal.NewFromFloat(report.FilledQty)
	delta := venueFilled.Sub(ord.FilledQuantity)
	if delta.GreaterThan(ord.Remaining()) {
		delta = ord.Remaining()
	}
	if delta.IsPositive() {
		// venue reports a cumulative average; recover this increment's price
		price := decimal.NewFromFloat(report.AvgPrice)
		if ord.AvgFillPrice.Valid && ord.FilledQuantity.IsPositive() {
			price = price.Mul(venueFilled).Sub(ord.AvgFillPrice.Decimal.Mul(ord.FilledQuantity)).Div(delta)
		}
		fee, withheld, err := o.unbookedFees(ctx, u, ord, report, delta)
		if err != nil {
			return false, err
		}
		updated, err := u.RecordFill(ctx, ledger.FillRequest{
			OrderID:      ord.ID,
			Quantity:     delta,
			Price:        price,
			VenueOrderID: report.VenueOrderID,
			VenueTradeID: report.VenueTradeID,
			Fee:          fee,
			FeeAsset:     report.FeeAsset,
			Withheld:     withheld,
			At:           at,
		})
		if err != nil {
			return false, err
		}
		o.noteOtherFee(ctx, "reconcile", report)
		ord, changed = updated, true
		if ord.Purpose == domain.PurposeEntry {
			if err := o.protectIfMissing(ctx, u, ord.PositionID, at); err != nil {
				return false, err
			}
		}
	}

	if report.Status.IsTerminal() && !ord.Status.IsTerminal() && report.Status != domain.OrderStatusFilled {
		acked, err := u.AcknowledgeOrder(ctx, ord.ID, report.VenueOrderID, report.Status, at)
		if err != nil {
			return false, err
		}
		changed = true
		if acked.Purpose == domain.PurposeEntry && !acked.FilledQuantity.IsPositive() {
			if _, err := u.AbandonPosition(ctx, acked.PositionID, at); err != nil {
				return false, err
			}
		}
	}
	return changed, nil
}

// unbookedFees turns the report's cumulative commissions into the part not yet
// booked on ord. Withheld base quantity only adjusts the entry of an open position.
func (o *Orchestrator) unbookedFees(ctx context.Context, u *ledger.Unit, ord *domain.Order, report *ports.ExecutionReport, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	trades, err := u.Trades(ctx, ord.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	booked := decimal.Zero
	for _, tr := range trades {
		booked = booked.Add(tr.Fee)
	}
	fee := decimal.Max(decimal.NewFromFloat(report.Fee).Sub(booked), decimal.Zero)
	if ord.Purpose != domain.PurposeEntry || report.BaseFee <= 0 {
		return fee, decimal.Zero, nil
	}

	pos, err := u.Position(ctx, ord.PositionID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !pos.IsOpen() {
		return fee, decimal.Zero, nil
	}
	kept := decimal.Zero
	if ord.FilledQuantity.IsPositive() {
		kept = decimal.Max(ord.FilledQuantity.Sub(pos.Quantity), decimal.Zero)
	}
	withheld := decimal.Max(decimal.NewFromFloat(report.BaseFee).Sub(kept), decimal.Zero)
	if withheld.GreaterThanOrEqual(delta) {
		o.logger.Warn(ctx, "reconcile: Withheld commission exceeds the new fill, ignoring it", map[string]interface{}{
			"orderID": ord.ID, "withheld": withheld.String(), "fill": delta.String(),
		})
		withheld = decimal.Zero
	}
	return fee, withheld, nil
}

// protectIfMissing places protective orders for an open position that has none working.
func (o *Orchestrator) protectIfMissing(ctx context.Context, u *ledger.Unit, positionID int64, at time.Time) error {
	pos, err := u.Position(ctx, positionID)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		return nil
	}
	orders, err := u.Orders(ctx, positionID)
	if err != nil {
		return err
	}
	for _, ord := range orders {
		if ord.IsProtective && !ord.Status.IsTerminal() {
			return nil
		}
	}
	_, _, err = u.PlaceProtectiveOrders(ctx, pos.ID, pos.StopPrice, pos.TargetPrice, at)
	return err
}
