package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trendbot/internal/domain"
	"trendbot/internal/ports"
)

// OpenRequest describes a new long position and its entry order.
type OpenRequest struct {
	Symbol          string
	Quantity        decimal.Decimal
	EntryPrice      decimal.Decimal // reference price until the entry fill refines it
	StopPrice       decimal.NullDecimal
	TargetPrice     decimal.NullDecimal
	Strategy        string
	StrategyVersion string
	ClientOrderID   string // defaults to ClientOrderID(ENTRY, symbol, At)
	At              time.Time
}

// OpenPosition creates an OPEN position and its NEW market entry order.
func (u *Unit) OpenPosition(ctx context.Context, req OpenRequest) (*domain.Position, *domain.Order, error) {
	if !req.Quantity.IsPositive() {
		return nil, nil, fmt.Errorf("open %s qty %s: %w", req.Symbol, req.Quantity, ports.ErrInvalidQuantity)
	}
	existing, err := u.tx.OpenPositionBySymbol(ctx, req.Symbol)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, fmt.Errorf("open %s (position %d): %w", req.Symbol, existing.ID, ports.ErrDuplicatePosition)
	}
	cid := req.ClientOrderID
	if cid == "" {
		cid = ClientOrderID(domain.PurposeEntry, req.Symbol, req.At)
	}
	if err := u.ensureUnusedClientID(ctx, cid); err != nil {
		return nil, nil, err
	}

	at := req.At.UTC()
	pos := &domain.Position{
		Symbol:           req.Symbol,
		Side:             domain.Long,
		Quantity:         req.Quantity,
		EntryPrice:       req.EntryPrice,
		InitialStopPrice: req.StopPrice,
		StopPrice:        req.StopPrice,
		TargetPrice:      req.TargetPrice,
		OpenedAt:         at,
		RealizedPNL:      decimal.Zero,
		FeesPaid:         decimal.Zero,
		Strategy:         req.Strategy,
		StrategyVersion:  req.StrategyVersion,
		Status:           domain.StatusOpen,
	}
	if _, err := u.tx.InsertPosition(ctx, pos); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			return nil, nil, fmt.Errorf("open %s: %w: %w", req.Symbol, ports.ErrDuplicatePosition, err)
		}
		return nil, nil, err
	}

	order := &domain.Order{
		PositionID:     pos.ID,
		ClientOrderID:  cid,
		Symbol:         req.Symbol,
		Side:           domain.Buy,
		Type:           domain.OrderTypeMarket,
		Status:         domain.OrderStatusNew,
		Purpose:        domain.PurposeEntry,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := u.insertOrder(ctx, order); err != nil {
		return nil, nil, err
	}
	u.l.logger.Info(ctx, "Position opened", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "qty": pos.Quantity.String(), "clientOrderID": cid,
	})
	return pos, order, nil
}

func (u *Unit) ensureUnusedClientID(ctx context.Context, cid string) error {
	o, err := u.tx.OrderByClientID(ctx, cid)
	if err != nil {
		return err
	}
	if o != nil {
		return fmt.Errorf("client order id %s (order %d): %w", cid, o.ID, ports.ErrDuplicateClientOrderID)
	}
	return nil
}

func (u *Unit) insertOrder(ctx context.Context, o *domain.Order) error {
	if _, err := u.tx.InsertOrder(ctx, o); err != nil {
		if errors.Is(err, ports.ErrDuplicateEntry) {
			return fmt.Errorf("client order id %s: %w: %w", o.ClientOrderID, ports.ErrDuplicateClientOrderID, err)
		}
		return err
	}
	return nil
}

// FillRequest is one incremental fill reported by the venue.
type FillRequest struct {
	OrderID      int64
	Quantity     decimal.Decimal // this fill only, not cumulative
	Price        decimal.Decimal
	VenueOrderID string
	VenueTradeID string // makes the call idempotent when set
	Fee          decimal.Decimal
	FeeAsset     string
	Withheld     decimal.Decimal // base quantity kept by the venue as commission
	At           time.Time
}

// RecordFill appends a Trade and rolls it into the order's cumulative quantity and
// volume-weighted average price. Fills of the entry order refine an open position:
// its quantity is what the account holds, the filled quantity less withheld commission.
func (u *Unit) RecordFill(ctx context.Context, req FillRequest) (*domain.Order, error) {
	order, err := u.Order(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if req.VenueTradeID != "" {
		seen, err := u.tx.TradeByVenueID(ctx, order.ID, req.VenueTradeID)
		if err != nil {
			return nil, err
		}
		if seen != nil {
			u.l.logger.Debug(ctx, "Fill already recorded", map[string]interface{}{"orderID": order.ID, "venueTradeID": req.VenueTradeID})
			return order, nil
		}
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("fill order %d (%s): %w", order.ID, order.Status, ports.ErrOrderTerminal)
	}
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("fill order %d qty %s: %w", order.ID, req.Quantity, ports.ErrInvalidQuantity)
	}
	if req.Withheld.IsNegative() || req.Withheld.GreaterThanOrEqual(req.Quantity) {
		return nil, fmt.Errorf("fill order %d withheld %s of %s: %w", order.ID, req.Withheld, req.Quantity, ports.ErrInvalidQuantity)
	}
	prevFilled := order.FilledQuantity
	filled := order.FilledQuantity.Add(req.Quantity)
	if filled.GreaterThan(order.Quantity) {
		return nil, fmt.Errorf("fill order %d: filled %s + %s > %s: %w",
			order.ID, order.FilledQuantity, req.Quantity, order.Quantity, ports.ErrOverfill)
	}

	at := req.At.UTC()
	trade := &domain.Trade{
		OrderID:      order.ID,
		VenueTradeID: req.VenueTradeID,
		Price:        req.Price,
		Quantity:     req.Quantity,
		Fee:          req.Fee,
		FeeAsset:     req.FeeAsset,
		Time:         at,
	}
	if _, err := u.tx.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}

	notional := req.Price.Mul(req.Quantity)
	if order.AvgFillPrice.Valid {
		notional = notional.Add(order.AvgFillPrice.Decimal.Mul(order.FilledQuantity))
	}
	order.AvgFillPrice = decimal.NewNullDecimal(notional.Div(filled))
	order.FilledQuantity = filled
	if filled.Equal(order.Quantity) {
		order.Status = domain.OrderStatusFilled
	} else {
		order.Status = domain.OrderStatusPartiallyFilled
	}
	if req.VenueOrderID != "" {
		order.VenueOrderID = req.VenueOrderID
	}
	order.UpdatedAt = at
	if err := u.tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}

	if order.Purpose == domain.PurposeEntry {
		if err := u.refineEntry(ctx, order, prevFilled, req); err != nil {
			return nil, err
		}
	}
	u.l.logger.Debug(ctx, "Fill recorded", map[string]interface{}{
		"orderID": order.ID, "filled": order.FilledQuantity.String(), "avgPrice": order.AvgFillPrice.Decimal.String(), "status": order.Status,
	})
	return order, nil
}

func (u *Unit) refineEntry(ctx context.Context, order *domain.Order, prevFilled decimal.Decimal, req FillRequest) error {
	pos, err := u.position(ctx, order.PositionID)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		u.l.logger.Warn(ctx, "Entry fill after position closed", map[string]interface{}{
			"positionID": pos.ID, "orderID": order.ID, "qty": req.Quantity.String(), "status": pos.Status,
		})
		return nil
	}
	// until the first fill the position carries the requested quantity
	held := pos.Quantity
	if prevFilled.IsZero() {
		held = decimal.Zero
	}
	pos.EntryPrice = order.AvgFillPrice.Decimal
	pos.Quantity = held.Add(req.Quantity).Sub(req.Withheld)
	return u.tx.UpdatePosition(ctx, pos)
}

// AcknowledgeOrder records the venue id and a fill-less status change
// (CANCELED, REJECTED, EXPIRED or NEW).
func (u *Unit) AcknowledgeOrder(ctx context.Context, orderID int64, venueOrderID string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	order, err := u.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		if order.Status == status {
			return order, nil
		}
		return nil, fmt.Errorf("ack order %d %s -> %s: %w", order.ID, order.Status, status, ports.ErrOrderTerminal)
	}
	switch status {
	case domain.OrderStatusFilled, domain.OrderStatusPartiallyFilled:
		return nil, fmt.Errorf("ack order %d: fills go through RecordFill: %w", order.ID, ports.ErrInvalidRequest)
	case "":
		status = order.Status
	}
	if venueOrderID != "" {
		order.VenueOrderID = venueOrderID
	}
	order.Status = status
	order.UpdatedAt = at.UTC()
	if err := u.tx.UpdateOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// PlaceProtectiveOrders creates a STOP_MARKET sell for the full quantity and a
// LIMIT sell for the target fraction. A null price places nothing for that leg.
func (u *Unit) PlaceProtectiveOrders(ctx context.Context, positionID int64, stop, target decimal.NullDecimal, at time.Time) (stopOrder, targetOrder *domain.Order, err error) {
	pos, err := u.openPosition(ctx, positionID)
	if err != nil {
		return nil, nil, err
	}
	if stop.Valid && pos.StopPrice.Valid && stop.Decimal.LessThan(pos.StopPrice.Decimal) {
		return nil, nil, fmt.Errorf("stop %s below current %s for position %d: %w",
			stop.Decimal, pos.StopPrice.Decimal, pos.ID, ports.ErrInvalidRequest)
	}
	existing, err := u.tx.OrdersByPosition(ctx, pos.ID)
	if err != nil {
		return nil, nil, err
	}
	at = at.UTC()

	if stop.Valid {
		if err := u.cancelWorking(ctx, existing, domain.PurposeStop, at); err != nil {
			return nil, nil, err
		}
		stopOrder = &domain.Order{
			PositionID:     pos.ID,
			ClientOrderID:  ClientOrderID(domain.PurposeStop, pos.Symbol, at),
			Symbol:         pos.Symbol,
			Side:           domain.Sell,
			Type:           domain.OrderTypeStopMarket,
			Status:         domain.OrderStatusNew,
			Purpose:        domain.PurposeStop,
			Quantity:       pos.Quantity,
			FilledQuantity: decimal.Zero,
			StopPrice:      stop,
			IsProtective:   true,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		if err := u.insertOrder(ctx, stopOrder); err != nil {
			return nil, nil, err
		}
		pos.StopPrice = stop
		if !pos.InitialStopPrice.Valid {
			pos.InitialStopPrice = stop
		}
	}
	if target.Valid {
		if err := u.cancelWorking(ctx, existing, domain.PurposeTP1, at); err != nil {
			return nil, nil, err
		}
		targetOrder = &domain.Order{
			PositionID:     pos.ID,
			ClientOrderID:  ClientOrderID(domain.PurposeTP1, pos.Symbol, at),
			Symbol:         pos.Symbol,
			Side:           domain.Sell,
			Type:           domain.OrderTypeLimit,
			Status:         domain.OrderStatusNew,
			Purpose:        domain.PurposeTP1,
			Quantity:       pos.Quantity.Mul(u.l.targetFraction),
			FilledQuantity: decimal.Zero,
			Price:          target,
			IsProtective:   true,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		if err := u.insertOrder(ctx, targetOrder); err != nil {
			return nil, nil, err
		}
		pos.TargetPrice = target
	}
	if stop.Valid || target.Valid {
		if err := u.tx.UpdatePosition(ctx, pos); err != nil {
			return nil, nil, err
		}
	}
	return stopOrder, targetOrder, nil
}

func (u *Unit) cancelWorking(ctx context.Context, orders []*domain.Order, purpose domain.OrderPurpose, at time.Time) error {
	for _, o := range orders {
		if o.Purpose != purpose || o.Status.IsTerminal() {
			continue
		}
		o.Status = domain.OrderStatusCanceled
		o.UpdatedAt = at
		if err := u.tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// RatchetStop raises the position's stop to newStop and re-prices the working
// protective stop. It never lowers a stop; moved reports whether anything changed.
func (u *Unit) RatchetStop(ctx context.Context, positionID int64, newStop decimal.Decimal, at time.Time) (moved bool, err error) {
	pos, err := u.openPosition(ctx, positionID)
	if err != nil {
		return false, err
	}
	if pos.StopPrice.Valid && !newStop.GreaterThan(pos.StopPrice.Decimal) {
		return false, nil
	}
	prev := pos.StopPrice
	pos.StopPrice = decimal.NewNullDecimal(newStop)
	if !pos.InitialStopPrice.Valid {
		pos.InitialStopPrice = pos.StopPrice
	}
	if err := u.tx.UpdatePosition(ctx, pos); err != nil {
		return false, err
	}

	orders, err := u.tx.OrdersByPosition(ctx, pos.ID)
	if err != nil {
		return false, err
	}
	for _, o := range orders {
		if o.Purpose != domain.PurposeStop || o.Status.IsTerminal() {
			continue
		}
		o.StopPrice = pos.StopPrice
		o.UpdatedAt = at.UTC()
		if err := u.tx.UpdateOrder(ctx, o); err != nil {
			return false, err
		}
	}
	u.l.logger.Info(ctx, "Stop ratcheted", map[string]interface{}{
		"positionID": pos.ID, "from": prev.Decimal.String(), "to": newStop.String(),
	})
	return true, nil
}

// CloseRequest describes a full market exit.
type CloseRequest struct {
	PositionID    int64
	ExitPrice     decimal.Decimal
	Fee           decimal.Decimal
	FeeAsset      string
	VenueOrderID  string
	VenueTradeID  string
	ClientOrderID string // defaults to ClientOrderID(EXIT, symbol, At)
	Reason        domain.CloseReason
	At            time.Time
}

// CloseResult is the closed position plus the protective orders canceled by the close.
type CloseResult struct {
	Position *domain.Position
	Exit     *domain.Order
	Canceled []*domain.Order
}

// ClosePosition creates and fills a market exit for the full quantity, cancels
// working protective orders and a still working entry, and fixes realized PnL:
// (exit - entry) * qty - fees of every fill on the position.
func (u *Unit) ClosePosition(ctx context.Context, req CloseRequest) (*CloseResult, error) {
	pos, err := u.openPosition(ctx, req.PositionID)
	if err != nil {
		return nil, err
	}
	at := req.At.UTC()
	cid := req.ClientOrderID
	if cid == "" {
		cid = ClientOrderID(domain.PurposeExit, pos.Symbol, at)
	}
	if err := u.ensureUnusedClientID(ctx, cid); err != nil {
		return nil, err
	}

	exit := &domain.Order{
		PositionID:     pos.ID,
		ClientOrderID:  cid,
		VenueOrderID:   req.VenueOrderID,
		Symbol:         pos.Symbol,
		Side:           domain.Sell,
		Type:           domain.OrderTypeMarket,
		Status:         domain.OrderStatusNew,
		Purpose:        domain.PurposeExit,
		Quantity:       pos.Quantity,
		FilledQuantity: decimal.Zero,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	if err := u.insertOrder(ctx, exit); err != nil {
		return nil, err
	}
	exit, err = u.RecordFill(ctx, FillRequest{
		OrderID:      exit.ID,
		Quantity:     pos.Quantity,
		Price:        req.ExitPrice,
		VenueOrderID: req.VenueOrderID,
		VenueTradeID: req.VenueTradeID,
		Fee:          req.Fee,
		FeeAsset:     req.FeeAsset,
		At:           at,
	})
	if err != nil {
		return nil, err
	}

	orders, err := u.tx.OrdersByPosition(ctx, pos.ID)
	if err != nil {
		return nil, err
	}
	fees := decimal.Zero
	var canceled []*domain.Order
	for _, o := range orders {
		if (o.IsProtective || o.Purpose == domain.PurposeEntry) && !o.Status.IsTerminal() {
			o.Status = domain.OrderStatusCanceled
			o.UpdatedAt = at
			if err := u.tx.UpdateOrder(ctx, o); err != nil {
				return nil, err
			}
			canceled = append(canceled, o)
		}
		trades, err := u.tx.TradesByOrder(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		for _, tr := range trades {
			fees = fees.Add(tr.Fee)
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = domain.CloseReasonUnknown
	}
	pos.ExitPrice = decimal.NewNullDecimal(req.ExitPrice)
	pos.FeesPaid = fees
	pos.RealizedPNL = req.ExitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity).Sub(fees)
	pos.ClosedAt = &at
	pos.Status = domain.StatusClosed
	pos.CloseReason = reason
	if err := u.tx.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	u.l.logger.Info(ctx, "Position closed", map[string]interface{}{
		"positionID": pos.ID, "symbol": pos.Symbol, "exitPrice": req.ExitPrice.String(),
		"pnl": pos.RealizedPNL.String(), "fees": fees.String(), "reason": reason,
	})
	return &CloseResult{Position: pos, Exit: exit, Canceled: canceled}, nil
}

// AbandonPosition closes a position whose entry never filled. Nothing was
// bought, so realized PnL is zero and working orders are canceled.
func (u *Unit) AbandonPosition(ctx context.Context, positionID int64, at time.Time) (*domain.Position, error) {
	pos, err := u.openPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	orders, err := u.tx.OrdersByPosition(ctx, pos.ID)
	if err != nil {
		return nil, err
	}
	at = at.UTC()
	for _, o := range orders {
		if o.Purpose == domain.PurposeEntry && o.FilledQuantity.IsPositive() {
			return nil, fmt.Errorf("abandon position %d: entry has fills: %w", pos.ID, ports.ErrInvalidRequest)
		}
		if !o.Status.IsTerminal() {
			o.Status = domain.OrderStatusCanceled
			o.UpdatedAt = at
			if err := u.tx.UpdateOrder(ctx, o); err != nil {
				return nil, err
			}
		}
	}
	pos.Status = domain.StatusClosed
	pos.ClosedAt = &at
	pos.CloseReason = domain.CloseReasonEntryUnfilled
	pos.RealizedPNL = decimal.Zero
	if err := u.tx.UpdatePosition(ctx, pos); err != nil {
		return nil, err
	}
	u.l.logger.Warn(ctx, "Position abandoned, entry never filled", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol})
	return pos, nil
}
