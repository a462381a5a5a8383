package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the venue order type.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// OrderStatus tracks an order through its venue lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderPurpose tags why an order exists. It is also the client order id prefix.
type OrderPurpose string

const (
	PurposeEntry OrderPurpose = "ENTRY"
	PurposeStop  OrderPurpose = "STOP"
	PurposeTP1   OrderPurpose = "TP1"
	PurposeExit  OrderPurpose = "EXIT"
)

// Order is one intended exchange action.
type Order struct {
	ID             int64
	PositionID     int64
	ClientOrderID  string
	VenueOrderID   string // empty until acknowledged
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Purpose        OrderPurpose
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	AvgFillPrice   decimal.NullDecimal
	Price          decimal.NullDecimal // LIMIT
	StopPrice      decimal.NullDecimal // STOP_*
	IsProtective   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}
