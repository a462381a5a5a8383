package domain

// Side represents the direction of a position or order.
type Side string

const (
	// Long is the only side supported for entries.
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// OrderSide is the venue-facing direction of an order.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStrategy      CloseReason = "STRATEGY"
	CloseReasonStopLoss      CloseReason = "SL"
	CloseReasonSignal        CloseReason = "SIGNAL"
	CloseReasonEntryUnfilled CloseReason = "ENTRY_UNFILLED"
	CloseReasonManual        CloseReason = "MANUAL"
	CloseReasonUnknown       CloseReason = "Unknown"
)

// Action is the decision recorded for a bar or external signal.
type Action string

const (
	ActionBuy       Action = "BUY"
	ActionSell      Action = "SELL"
	ActionHold      Action = "HOLD"
	ActionForwarded Action = "FORWARDED"
	ActionIgnored   Action = "IGNORED"
)
