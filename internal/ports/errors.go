package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these; callers classify them with KindOf.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ledger validation errors
	ErrDuplicatePosition      = errors.New("an open position already exists for symbol")
	ErrDuplicateClientOrderID = errors.New("client order id already used")
	ErrPositionNotFound       = errors.New("position not found")
	ErrPositionAlreadyClosed  = errors.New("position already closed")
	ErrInvalidQuantity        = errors.New("quantity must be positive")
	ErrUnknownSymbol          = errors.New("no orchestrator registered for symbol")
	ErrInsufficientData       = errors.New("not enough bars to compute indicators")

	// Ledger consistency errors
	ErrOrderNotFound = errors.New("order not found")
	ErrOverfill      = errors.New("fill would exceed order quantity")
	ErrOrderTerminal = errors.New("order is in a terminal state")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrNotionalTooSmall     = errors.New("order notional below venue minimum")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")
	ErrNoAcknowledgment     = errors.New("venue did not acknowledge the order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// Kind groups errors by how a caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation aborts the current invocation; the next bar retries naturally.
	KindValidation
	// KindVenue is an execution adapter failure; nothing was recorded.
	KindVenue
	// KindConsistency must be logged and propagated, never dropped.
	KindConsistency
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindVenue:
		return "venue"
	case KindConsistency:
		return "consistency"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	// consistency first: a wrapped venue error may also carry ErrOrderNotFound
	{KindConsistency, []error{ErrOverfill, ErrOrderTerminal}},
	{KindValidation, []error{
		ErrDuplicatePosition, ErrDuplicateClientOrderID, ErrPositionNotFound, ErrPositionAlreadyClosed,
		ErrInvalidQuantity, ErrInvalidRequest, ErrUnknownSymbol, ErrInsufficientData, ErrConfigurationError,
	}},
	{KindVenue, []error{
		ErrExchangeUnavailable, ErrConnectionFailed, ErrRateLimited, ErrTimeout, ErrAuthenticationFailed,
		ErrInvalidAPIKeys, ErrInsufficientFunds, ErrNotionalTooSmall, ErrOrderPlacementFailed,
		ErrOrderCancelFailed, ErrNoAcknowledgment, ErrContextCanceled,
	}},
	{KindConsistency, []error{ErrOrderNotFound}},
	{KindStorage, []error{ErrDuplicateEntry, ErrDBConnection, ErrQueryFailed, ErrUpdateFailed, ErrNotFound}},
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindUnknown
}
