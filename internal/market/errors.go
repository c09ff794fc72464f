package market

import "errors"

// Error kinds per spec.md §7. Each is a sentinel so callers can
// errors.Is-match the kind even though every returned error is wrapped
// with call-specific context (an order id, a trader key, an amount) —
// luxfi-dex's bare Err* sentinels don't carry that context, but spec.md §7
// requires distinguishing error *kinds*, which bare sentinel equality
// would lose once a message includes per-call detail.
var (
	// Validation
	ErrInvalidParams = errors.New("invalid params")
	ErrWouldCrossBook = errors.New("would cross book")
	ErrOrderExpired   = errors.New("order expired")

	// Resource
	ErrOutOfBlocks   = errors.New("out of blocks")
	ErrSeatNotFound  = errors.New("seat not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrSeatNotEmpty  = errors.New("seat has open position or orders")

	// Risk
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrNotLiquidatable    = errors.New("not liquidatable")
	ErrSelfLiquidation    = errors.New("self liquidation")

	// Oracle
	ErrOracleStale       = errors.New("oracle stale")
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// Arithmetic
	ErrOverflow = errors.New("overflow")
)
