// Package custodian defines the vault-movement and cross-market-pool
// capabilities the market core calls into. Token-program custody and the
// cross-market liquidity pool are both external collaborators (§1 scope,
// §4.2 Global order type); the core only ever calls a small interface.
package custodian

import (
	"context"
	"errors"
)

// ErrInsufficientFunds is returned by Custodian.MoveQuote when the vault
// cannot cover a withdrawal, and by Pool.Fund when the shared pool cannot
// fund a Global maker's side of a fill.
var ErrInsufficientFunds = errors.New("custodian: insufficient funds")

// Custodian moves quote-asset units between a trader's off-book balance and
// the market's vault. Deposit/withdraw call it directly; matching never
// does (the base asset is never custodied at all, §4.3).
type Custodian interface {
	// MoveQuote transfers amount quote atoms from `from` to `to`, where one
	// side is always the market's vault. A negative-balance or missing
	// account surfaces as ErrInsufficientFunds.
	MoveQuote(ctx context.Context, from, to string, amount uint64) error
}

// Pool is the shared cross-market liquidity pool that funds the maker side
// of a Global order's fill (§4.2). On failure to fund, the calling maker is
// cancelled and matching continues — the pool never aborts the whole
// transaction.
type Pool interface {
	Fund(ctx context.Context, maker string, quoteAtoms uint64) error
}

// NopCustodian accepts every transfer without moving anything; used by
// tests that only exercise engine-internal accounting.
type NopCustodian struct{}

func (NopCustodian) MoveQuote(context.Context, string, string, uint64) error { return nil }

// AlwaysFundPool always succeeds; used by tests that don't exercise the
// Global order type's failure path.
type AlwaysFundPool struct{}

func (AlwaysFundPool) Fund(context.Context, string, uint64) error { return nil }

// NeverFundPool always fails with ErrInsufficientFunds; used to exercise
// the "maker removed, matching continues" branch of §4.2.
type NeverFundPool struct{}

func (NeverFundPool) Fund(context.Context, string, uint64) error { return ErrInsufficientFunds }
