package market

import (
	"fmt"
	"math/big"

	"github.com/dhruvja/manifest/internal/fixedpoint"
)

// notional returns |position| priced at mark, in quote atoms, rounded down.
// The same floored value feeds both the margin requirement and the pnl term
// of equity.
func notional(position int64, mark fixedpoint.Price) (uint64, error) {
	abs := position
	if abs < 0 {
		abs = -abs
	}
	return mark.QuoteForBase(uint64(abs), fixedpoint.RoundDown)
}

// equity returns margin plus unrealized pnl as a signed big.Int (equity can
// go negative once a position is deep underwater, which margin — a
// uint64 — cannot represent on its own).
func equity(seat *ClaimedSeat, mark fixedpoint.Price) (*big.Int, error) {
	eq := new(big.Int).SetUint64(seat.Margin)
	if seat.Position == 0 {
		return eq, nil
	}

	notionalNow, err := notional(seat.Position, mark)
	if err != nil {
		return nil, err
	}
	pnl := new(big.Int).SetUint64(notionalNow)
	pnl.Sub(pnl, new(big.Int).SetUint64(seat.CostBasis))
	if seat.Position < 0 {
		pnl.Neg(pnl)
	}
	return eq.Add(eq, pnl), nil
}

// bps applies a basis-points fraction to a uint64 quote amount, in widened
// arithmetic to avoid intermediate overflow (§4.6).
func bps(amount uint64, b uint16) *big.Int {
	v := new(big.Int).SetUint64(amount)
	v.Mul(v, big.NewInt(int64(b)))
	v.Quo(v, big.NewInt(10_000))
	return v
}

// checkInitialMargin enforces §4.6's post-trade requirement: equity must
// cover notional * InitialMarginBps. Called once at the end of Place, after
// all fills and any resting; the error is returned to Place's caller.
func (m *Market) checkInitialMargin(seat *ClaimedSeat, mark fixedpoint.Price) error {
	n, err := notional(seat.Position, mark)
	if err != nil {
		return err
	}
	eq, err := equity(seat, mark)
	if err != nil {
		return err
	}
	required := bps(n, m.Header.InitialMarginBps)
	if eq.Cmp(required) < 0 {
		return fmt.Errorf("%w: equity %s below initial requirement %s", ErrInsufficientMargin, eq, required)
	}
	return nil
}

// checkMaintenanceMargin enforces the maintenance-margin floor against a
// hypothetical post-action margin value (used by Withdraw, which must check
// before committing the debit).
func (m *Market) checkMaintenanceMargin(seat *ClaimedSeat, hypotheticalMargin uint64) error {
	mark, err := m.markPrice()
	if err != nil {
		// No book and no oracle: only safe to allow if there's no position
		// risk to protect against.
		if seat.Position == 0 {
			return nil
		}
		return err
	}
	probe := *seat
	probe.Margin = hypotheticalMargin
	n, err := notional(probe.Position, mark)
	if err != nil {
		return err
	}
	eq, err := equity(&probe, mark)
	if err != nil {
		return err
	}
	required := bps(n, m.Header.MaintenanceMarginBps)
	if eq.Cmp(required) < 0 {
		return fmt.Errorf("%w: equity %s below maintenance requirement %s", ErrInsufficientMargin, eq, required)
	}
	return nil
}

// isLiquidatable reports whether the seat's equity has fallen below its
// maintenance requirement at the given mark price (§4.6).
func isLiquidatable(seat *ClaimedSeat, mark fixedpoint.Price, maintenanceBps uint16) (bool, error) {
	if seat.Position == 0 {
		return false, nil
	}
	n, err := notional(seat.Position, mark)
	if err != nil {
		return false, err
	}
	eq, err := equity(seat, mark)
	if err != nil {
		return false, err
	}
	required := bps(n, maintenanceBps)
	return eq.Cmp(required) < 0, nil
}

// liquidationCloseFraction computes the fraction f (in (0,1]) of the
// position to close so that, assuming the close realizes exactly the
// position's unrealized pnl (fill at mark, no slippage), the account lands
// back at the target ratio (maintenance + buffer) rather than exactly at
// the edge (§4.6: the buffer exists so a partial liquidation doesn't
// immediately re-trigger): f = (target_bps - equity_bps) / (target_bps -
// reward_bps), per §4.6 step 6. f is returned as an exact fraction
// (numerator, denominator), both non-negative with denominator > 0 and
// numerator <= denominator, so the caller can round the resulting close
// size with integer ceiling division instead of going through float64.
//
// Substituting equity_bps = equity*10000/notional and clearing denominators
// gives numerator = target_bps*notional - equity*10000 and
// denominator = notional*(target_bps - reward_bps); since notional > 0 here,
// the sign of the denominator is exactly the sign of (target_bps -
// reward_bps), so denominator <= 0 is the §4.6 "always fully liquidate"
// fallback.
func liquidationCloseFraction(seat *ClaimedSeat, mark fixedpoint.Price, maintenanceBps, bufferBps, rewardBps uint16) (numerator, denominator *big.Int, err error) {
	n, err := notional(seat.Position, mark)
	if err != nil {
		return nil, nil, err
	}
	if n == 0 {
		return big.NewInt(0), big.NewInt(1), nil
	}
	eq, err := equity(seat, mark)
	if err != nil {
		return nil, nil, err
	}

	targetBps := int64(maintenanceBps) + int64(bufferBps)
	notionalInt := new(big.Int).SetUint64(n)

	num := new(big.Int).Mul(big.NewInt(targetBps), notionalInt)
	num.Sub(num, new(big.Int).Mul(eq, big.NewInt(10_000)))

	denom := new(big.Int).Mul(notionalInt, big.NewInt(targetBps-int64(rewardBps)))
	if denom.Sign() <= 0 {
		return big.NewInt(1), big.NewInt(1), nil
	}

	switch {
	case num.Sign() <= 0:
		return big.NewInt(0), big.NewInt(1), nil
	case num.Cmp(denom) >= 0:
		return big.NewInt(1), big.NewInt(1), nil
	default:
		return num, denom, nil
	}
}
