package ledger

import "math/big"

// Tier selects a gas price relative to the network suggestion.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// gasMarginPercent is added on top of every estimate.
const gasMarginPercent = 20

// tierPercent scales the suggested price per tier.
var tierPercent = map[Tier]int64{
	TierLow:    80,
	TierMedium: 100,
	TierHigh:   150,
}

// WithMargin applies the safety margin to a gas estimate, rounding up.
func WithMargin(estimate uint64) uint64 {
	return estimate + (estimate*gasMarginPercent+99)/100
}

// PriceForTier scales suggested by the tier multiplier. Unknown tiers are
// treated as medium.
func PriceForTier(suggested *big.Int, tier Tier) *big.Int {
	pct, ok := tierPercent[tier]
	if !ok {
		pct = tierPercent[TierMedium]
	}
	price := new(big.Int).Mul(suggested, big.NewInt(pct))
	return price.Quo(price, big.NewInt(100))
}
