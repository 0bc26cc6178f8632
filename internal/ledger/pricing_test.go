package ledger

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithMargin(t *testing.T) {
	assert.Equal(t, uint64(120_000), WithMargin(100_000))
	assert.Equal(t, uint64(2), WithMargin(1), "margin rounds up")
	assert.Equal(t, uint64(0), WithMargin(0))
}

func TestPriceForTier(t *testing.T) {
	suggested := big.NewInt(10_000_000_000)

	assert.Equal(t, "8000000000", PriceForTier(suggested, TierLow).String())
	assert.Equal(t, "10000000000", PriceForTier(suggested, TierMedium).String())
	assert.Equal(t, "15000000000", PriceForTier(suggested, TierHigh).String())
	assert.Equal(t, "10000000000", PriceForTier(suggested, Tier("turbo")).String())
	assert.Equal(t, "10000000000", suggested.String(), "input is not mutated")
}

func TestReceiptTotalCost(t *testing.T) {
	r := Receipt{GasUsed: 21_000, EffectiveGasPrice: big.NewInt(2)}
	assert.Equal(t, "42000", r.TotalCost().String())
	assert.Equal(t, "0", Receipt{GasUsed: 5}.TotalCost().String())
}
