// Package ledger defines the anchor network boundary shared by the ethereum
// client and the simulated in-memory ledger.
package ledger

import (
	"errors"
	"math/big"
	"time"
)

// ErrReverted is returned by AwaitConfirmation when the transaction was mined
// but did not succeed.
var ErrReverted = errors.New("anchor transaction reverted")

// AnchorParams is the payload of one anchor transaction.
type AnchorParams struct {
	FreezeHash     string // 64 hex chars
	EntityID       string
	EntityTypeCode uint8
}

// CostParams bounds the resources a submission may consume.
type CostParams struct {
	GasLimit uint64
	GasPrice *big.Int
}

// PendingTx identifies a submitted, not yet confirmed transaction.
type PendingTx struct {
	Hash        string
	Nonce       uint64
	GasLimit    uint64
	GasPrice    *big.Int
	SubmittedAt time.Time
}

// Receipt is the confirmation of a mined transaction.
type Receipt struct {
	TxHash            string
	Success           bool
	BlockNumber       uint64
	BlockTimestamp    time.Time
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	ContractAddress   string
}

// TotalCost returns gas used times effective price in wei.
func (r Receipt) TotalCost() *big.Int {
	if r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// AnchorInfo is the read-only view of an anchor keyed by freeze hash.
type AnchorInfo struct {
	Exists          bool
	TxHash          string
	BlockNumber     *uint64
	Timestamp       *time.Time
	Submitter       string
	GasUsed         uint64
	GasPrice        *big.Int
	ContractAddress string
}
