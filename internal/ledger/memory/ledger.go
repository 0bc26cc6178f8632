// Package memory is a simulated anchor ledger for tests and local mode.
// Transactions are mined when their confirmation is awaited. Failures can be
// injected per call.
package memory

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"anchorage/internal/ledger"

	"golang.org/x/crypto/sha3"
)

const (
	// DefaultContractAddress is reported when no address is configured.
	DefaultContractAddress = "0x00000000000000000000000000000000a2c40a6e"
	defaultSubmitter       = "0x000000000000000000000000000000000000bee5"

	baseGas      = 45_000
	gasPerIDByte = 68
)

// ConfirmBehavior controls how AwaitConfirmation resolves.
type ConfirmBehavior int

const (
	// ConfirmMine mines the transaction and returns its receipt.
	ConfirmMine ConfirmBehavior = iota
	// ConfirmRevert mines the transaction as failed.
	ConfirmRevert
	// ConfirmHang never confirms; the call blocks until ctx is done.
	ConfirmHang
	// ConfirmMineSilently mines the anchor but blocks until ctx is done, as
	// when the receipt is lost in transit.
	ConfirmMineSilently
)

type anchor struct {
	info     ledger.AnchorInfo
	entityID string
	typeCode uint8
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	anchors   map[string]anchor
	pending   map[string]pendingSubmission
	nonce     uint64
	block     uint64
	gasPrice  *big.Int
	contract  string
	submitter string
	clock     func() time.Time

	submitErr   error
	estimateErr error
	behavior    ConfirmBehavior
	submissions int
}

type pendingSubmission struct {
	tx     ledger.PendingTx
	params ledger.AnchorParams
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithGasPrice(price *big.Int) Option {
	return func(l *Ledger) {
		l.gasPrice = new(big.Int).Set(price)
	}
}

func WithContractAddress(addr string) Option {
	return func(l *Ledger) {
		l.contract = addr
	}
}

// WithClock sets the source of block timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		l.clock = clock
	}
}

// New creates an empty ledger at block 1000 with a 20 gwei suggested price.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		anchors:   make(map[string]anchor),
		pending:   make(map[string]pendingSubmission),
		block:     1000,
		gasPrice:  big.NewInt(20_000_000_000),
		contract:  DefaultContractAddress,
		submitter: defaultSubmitter,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FailSubmissions makes Submit return err until cleared with nil.
func (l *Ledger) FailSubmissions(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr = err
}

// FailEstimates makes EstimateCost return err until cleared with nil.
func (l *Ledger) FailEstimates(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.estimateErr = err
}

// SetConfirmBehavior changes how subsequent confirmations resolve.
func (l *Ledger) SetConfirmBehavior(b ConfirmBehavior) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.behavior = b
}

// Submissions returns how many transactions were accepted by Submit.
func (l *Ledger) Submissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submissions
}

func (l *Ledger) ContractAddress() string {
	return l.contract
}

func (l *Ledger) EstimateCost(_ context.Context, params ledger.AnchorParams) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.estimateErr != nil {
		return 0, l.estimateErr
	}
	return requiredGas(params), nil
}

func (l *Ledger) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.gasPrice), nil
}

func (l *Ledger) Submit(_ context.Context, params ledger.AnchorParams, cost ledger.CostParams) (ledger.PendingTx, error) {
	if len(params.FreezeHash) != 64 {
		return ledger.PendingTx{}, fmt.Errorf("freeze hash must be 32 bytes hex, got %d chars", len(params.FreezeHash))
	}
	if _, err := hex.DecodeString(params.FreezeHash); err != nil {
		return ledger.PendingTx{}, fmt.Errorf("decode freeze hash: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.submitErr != nil {
		return ledger.PendingTx{}, l.submitErr
	}

	l.nonce++
	price := l.gasPrice
	if cost.GasPrice != nil {
		price = cost.GasPrice
	}
	tx := ledger.PendingTx{
		Hash:        txHash(params.FreezeHash, l.nonce),
		Nonce:       l.nonce,
		GasLimit:    cost.GasLimit,
		GasPrice:    new(big.Int).Set(price),
		SubmittedAt: l.clock(),
	}
	l.pending[tx.Hash] = pendingSubmission{tx: tx, params: params}
	l.submissions++
	return tx, nil
}

// AwaitConfirmation mines tx according to the configured ConfirmBehavior.
// A second anchor for the same freeze hash, or a gas limit below the
// requirement, yields an unsuccessful receipt.
func (l *Ledger) AwaitConfirmation(ctx context.Context, tx ledger.PendingTx) (ledger.Receipt, error) {
	l.mu.Lock()
	sub, ok := l.pending[tx.Hash]
	behavior := l.behavior
	if !ok {
		l.mu.Unlock()
		return ledger.Receipt{}, fmt.Errorf("unknown transaction %s", tx.Hash)
	}

	var receipt ledger.Receipt
	switch behavior {
	case ConfirmHang:
	case ConfirmRevert:
		receipt = l.mineLocked(sub, false)
	default:
		receipt = l.mineLocked(sub, true)
	}
	l.mu.Unlock()

	if behavior == ConfirmHang || behavior == ConfirmMineSilently {
		<-ctx.Done()
		return ledger.Receipt{}, ctx.Err()
	}
	return receipt, nil
}

func (l *Ledger) mineLocked(sub pendingSubmission, allow bool) ledger.Receipt {
	delete(l.pending, sub.tx.Hash)
	l.block++

	gasUsed := requiredGas(sub.params)
	_, duplicate := l.anchors[sub.params.FreezeHash]
	success := allow && !duplicate && sub.tx.GasLimit >= gasUsed
	if sub.tx.GasLimit < gasUsed {
		gasUsed = sub.tx.GasLimit
	}

	block := l.block
	minedAt := l.clock().UTC()
	receipt := ledger.Receipt{
		TxHash:            sub.tx.Hash,
		Success:           success,
		BlockNumber:       block,
		BlockTimestamp:    minedAt,
		GasUsed:           gasUsed,
		EffectiveGasPrice: new(big.Int).Set(sub.tx.GasPrice),
		ContractAddress:   l.contract,
	}
	if success {
		l.anchors[sub.params.FreezeHash] = anchor{
			info: ledger.AnchorInfo{
				Exists:          true,
				TxHash:          sub.tx.Hash,
				BlockNumber:     &block,
				Timestamp:       &minedAt,
				Submitter:       l.submitter,
				GasUsed:         gasUsed,
				GasPrice:        new(big.Int).Set(sub.tx.GasPrice),
				ContractAddress: l.contract,
			},
			entityID: sub.params.EntityID,
			typeCode: sub.params.EntityTypeCode,
		}
	}
	return receipt
}

func (l *Ledger) QueryAnchor(_ context.Context, freezeHash string) (ledger.AnchorInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.anchors[freezeHash]
	if !ok {
		return ledger.AnchorInfo{Exists: false}, nil
	}
	info := a.info
	info.GasPrice = new(big.Int).Set(a.info.GasPrice)
	return info, nil
}

// AnchoredEntity returns the entity id and type code written with the anchor.
func (l *Ledger) AnchoredEntity(freezeHash string) (string, uint8, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.anchors[freezeHash]
	return a.entityID, a.typeCode, ok
}

// AdvanceBlocks moves the chain head forward.
func (l *Ledger) AdvanceBlocks(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block += n
}

func requiredGas(params ledger.AnchorParams) uint64 {
	return baseGas + gasPerIDByte*uint64(len(params.EntityID))
}

// txHash derives a stable Keccak-256 hash from the freeze hash and nonce.
func txHash(freezeHash string, nonce uint64) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(freezeHash))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
