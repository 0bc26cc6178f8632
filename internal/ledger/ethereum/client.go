// Package ethereum anchors freeze hashes on an EVM chain through the anchor
// contract:
//
//	function anchor(bytes32 freezeHash, string entityId, uint8 entityType)
//	event Anchored(bytes32 indexed freezeHash, address indexed submitter,
//	               string entityId, uint8 entityType, uint256 timestamp)
package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"anchorage/internal/ledger"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const anchorABI = `[
	{"type":"function","name":"anchor","stateMutability":"nonpayable",
	 "inputs":[{"name":"freezeHash","type":"bytes32"},{"name":"entityId","type":"string"},{"name":"entityType","type":"uint8"}],
	 "outputs":[]},
	{"type":"event","name":"Anchored","anonymous":false,
	 "inputs":[{"name":"freezeHash","type":"bytes32","indexed":true},
	           {"name":"submitter","type":"address","indexed":true},
	           {"name":"entityId","type":"string","indexed":false},
	           {"name":"entityType","type":"uint8","indexed":false},
	           {"name":"timestamp","type":"uint256","indexed":false}]}
]`

// Backend is the subset of ethclient.Client the anchor client uses.
type Backend interface {
	EstimateGas(ctx context.Context, msg goethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q goethereum.FilterQuery) ([]types.Log, error)
}

// Config identifies the chain, contract and signing key.
type Config struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	PrivateKeyHex   string
	// FromBlock bounds anchor log scans, normally the contract deploy block.
	FromBlock    uint64
	PollInterval time.Duration
}

// Client implements the anchoring ledger port on Ethereum.
type Client struct {
	backend  Backend
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	sender   common.Address
	from     uint64
	poll     time.Duration
	logger   *slog.Logger

	nonceMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Dial connects to cfg.RPCURL and builds a Client.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return New(rpc, cfg, opts...)
}

// New builds a Client on an existing backend.
func New(backend Backend, cfg Config, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, errors.New("ledger backend is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id %d", cfg.ChainID)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse ledger private key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(anchorABI))
	if err != nil {
		return nil, fmt.Errorf("parse anchor abi: %w", err)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	c := &Client{
		backend:  backend,
		abi:      parsed,
		contract: common.HexToAddress(cfg.ContractAddress),
		chainID:  big.NewInt(cfg.ChainID),
		key:      key,
		sender:   crypto.PubkeyToAddress(key.PublicKey),
		from:     cfg.FromBlock,
		poll:     poll,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ContractAddress() string {
	return c.contract.Hex()
}

// Sender is the address transactions are signed with.
func (c *Client) Sender() string {
	return c.sender.Hex()
}

func (c *Client) callData(params ledger.AnchorParams) ([]byte, error) {
	hash, err := freezeHashBytes(params.FreezeHash)
	if err != nil {
		return nil, err
	}
	data, err := c.abi.Pack("anchor", hash, params.EntityID, params.EntityTypeCode)
	if err != nil {
		return nil, fmt.Errorf("pack anchor call: %w", err)
	}
	return data, nil
}

func (c *Client) EstimateCost(ctx context.Context, params ledger.AnchorParams) (uint64, error) {
	data, err := c.callData(params)
	if err != nil {
		return 0, err
	}
	gas, err := c.backend.EstimateGas(ctx, goethereum.CallMsg{
		From: c.sender,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return 0, fmt.Errorf("estimate anchor gas: %w", err)
	}
	return gas, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

// Submit signs and broadcasts one anchor transaction. Nonce assignment is
// serialized so concurrent mints do not collide.
func (c *Client) Submit(ctx context.Context, params ledger.AnchorParams, cost ledger.CostParams) (ledger.PendingTx, error) {
	if cost.GasPrice == nil {
		return ledger.PendingTx{}, errors.New("gas price is required")
	}
	data, err := c.callData(params)
	if err != nil {
		return ledger.PendingTx{}, err
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return ledger.PendingTx{}, fmt.Errorf("pending nonce: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    new(big.Int),
		Gas:      cost.GasLimit,
		GasPrice: cost.GasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return ledger.PendingTx{}, fmt.Errorf("sign anchor tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return ledger.PendingTx{}, fmt.Errorf("send anchor tx: %w", err)
	}

	c.logger.InfoContext(ctx, "anchor transaction submitted",
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas_limit", cost.GasLimit,
		"gas_price", cost.GasPrice.String(),
	)
	return ledger.PendingTx{
		Hash:        signed.Hash().Hex(),
		Nonce:       nonce,
		GasLimit:    cost.GasLimit,
		GasPrice:    new(big.Int).Set(cost.GasPrice),
		SubmittedAt: time.Now(),
	}, nil
}

// AwaitConfirmation polls for the receipt until it exists or ctx is done.
// RPC errors while polling are retried; the last one is reported with the
// context error.
func (c *Client) AwaitConfirmation(ctx context.Context, tx ledger.PendingTx) (ledger.Receipt, error) {
	hash := common.HexToHash(tx.Hash)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	var lastErr error
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			return c.toReceipt(ctx, receipt)
		case !errors.Is(err, goethereum.NotFound):
			lastErr = err
			c.logger.WarnContext(ctx, "anchor receipt poll failed", "tx_hash", tx.Hash, "error", err)
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return ledger.Receipt{}, fmt.Errorf("await %s: %w (last rpc error: %v)", tx.Hash, ctx.Err(), lastErr)
			}
			return ledger.Receipt{}, fmt.Errorf("await %s: %w", tx.Hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) toReceipt(ctx context.Context, r *types.Receipt) (ledger.Receipt, error) {
	out := ledger.Receipt{
		TxHash:            r.TxHash.Hex(),
		Success:           r.Status == types.ReceiptStatusSuccessful,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		ContractAddress:   c.contract.Hex(),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
		header, err := c.backend.HeaderByNumber(ctx, r.BlockNumber)
		if err != nil {
			return ledger.Receipt{}, fmt.Errorf("block header %d: %w", out.BlockNumber, err)
		}
		out.BlockTimestamp = time.Unix(int64(header.Time), 0).UTC()
	}
	return out, nil
}

// anchoredEvent mirrors the non-indexed Anchored fields.
type anchoredEvent struct {
	EntityID   string   `abi:"entityId"`
	EntityType uint8    `abi:"entityType"`
	Timestamp  *big.Int `abi:"timestamp"`
}

// QueryAnchor looks up the Anchored log for freezeHash. It is read-only and
// safe to call at any time.
func (c *Client) QueryAnchor(ctx context.Context, freezeHash string) (ledger.AnchorInfo, error) {
	hash, err := freezeHashBytes(freezeHash)
	if err != nil {
		return ledger.AnchorInfo{}, err
	}
	event := c.abi.Events["Anchored"]
	logs, err := c.backend.FilterLogs(ctx, goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.from),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{event.ID}, {common.Hash(hash)}},
	})
	if err != nil {
		return ledger.AnchorInfo{}, fmt.Errorf("filter anchor logs: %w", err)
	}

	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		var decoded anchoredEvent
		if err := c.abi.UnpackIntoInterface(&decoded, "Anchored", lg.Data); err != nil {
			return ledger.AnchorInfo{}, fmt.Errorf("decode anchor log: %w", err)
		}

		block := lg.BlockNumber
		info := ledger.AnchorInfo{
			Exists:          true,
			TxHash:          lg.TxHash.Hex(),
			BlockNumber:     &block,
			ContractAddress: c.contract.Hex(),
		}
		if decoded.Timestamp != nil {
			ts := time.Unix(decoded.Timestamp.Int64(), 0).UTC()
			info.Timestamp = &ts
		}
		if len(lg.Topics) > 2 {
			info.Submitter = common.BytesToAddress(lg.Topics[2].Bytes()).Hex()
		}

		receipt, err := c.backend.TransactionReceipt(ctx, lg.TxHash)
		if err != nil {
			return ledger.AnchorInfo{}, fmt.Errorf("anchor receipt: %w", err)
		}
		info.GasUsed = receipt.GasUsed
		info.GasPrice = receipt.EffectiveGasPrice
		return info, nil
	}
	return ledger.AnchorInfo{Exists: false}, nil
}

func freezeHashBytes(freezeHash string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(freezeHash, "0x"))
	if err != nil {
		return out, fmt.Errorf("decode freeze hash: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("freeze hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
