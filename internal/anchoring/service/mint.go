package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"anchorage/internal/anchoring/metrics"
	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/ports"
	"anchorage/internal/ledger"
	dErrors "anchorage/pkg/domain-errors"
	audit "anchorage/pkg/platform/audit"
	"anchorage/pkg/platform/sentinel"
	"anchorage/pkg/requestcontext"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// confirmation is a mined anchor, either from our own receipt or adopted from
// a ledger query.
type confirmation struct {
	txHash          string
	blockNumber     uint64
	blockTimestamp  time.Time
	gasUsed         uint64
	gasPrice        *big.Int
	contractAddress string
	recovered       bool
}

func fromReceipt(r ledger.Receipt) confirmation {
	return confirmation{
		txHash:          r.TxHash,
		blockNumber:     r.BlockNumber,
		blockTimestamp:  r.BlockTimestamp,
		gasUsed:         r.GasUsed,
		gasPrice:        r.EffectiveGasPrice,
		contractAddress: r.ContractAddress,
	}
}

func fromAnchor(info ledger.AnchorInfo, fallbackContract string, now time.Time, recovered bool) confirmation {
	c := confirmation{
		txHash:          info.TxHash,
		blockTimestamp:  now,
		gasUsed:         info.GasUsed,
		gasPrice:        info.GasPrice,
		contractAddress: info.ContractAddress,
		recovered:       recovered,
	}
	if info.BlockNumber != nil {
		c.blockNumber = *info.BlockNumber
	}
	if info.Timestamp != nil {
		c.blockTimestamp = *info.Timestamp
	}
	if c.contractAddress == "" {
		c.contractAddress = fallbackContract
	}
	return c
}

func (c confirmation) cost() models.Cost {
	price := c.gasPrice
	if price == nil {
		price = new(big.Int)
	}
	total := new(big.Int).Mul(new(big.Int).SetUint64(c.gasUsed), price)
	return models.Cost{
		GasUsed:  c.gasUsed,
		GasPrice: price.String(),
		TotalWei: total.String(),
	}
}

// Mint anchors a matured freeze on the ledger.
//
// The entity is moved to minting in its own transaction so exactly one
// concurrent caller proceeds. The ledger is then queried for an existing
// anchor under the freeze hash, which makes retries after an ambiguous
// failure safe. Ledger failures revert the entity to frozen_offchain. A
// confirmed anchor that cannot be recorded leaves the entity in minting for
// Reconcile to finish.
func (s *Service) Mint(ctx context.Context, req models.MintRequest) (*models.MintResult, error) {
	start := time.Now()
	if req.RequestedBy == "" {
		req.RequestedBy = requestcontext.Actor(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "anchoring.Mint", trace.WithAttributes(
		attribute.String("freeze.id", req.FreezeID.String()),
		attribute.String("mint.priority", string(req.Priority)),
	))
	defer span.End()

	result, entityType, err := s.mint(ctx, req)
	s.metrics.ObserveMint(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		s.metrics.IncrementMint(string(entityType), outcomeOf(err))
		return nil, err
	}

	outcome := metrics.OutcomeSuccess
	if result.Recovered {
		outcome = metrics.OutcomeRecovered
	}
	s.metrics.IncrementMint(string(entityType), outcome)
	span.SetAttributes(
		attribute.String("ledger.tx_hash", result.Mint.TransactionHash),
		attribute.Int64("ledger.block", int64(result.Mint.BlockNumber)),
	)
	s.logger.InfoContext(ctx, "entity minted",
		"entity_type", result.Freeze.EntityType,
		"entity_id", result.Freeze.EntityID,
		"freeze_id", result.Freeze.ID,
		"tx_hash", result.Mint.TransactionHash,
		"block_number", result.Mint.BlockNumber,
		"recovered", result.Recovered,
	)
	return result, nil
}

func (s *Service) mint(ctx context.Context, req models.MintRequest) (*models.MintResult, models.EntityType, error) {
	priority, ok := models.ParsePriority(string(req.Priority))
	if !ok {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown priority %q", req.Priority))
	}
	if req.GasPrice != nil && req.GasPrice.Sign() <= 0 {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "gas price must be positive")
	}
	now := requestcontext.Now(ctx)

	freeze, err := s.store.FindFreezeByID(ctx, req.FreezeID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", &models.NotFoundError{Kind: "freeze", ID: req.FreezeID.String()}
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load freeze record")
	}
	entityType := freeze.EntityType

	if freeze.IsMinted() {
		return nil, entityType, &models.AlreadyMintedError{FreezeID: freeze.ID.String()}
	}
	if now.Before(freeze.MinMintDate) {
		return nil, entityType, &models.NotMaturedError{
			MinMintDate:   freeze.MinMintDate,
			DaysRemaining: models.DaysRemaining(now, freeze.MinMintDate),
		}
	}

	entity, err := s.store.FindEntity(ctx, freeze.EntityType, freeze.EntityID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, entityType, &models.NotFoundError{Kind: string(freeze.EntityType), ID: freeze.EntityID}
		}
		return nil, entityType, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load entity")
	}

	decision, err := s.policy.CanMint(ctx, *entity, freeze, now)
	if err != nil {
		var coder dErrors.Coder
		if errors.As(err, &coder) {
			return nil, entityType, err
		}
		return nil, entityType, dErrors.Wrap(err, dErrors.CodeUnavailable, "trust level unavailable")
	}
	if !decision.Allowed {
		return nil, entityType, &models.IneligibleError{Stage: "mint", Blockers: decision.Blockers}
	}

	if err := s.claimMinting(ctx, *freeze, req.RequestedBy, now); err != nil {
		return nil, entityType, err
	}

	conf, err := s.anchor(ctx, *freeze, priority, req.GasPrice)
	if err != nil {
		s.compensate(ctx, *freeze, req.RequestedBy, err)
		return nil, entityType, err
	}

	result, err := s.finalize(ctx, *freeze, conf, req.RequestedBy, audit.EventEntityMinted)
	if err != nil {
		s.logger.ErrorContext(ctx, "anchor confirmed but not recorded; entity left in minting for reconciliation",
			"entity_type", freeze.EntityType,
			"entity_id", freeze.EntityID,
			"freeze_id", freeze.ID,
			"tx_hash", conf.txHash,
			"error", err,
		)
		return nil, entityType, internalErr(err, "failed to record mint")
	}
	return result, entityType, nil
}

// claimMinting moves the entity from frozen_offchain to minting and commits
// alone. The conditional update picks a single winner among concurrent mints.
func (s *Service) claimMinting(ctx context.Context, freeze models.FreezeRecord, actor string, now time.Time) error {
	err := s.tx.RunInTx(ctx, func(ctx context.Context, st ports.Store) error {
		err := st.TransitionStatus(ctx, freeze.EntityType, freeze.EntityID, models.StatusFrozenOffchain, models.StatusMinting, now)
		if err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return &models.MintInProgressError{EntityID: freeze.EntityID}
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to start minting")
		}
		if err := s.auditor.Append(ctx, s.event(ctx, audit.EventMintStarted, freeze, actor, now)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record mint audit event")
		}
		return nil
	})
	return internalErr(err, "failed to start minting")
}

// anchor finds or creates the on-chain anchor for freeze. It never runs
// inside a database transaction.
func (s *Service) anchor(ctx context.Context, freeze models.FreezeRecord, priority models.Priority, explicitPrice *big.Int) (confirmation, error) {
	now := requestcontext.Now(ctx)

	existing, err := s.queryAnchor(ctx, freeze.FreezeHash)
	if err != nil {
		return confirmation{}, &models.LedgerSubmissionError{Err: err}
	}
	if existing.Exists {
		s.logger.InfoContext(ctx, "anchor already on ledger, adopting it",
			"freeze_id", freeze.ID,
			"tx_hash", existing.TxHash,
		)
		return fromAnchor(existing, s.ledger.ContractAddress(), now, true), nil
	}

	params := ledger.AnchorParams{
		FreezeHash:     freeze.FreezeHash,
		EntityID:       freeze.EntityID,
		EntityTypeCode: freeze.EntityType.LedgerCode(),
	}
	cost, err := s.cost(ctx, params, priority, explicitPrice)
	if err != nil {
		return confirmation{}, &models.LedgerSubmissionError{Err: err}
	}

	pending, err := s.submit(ctx, params, cost)
	if err != nil {
		return confirmation{}, &models.LedgerSubmissionError{Err: err}
	}

	receipt, err := s.awaitConfirmation(ctx, pending)
	if err != nil {
		if errors.Is(err, ledger.ErrReverted) {
			return confirmation{}, &models.LedgerSubmissionError{Err: err}
		}
		// Broadcast but unconfirmed: the transaction may still be mined.
		// Look once more before reporting an ambiguous outcome.
		info, qerr := s.queryAnchor(context.WithoutCancel(ctx), freeze.FreezeHash)
		if qerr == nil && info.Exists {
			s.logger.WarnContext(ctx, "confirmation failed but anchor found on ledger",
				"freeze_id", freeze.ID,
				"tx_hash", info.TxHash,
				"error", err,
			)
			return fromAnchor(info, s.ledger.ContractAddress(), now, false), nil
		}
		return confirmation{}, &models.LedgerConfirmationTimeoutError{TxHash: pending.Hash, Err: err}
	}
	if !receipt.Success {
		return confirmation{}, &models.LedgerSubmissionError{
			Err: fmt.Errorf("%w: %s", ledger.ErrReverted, receipt.TxHash),
		}
	}
	return fromReceipt(receipt), nil
}

// cost estimates gas with the safety margin and picks the price: an explicit
// price wins, otherwise the tier scales the network suggestion.
func (s *Service) cost(ctx context.Context, params ledger.AnchorParams, priority models.Priority, explicitPrice *big.Int) (ledger.CostParams, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.EstimateCost")
	defer span.End()

	start := time.Now()
	estimate, err := s.ledger.EstimateCost(ctx, params)
	s.metrics.ObserveLedger("estimate", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "estimate failed")
		return ledger.CostParams{}, fmt.Errorf("estimate gas: %w", err)
	}

	price := explicitPrice
	if price == nil {
		suggested, err := s.ledger.SuggestGasPrice(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "gas price unavailable")
			return ledger.CostParams{}, fmt.Errorf("suggest gas price: %w", err)
		}
		price = ledger.PriceForTier(suggested, ledger.Tier(priority))
	}

	limit := ledger.WithMargin(estimate)
	span.SetAttributes(
		attribute.Int64("gas.estimate", int64(estimate)),
		attribute.Int64("gas.limit", int64(limit)),
		attribute.String("gas.price", price.String()),
	)
	return ledger.CostParams{GasLimit: limit, GasPrice: price}, nil
}

func (s *Service) submit(ctx context.Context, params ledger.AnchorParams, cost ledger.CostParams) (ledger.PendingTx, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Submit", trace.WithAttributes(
		attribute.String("freeze.hash", params.FreezeHash),
	))
	defer span.End()

	start := time.Now()
	pending, err := s.ledger.Submit(ctx, params, cost)
	s.metrics.ObserveLedger("submit", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return ledger.PendingTx{}, fmt.Errorf("submit anchor: %w", err)
	}
	span.SetAttributes(attribute.String("ledger.tx_hash", pending.Hash))
	return pending, nil
}

func (s *Service) awaitConfirmation(ctx context.Context, pending ledger.PendingTx) (ledger.Receipt, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.AwaitConfirmation", trace.WithAttributes(
		attribute.String("ledger.tx_hash", pending.Hash),
	))
	defer span.End()

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := s.ledger.AwaitConfirmation(waitCtx, pending)
	s.metrics.ObserveLedger("confirm", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		return ledger.Receipt{}, err
	}
	span.SetAttributes(
		attribute.Bool("ledger.success", receipt.Success),
		attribute.Int64("ledger.block", int64(receipt.BlockNumber)),
	)
	return receipt, nil
}

func (s *Service) queryAnchor(ctx context.Context, freezeHash string) (ledger.AnchorInfo, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.QueryAnchor", trace.WithAttributes(
		attribute.String("freeze.hash", freezeHash),
	))
	defer span.End()

	start := time.Now()
	info, err := s.ledger.QueryAnchor(ctx, freezeHash)
	s.metrics.ObserveLedger("query", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return ledger.AnchorInfo{}, fmt.Errorf("query anchor: %w", err)
	}
	span.SetAttributes(attribute.Bool("anchor.exists", info.Exists))
	return info, nil
}

// finalize records a confirmed anchor: mint record, freeze attachment,
// entity status and audit event commit together.
func (s *Service) finalize(ctx context.Context, freeze models.FreezeRecord, conf confirmation, actor string, action audit.AuditEvent) (*models.MintResult, error) {
	// The anchor is on the ledger; recording it must not depend on the caller
	// staying connected.
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "anchoring.finalize")
	defer span.End()

	now := requestcontext.Now(ctx)
	mint := models.MintRecord{
		ID:              uuid.New(),
		FreezeID:        freeze.ID,
		TransactionHash: conf.txHash,
		BlockNumber:     conf.blockNumber,
		BlockTimestamp:  conf.blockTimestamp,
		Cost:            conf.cost(),
		ContractAddress: conf.contractAddress,
		RequestedBy:     actor,
		CreatedAt:       now,
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context, st ports.Store) error {
		if err := st.InsertMint(ctx, mint); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return &models.AlreadyMintedError{FreezeID: freeze.ID.String()}
			}
			return fmt.Errorf("insert mint record: %w", err)
		}
		if err := st.AttachMint(ctx, freeze.ID, mint.ID, now); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return &models.AlreadyMintedError{FreezeID: freeze.ID.String()}
			}
			return fmt.Errorf("attach mint record: %w", err)
		}
		if err := st.MarkMinted(ctx, freeze.EntityType, freeze.EntityID, conf.txHash, conf.blockNumber, now); err != nil {
			return fmt.Errorf("mark entity minted: %w", err)
		}

		event := s.event(ctx, action, freeze, actor, now)
		event.Metadata["mint_id"] = mint.ID.String()
		event.Metadata["tx_hash"] = mint.TransactionHash
		event.Metadata["block_number"] = mint.BlockNumber
		event.Metadata["total_wei"] = mint.Cost.TotalWei
		if err := s.auditor.Append(ctx, event); err != nil {
			return fmt.Errorf("append audit event: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return nil, err
	}

	freeze.MintID = &mint.ID
	freeze.MintedAt = &now
	return &models.MintResult{Freeze: freeze, Mint: mint, Recovered: conf.recovered}, nil
}

// compensate reverts a failed mint to frozen_offchain. Failures are logged
// and never returned; the entity stays in minting and Reconcile resolves it.
// The revert commits on its own so an audit outage cannot strand the entity.
func (s *Service) compensate(ctx context.Context, freeze models.FreezeRecord, actor string, cause error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := s.tracer.Start(ctx, "anchoring.compensate")
	defer span.End()

	now := requestcontext.Now(ctx)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, st ports.Store) error {
		return st.TransitionStatus(ctx, freeze.EntityType, freeze.EntityID, models.StatusMinting, models.StatusFrozenOffchain, now)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compensation failed")
		s.logger.ErrorContext(ctx, "mint compensation failed",
			"entity_type", freeze.EntityType,
			"entity_id", freeze.EntityID,
			"freeze_id", freeze.ID,
			"cause", cause,
			"error", fmt.Errorf("revert to frozen_offchain: %w", err),
		)
		return
	}
	s.metrics.IncrementCompensation()
	s.logger.WarnContext(ctx, "mint failed, entity returned to frozen_offchain",
		"entity_type", freeze.EntityType,
		"entity_id", freeze.EntityID,
		"freeze_id", freeze.ID,
		"cause", cause,
	)

	event := s.event(ctx, audit.EventMintFailed, freeze, actor, now)
	event.Reason = cause.Error()
	s.appendAfterCommit(ctx, event)
}

// appendAfterCommit records an event for a state change that has already
// committed. A failed append is logged; the state change stands.
func (s *Service) appendAfterCommit(ctx context.Context, event audit.Event) {
	if err := s.auditor.Append(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "audit event lost after commit",
			"action", event.Action,
			"entity_type", event.SubjectType,
			"entity_id", event.Subject,
			"error", err,
		)
	}
}
