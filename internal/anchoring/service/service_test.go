package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"anchorage/internal/anchoring/metrics"
	"anchorage/internal/anchoring/models"
	"anchorage/internal/anchoring/policy"
	"anchorage/internal/anchoring/ports"
	"anchorage/internal/anchoring/service/mocks"
	"anchorage/internal/anchoring/store"
	"anchorage/internal/ledger"
	ledgermem "anchorage/internal/ledger/memory"
	"anchorage/internal/trust"
	dErrors "anchorage/pkg/domain-errors"
	audit "anchorage/pkg/platform/audit"
	auditmem "anchorage/pkg/platform/audit/store/memory"
	"anchorage/pkg/platform/sentinel"
	"anchorage/pkg/requestcontext"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

// =============================================================================
// Anchoring Service Test Suite
// =============================================================================
// The suite runs the real in-memory store, ledger and audit store so the saga
// can be observed end to end; failures are injected at the store and ledger.

const week = 7 * 24 * time.Hour

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	ledger  *ledgermem.Ledger
	audit   *auditmem.InMemoryStore
	oracle  *trust.StaticOracle
	metrics *metrics.Metrics
	service *Service
	base    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.ledger = ledgermem.New()
	s.audit = auditmem.NewInMemoryStore()
	s.oracle = trust.NewStaticOracle()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.service = s.newService(s.ledger, s.audit)
}

func (s *ServiceSuite) newService(l ports.Ledger, auditor ports.AuditPublisher) *Service {
	engine, err := policy.New(s.oracle, policy.DefaultConfig())
	s.Require().NoError(err)
	svc, err := New(s.store, s.store, engine, l, auditor,
		WithMetrics(s.metrics),
		WithConfirmTimeout(50*time.Millisecond),
		WithStaleAfter(15*time.Minute),
	)
	s.Require().NoError(err)
	return svc
}

// at returns a context whose clock reads base+d.
func (s *ServiceSuite) at(d time.Duration) context.Context {
	ctx := requestcontext.WithActor(context.Background(), "ops@example.com")
	return requestcontext.WithTime(ctx, s.base.Add(d))
}

func (s *ServiceSuite) seedIdentity(id string, level int) {
	s.store.PutEntity(models.Entity{
		ID:              id,
		Type:            models.EntityTypeIdentity,
		Payload:         map[string]any{"name": "Ada Lovelace"},
		StatusChangedAt: s.base,
	})
	s.store.AddVerification(models.EntityTypeIdentity, id, models.Verification{
		ID: "v-" + id, Type: models.VerificationTypeEmail, Status: models.VerificationStatusDone,
	})
	s.oracle.Set(id, level)
}

func (s *ServiceSuite) frozen(id string) *models.FreezeResult {
	s.seedIdentity(id, 3)
	res, err := s.service.Freeze(s.at(0), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: id})
	s.Require().NoError(err)
	return res
}

func (s *ServiceSuite) entityStatus(id string) models.FreezeStatus {
	entity, err := s.store.FindEntity(context.Background(), models.EntityTypeIdentity, id)
	s.Require().NoError(err)
	return entity.FreezeStatus
}

func (s *ServiceSuite) auditActions(id string) []string {
	events, err := s.audit.ListBySubject(context.Background(), id)
	s.Require().NoError(err)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	return actions
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew_RequiresCollaborators() {
	engine, err := policy.New(s.oracle, policy.DefaultConfig())
	s.Require().NoError(err)

	_, err = New(nil, s.store, engine, s.ledger, s.audit)
	s.ErrorContains(err, "anchoring store is required")

	_, err = New(s.store, s.store, nil, s.ledger, s.audit)
	s.ErrorContains(err, "policy engine is required")

	_, err = New(s.store, s.store, engine, nil, s.audit)
	s.ErrorContains(err, "ledger is required")

	_, err = New(s.store, s.store, engine, s.ledger, nil)
	s.ErrorContains(err, "audit publisher is required")
}

// =============================================================================
// Freeze Tests
// =============================================================================

func (s *ServiceSuite) TestFreeze_CommitsRecordStatusAndAudit() {
	s.seedIdentity("E1", 2)

	res, err := s.service.Freeze(s.at(0), models.FreezeRequest{
		EntityType: models.EntityTypeIdentity,
		EntityID:   "E1",
		Metadata:   map[string]any{"ticket": "OPS-12"},
	})
	s.Require().NoError(err)

	s.False(res.EligibleForMint)
	s.Equal(s.base.Add(week), res.MinMintDate)
	s.Equal(s.base.Add(week), res.Record.MinMintDate)
	s.Len(res.Record.FreezeHash, 64)
	s.Equal(res.Record.Witness.CombinedHash, res.Record.FreezeHash)
	s.Equal("ops@example.com", res.Record.RequestedBy)

	entity, err := s.store.FindEntity(context.Background(), models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(models.StatusFrozenOffchain, entity.FreezeStatus)
	s.Equal(res.Record.FreezeHash, entity.FreezeHash)

	stored, err := s.store.FindFreezeByEntity(context.Background(), models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(res.Record.ID, stored.ID)

	events, err := s.audit.ListBySubject(context.Background(), "E1")
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventEntityFrozen), events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal(res.Record.FreezeHash, events[0].Metadata["freeze_hash"])
	s.Contains(events[0].Metadata, "witness")

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Freezes.WithLabelValues("identity", metrics.OutcomeSuccess)))
}

func (s *ServiceSuite) TestFreeze_Rejections() {
	s.Run("unknown entity", func() {
		_, err := s.service.Freeze(s.at(0), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: "nobody"})
		var nf *models.NotFoundError
		s.ErrorAs(err, &nf)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unsupported entity type", func() {
		_, err := s.service.Freeze(s.at(0), models.FreezeRequest{EntityType: "invoice", EntityID: "E1"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("ineligible entity reports every blocker", func() {
		s.store.PutEntity(models.Entity{ID: "E9", Type: models.EntityTypeIdentity})
		s.oracle.Set("E9", 1)

		_, err := s.service.Freeze(s.at(0), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: "E9"})
		var inel *models.IneligibleError
		s.Require().ErrorAs(err, &inel)
		s.Equal([]string{
			"Trust level too low for freeze (1 < 2)",
			"Identity requires a completed email verification",
		}, inel.Blockers)
		s.Equal(models.StatusMutable, s.entityStatus("E9"))
		s.Empty(s.auditActions("E9"))
	})

	s.Run("trust oracle failure fails closed", func() {
		s.seedIdentity("E8", 3)
		s.oracle.FailWith(errors.New("oracle down"))
		defer s.oracle.FailWith(nil)

		_, err := s.service.Freeze(s.at(0), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: "E8"})
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.Equal(models.StatusMutable, s.entityStatus("E8"))
	})
}

func (s *ServiceSuite) TestFreeze_SecondFreezeIsAlreadyFrozen() {
	first := s.frozen("E1")

	_, err := s.service.Freeze(s.at(time.Hour), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: "E1"})
	var already *models.AlreadyFrozenError
	s.Require().ErrorAs(err, &already)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	stored, err := s.store.FindFreezeByEntity(context.Background(), models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(first.Record.ID, stored.ID)
	s.Equal(first.Record.MinMintDate, stored.MinMintDate)
}

func (s *ServiceSuite) TestFreeze_RollsBackOnInjectedFailure() {
	for _, op := range []string{"InsertFreeze", "MarkFrozen"} {
		s.Run(op, func() {
			id := "E-" + op
			s.seedIdentity(id, 3)
			s.store.FailOn(op, errors.New("disk full"))
			defer s.store.FailOn(op, nil)

			_, err := s.service.Freeze(s.at(0), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: id})
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInternal))

			_, err = s.store.FindFreezeByEntity(context.Background(), models.EntityTypeIdentity, id)
			s.ErrorIs(err, sentinel.ErrNotFound)
			s.Equal(models.StatusMutable, s.entityStatus(id))
			s.Empty(s.auditActions(id))
		})
	}
}

func (s *ServiceSuite) TestFreeze_RollsBackWhenAuditFails() {
	ctrl := gomock.NewController(s.T())
	auditor := mocks.NewMockAuditPublisher(ctrl)
	auditor.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("outbox unavailable"))
	svc := s.newService(s.ledger, auditor)
	s.seedIdentity("E1", 3)

	_, err := svc.Freeze(s.at(0), models.FreezeRequest{EntityType: models.EntityTypeIdentity, EntityID: "E1"})
	s.Require().Error(err)

	_, err = s.store.FindFreezeByEntity(context.Background(), models.EntityTypeIdentity, "E1")
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal(models.StatusMutable, s.entityStatus("E1"))
}

// =============================================================================
// Mint Tests
// =============================================================================

func (s *ServiceSuite) TestMint_BeforeMaturationIsRejected() {
	fr := s.frozen("E1")

	_, err := s.service.Mint(s.at(3*24*time.Hour), models.MintRequest{FreezeID: fr.Record.ID})
	var notMatured *models.NotMaturedError
	s.Require().ErrorAs(err, &notMatured)
	s.Equal(4, notMatured.DaysRemaining)
	s.True(dErrors.HasCode(err, dErrors.CodeIneligible))
	s.Equal(0, s.ledger.Submissions())
	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
}

func (s *ServiceSuite) TestMint_AnchorsAndRecords() {
	fr := s.frozen("E1")

	res, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID, RequestedBy: "ops"})
	s.Require().NoError(err)

	s.False(res.Recovered)
	s.Equal(fr.Record.ID, res.Mint.FreezeID)
	s.Equal(uint64(1001), res.Mint.BlockNumber)
	s.Equal(ledgermem.DefaultContractAddress, res.Mint.ContractAddress)
	s.Equal(uint64(45_136), res.Mint.Cost.GasUsed)
	s.Equal("20000000000", res.Mint.Cost.GasPrice)
	s.Equal("902720000000000", res.Mint.Cost.TotalWei)
	s.Require().NotNil(res.Freeze.MintID)
	s.Equal(res.Mint.ID, *res.Freeze.MintID)

	entity, err := s.store.FindEntity(context.Background(), models.EntityTypeIdentity, "E1")
	s.Require().NoError(err)
	s.Equal(models.StatusMintedOnchain, entity.FreezeStatus)
	s.Equal(res.Mint.TransactionHash, entity.LedgerTxHash)

	mint, err := s.store.FindMintByFreeze(context.Background(), fr.Record.ID)
	s.Require().NoError(err)
	s.Equal(res.Mint.ID, mint.ID)

	anchoredID, typeCode, ok := s.ledger.AnchoredEntity(fr.Record.FreezeHash)
	s.True(ok)
	s.Equal("E1", anchoredID)
	s.Equal(uint8(1), typeCode)

	s.Equal([]string{"entity_frozen", "mint_started", "entity_minted"}, s.auditActions("E1"))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Mints.WithLabelValues("identity", metrics.OutcomeSuccess)))

	_, err = s.service.Mint(s.at(week+time.Hour), models.MintRequest{FreezeID: fr.Record.ID})
	var already *models.AlreadyMintedError
	s.ErrorAs(err, &already)
	s.Equal(1, s.ledger.Submissions())
}

func (s *ServiceSuite) TestMint_Rejections() {
	s.Run("unknown freeze", func() {
		_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: uuid.New()})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown priority", func() {
		_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: uuid.New(), Priority: "urgent"})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("trust below mint threshold", func() {
		fr := s.frozen("E2")
		s.oracle.Set("E2", 2)

		_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
		var inel *models.IneligibleError
		s.Require().ErrorAs(err, &inel)
		s.Equal([]string{"Trust level too low for mint (2 < 3)"}, inel.Blockers)
		s.Equal(models.StatusFrozenOffchain, s.entityStatus("E2"))
	})
}

func (s *ServiceSuite) TestMint_CompensatesOnSubmissionFailure() {
	fr := s.frozen("E1")
	s.ledger.FailSubmissions(errors.New("nonce too low"))

	_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	var subErr *models.LedgerSubmissionError
	s.Require().ErrorAs(err, &subErr)
	s.Contains(err.Error(), "minting failed, will remain available for retry")
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))

	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	s.Equal([]string{"entity_frozen", "mint_started", "mint_failed"}, s.auditActions("E1"))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Compensations))

	s.ledger.FailSubmissions(nil)
	res, err := s.service.Mint(s.at(week+time.Hour), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().NoError(err)
	s.Equal(models.StatusMintedOnchain, s.entityStatus("E1"))
	s.NotEmpty(res.Mint.TransactionHash)
}

func (s *ServiceSuite) TestMint_RevertedReceiptCompensates() {
	fr := s.frozen("E1")
	s.ledger.SetConfirmBehavior(ledgermem.ConfirmRevert)

	_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().ErrorIs(err, ledger.ErrReverted)
	var subErr *models.LedgerSubmissionError
	s.ErrorAs(err, &subErr)
	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))

	_, err = s.store.FindMintByFreeze(context.Background(), fr.Record.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ServiceSuite) TestMint_ConfirmationTimeout() {
	s.Run("no anchor found compensates", func() {
		fr := s.frozen("E1")
		s.ledger.SetConfirmBehavior(ledgermem.ConfirmHang)
		defer s.ledger.SetConfirmBehavior(ledgermem.ConfirmMine)

		_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
		var timeout *models.LedgerConfirmationTimeoutError
		s.Require().ErrorAs(err, &timeout)
		s.NotEmpty(timeout.TxHash)
		s.ErrorIs(err, context.DeadlineExceeded)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
		s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	})

	s.Run("lost receipt is recovered from the ledger", func() {
		fr := s.frozen("E2")
		s.ledger.SetConfirmBehavior(ledgermem.ConfirmMineSilently)
		defer s.ledger.SetConfirmBehavior(ledgermem.ConfirmMine)

		res, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
		s.Require().NoError(err)
		s.False(res.Recovered)
		s.Equal(models.StatusMintedOnchain, s.entityStatus("E2"))
	})
}

func (s *ServiceSuite) TestMint_FinalizeFailureLeavesOrphanForReconcile() {
	fr := s.frozen("E1")
	s.store.FailOn("InsertMint", errors.New("connection reset"))

	_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.Equal(models.StatusMinting, s.entityStatus("E1"))

	_, err = s.service.Mint(s.at(week+time.Minute), models.MintRequest{FreezeID: fr.Record.ID})
	var inProgress *models.MintInProgressError
	s.ErrorAs(err, &inProgress)

	s.store.FailOn("InsertMint", nil)
	report, err := s.service.Reconcile(s.at(week + 20*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, report.Scanned)
	s.Equal([]string{"identity/E1"}, report.Recovered)
	s.Empty(report.Failed)

	s.Equal(models.StatusMintedOnchain, s.entityStatus("E1"))
	s.Equal(1, s.ledger.Submissions())
	s.Equal([]string{"entity_frozen", "mint_started", "mint_reconciled"}, s.auditActions("E1"))
}

// failingAuditor rejects one action and records the rest.
type failingAuditor struct {
	next   ports.AuditPublisher
	action audit.AuditEvent
}

func (a failingAuditor) Append(ctx context.Context, event audit.Event) error {
	if event.Action == string(a.action) {
		return errors.New("audit sink down")
	}
	return a.next.Append(ctx, event)
}

func (s *ServiceSuite) TestMint_CompensationCommitsWhenAuditFails() {
	svc := s.newService(s.ledger, failingAuditor{next: s.audit, action: audit.EventMintFailed})
	fr := s.frozen("E1")
	s.ledger.FailSubmissions(errors.New("nonce too low"))

	_, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	var subErr *models.LedgerSubmissionError
	s.Require().ErrorAs(err, &subErr)
	s.Contains(err.Error(), "nonce too low")

	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Compensations))
	s.Equal([]string{"entity_frozen", "mint_started"}, s.auditActions("E1"))

	s.ledger.FailSubmissions(nil)
	_, err = svc.Mint(s.at(week+time.Hour), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestMint_CompensationFailureLeavesMintingForReconcile() {
	fr := s.frozen("E1")
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	svc := s.newService(l, s.audit)

	l.EXPECT().ContractAddress().Return("0xc0ffee").AnyTimes()
	l.EXPECT().QueryAnchor(gomock.Any(), fr.Record.FreezeHash).Return(ledger.AnchorInfo{}, nil).Times(2)
	l.EXPECT().EstimateCost(gomock.Any(), gomock.Any()).Return(uint64(50_000), nil)
	l.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10_000_000_000), nil)
	l.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, ledger.AnchorParams, ledger.CostParams) (ledger.PendingTx, error) {
			// the revert that follows cannot be written either
			s.store.FailOn("TransitionStatus", errors.New("connection reset"))
			return ledger.PendingTx{}, errors.New("nonce too low")
		})

	_, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	var subErr *models.LedgerSubmissionError
	s.Require().ErrorAs(err, &subErr)
	s.Contains(err.Error(), "nonce too low")
	s.NotContains(err.Error(), "connection reset")
	s.Equal(0.0, testutil.ToFloat64(s.metrics.Compensations))
	s.store.FailOn("TransitionStatus", nil)

	s.Equal(models.StatusMinting, s.entityStatus("E1"))
	st, err := svc.Status(s.at(week+time.Minute), "E1", models.EntityTypeIdentity)
	s.Require().NoError(err)
	s.True(st.MintInProgress)
	s.Equal(models.StatusMinting, st.CurrentStage)

	report, err := svc.Reconcile(s.at(week + 20*time.Minute))
	s.Require().NoError(err)
	s.Equal([]string{"identity/E1"}, report.Reverted)
	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	s.Equal([]string{"entity_frozen", "mint_started", "mint_reverted"}, s.auditActions("E1"))
}

func (s *ServiceSuite) TestMint_UnconfirmedAfterBroadcastIsAmbiguous() {
	setup := func(id string) (*models.FreezeResult, *mocks.MockLedger, *Service) {
		fr := s.frozen(id)
		ctrl := gomock.NewController(s.T())
		l := mocks.NewMockLedger(ctrl)
		l.EXPECT().ContractAddress().Return("0xc0ffee").AnyTimes()
		l.EXPECT().EstimateCost(gomock.Any(), gomock.Any()).Return(uint64(50_000), nil)
		l.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10_000_000_000), nil)
		l.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(ledger.PendingTx{Hash: "0xfeed", GasPrice: big.NewInt(10_000_000_000)}, nil)
		l.EXPECT().AwaitConfirmation(gomock.Any(), gomock.Any()).Return(ledger.Receipt{}, context.Canceled)
		return fr, l, s.newService(l, s.audit)
	}

	s.Run("caller gone and no anchor yet", func() {
		fr, l, svc := setup("E1")
		l.EXPECT().QueryAnchor(gomock.Any(), fr.Record.FreezeHash).Return(ledger.AnchorInfo{}, nil).Times(2)

		_, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
		var ambiguous *models.LedgerConfirmationTimeoutError
		s.Require().ErrorAs(err, &ambiguous)
		s.Equal("0xfeed", ambiguous.TxHash)
		s.ErrorIs(err, context.Canceled)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
		s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	})

	s.Run("anchor landed anyway", func() {
		fr, l, svc := setup("E2")
		block := uint64(77)
		gomock.InOrder(
			l.EXPECT().QueryAnchor(gomock.Any(), fr.Record.FreezeHash).Return(ledger.AnchorInfo{}, nil),
			l.EXPECT().QueryAnchor(gomock.Any(), fr.Record.FreezeHash).
				Return(ledger.AnchorInfo{Exists: true, TxHash: "0xfeed", BlockNumber: &block}, nil),
		)

		res, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
		s.Require().NoError(err)
		s.Equal(uint64(77), res.Mint.BlockNumber)
		s.Equal(models.StatusMintedOnchain, s.entityStatus("E2"))
	})
}

func (s *ServiceSuite) TestMint_ConcurrentCallersSingleWinner() {
	fr := s.frozen("E1")

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, successes)
	s.Equal(callers-1, conflicts)
	s.Equal(1, s.ledger.Submissions())
	s.Equal(models.StatusMintedOnchain, s.entityStatus("E1"))
}

// =============================================================================
// Mint Tests with a mocked ledger
// =============================================================================

func (s *ServiceSuite) TestMint_AdoptsExistingAnchorWithoutResubmitting() {
	fr := s.frozen("E1")
	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	svc := s.newService(l, s.audit)

	block := uint64(77)
	minedAt := s.base.Add(week - time.Hour)
	l.EXPECT().ContractAddress().Return("0xc0ffee").AnyTimes()
	l.EXPECT().QueryAnchor(gomock.Any(), fr.Record.FreezeHash).Return(ledger.AnchorInfo{
		Exists:      true,
		TxHash:      "0xabc",
		BlockNumber: &block,
		Timestamp:   &minedAt,
		GasUsed:     50_000,
		GasPrice:    big.NewInt(10),
	}, nil)

	res, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().NoError(err)
	s.True(res.Recovered)
	s.Equal("0xabc", res.Mint.TransactionHash)
	s.Equal(uint64(77), res.Mint.BlockNumber)
	s.Equal(minedAt, res.Mint.BlockTimestamp)
	s.Equal("0xc0ffee", res.Mint.ContractAddress)
	s.Equal("500000", res.Mint.Cost.TotalWei)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Mints.WithLabelValues("identity", metrics.OutcomeRecovered)))
}

func (s *ServiceSuite) TestMint_GasPricing() {
	receipt := func(cost ledger.CostParams) ledger.Receipt {
		return ledger.Receipt{TxHash: "0xfeed", Success: true, BlockNumber: 9, GasUsed: 50_000, EffectiveGasPrice: cost.GasPrice}
	}

	s.Run("priority scales the suggested price and gas gets a margin", func() {
		fr := s.frozen("E1")
		ctrl := gomock.NewController(s.T())
		l := mocks.NewMockLedger(ctrl)
		svc := s.newService(l, s.audit)

		var submitted ledger.CostParams
		l.EXPECT().ContractAddress().Return("0xc0ffee").AnyTimes()
		l.EXPECT().QueryAnchor(gomock.Any(), fr.Record.FreezeHash).Return(ledger.AnchorInfo{}, nil)
		l.EXPECT().EstimateCost(gomock.Any(), ledger.AnchorParams{
			FreezeHash: fr.Record.FreezeHash, EntityID: "E1", EntityTypeCode: 1,
		}).Return(uint64(50_000), nil)
		l.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(10_000_000_000), nil)
		l.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ledger.AnchorParams, cost ledger.CostParams) (ledger.PendingTx, error) {
				submitted = cost
				return ledger.PendingTx{Hash: "0xfeed", GasLimit: cost.GasLimit, GasPrice: cost.GasPrice}, nil
			})
		l.EXPECT().AwaitConfirmation(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tx ledger.PendingTx) (ledger.Receipt, error) {
				return receipt(ledger.CostParams{GasPrice: tx.GasPrice}), nil
			})

		res, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID, Priority: models.PriorityHigh})
		s.Require().NoError(err)
		s.Equal(uint64(60_000), submitted.GasLimit)
		s.Equal(0, submitted.GasPrice.Cmp(big.NewInt(15_000_000_000)))
		s.Equal("15000000000", res.Mint.Cost.GasPrice)
	})

	s.Run("explicit price overrides the tier", func() {
		fr := s.frozen("E2")
		ctrl := gomock.NewController(s.T())
		l := mocks.NewMockLedger(ctrl)
		svc := s.newService(l, s.audit)

		var submitted ledger.CostParams
		l.EXPECT().ContractAddress().Return("0xc0ffee").AnyTimes()
		l.EXPECT().QueryAnchor(gomock.Any(), gomock.Any()).Return(ledger.AnchorInfo{}, nil)
		l.EXPECT().EstimateCost(gomock.Any(), gomock.Any()).Return(uint64(50_000), nil)
		l.EXPECT().Submit(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ ledger.AnchorParams, cost ledger.CostParams) (ledger.PendingTx, error) {
				submitted = cost
				return ledger.PendingTx{Hash: "0xfeed", GasLimit: cost.GasLimit, GasPrice: cost.GasPrice}, nil
			})
		l.EXPECT().AwaitConfirmation(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, tx ledger.PendingTx) (ledger.Receipt, error) {
				return receipt(ledger.CostParams{GasPrice: tx.GasPrice}), nil
			})

		_, err := svc.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID, GasPrice: big.NewInt(42)})
		s.Require().NoError(err)
		s.Equal(0, submitted.GasPrice.Cmp(big.NewInt(42)))
	})
}

// =============================================================================
// Status Tests
// =============================================================================

func (s *ServiceSuite) TestStatus_Stages() {
	s.Run("mutable", func() {
		s.seedIdentity("M1", 2)
		st, err := s.service.Status(s.at(0), "M1", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.Equal(models.StatusMutable, st.CurrentStage)
		s.True(st.CanFreeze)
		s.Empty(st.FreezeBlockers)
		s.False(st.CanMint)
		s.Equal([]string{
			"Entity must be frozen before minting (current status: mutable)",
			"Trust level too low for mint (2 < 3)",
		}, st.MintBlockers)
		s.Nil(st.Freeze)
		s.Empty(st.Inconsistencies)
	})

	s.Run("frozen and maturing", func() {
		s.frozen("F1")
		st, err := s.service.Status(s.at(24*time.Hour), "F1", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.Equal(models.StatusFrozenOffchain, st.CurrentStage)
		s.NotNil(st.Freeze)
		s.False(st.CanFreeze)
		s.Equal(6, st.DaysUntilMintable)
		s.False(st.CanMint)
		s.Equal([]string{"Must wait 6 more days"}, st.MintBlockers)
	})

	s.Run("matured and eligible", func() {
		s.frozen("F2")
		st, err := s.service.Status(s.at(week), "F2", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.Equal(0, st.DaysUntilMintable)
		s.True(st.CanMint)
	})

	s.Run("minted", func() {
		fr := s.frozen("D1")
		_, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
		s.Require().NoError(err)

		st, err := s.service.Status(s.at(week+time.Hour), "D1", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.Equal(models.StatusMintedOnchain, st.CurrentStage)
		s.NotNil(st.Mint)
		s.False(st.CanMint)
		s.False(st.MintInProgress)
		s.Len(st.MintBlockers, 1)
	})

	s.Run("minting in progress", func() {
		s.frozen("P1")
		s.Require().NoError(s.store.TransitionStatus(context.Background(), models.EntityTypeIdentity, "P1",
			models.StatusFrozenOffchain, models.StatusMinting, s.base.Add(week)))

		st, err := s.service.Status(s.at(week), "P1", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.Equal(models.StatusMinting, st.CurrentStage)
		s.True(st.MintInProgress)
		s.False(st.CanMint)
	})

	s.Run("divergent status is reported", func() {
		s.store.PutEntity(models.Entity{ID: "X1", Type: models.EntityTypeIdentity, FreezeStatus: models.StatusFrozenOffchain})
		st, err := s.service.Status(s.at(0), "X1", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.Equal(models.StatusMutable, st.CurrentStage)
		s.Len(st.Inconsistencies, 1)
	})

	s.Run("oracle failure becomes a blocker", func() {
		s.seedIdentity("O1", 3)
		s.oracle.FailWith(errors.New("oracle down"))
		defer s.oracle.FailWith(nil)

		st, err := s.service.Status(s.at(0), "O1", models.EntityTypeIdentity)
		s.Require().NoError(err)
		s.False(st.CanFreeze)
		s.Require().Len(st.FreezeBlockers, 1)
		s.Contains(st.FreezeBlockers[0], "Trust level unavailable")
	})

	s.Run("unknown entity", func() {
		_, err := s.service.Status(s.at(0), "ghost", models.EntityTypeIdentity)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestVerifyOnChain() {
	fr := s.frozen("E1")

	info, err := s.service.VerifyOnChain(s.at(0), fr.Record.FreezeHash)
	s.Require().NoError(err)
	s.False(info.Exists)

	res, err := s.service.Mint(s.at(week), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().NoError(err)

	info, err = s.service.VerifyOnChain(s.at(week), "0x"+fr.Record.FreezeHash)
	s.Require().NoError(err)
	s.True(info.Exists)
	s.Equal(res.Mint.TransactionHash, info.TxHash)
	s.Require().NotNil(info.BlockNumber)
	s.Equal(res.Mint.BlockNumber, *info.BlockNumber)

	_, err = s.service.VerifyOnChain(s.at(0), "abc")
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

// =============================================================================
// Reconcile Tests
// =============================================================================

func (s *ServiceSuite) stuckInMinting(id string) *models.FreezeResult {
	fr := s.frozen(id)
	s.Require().NoError(s.store.TransitionStatus(context.Background(), models.EntityTypeIdentity, id,
		models.StatusFrozenOffchain, models.StatusMinting, s.base.Add(week)))
	return fr
}

func (s *ServiceSuite) TestReconcile_RevertsWhenNoAnchor() {
	fr := s.stuckInMinting("E1")

	report, err := s.service.Reconcile(s.at(week + 5*time.Minute))
	s.Require().NoError(err)
	s.Equal(0, report.Scanned)

	report, err = s.service.Reconcile(s.at(week + 20*time.Minute))
	s.Require().NoError(err)
	s.Equal(1, report.Scanned)
	s.Equal([]string{"identity/E1"}, report.Reverted)
	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	s.Equal([]string{"entity_frozen", "mint_reverted"}, s.auditActions("E1"))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ReconcileActions.WithLabelValues(ActionReverted)))

	_, err = s.service.Mint(s.at(week+time.Hour), models.MintRequest{FreezeID: fr.Record.ID})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestReconcile_RevertCommitsWhenAuditFails() {
	s.stuckInMinting("E1")
	svc := s.newService(s.ledger, failingAuditor{next: s.audit, action: audit.EventMintReverted})

	report, err := svc.Reconcile(s.at(week + 20*time.Minute))
	s.Require().NoError(err)
	s.Equal([]string{"identity/E1"}, report.Reverted)
	s.Empty(report.Failed)
	s.Equal(models.StatusFrozenOffchain, s.entityStatus("E1"))
	s.Equal([]string{"entity_frozen"}, s.auditActions("E1"))
}

func (s *ServiceSuite) TestReconcile_ReportsLedgerFailures() {
	s.stuckInMinting("E1")
	s.stuckInMinting("E2")

	ctrl := gomock.NewController(s.T())
	l := mocks.NewMockLedger(ctrl)
	svc := s.newService(l, s.audit)
	l.EXPECT().QueryAnchor(gomock.Any(), gomock.Any()).Return(ledger.AnchorInfo{}, errors.New("rpc unavailable")).Times(2)

	report, err := svc.Reconcile(s.at(week + time.Hour))
	s.Require().NoError(err)
	s.Equal(2, report.Scanned)
	s.Len(report.Failed, 2)
	s.Contains(report.Failed["identity/E1"], "rpc unavailable")
	s.Equal(models.StatusMinting, s.entityStatus("E1"))
}
