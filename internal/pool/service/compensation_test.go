package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"receiv3/internal/access"
	accessstore "receiv3/internal/access/store"
	"receiv3/internal/asset"
	invoicemodels "receiv3/internal/invoice/models"
	"receiv3/internal/pool/metrics"
	"receiv3/internal/pool/models"
	"receiv3/internal/pool/service"
	"receiv3/internal/pool/service/mocks"
	"receiv3/internal/pool/store"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/sentinel"
)

// CompensationSuite drives the engine against mocked collaborators to check
// that partial failures leave custody and pool state consistent.
type CompensationSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	ledger   *mocks.MockLedger
	registry *mocks.MockRegistry
	store    *store.InMemoryPoolStore
	metrics  *metrics.Metrics
	roles    *access.Controller
	svc      *service.Service
}

func TestCompensationSuite(t *testing.T) {
	suite.Run(t, new(CompensationSuite))
}

func (s *CompensationSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.ledger = mocks.NewMockLedger(s.ctrl)
	s.registry = mocks.NewMockRegistry(s.ctrl)
	s.store = store.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.roles = access.NewController(access.ComponentEngine, accessstore.NewInMemory())
	s.Require().NoError(s.roles.Bootstrap(s.ctx, deployer, access.RoleAdmin, access.RoleOperator))

	s.ledger.EXPECT().Symbol().Return(asset.Symbol).AnyTimes()
	s.svc = service.New(s.store, s.ledger, s.registry, s.roles,
		service.Config{Address: engine, PlatformWallet: wallet, PlatformFeeBps: 100},
		service.WithMetrics(s.metrics))
	s.Require().NoError(s.svc.Bootstrap(s.ctx))
}

func (s *CompensationSuite) TearDownTest() {
	s.ctrl.Finish()
}

// filledPool takes pool 1 to Filled with a single 1000 unit investment.
func (s *CompensationSuite) filledPool() domain.PoolID {
	s.registry.EXPECT().IsFundable(gomock.Any(), domain.InvoiceID(1)).Return(true, nil)
	s.registry.EXPECT().GetInvoice(gomock.Any(), domain.InvoiceID(1)).Return(&invoicemodels.Invoice{
		ID:               1,
		Exporter:         exporter,
		AdvanceAmount:    domain.Units(1_000),
		InterestRateBps:  500,
		Status:           invoicemodels.StatusPending,
		ShipmentVerified: true,
	}, nil)
	p, err := s.svc.CreatePool(s.ctx, deployer, 1)
	s.Require().NoError(err)

	s.ledger.EXPECT().TransferFrom(gomock.Any(), engine, investor1, engine, domain.Units(1_000)).Return(nil)
	_, err = s.svc.Invest(s.ctx, investor1, p.ID, domain.Units(1_000))
	s.Require().NoError(err)
	return p.ID
}

func (s *CompensationSuite) TestFailedDisbursementRestoresPool() {
	id := s.filledPool()
	s.ledger.EXPECT().
		Transfer(gomock.Any(), engine, exporter, domain.Units(1_000)).
		Return(dErrors.Wrap(asset.ErrInsufficientBalance, dErrors.CodeValidation, "transfer from engine"))

	_, err := s.svc.Disburse(s.ctx, deployer, id)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.ErrorIs(err, asset.ErrInsufficientBalance)

	p, err := s.svc.GetPool(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusFilled, p.Status)
	s.True(p.DisbursedAt.IsZero())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Compensations.WithLabelValues("disburse")))
}

func (s *CompensationSuite) TestFailedDistributionRefundsPayer() {
	id := s.filledPool()
	s.ledger.EXPECT().Transfer(gomock.Any(), engine, exporter, domain.Units(1_000)).Return(nil)
	_, err := s.svc.Disburse(s.ctx, deployer, id)
	s.Require().NoError(err)

	total := domain.Units(1_050)
	gomock.InOrder(
		s.ledger.EXPECT().TransferFrom(gomock.Any(), engine, deployer, engine, total).Return(nil),
		s.ledger.EXPECT().TransferBatch(gomock.Any(), engine, gomock.Any()).Return(errors.New("ledger unavailable")),
		s.ledger.EXPECT().Transfer(gomock.Any(), engine, deployer, total).Return(nil),
	)
	_, err = s.svc.ProcessRepayment(s.ctx, deployer, id, total)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	p, err := s.svc.GetPool(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusDisbursed, p.Status)
	_, err = s.svc.GetRepayment(s.ctx, id)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Compensations.WithLabelValues("process_repayment")))

	s.Run("retry distributes the full amount", func() {
		s.ledger.EXPECT().TransferFrom(gomock.Any(), engine, deployer, engine, total).Return(nil)
		s.ledger.EXPECT().TransferBatch(gomock.Any(), engine, []asset.Payout{
			{To: investor1, Amount: domain.Amount(1_039_500_000)},
			{To: wallet, Amount: domain.Amount(10_500_000)},
		}).Return(nil)

		rep, err := s.svc.ProcessRepayment(s.ctx, deployer, id, total)
		s.Require().NoError(err)
		s.Equal(domain.Amount(10_500_000), rep.Fee)
		s.Zero(rep.Residual)
	})
}

func TestFailedInvestmentRecordRefundsInvestor(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	poolStore := mocks.NewMockStore(ctrl)
	ledger := mocks.NewMockLedger(ctrl)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ledger.EXPECT().Symbol().Return(asset.Symbol).AnyTimes()
	poolStore.EXPECT().LoadSettings(gomock.Any()).Return(&models.Settings{PlatformFeeBps: 100, PlatformWallet: wallet}, nil).Times(2)
	poolStore.EXPECT().FindByID(gomock.Any(), domain.PoolID(7)).Return(&models.Pool{
		ID:           7,
		Exporter:     exporter,
		TargetAmount: domain.Units(100),
		Status:       models.StatusOpen,
		CreatedAt:    time.Unix(1_700_000_000, 0).UTC(),
	}, nil)
	poolStore.EXPECT().HasInvested(gomock.Any(), domain.PoolID(7), investor1).Return(false, nil)
	ledger.EXPECT().TransferFrom(gomock.Any(), engine, investor1, engine, domain.Units(40)).Return(nil)
	poolStore.EXPECT().AppendInvestment(gomock.Any(), gomock.Any(), gomock.Any()).Return(sentinel.ErrUnavailable)
	ledger.EXPECT().Transfer(gomock.Any(), engine, investor1, domain.Units(40)).Return(nil)

	svc := service.New(poolStore, ledger, mocks.NewMockRegistry(ctrl), mocks.NewMockAuthorizer(ctrl),
		service.Config{Address: engine, PlatformWallet: wallet}, service.WithMetrics(m))
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := svc.Invest(ctx, investor1, 7, domain.Units(40))
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if got := testutil.ToFloat64(m.Compensations.WithLabelValues("invest")); got != 1 {
		t.Fatalf("expected one compensation, got %v", got)
	}
}
