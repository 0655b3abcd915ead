package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"receiv3/internal/access"
	accessstore "receiv3/internal/access/store"
	"receiv3/internal/asset"
	invoicemodels "receiv3/internal/invoice/models"
	invoiceservice "receiv3/internal/invoice/service"
	invoicestore "receiv3/internal/invoice/store"
	"receiv3/internal/pool/metrics"
	"receiv3/internal/pool/models"
	"receiv3/internal/pool/service"
	"receiv3/internal/pool/store"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/audit/publisher"
	auditmemory "receiv3/pkg/platform/audit/store/memory"
	"receiv3/pkg/requestcontext"
	bdd "receiv3/pkg/testutil"
)

var (
	deployer  = domain.MustAddress("0x00000000000000000000000000000000000000d0")
	engine    = domain.MustAddress("0x00000000000000000000000000000000000000ee")
	wallet    = domain.MustAddress("0x00000000000000000000000000000000000000fe")
	exporter  = domain.MustAddress("0x00000000000000000000000000000000000000e1")
	investor1 = domain.MustAddress("0x00000000000000000000000000000000000000a1")
	investor2 = domain.MustAddress("0x00000000000000000000000000000000000000a2")
	stranger  = domain.MustAddress("0x00000000000000000000000000000000000000f9")
)

// fixture wires the engine to a real registry, ledger and role controllers.
type fixture struct {
	t          *testing.T
	ctx        context.Context
	ledger     *asset.MemoryLedger
	invoices   *invoiceservice.Service
	roles      *access.Controller
	events     *auditmemory.InMemoryStore
	metrics    *metrics.Metrics
	store      *store.InMemoryPoolStore
	engine     *service.Service
	onTransfer func(ctx context.Context, from, to domain.Address, amount domain.Amount)
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()
	return newWrappedFixture(t, interpose{}, opts...)
}

// interpose lets a test stand between the engine and its store or ledger.
type interpose struct {
	store  func(*store.InMemoryPoolStore) service.Store
	ledger func(*asset.MemoryLedger) service.Ledger
}

func newWrappedFixture(t *testing.T, wrap interpose, opts ...service.Option) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ctx:     requestcontext.WithTime(context.Background(), time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)),
		events:  auditmemory.NewInMemoryStore(),
		metrics: metrics.New(prometheus.NewRegistry()),
		store:   store.NewInMemory(),
	}
	f.ledger = asset.NewMemoryLedger(deployer, asset.WithTransferHook(func(ctx context.Context, from, to domain.Address, amount domain.Amount) {
		if f.onTransfer != nil {
			f.onTransfer(ctx, from, to, amount)
		}
	}))

	registryRoles := access.NewController(access.ComponentRegistry, accessstore.NewInMemory())
	require.NoError(t, registryRoles.Bootstrap(f.ctx, deployer, access.RoleAdmin, access.RoleOperator, access.RoleMinter))
	require.NoError(t, registryRoles.Grant(f.ctx, deployer, access.RoleOperator, engine))
	f.invoices = invoiceservice.New(invoicestore.NewInMemory(), registryRoles)

	f.roles = access.NewController(access.ComponentEngine, accessstore.NewInMemory())
	require.NoError(t, f.roles.Bootstrap(f.ctx, deployer, access.RoleAdmin, access.RoleOperator))

	opts = append([]service.Option{
		service.WithAuditPublisher(publisher.NewPublisher(f.events)),
		service.WithMetrics(f.metrics),
	}, opts...)
	var (
		poolStore service.Store  = f.store
		ledger    service.Ledger = f.ledger
	)
	if wrap.store != nil {
		poolStore = wrap.store(f.store)
	}
	if wrap.ledger != nil {
		ledger = wrap.ledger(f.ledger)
	}
	f.engine = service.New(poolStore, ledger, f.invoices, f.roles,
		service.Config{Address: engine, PlatformWallet: wallet, PlatformFeeBps: 250}, opts...)
	require.NoError(t, f.engine.Bootstrap(f.ctx))
	return f
}

// fundableInvoice mints and verifies an invoice advancing advance units at
// 10% interest.
func (f *fixture) fundableInvoice(number string, advance int64) domain.InvoiceID {
	f.t.Helper()
	issue := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	inv, err := f.invoices.MintInvoice(f.ctx, deployer, invoicemodels.MintRequest{
		Exporter:        exporter,
		Number:          number,
		Amount:          domain.Units(advance * 5 / 4),
		AdvanceAmount:   domain.Units(advance),
		InterestRateBps: 1000,
		IssueDate:       issue,
		DueDate:         issue.AddDate(0, 3, 0),
		BuyerCountry:    "Germany",
		DocumentHash:    "0xabc",
		URI:             "ipfs://QmInvoice",
	})
	require.NoError(f.t, err)
	require.NoError(f.t, f.invoices.VerifyShipment(f.ctx, deployer, inv.ID))
	return inv.ID
}

func (f *fixture) openPool(number string, advance int64) domain.PoolID {
	f.t.Helper()
	p, err := f.engine.CreatePool(f.ctx, deployer, f.fundableInvoice(number, advance))
	require.NoError(f.t, err)
	return p.ID
}

// fund gives account tokens and approves the engine to pull them.
func (f *fixture) fund(account domain.Address, amount domain.Amount) {
	f.t.Helper()
	if account != deployer {
		require.NoError(f.t, f.ledger.Transfer(f.ctx, deployer, account, amount))
	}
	allowance, err := f.ledger.Allowance(f.ctx, account, engine)
	require.NoError(f.t, err)
	require.NoError(f.t, f.ledger.Approve(f.ctx, account, engine, allowance+amount))
}

func (f *fixture) invest(investor domain.Address, id domain.PoolID, amount domain.Amount) {
	f.t.Helper()
	f.fund(investor, amount)
	_, err := f.engine.Invest(f.ctx, investor, id, amount)
	require.NoError(f.t, err)
}

func (f *fixture) balance(account domain.Address) domain.Amount {
	f.t.Helper()
	bal, err := f.ledger.BalanceOf(f.ctx, account)
	require.NoError(f.t, err)
	return bal
}

func (f *fixture) actions(entity audit.EntityType, id string) []audit.AuditEvent {
	f.t.Helper()
	events, err := f.events.ListByEntity(f.ctx, entity, id)
	require.NoError(f.t, err)
	out := make([]audit.AuditEvent, len(events))
	for i, e := range events {
		out[i] = e.Action
	}
	return out
}

func assertCode(t *testing.T, err error, code dErrors.Code, target error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, code), "expected %s, got %v", code, err)
	if target != nil {
		assert.ErrorIs(t, err, target)
	}
}

func TestFundingScenario(t *testing.T) {
	f := newFixture(t, service.WithInvoiceStatusSync())
	var id domain.PoolID

	bdd.Given(t, "a verified invoice advancing 8000 at 10%", func(t *testing.T) {
		id = f.openPool("INV-2024-001", 8_000)
		p, err := f.engine.GetPool(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusOpen, p.Status)
		assert.Equal(t, domain.Units(8_000), p.TargetAmount)
		assert.Equal(t, exporter, p.Exporter)
	})

	bdd.When(t, "two investors fill the pool", func(t *testing.T) {
		f.invest(investor1, id, domain.Units(5_000))
		remaining, err := f.engine.GetRemainingCapacity(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.Units(3_000), remaining)
		f.invest(investor2, id, domain.Units(3_000))
	})

	bdd.Then(t, "the pool is filled and custody holds the funds", func(t *testing.T) {
		p, err := f.engine.GetPool(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFilled, p.Status)
		assert.Equal(t, 2, p.InvestorCount)
		assert.Equal(t, domain.Units(8_000), f.balance(engine))

		log, err := f.engine.GetPoolInvestments(f.ctx, id)
		require.NoError(t, err)
		require.Len(t, log, 2)
		assert.Equal(t, domain.Units(5_500), log[0].ExpectedReturn)
	})

	bdd.When(t, "the operator disburses", func(t *testing.T) {
		_, err := f.engine.Disburse(f.ctx, deployer, id)
		require.NoError(t, err)
	})

	bdd.Then(t, "the exporter is paid and the invoice follows", func(t *testing.T) {
		assert.Equal(t, domain.Units(8_000), f.balance(exporter))
		assert.Zero(t, f.balance(engine))
		inv, err := f.invoices.GetInvoice(f.ctx, id.Invoice())
		require.NoError(t, err)
		assert.Equal(t, invoicemodels.StatusDisbursed, inv.Status)
	})

	bdd.When(t, "10000 is repaid with a 2.5% fee", func(t *testing.T) {
		f.fund(deployer, domain.Units(10_000))
		rep, err := f.engine.ProcessRepayment(f.ctx, deployer, id, domain.Units(10_000))
		require.NoError(t, err)
		assert.Equal(t, domain.Units(250), rep.Fee)
		assert.Equal(t, domain.Units(9_750), rep.Net)
		assert.Zero(t, rep.Residual)
	})

	bdd.Then(t, "investors are paid pro rata and the pool closes", func(t *testing.T) {
		assert.Equal(t, domain.Amount(6_093_750_000), f.balance(investor1))
		assert.Equal(t, domain.Amount(3_656_250_000), f.balance(investor2))
		assert.Equal(t, domain.Units(250), f.balance(wallet))
		assert.Zero(t, f.balance(engine))

		p, err := f.engine.GetPool(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, p.Status)

		inv, err := f.invoices.GetInvoice(f.ctx, id.Invoice())
		require.NoError(t, err)
		assert.Equal(t, invoicemodels.StatusRepaid, inv.Status)

		assert.Equal(t, []audit.AuditEvent{
			audit.EventPoolCreated,
			audit.EventInvestmentRecorded,
			audit.EventInvestmentRecorded,
			audit.EventPoolFilled,
			audit.EventDisbursementRecorded,
			audit.EventRepaymentRecorded,
			audit.EventInvestorReturnRecorded,
			audit.EventInvestorReturnRecorded,
			audit.EventPoolClosed,
		}, f.actions(audit.EntityPool, id.String()))
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Repayments))
	})
}

type EngineSuite struct {
	suite.Suite
	f *fixture
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.f = newFixture(s.T())
}

func (s *EngineSuite) TestCreatePool() {
	s.Run("rejects an unverified invoice", func() {
		inv, err := s.f.invoices.MintInvoice(s.f.ctx, deployer, invoicemodels.MintRequest{
			Exporter: exporter, Number: "INV-UNVERIFIED", Amount: domain.Units(100), AdvanceAmount: domain.Units(80),
			IssueDate: time.Unix(1_700_000_000, 0), DueDate: time.Unix(1_800_000_000, 0),
		})
		s.Require().NoError(err)
		_, err = s.f.engine.CreatePool(s.f.ctx, deployer, inv.ID)
		assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrInvoiceNotFundable)
	})

	s.Run("rejects an unknown invoice", func() {
		_, err := s.f.engine.CreatePool(s.f.ctx, deployer, 404)
		assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrInvoiceNotFundable)
	})

	s.Run("one pool per invoice", func() {
		invoiceID := s.f.fundableInvoice("INV-ONCE", 1_000)
		_, err := s.f.engine.CreatePool(s.f.ctx, deployer, invoiceID)
		s.Require().NoError(err)
		_, err = s.f.engine.CreatePool(s.f.ctx, deployer, invoiceID)
		assertCode(s.T(), err, dErrors.CodeConflict, service.ErrPoolAlreadyExists)
	})

	s.Run("requires operator", func() {
		invoiceID := s.f.fundableInvoice("INV-ROLE", 1_000)
		_, err := s.f.engine.CreatePool(s.f.ctx, stranger, invoiceID)
		assertCode(s.T(), err, dErrors.CodeForbidden, access.ErrMissingRole)
	})

	s.Equal(float64(1), testutil.ToFloat64(s.f.metrics.PoolsCreated))
}

func (s *EngineSuite) TestInvestValidation() {
	id := s.f.openPool("INV-1", 8_000)

	s.Run("unknown pool", func() {
		_, err := s.f.engine.Invest(s.f.ctx, investor1, 99, domain.Units(1))
		assertCode(s.T(), err, dErrors.CodeNotFound, service.ErrPoolNotFound)
	})
	s.Run("zero amount", func() {
		_, err := s.f.engine.Invest(s.f.ctx, investor1, id, 0)
		assertCode(s.T(), err, dErrors.CodeValidation, service.ErrInvalidAmount)
	})
	s.Run("zero investor", func() {
		_, err := s.f.engine.Invest(s.f.ctx, domain.ZeroAddress, id, domain.Units(1))
		assertCode(s.T(), err, dErrors.CodeValidation, service.ErrInvalidAddress)
	})
	s.Run("more than remaining capacity", func() {
		s.f.fund(investor1, domain.Units(8_001))
		_, err := s.f.engine.Invest(s.f.ctx, investor1, id, domain.Units(8_001))
		assertCode(s.T(), err, dErrors.CodeValidation, service.ErrCapacityExceeded)
	})
	s.Run("without allowance", func() {
		_, err := s.f.engine.Invest(s.f.ctx, stranger, id, domain.Units(1))
		assertCode(s.T(), err, dErrors.CodeValidation, asset.ErrInsufficientAllowance)
	})

	p, err := s.f.engine.GetPool(s.f.ctx, id)
	s.Require().NoError(err)
	s.Zero(p.FundedAmount)
	s.Zero(s.f.balance(engine))
}

func (s *EngineSuite) TestCapacityBoundary() {
	id := s.f.openPool("INV-1", 1_000)
	s.f.invest(investor1, id, domain.Units(999))

	s.f.fund(investor2, domain.Units(2))
	_, err := s.f.engine.Invest(s.f.ctx, investor2, id, domain.Units(2))
	assertCode(s.T(), err, dErrors.CodeValidation, service.ErrCapacityExceeded)

	_, err = s.f.engine.Invest(s.f.ctx, investor2, id, domain.Units(1))
	s.Require().NoError(err)

	p, err := s.f.engine.GetPool(s.f.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusFilled, p.Status)
	s.Equal(p.TargetAmount, p.FundedAmount)
	s.Equal(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC), p.FilledAt)

	_, err = s.f.engine.Invest(s.f.ctx, investor2, id, domain.Units(1))
	assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrPoolNotOpen)
}

func (s *EngineSuite) TestRepeatInvestmentsKeepEveryRecord() {
	id := s.f.openPool("INV-1", 1_000)
	s.f.invest(investor1, id, domain.Units(100))
	s.f.invest(investor1, id, domain.Units(200))
	s.f.invest(investor2, id, domain.Units(50))

	p, err := s.f.engine.GetPool(s.f.ctx, id)
	s.Require().NoError(err)
	s.Equal(2, p.InvestorCount)
	s.Equal(domain.Units(350), p.FundedAmount)

	log, err := s.f.engine.GetPoolInvestments(s.f.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(log, 3)
	s.Equal(investor1, log[1].Investor)
	s.Equal(domain.Units(200), log[1].Amount)

	total, err := s.f.engine.GetInvestorContribution(s.f.ctx, id, investor1)
	s.Require().NoError(err)
	s.Equal(domain.Units(300), total)

	pools, err := s.f.engine.GetInvestorPools(s.f.ctx, investor1)
	s.Require().NoError(err)
	s.Equal([]domain.PoolID{id}, pools)

	_, err = s.f.engine.GetPoolInvestments(s.f.ctx, 99)
	assertCode(s.T(), err, dErrors.CodeNotFound, service.ErrPoolNotFound)
}

func (s *EngineSuite) TestDisburseOnce() {
	id := s.f.openPool("INV-1", 1_000)

	_, err := s.f.engine.Disburse(s.f.ctx, deployer, id)
	assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrInvalidPoolState)

	s.f.invest(investor1, id, domain.Units(1_000))
	_, err = s.f.engine.Disburse(s.f.ctx, stranger, id)
	assertCode(s.T(), err, dErrors.CodeForbidden, access.ErrMissingRole)

	p, err := s.f.engine.Disburse(s.f.ctx, deployer, id)
	s.Require().NoError(err)
	s.Equal(models.StatusDisbursed, p.Status)

	_, err = s.f.engine.Disburse(s.f.ctx, deployer, id)
	assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrInvalidPoolState)
	s.Equal(domain.Units(1_000), s.f.balance(exporter))
}

func (s *EngineSuite) TestProcessRepayment() {
	id := s.f.openPool("INV-1", 1_000)
	s.f.invest(investor1, id, domain.Units(1_000))

	_, err := s.f.engine.ProcessRepayment(s.f.ctx, deployer, id, domain.Units(1_100))
	assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrInvalidPoolState)

	_, err = s.f.engine.Disburse(s.f.ctx, deployer, id)
	s.Require().NoError(err)

	_, err = s.f.engine.ProcessRepayment(s.f.ctx, deployer, id, 0)
	assertCode(s.T(), err, dErrors.CodeValidation, service.ErrInvalidAmount)

	_, err = s.f.engine.ProcessRepayment(s.f.ctx, stranger, id, domain.Units(1_100))
	assertCode(s.T(), err, dErrors.CodeForbidden, access.ErrMissingRole)

	_, err = s.f.engine.ProcessRepayment(s.f.ctx, deployer, id, domain.Units(1_100))
	assertCode(s.T(), err, dErrors.CodeValidation, asset.ErrInsufficientAllowance)

	s.f.fund(deployer, domain.Units(1_100))
	rep, err := s.f.engine.ProcessRepayment(s.f.ctx, deployer, id, domain.Units(1_100))
	s.Require().NoError(err)
	s.Equal(domain.BasisPoints(250), rep.FeeBps)
	s.Equal(wallet, rep.FeeWallet)

	stored, err := s.f.engine.GetRepayment(s.f.ctx, id)
	s.Require().NoError(err)
	s.Equal(rep.Total, stored.Total)

	_, err = s.f.engine.ProcessRepayment(s.f.ctx, deployer, id, domain.Units(1_100))
	assertCode(s.T(), err, dErrors.CodeInvalidState, service.ErrInvalidPoolState)
}

func (s *EngineSuite) TestRepaymentConservesFunds() {
	id := s.f.openPool("INV-1", 3)
	s.f.invest(investor1, id, 1_000_000)
	s.f.invest(investor2, id, 1_000_000)
	s.f.invest(stranger, id, 1_000_000)
	_, err := s.f.engine.Disburse(s.f.ctx, deployer, id)
	s.Require().NoError(err)

	before := s.f.balance(investor1) + s.f.balance(investor2) + s.f.balance(stranger) + s.f.balance(wallet)
	total := domain.Amount(3_333_334)
	s.f.fund(deployer, total)
	rep, err := s.f.engine.ProcessRepayment(s.f.ctx, deployer, id, total)
	s.Require().NoError(err)
	after := s.f.balance(investor1) + s.f.balance(investor2) + s.f.balance(stranger) + s.f.balance(wallet)

	s.Equal(total, after-before)
	s.Equal(total, rep.Fee+rep.Distributed+rep.Residual)
	s.Less(int64(rep.Residual), int64(3))
	s.Zero(s.f.balance(engine))
}

func (s *EngineSuite) TestReentrantInvestIsRejected() {
	id := s.f.openPool("INV-1", 1_000)
	s.f.fund(investor2, domain.Units(10))

	var nested error
	fired := false
	s.f.onTransfer = func(ctx context.Context, _, to domain.Address, _ domain.Amount) {
		if to != engine || fired {
			return
		}
		fired = true
		_, nested = s.f.engine.Invest(ctx, investor2, id, domain.Units(10))
	}
	s.f.invest(investor1, id, domain.Units(100))

	s.True(fired)
	assertCode(s.T(), nested, dErrors.CodeInvalidState, service.ErrReentrantCall)
	funded, err := s.f.engine.GetInvestorContribution(s.f.ctx, id, investor2)
	s.Require().NoError(err)
	s.Zero(funded)
}

func (s *EngineSuite) TestConcurrentInvestorsNeverOverfill() {
	id := s.f.openPool("INV-1", 8_000)
	investors := make([]domain.Address, 20)
	for i := range investors {
		investors[i] = domain.MustAddress(fmt.Sprintf("0x%040x", 0x100+i))
		s.f.fund(investors[i], domain.Units(500))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, inv := range investors {
		wg.Add(1)
		go func(investor domain.Address) {
			defer wg.Done()
			_, err := s.f.engine.Invest(s.f.ctx, investor, id, domain.Units(500))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, service.ErrCapacityExceeded) && !errors.Is(err, service.ErrPoolNotOpen) {
				s.Failf("unexpected error", "%v", err)
			}
		}(inv)
	}
	wg.Wait()

	p, err := s.f.engine.GetPool(s.f.ctx, id)
	s.Require().NoError(err)
	s.Equal(16, succeeded)
	s.Equal(p.TargetAmount, p.FundedAmount)
	s.Equal(models.StatusFilled, p.Status)
	s.Equal(domain.Units(8_000), s.f.balance(engine))
}

func (s *EngineSuite) TestPause() {
	id := s.f.openPool("INV-1", 1_000)

	s.Run("requires admin", func() {
		err := s.f.engine.Pause(s.f.ctx, stranger)
		assertCode(s.T(), err, dErrors.CodeForbidden, access.ErrMissingRole)
	})

	s.Require().NoError(s.f.engine.Pause(s.f.ctx, deployer))
	s.True(s.f.engine.Paused())

	s.Run("blocks fund flows", func() {
		s.f.fund(investor1, domain.Units(10))
		_, err := s.f.engine.Invest(s.f.ctx, investor1, id, domain.Units(10))
		assertCode(s.T(), err, dErrors.CodePaused, service.ErrPaused)
		_, err = s.f.engine.Disburse(s.f.ctx, deployer, id)
		assertCode(s.T(), err, dErrors.CodePaused, service.ErrPaused)
		_, err = s.f.engine.CreatePool(s.f.ctx, deployer, s.f.fundableInvoice("INV-2", 10))
		assertCode(s.T(), err, dErrors.CodePaused, service.ErrPaused)
		s.Equal(float64(1), testutil.ToFloat64(s.f.metrics.PausedRejections.WithLabelValues("invest")))
	})

	s.Run("keeps reads and administration", func() {
		_, err := s.f.engine.GetPool(s.f.ctx, id)
		s.NoError(err)
		s.NoError(s.f.engine.SetPlatformFee(s.f.ctx, deployer, 300))
	})

	s.Run("pausing twice is rejected", func() {
		err := s.f.engine.Pause(s.f.ctx, deployer)
		assertCode(s.T(), err, dErrors.CodeInvalidState, nil)
	})

	s.Run("survives a restart", func() {
		restarted := service.New(s.f.store, s.f.ledger, s.f.invoices, s.f.roles, service.Config{Address: engine, PlatformWallet: wallet})
		s.Require().NoError(restarted.Bootstrap(s.f.ctx))
		s.True(restarted.Paused())
		s.Equal(domain.BasisPoints(300), restarted.PlatformFeeBps())
	})

	s.Require().NoError(s.f.engine.Unpause(s.f.ctx, deployer))
	s.False(s.f.engine.Paused())
	_, err := s.f.engine.Invest(s.f.ctx, investor1, id, domain.Units(10))
	s.NoError(err)

	s.Equal([]audit.AuditEvent{audit.EventPlatformFeeUpdated}, filter(s.f.actions(audit.EntityPlatform, "settings"), audit.EventPlatformFeeUpdated))
	s.Len(filter(s.f.actions(audit.EntityPlatform, "settings"), audit.EventPaused, audit.EventUnpaused), 2)
}

func filter(actions []audit.AuditEvent, keep ...audit.AuditEvent) []audit.AuditEvent {
	var out []audit.AuditEvent
	for _, a := range actions {
		for _, k := range keep {
			if a == k {
				out = append(out, a)
			}
		}
	}
	return out
}

func (s *EngineSuite) TestPlatformSettings() {
	s.Run("fee above the cap", func() {
		err := s.f.engine.SetPlatformFee(s.f.ctx, deployer, 1_001)
		assertCode(s.T(), err, dErrors.CodeValidation, service.ErrFeeTooHigh)
	})
	s.Run("fee at the cap", func() {
		s.Require().NoError(s.f.engine.SetPlatformFee(s.f.ctx, deployer, 1_000))
		s.Equal(domain.BasisPoints(1_000), s.f.engine.PlatformFeeBps())
	})
	s.Run("fee change needs admin", func() {
		s.Require().NoError(s.f.roles.Grant(s.f.ctx, deployer, access.RoleOperator, stranger))
		err := s.f.engine.SetPlatformFee(s.f.ctx, stranger, 10)
		assertCode(s.T(), err, dErrors.CodeForbidden, access.ErrMissingRole)
	})
	s.Run("zero wallet", func() {
		err := s.f.engine.SetPlatformWallet(s.f.ctx, deployer, domain.ZeroAddress)
		assertCode(s.T(), err, dErrors.CodeValidation, service.ErrInvalidAddress)
	})
	s.Run("wallet change", func() {
		s.Require().NoError(s.f.engine.SetPlatformWallet(s.f.ctx, deployer, investor2))
		s.Equal(investor2, s.f.engine.PlatformWallet())
		settings, err := s.f.store.LoadSettings(s.f.ctx)
		s.Require().NoError(err)
		s.Equal(investor2, settings.PlatformWallet)
	})
}

func (s *EngineSuite) TestEmergencyWithdraw() {
	id := s.f.openPool("INV-1", 1_000)
	s.f.invest(investor1, id, domain.Units(400))
	before := s.f.balance(deployer)

	err := s.f.engine.EmergencyWithdraw(s.f.ctx, stranger, asset.Symbol, domain.Units(1))
	assertCode(s.T(), err, dErrors.CodeForbidden, access.ErrMissingRole)

	err = s.f.engine.EmergencyWithdraw(s.f.ctx, deployer, "DAI", domain.Units(1))
	assertCode(s.T(), err, dErrors.CodeNotFound, service.ErrUnknownAsset)

	err = s.f.engine.EmergencyWithdraw(s.f.ctx, deployer, asset.Symbol, domain.Units(401))
	assertCode(s.T(), err, dErrors.CodeValidation, asset.ErrInsufficientBalance)

	s.Require().NoError(s.f.engine.EmergencyWithdraw(s.f.ctx, deployer, asset.Symbol, domain.Units(400)))
	s.Equal(before+domain.Units(400), s.f.balance(deployer))
	s.Zero(s.f.balance(engine))

	custody, err := s.f.engine.CustodyBalance(s.f.ctx)
	s.Require().NoError(err)
	s.Zero(custody)
}

func TestInvoiceStatusSync(t *testing.T) {
	t.Run("out of sync invoice blocks disbursement before funds move", func(t *testing.T) {
		f := newFixture(t, service.WithInvoiceStatusSync())
		id := f.openPool("INV-1", 1_000)
		f.invest(investor1, id, domain.Units(1_000))
		require.NoError(t, f.invoices.UpdateStatus(f.ctx, deployer, id.Invoice(), invoicemodels.StatusDefaulted))

		_, err := f.engine.Disburse(f.ctx, deployer, id)
		assertCode(t, err, dErrors.CodeInvalidState, service.ErrInvoiceOutOfSync)
		p, err := f.engine.GetPool(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFilled, p.Status)
		assert.Equal(t, domain.Units(1_000), f.balance(engine))
	})

	t.Run("failed update after commit is reported", func(t *testing.T) {
		f := newFixture(t, service.WithInvoiceStatusSync())
		id := f.openPool("INV-1", 1_000)
		f.invest(investor1, id, domain.Units(1_000))
		unsynced := service.New(f.store, f.ledger, refusingRegistry{Registry: f.invoices}, f.roles,
			service.Config{Address: engine, PlatformWallet: wallet}, service.WithInvoiceStatusSync(), service.WithMetrics(f.metrics))
		require.NoError(t, unsynced.Bootstrap(f.ctx))

		p, err := unsynced.Disburse(f.ctx, deployer, id)
		assertCode(t, err, dErrors.CodeInternal, service.ErrInvoiceOutOfSync)
		require.NotNil(t, p)
		assert.Equal(t, models.StatusDisbursed, p.Status)
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.StatusSyncFailures.WithLabelValues("Disbursed")))
	})
}

// refusingRegistry forwards reads to a live registry and refuses status
// updates the way a registry would when the engine lacks OPERATOR.
type refusingRegistry struct {
	service.Registry
}

func (refusingRegistry) UpdateStatus(context.Context, domain.Address, domain.InvoiceID, invoicemodels.Status) error {
	return dErrors.Wrap(access.ErrMissingRole, dErrors.CodeForbidden, "engine is not an operator")
}
