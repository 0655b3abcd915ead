package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"receiv3/internal/access"
	"receiv3/internal/asset"
	invoicemodels "receiv3/internal/invoice/models"
	"receiv3/internal/pool/metrics"
	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/keylock"
	"receiv3/pkg/platform/sentinel"
	"receiv3/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// Store persists pools, their investment logs and repayments, and the
// engine settings.
type Store interface {
	Create(ctx context.Context, p *models.Pool) error
	FindByID(ctx context.Context, id domain.PoolID) (*models.Pool, error)
	Update(ctx context.Context, p *models.Pool) error
	AppendInvestment(ctx context.Context, p *models.Pool, inv *models.Investment) error
	HasInvested(ctx context.Context, id domain.PoolID, investor domain.Address) (bool, error)
	ListInvestments(ctx context.Context, id domain.PoolID) ([]models.Investment, error)
	ListPoolsByInvestor(ctx context.Context, investor domain.Address) ([]domain.PoolID, error)
	SaveRepayment(ctx context.Context, p *models.Pool, rep *models.Repayment) error
	DeleteRepayment(ctx context.Context, p *models.Pool) error
	FindRepayment(ctx context.Context, id domain.PoolID) (*models.Repayment, error)
	LoadSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings models.Settings) error
}

// Ledger is the part of the payment asset the engine moves funds with.
type Ledger interface {
	Symbol() string
	BalanceOf(ctx context.Context, account domain.Address) (domain.Amount, error)
	Transfer(ctx context.Context, from, to domain.Address, amount domain.Amount) error
	TransferFrom(ctx context.Context, spender, from, to domain.Address, amount domain.Amount) error
	TransferBatch(ctx context.Context, from domain.Address, payouts []asset.Payout) error
}

// Registry is the invoice registry as seen by the engine.
type Registry interface {
	GetInvoice(ctx context.Context, id domain.InvoiceID) (*invoicemodels.Invoice, error)
	IsFundable(ctx context.Context, id domain.InvoiceID) (bool, error)
	UpdateStatus(ctx context.Context, caller domain.Address, id domain.InvoiceID, next invoicemodels.Status) error
}

// Authorizer checks that caller holds at least one of roles.
type Authorizer interface {
	Require(ctx context.Context, caller domain.Address, roles ...access.Role) error
}

// Config holds the engine's custody account and default settings. The
// defaults are persisted by Bootstrap when the store has none.
type Config struct {
	Address        domain.Address
	PlatformWallet domain.Address
	PlatformFeeBps domain.BasisPoints
}

// settingsKey serialises administrative changes. Pool ids start at 1.
const settingsKey = 0

// settleTimeout bounds the steps that must run to completion once funds start
// moving, regardless of the caller's context.
const settleTimeout = 30 * time.Second

// Service is the funding pool engine.
type Service struct {
	store    Store
	ledger   Ledger
	assets   map[string]Ledger
	registry Registry
	auth     Authorizer
	cfg      Config
	breaker  *access.Switch
	locks    *keylock.Locker
	tracer   trace.Tracer

	mu       sync.RWMutex
	settings models.Settings

	syncInvoiceStatus bool
	logger            *slog.Logger
	audit             audit.Emitter
	metrics           *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithInvoiceStatusSync makes the engine advance the invoice to Disbursed and
// Repaid. The engine's address must hold OPERATOR on the registry.
func WithInvoiceStatusSync() Option {
	return func(s *Service) {
		s.syncInvoiceStatus = true
	}
}

// WithAsset registers an additional asset for EmergencyWithdraw.
func WithAsset(ledger Ledger) Option {
	return func(s *Service) {
		s.assets[ledger.Symbol()] = ledger
	}
}

// New constructs the engine. Call Bootstrap before serving traffic.
func New(store Store, ledger Ledger, registry Registry, auth Authorizer, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   ledger,
		assets:   map[string]Ledger{ledger.Symbol(): ledger},
		registry: registry,
		auth:     auth,
		cfg:      cfg,
		breaker:  access.NewSwitch(false),
		locks:    keylock.New("pool"),
		tracer:   otel.Tracer("receiv3/pool"),
		settings: models.Settings{PlatformFeeBps: cfg.PlatformFeeBps, PlatformWallet: cfg.PlatformWallet},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bootstrap loads persisted settings, or persists the configured defaults on
// first start.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.cfg.Address.IsZero() {
		return dErrors.Wrap(ErrInvalidAddress, dErrors.CodeValidation, "engine address")
	}
	stored, err := s.store.LoadSettings(ctx)
	switch {
	case err == nil:
		s.apply(*stored)
	case errors.Is(err, sentinel.ErrNotFound):
		defaults := models.Settings{PlatformFeeBps: s.cfg.PlatformFeeBps, PlatformWallet: s.cfg.PlatformWallet}
		if err := validateSettings(defaults); err != nil {
			return err
		}
		if err := s.store.SaveSettings(ctx, defaults); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist default settings")
		}
		stored = &defaults
		s.apply(defaults)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "pool engine ready",
			"address", s.cfg.Address.String(),
			"platform_fee_bps", int(stored.PlatformFeeBps),
			"platform_wallet", stored.PlatformWallet.String(),
			"paused", stored.Paused,
		)
	}
	return nil
}

func validateSettings(settings models.Settings) error {
	if settings.PlatformFeeBps > models.MaxPlatformFeeBps {
		return dErrors.Wrap(ErrFeeTooHigh, dErrors.CodeValidation,
			fmt.Sprintf("platform fee %d bps exceeds %d", settings.PlatformFeeBps, models.MaxPlatformFeeBps))
	}
	if settings.PlatformWallet.IsZero() {
		return dErrors.Wrap(ErrInvalidAddress, dErrors.CodeValidation, "platform wallet")
	}
	return nil
}

// Address is the engine's custody account.
func (s *Service) Address() domain.Address { return s.cfg.Address }

func (s *Service) PlatformFeeBps() domain.BasisPoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.PlatformFeeBps
}

func (s *Service) PlatformWallet() domain.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.PlatformWallet
}

func (s *Service) Paused() bool { return s.breaker.Paused() }

// Settings returns the persisted settings, which may have been changed by
// another process sharing the store.
func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	return s.refreshSettings(ctx)
}

func (s *Service) snapshot() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// refreshSettings reloads the stored settings into the cached copy and the
// breaker. Before Bootstrap has persisted anything the cache is used as is.
func (s *Service) refreshSettings(ctx context.Context) (models.Settings, error) {
	stored, err := s.store.LoadSettings(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.snapshot(), nil
	}
	if err != nil {
		return models.Settings{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load settings")
	}
	s.apply(*stored)
	return *stored, nil
}

func (s *Service) apply(settings models.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.breaker.Set(settings.Paused)
}

// CustodyBalance is the payment asset held by the engine across all pools.
func (s *Service) CustodyBalance(ctx context.Context) (domain.Amount, error) {
	bal, err := s.ledger.BalanceOf(ctx, s.cfg.Address)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read custody balance")
	}
	return bal, nil
}

func (s *Service) GetPool(ctx context.Context, id domain.PoolID) (*models.Pool, error) {
	return s.load(ctx, id)
}

// GetPoolInvestments returns the investment log in order.
func (s *Service) GetPoolInvestments(ctx context.Context, id domain.PoolID) ([]models.Investment, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	log, err := s.store.ListInvestments(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list investments")
	}
	return log, nil
}

// GetInvestorPools lists each pool the investor has put funds into once.
func (s *Service) GetInvestorPools(ctx context.Context, investor domain.Address) ([]domain.PoolID, error) {
	ids, err := s.store.ListPoolsByInvestor(ctx, investor)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list investor pools")
	}
	return ids, nil
}

// GetInvestorContribution sums the investor's records in the pool log.
func (s *Service) GetInvestorContribution(ctx context.Context, id domain.PoolID, investor domain.Address) (domain.Amount, error) {
	log, err := s.GetPoolInvestments(ctx, id)
	if err != nil {
		return 0, err
	}
	var total domain.Amount
	for _, inv := range log {
		if inv.Investor == investor {
			total += inv.Amount
		}
	}
	return total, nil
}

func (s *Service) GetRemainingCapacity(ctx context.Context, id domain.PoolID) (domain.Amount, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.RemainingCapacity(), nil
}

func (s *Service) GetRepayment(ctx context.Context, id domain.PoolID) (*models.Repayment, error) {
	rep, err := s.store.FindRepayment(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no repayment recorded for pool "+id.String())
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load repayment")
	}
	return rep, nil
}

func (s *Service) load(ctx context.Context, id domain.PoolID) (*models.Pool, error) {
	p, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(ErrPoolNotFound, dErrors.CodeNotFound, "pool "+id.String())
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load pool")
	}
	return p, nil
}

// guard rejects pool mutations while paused. The flag is read from the store
// so a pause issued through another process applies here as well.
func (s *Service) guard(ctx context.Context, operation string) (models.Settings, error) {
	settings, err := s.refreshSettings(ctx)
	if err != nil {
		return settings, err
	}
	if err := s.breaker.Guard(); err != nil {
		if s.metrics != nil {
			s.metrics.IncrementPausedRejection(operation)
		}
		return settings, err
	}
	return settings, nil
}

// settling detaches ctx from the caller's cancellation but keeps its values,
// including held locks. Everything from the first fund movement on runs under
// it, so a disconnect cannot leave a transfer without its record or refund.
func settling(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// writeErr translates a failed pool write. A stale version means another
// writer committed first and nothing was written.
func writeErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(errors.Join(ErrConcurrentUpdate, err), dErrors.CodeConflict, msg)
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(ErrPoolNotFound, dErrors.CodeNotFound, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func invalidState(p *models.Pool, want models.Status) error {
	return dErrors.Wrap(ErrInvalidPoolState, dErrors.CodeInvalidState,
		fmt.Sprintf("pool %s is %s, expected %s", p.ID, p.Status, want))
}

// transferErr keeps the ledger's code so insufficient balance or allowance
// stays a validation failure.
func transferErr(err error, msg string) error {
	return dErrors.Wrap(err, dErrors.CodeOf(err), msg)
}

func (s *Service) startSpan(ctx context.Context, name string, id domain.PoolID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("pool.id", int64(id))))
}

func (s *Service) finish(span trace.Span, operation string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
	if s.metrics != nil {
		s.metrics.ObserveOperation(operation, start)
	}
}

// emitAll publishes events collected during a successful mutation. The
// mutation has committed, so the caller's cancellation does not apply.
func (s *Service) emitAll(ctx context.Context, events []audit.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, event := range events {
		s.logAudit(ctx, event)
		if s.audit == nil {
			continue
		}
		if event.EntityType == "" {
			event.EntityType = audit.EntityPool
		}
		event.RequestID = requestcontext.RequestID(ctx)
		if err := s.audit.Emit(ctx, event); err != nil && s.logger != nil {
			s.logger.ErrorContext(ctx, "failed to emit audit event",
				"event", string(event.Action),
				"entity_id", event.EntityID,
				"error", err,
			)
		}
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.Event) {
	if s.logger == nil {
		return
	}
	args := []any{
		"event", string(event.Action),
		"log_type", "audit",
		"entity_id", event.EntityID,
		"actor", event.Actor.String(),
		"request_id", requestcontext.RequestID(ctx),
	}
	if !event.Counterparty.IsZero() {
		args = append(args, "counterparty", event.Counterparty.String())
	}
	if event.Amount != 0 {
		args = append(args, "amount", event.Amount.String())
	}
	if event.Old != "" || event.New != "" {
		args = append(args, "old", event.Old, "new", event.New)
	}
	s.logger.InfoContext(ctx, string(event.Action), args...)
}
