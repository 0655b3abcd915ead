package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"receiv3/internal/access"
	"receiv3/internal/invoice/metrics"
	"receiv3/internal/invoice/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/keylock"
	"receiv3/pkg/platform/sentinel"
	"receiv3/pkg/requestcontext"
)

// Store persists invoices and their number and exporter indices.
type Store interface {
	Create(ctx context.Context, inv *models.Invoice) error
	FindByID(ctx context.Context, id domain.InvoiceID) (*models.Invoice, error)
	FindIDByNumber(ctx context.Context, number string) (domain.InvoiceID, error)
	ListByExporter(ctx context.Context, exporter domain.Address) ([]domain.InvoiceID, error)
	Update(ctx context.Context, inv *models.Invoice) error
	Burn(ctx context.Context, id domain.InvoiceID, at time.Time) error
	Count(ctx context.Context) (uint64, error)
}

// Authorizer checks that caller holds at least one of roles.
type Authorizer interface {
	Require(ctx context.Context, caller domain.Address, roles ...access.Role) error
}

// Service is the invoice lifecycle registry.
type Service struct {
	store   Store
	auth    Authorizer
	locks   *keylock.Locker
	logger  *slog.Logger
	audit   audit.Emitter
	metrics *metrics.Metrics
	tracer  trace.Tracer
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

// New constructs the registry. auth is normally the registry's access.Controller.
func New(store Store, auth Authorizer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		auth:   auth,
		locks:  keylock.New("invoice"),
		tracer: otel.Tracer("receiv3/invoice"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Name() string   { return models.CollectionName }
func (s *Service) Symbol() string { return models.CollectionSymbol }

// MintInvoice records a new invoice owned by its exporter. Requires MINTER
// or OPERATOR.
func (s *Service) MintInvoice(ctx context.Context, caller domain.Address, req models.MintRequest) (_ *models.Invoice, err error) {
	ctx, span := s.tracer.Start(ctx, "invoice.Mint", trace.WithAttributes(attribute.String("invoice.number", req.Number)))
	defer func() { s.endSpan(span, "mint", err) }()
	if s.metrics != nil {
		defer s.metrics.ObserveMint(time.Now())
	}

	if err := s.auth.Require(ctx, caller, access.RoleMinter, access.RoleOperator); err != nil {
		return nil, err
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	inv := &models.Invoice{
		Number:          req.Number,
		Exporter:        req.Exporter,
		Owner:           req.Exporter,
		Amount:          req.Amount,
		AdvanceAmount:   req.AdvanceAmount,
		InterestRateBps: req.InterestRateBps,
		IssueDate:       req.IssueDate.UTC().Truncate(time.Second),
		DueDate:         req.DueDate.UTC().Truncate(time.Second),
		BuyerCountry:    req.BuyerCountry,
		DocumentHash:    req.DocumentHash,
		URI:             req.URI,
		Status:          models.StatusPending,
		MintedAt:        now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, inv); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(ErrDuplicateInvoice, dErrors.CodeConflict, "invoice number "+req.Number)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint invoice")
	}
	span.SetAttributes(attribute.Int64("invoice.id", int64(inv.ID)))

	s.logAudit(ctx, audit.EventInvoiceMinted,
		"invoice_id", inv.ID.String(),
		"invoice_number", inv.Number,
		"exporter", inv.Exporter.String(),
		"amount", inv.Amount.String(),
		"advance_amount", inv.AdvanceAmount.String(),
	)
	s.emit(ctx, audit.Event{
		Action:       audit.EventInvoiceMinted,
		EntityID:     inv.ID.String(),
		Actor:        caller,
		Counterparty: inv.Exporter,
		Amount:       inv.Amount,
		New:          inv.Number,
	})
	if s.metrics != nil {
		s.metrics.IncrementMinted()
	}
	return inv, nil
}

// VerifyShipment flips the one-way shipment flag. Requires VERIFIER or OPERATOR.
func (s *Service) VerifyShipment(ctx context.Context, caller domain.Address, id domain.InvoiceID) (err error) {
	ctx, span := s.startSpan(ctx, "invoice.VerifyShipment", id)
	defer func() { s.endSpan(span, "verify", err) }()

	if err := s.auth.Require(ctx, caller, access.RoleVerifier, access.RoleOperator); err != nil {
		return err
	}
	return s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		inv, err := s.loadLive(ctx, id)
		if err != nil {
			return err
		}
		if inv.ShipmentVerified {
			return dErrors.Wrap(ErrAlreadyVerified, dErrors.CodeInvalidState, "invoice "+id.String())
		}
		inv.ShipmentVerified = true
		inv.UpdatedAt = requestcontext.Now(ctx)
		if err := s.save(ctx, inv); err != nil {
			return err
		}

		s.logAudit(ctx, audit.EventShipmentVerified, "invoice_id", id.String())
		s.emit(ctx, audit.Event{
			Action:   audit.EventShipmentVerified,
			EntityID: id.String(),
			Actor:    caller,
			Old:      "false",
			New:      "true",
		})
		if s.metrics != nil {
			s.metrics.IncrementVerified()
		}
		return nil
	})
}

// IsFundable reports whether a pool may be opened against the invoice.
// Unknown and burned invoices are not fundable.
func (s *Service) IsFundable(ctx context.Context, id domain.InvoiceID) (bool, error) {
	inv, err := s.store.FindByID(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load invoice")
	}
	return inv.IsFundable(), nil
}

// UpdateStatus moves the invoice to a strictly later status. Requires OPERATOR.
func (s *Service) UpdateStatus(ctx context.Context, caller domain.Address, id domain.InvoiceID, next models.Status) (err error) {
	ctx, span := s.startSpan(ctx, "invoice.UpdateStatus", id)
	span.SetAttributes(attribute.String("invoice.status", next.String()))
	defer func() { s.endSpan(span, "update_status", err) }()

	if err := s.auth.Require(ctx, caller, access.RoleOperator); err != nil {
		return err
	}
	if !next.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unknown invoice status "+next.String())
	}
	return s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		inv, err := s.loadLive(ctx, id)
		if err != nil {
			return err
		}
		old := inv.Status
		if !old.CanAdvanceTo(next) {
			return dErrors.Wrap(ErrInvalidStatusTransition, dErrors.CodeInvalidState,
				"invoice "+id.String()+" cannot move from "+old.String()+" to "+next.String())
		}
		inv.Status = next
		inv.UpdatedAt = requestcontext.Now(ctx)
		if err := s.save(ctx, inv); err != nil {
			return err
		}

		s.logAudit(ctx, audit.EventInvoiceStatusChange,
			"invoice_id", id.String(),
			"old_status", old.String(),
			"new_status", next.String(),
		)
		s.emit(ctx, audit.Event{
			Action:   audit.EventInvoiceStatusChange,
			EntityID: id.String(),
			Actor:    caller,
			Old:      old.String(),
			New:      next.String(),
		})
		if s.metrics != nil {
			s.metrics.IncrementStatusChange(next.String())
		}
		return nil
	})
}

// BurnInvoice retires a settled invoice. Requires OPERATOR and a reason.
// The record stays readable; ownership, the number and the exporter listing
// are released.
func (s *Service) BurnInvoice(ctx context.Context, caller domain.Address, id domain.InvoiceID, reason string) (err error) {
	ctx, span := s.startSpan(ctx, "invoice.Burn", id)
	defer func() { s.endSpan(span, "burn", err) }()

	if err := s.auth.Require(ctx, caller, access.RoleOperator); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "burn reason is required")
	}
	return s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		inv, err := s.loadLive(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Status.Settled() {
			return dErrors.Wrap(ErrInvoiceNotSettled, dErrors.CodeInvalidState,
				"invoice "+id.String()+" is "+inv.Status.String())
		}
		if err := s.store.Burn(ctx, id, requestcontext.Now(ctx)); err != nil {
			return s.translateStoreErr(err, "failed to burn invoice")
		}

		s.logAudit(ctx, audit.EventInvoiceBurned,
			"invoice_id", id.String(),
			"invoice_number", inv.Number,
			"reason", reason,
		)
		s.emit(ctx, audit.Event{
			Action:       audit.EventInvoiceBurned,
			EntityID:     id.String(),
			Actor:        caller,
			Counterparty: inv.Owner,
			Old:          inv.Status.String(),
			Reason:       reason,
		})
		if s.metrics != nil {
			s.metrics.IncrementBurned()
		}
		return nil
	})
}

// TransferInvoice reassigns ownership. Only the current owner may transfer.
func (s *Service) TransferInvoice(ctx context.Context, caller domain.Address, id domain.InvoiceID, to domain.Address) (err error) {
	ctx, span := s.startSpan(ctx, "invoice.Transfer", id)
	defer func() { s.endSpan(span, "transfer", err) }()

	if to.IsZero() {
		return dErrors.Wrap(ErrInvalidAddress, dErrors.CodeValidation, "transfer recipient")
	}
	return s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		inv, err := s.loadLive(ctx, id)
		if err != nil {
			return err
		}
		if caller.IsZero() || inv.Owner != caller {
			return dErrors.Wrap(ErrNotInvoiceOwner, dErrors.CodeForbidden, "invoice "+id.String())
		}
		old := inv.Owner
		inv.Owner = to
		inv.UpdatedAt = requestcontext.Now(ctx)
		if err := s.save(ctx, inv); err != nil {
			return err
		}

		s.logAudit(ctx, audit.EventInvoiceTransferred,
			"invoice_id", id.String(),
			"from", old.String(),
			"to", to.String(),
		)
		s.emit(ctx, audit.Event{
			Action:       audit.EventInvoiceTransferred,
			EntityID:     id.String(),
			Actor:        caller,
			Counterparty: to,
			Old:          old.String(),
			New:          to.String(),
		})
		return nil
	})
}

// GetInvoice returns the record, including burned ones.
func (s *Service) GetInvoice(ctx context.Context, id domain.InvoiceID) (*models.Invoice, error) {
	inv, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load invoice")
	}
	return inv, nil
}

// GetExporterInvoices lists the exporter's live invoice ids in mint order.
func (s *Service) GetExporterInvoices(ctx context.Context, exporter domain.Address) ([]domain.InvoiceID, error) {
	ids, err := s.store.ListByExporter(ctx, exporter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list exporter invoices")
	}
	return ids, nil
}

func (s *Service) GetTokenIDByInvoiceNumber(ctx context.Context, number string) (domain.InvoiceID, error) {
	id, err := s.store.FindIDByNumber(ctx, strings.TrimSpace(number))
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, dErrors.Wrap(ErrInvoiceNotFound, dErrors.CodeNotFound, "invoice number "+number)
	}
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up invoice number")
	}
	return id, nil
}

// OwnerOf fails with NotFound for unknown and burned invoices.
func (s *Service) OwnerOf(ctx context.Context, id domain.InvoiceID) (domain.Address, error) {
	inv, err := s.loadLive(ctx, id)
	if err != nil {
		return "", err
	}
	return inv.Owner, nil
}

// TotalMinted counts every id ever assigned, burned ones included.
func (s *Service) TotalMinted(ctx context.Context) (uint64, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count invoices")
	}
	return n, nil
}

func (s *Service) loadLive(ctx context.Context, id domain.InvoiceID) (*models.Invoice, error) {
	inv, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to load invoice")
	}
	if inv.Burned() {
		return nil, dErrors.Wrap(ErrInvoiceNotFound, dErrors.CodeNotFound, "invoice "+id.String()+" was burned")
	}
	return inv, nil
}

func (s *Service) save(ctx context.Context, inv *models.Invoice) error {
	if err := s.store.Update(ctx, inv); err != nil {
		return s.translateStoreErr(err, "failed to update invoice")
	}
	return nil
}

func (s *Service) translateStoreErr(err error, msg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(ErrInvoiceNotFound, dErrors.CodeNotFound, "invoice")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) startSpan(ctx context.Context, name string, id domain.InvoiceID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int64("invoice.id", int64(id))))
}

func (s *Service) endSpan(span trace.Span, operation string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		if s.metrics != nil {
			s.metrics.IncrementRejected(operation, string(dErrors.CodeOf(err)))
		}
	}
	span.End()
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if s.logger == nil {
		return
	}
	args := append(attributes, "event", string(event), "log_type", "audit", "request_id", requestcontext.RequestID(ctx))
	s.logger.InfoContext(ctx, string(event), args...)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.EntityType = audit.EntityInvoice
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.audit.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"event", string(event.Action),
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}
