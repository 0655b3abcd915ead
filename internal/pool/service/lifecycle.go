package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"receiv3/internal/access"
	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/sentinel"
	"receiv3/pkg/requestcontext"
)

// CreatePool opens a pool for a fundable invoice. The target is the invoice's
// advance amount and the pool shares the invoice's id.
func (s *Service) CreatePool(ctx context.Context, caller domain.Address, invoiceID domain.InvoiceID) (_ *models.Pool, err error) {
	id := domain.PoolFor(invoiceID)
	ctx, span := s.startSpan(ctx, "pool.create", id)
	defer func(start time.Time) { s.finish(span, "create_pool", start, err) }(time.Now())

	if _, err := s.guard(ctx, "create_pool"); err != nil {
		return nil, err
	}
	if err := s.auth.Require(ctx, caller, access.RoleOperator); err != nil {
		return nil, err
	}

	var created *models.Pool
	err = s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		fundable, err := s.registry.IsFundable(ctx, invoiceID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check invoice")
		}
		if !fundable {
			return dErrors.Wrap(ErrInvoiceNotFundable, dErrors.CodeInvalidState, "invoice "+invoiceID.String())
		}
		inv, err := s.registry.GetInvoice(ctx, invoiceID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeOf(err), "failed to load invoice")
		}

		p := &models.Pool{
			ID:              id,
			Exporter:        inv.Exporter,
			TargetAmount:    inv.AdvanceAmount,
			InterestRateBps: inv.InterestRateBps,
			Status:          models.StatusOpen,
			CreatedAt:       requestcontext.Now(ctx),
		}
		if err := s.store.Create(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(ErrPoolAlreadyExists, dErrors.CodeConflict, "pool "+id.String())
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pool")
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementPoolCreated()
	}
	s.emitAll(ctx, []audit.Event{{
		Action:       audit.EventPoolCreated,
		EntityID:     id.String(),
		Actor:        caller,
		Counterparty: created.Exporter,
		Amount:       created.TargetAmount,
		New:          created.Status.String(),
	}})
	return created, nil
}

// Invest pulls amount from investor into custody and appends it to the pool's
// investment log. The investor must have approved the engine beforehand.
// Reaching the target fills the pool.
func (s *Service) Invest(ctx context.Context, investor domain.Address, id domain.PoolID, amount domain.Amount) (_ *models.Investment, err error) {
	ctx, span := s.startSpan(ctx, "pool.invest", id)
	defer func(start time.Time) { s.finish(span, "invest", start, err) }(time.Now())

	if _, err := s.guard(ctx, "invest"); err != nil {
		return nil, err
	}
	if investor.IsZero() {
		return nil, dErrors.Wrap(ErrInvalidAddress, dErrors.CodeValidation, "investor")
	}

	var (
		record *models.Investment
		events []audit.Event
		filled bool
	)
	err = s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		p, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return dErrors.Wrap(ErrInvalidAmount, dErrors.CodeValidation, "invest")
		}
		if p.Status != models.StatusOpen {
			return dErrors.Wrap(ErrPoolNotOpen, dErrors.CodeInvalidState,
				fmt.Sprintf("pool %s is %s", p.ID, p.Status))
		}
		if remaining := p.RemainingCapacity(); amount > remaining {
			return dErrors.Wrap(ErrCapacityExceeded, dErrors.CodeValidation,
				fmt.Sprintf("invest %s, remaining %s", amount, remaining))
		}
		seen, err := s.store.HasInvested(ctx, id, investor)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read investment log")
		}

		sctx, cancel := settling(ctx)
		defer cancel()
		if err := s.ledger.TransferFrom(sctx, s.cfg.Address, investor, s.cfg.Address, amount); err != nil {
			return transferErr(err, "failed to pull investment")
		}

		now := requestcontext.Now(ctx)
		updated := p.Clone()
		updated.FundedAmount += amount
		if !seen {
			updated.InvestorCount++
		}
		if updated.FundedAmount == updated.TargetAmount {
			updated.Status = models.StatusFilled
			updated.FilledAt = now
			filled = true
		}
		inv := &models.Investment{
			PoolID:         id,
			Investor:       investor,
			Amount:         amount,
			ExpectedReturn: expectedReturn(amount, p.InterestRateBps),
			InvestedAt:     now,
		}
		if err := s.store.AppendInvestment(sctx, updated, inv); err != nil {
			s.compensate(sctx, "invest", investor, amount)
			return writeErr(err, "failed to record investment")
		}
		record = inv

		events = append(events, audit.Event{
			Action:       audit.EventInvestmentRecorded,
			EntityID:     id.String(),
			Actor:        investor,
			Counterparty: s.cfg.Address,
			Amount:       amount,
			Old:          p.FundedAmount.String(),
			New:          updated.FundedAmount.String(),
		})
		if filled {
			events = append(events, audit.Event{
				Action:   audit.EventPoolFilled,
				EntityID: id.String(),
				Actor:    investor,
				Amount:   updated.FundedAmount,
				Old:      p.Status.String(),
				New:      updated.Status.String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordInvestment(amount, filled)
	}
	s.emitAll(ctx, events)
	return record, nil
}

// compensate returns funds pulled for an operation whose record could not be
// written. ctx must come from settling. A failed refund leaves the funds in
// custody and is logged for manual recovery.
func (s *Service) compensate(ctx context.Context, operation string, to domain.Address, amount domain.Amount) {
	if s.metrics != nil {
		s.metrics.IncrementCompensation(operation)
	}
	if err := s.ledger.Transfer(ctx, s.cfg.Address, to, amount); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "refund failed, funds held in custody",
			"operation", operation,
			"to", to.String(),
			"amount", amount.String(),
			"error", err,
		)
	}
}
