package service

import (
	"context"
	"errors"
	"time"

	"receiv3/internal/access"
	invoicemodels "receiv3/internal/invoice/models"
	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
	"receiv3/pkg/platform/sentinel"
	"receiv3/pkg/requestcontext"
)

// Disburse pays the funded amount to the exporter. It succeeds once per pool.
func (s *Service) Disburse(ctx context.Context, caller domain.Address, id domain.PoolID) (_ *models.Pool, err error) {
	ctx, span := s.startSpan(ctx, "pool.disburse", id)
	defer func(start time.Time) { s.finish(span, "disburse", start, err) }(time.Now())

	if _, err := s.guard(ctx, "disburse"); err != nil {
		return nil, err
	}
	if err := s.auth.Require(ctx, caller, access.RoleOperator); err != nil {
		return nil, err
	}

	var disbursed *models.Pool
	err = s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		p, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != models.StatusFilled {
			return invalidState(p, models.StatusFilled)
		}
		if err := s.checkInvoiceCanAdvance(ctx, id, invoicemodels.StatusDisbursed); err != nil {
			return err
		}

		sctx, cancel := settling(ctx)
		defer cancel()
		updated := p.Clone()
		updated.Status = models.StatusDisbursed
		updated.DisbursedAt = requestcontext.Now(ctx)
		if err := s.store.Update(sctx, updated); err != nil {
			return writeErr(err, "failed to mark pool disbursed")
		}
		if err := s.ledger.Transfer(sctx, s.cfg.Address, p.Exporter, p.FundedAmount); err != nil {
			restored := p.Clone()
			restored.Version = updated.Version
			if rerr := s.store.Update(sctx, restored); rerr != nil {
				return dErrors.Wrap(errors.Join(err, rerr), dErrors.CodeInternal, "disbursement failed and pool could not be restored")
			}
			if s.metrics != nil {
				s.metrics.IncrementCompensation("disburse")
			}
			return transferErr(err, "failed to pay exporter")
		}
		disbursed = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordDisbursement(disbursed.FundedAmount)
	}
	s.emitAll(ctx, []audit.Event{{
		Action:       audit.EventDisbursementRecorded,
		EntityID:     id.String(),
		Actor:        caller,
		Counterparty: disbursed.Exporter,
		Amount:       disbursed.FundedAmount,
		Old:          models.StatusFilled.String(),
		New:          disbursed.Status.String(),
	}})
	if err := s.syncInvoice(ctx, id, invoicemodels.StatusDisbursed); err != nil {
		return disbursed, err
	}
	return disbursed, nil
}

// ProcessRepayment pulls total from caller and splits it: the platform fee
// first, then the remainder pro rata over the investment log. Rounding dust
// goes to the platform wallet along with the fee. The pool closes.
func (s *Service) ProcessRepayment(ctx context.Context, caller domain.Address, id domain.PoolID, total domain.Amount) (_ *models.Repayment, err error) {
	ctx, span := s.startSpan(ctx, "pool.repay", id)
	defer func(start time.Time) { s.finish(span, "process_repayment", start, err) }(time.Now())

	settings, err := s.guard(ctx, "process_repayment")
	if err != nil {
		return nil, err
	}
	if err := s.auth.Require(ctx, caller, access.RoleOperator); err != nil {
		return nil, err
	}

	var (
		rep    *models.Repayment
		events []audit.Event
	)
	err = s.locks.Run(ctx, uint64(id), func(ctx context.Context) error {
		p, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != models.StatusDisbursed {
			return invalidState(p, models.StatusDisbursed)
		}
		if !total.IsPositive() {
			return dErrors.Wrap(ErrInvalidAmount, dErrors.CodeValidation, "repayment")
		}
		log, err := s.store.ListInvestments(ctx, id)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read investment log")
		}
		split, err := splitRepayment(total, settings.PlatformFeeBps, p.FundedAmount, log)
		if err != nil {
			return err
		}
		if err := s.checkInvoiceCanAdvance(ctx, id, invoicemodels.StatusRepaid); err != nil {
			return err
		}

		sctx, cancel := settling(ctx)
		defer cancel()
		if err := s.ledger.TransferFrom(sctx, s.cfg.Address, caller, s.cfg.Address, total); err != nil {
			return transferErr(err, "failed to pull repayment")
		}

		now := requestcontext.Now(ctx)
		closed := p.Clone()
		closed.Status = models.StatusClosed
		closed.ClosedAt = now
		record := &models.Repayment{
			PoolID:      id,
			Payer:       caller,
			Total:       total,
			FeeBps:      settings.PlatformFeeBps,
			Fee:         split.Fee,
			Net:         split.Net,
			Distributed: split.Distributed,
			Residual:    split.Residual,
			FeeWallet:   settings.PlatformWallet,
			ProcessedAt: now,
			Returns:     split.Returns,
		}
		if err := s.store.SaveRepayment(sctx, closed, record); err != nil {
			s.compensate(sctx, "process_repayment", caller, total)
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(ErrInvalidPoolState, dErrors.CodeInvalidState, "repayment already recorded for pool "+id.String())
			}
			return writeErr(err, "failed to record repayment")
		}

		if err := s.ledger.TransferBatch(sctx, s.cfg.Address, split.payouts(settings.PlatformWallet)); err != nil {
			restored := p.Clone()
			restored.Version = closed.Version
			if rerr := s.store.DeleteRepayment(sctx, restored); rerr != nil {
				return dErrors.Wrap(errors.Join(err, rerr), dErrors.CodeInternal, "distribution failed and repayment could not be rolled back")
			}
			s.compensate(sctx, "process_repayment", caller, total)
			return transferErr(err, "failed to distribute repayment")
		}
		rep = record

		events = append(events, audit.Event{
			Action:       audit.EventRepaymentRecorded,
			EntityID:     id.String(),
			Actor:        caller,
			Counterparty: settings.PlatformWallet,
			Amount:       total,
			Old:          split.Fee.String(),
			New:          split.Distributed.String(),
		})
		for _, r := range split.Returns {
			events = append(events, audit.Event{
				Action:       audit.EventInvestorReturnRecorded,
				EntityID:     id.String(),
				Actor:        caller,
				Counterparty: r.Investor,
				Amount:       r.Payout,
				Old:          r.Invested.String(),
				New:          r.Payout.String(),
			})
		}
		events = append(events, audit.Event{
			Action:   audit.EventPoolClosed,
			EntityID: id.String(),
			Actor:    caller,
			Old:      p.Status.String(),
			New:      closed.Status.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordRepayment(total, rep.Fee+rep.Residual)
	}
	s.emitAll(ctx, events)
	if err := s.syncInvoice(ctx, id, invoicemodels.StatusRepaid); err != nil {
		return rep, err
	}
	return rep, nil
}

// checkInvoiceCanAdvance fails before any funds move when the invoice could
// not follow the pool to next.
func (s *Service) checkInvoiceCanAdvance(ctx context.Context, id domain.PoolID, next invoicemodels.Status) error {
	if !s.syncInvoiceStatus {
		return nil
	}
	inv, err := s.registry.GetInvoice(ctx, id.Invoice())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeOf(err), "failed to load invoice")
	}
	if inv.Burned() || !inv.Status.CanAdvanceTo(next) {
		return dErrors.Wrap(ErrInvoiceOutOfSync, dErrors.CodeInvalidState,
			"invoice "+inv.ID.String()+" is "+inv.Status.String()+", cannot move to "+next.String())
	}
	return nil
}

// syncInvoice advances the invoice after the pool transition committed. The
// pool state stands even if this fails; the failure is counted so an operator
// can reconcile the invoice by hand.
func (s *Service) syncInvoice(ctx context.Context, id domain.PoolID, next invoicemodels.Status) error {
	if !s.syncInvoiceStatus {
		return nil
	}
	ctx, cancel := settling(ctx)
	defer cancel()
	err := s.registry.UpdateStatus(ctx, s.cfg.Address, id.Invoice(), next)
	if err == nil {
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncrementStatusSyncFailure(next.String())
	}
	if s.logger != nil {
		s.logger.ErrorContext(ctx, "invoice status sync failed",
			"pool_id", id.String(),
			"status", next.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	return dErrors.Wrap(errors.Join(ErrInvoiceOutOfSync, err), dErrors.CodeInternal, "pool updated but invoice status was not")
}
