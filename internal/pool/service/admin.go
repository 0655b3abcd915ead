package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"receiv3/internal/access"
	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	dErrors "receiv3/pkg/domain-errors"
	"receiv3/pkg/platform/audit"
)

// SetPlatformFee changes the fee applied to future repayments.
func (s *Service) SetPlatformFee(ctx context.Context, caller domain.Address, bps domain.BasisPoints) (err error) {
	ctx, span := s.startSpan(ctx, "pool.set_fee", settingsKey)
	defer func(start time.Time) { s.finish(span, "set_platform_fee", start, err) }(time.Now())

	if bps > models.MaxPlatformFeeBps {
		return dErrors.Wrap(ErrFeeTooHigh, dErrors.CodeValidation,
			fmt.Sprintf("platform fee %d bps exceeds %d", bps, models.MaxPlatformFeeBps))
	}
	var old domain.BasisPoints
	err = s.updateSettings(ctx, caller, func(settings *models.Settings) error {
		old = settings.PlatformFeeBps
		settings.PlatformFeeBps = bps
		return nil
	})
	if err != nil {
		return err
	}
	s.emitAll(ctx, []audit.Event{{
		Action:     audit.EventPlatformFeeUpdated,
		EntityType: audit.EntityPlatform,
		EntityID:   "settings",
		Actor:      caller,
		Old:        strconv.FormatUint(uint64(old), 10),
		New:        strconv.FormatUint(uint64(bps), 10),
	}})
	return nil
}

// SetPlatformWallet changes the account that receives fees and rounding dust.
func (s *Service) SetPlatformWallet(ctx context.Context, caller domain.Address, wallet domain.Address) (err error) {
	ctx, span := s.startSpan(ctx, "pool.set_wallet", settingsKey)
	defer func(start time.Time) { s.finish(span, "set_platform_wallet", start, err) }(time.Now())

	if wallet.IsZero() {
		return dErrors.Wrap(ErrInvalidAddress, dErrors.CodeValidation, "platform wallet")
	}
	var old domain.Address
	err = s.updateSettings(ctx, caller, func(settings *models.Settings) error {
		old = settings.PlatformWallet
		settings.PlatformWallet = wallet
		return nil
	})
	if err != nil {
		return err
	}
	s.emitAll(ctx, []audit.Event{{
		Action:       audit.EventPlatformWalletUpdated,
		EntityType:   audit.EntityPlatform,
		EntityID:     "settings",
		Actor:        caller,
		Counterparty: wallet,
		Old:          old.String(),
		New:          wallet.String(),
	}})
	return nil
}

// Pause blocks pool creation, investment, disbursement and repayment. Reads and
// administrative calls keep working.
func (s *Service) Pause(ctx context.Context, caller domain.Address) error {
	return s.setPaused(ctx, caller, true)
}

func (s *Service) Unpause(ctx context.Context, caller domain.Address) error {
	return s.setPaused(ctx, caller, false)
}

func (s *Service) setPaused(ctx context.Context, caller domain.Address, paused bool) (err error) {
	action := audit.EventUnpaused
	if paused {
		action = audit.EventPaused
	}
	ctx, span := s.startSpan(ctx, "pool."+string(action), settingsKey)
	defer func(start time.Time) { s.finish(span, string(action), start, err) }(time.Now())

	err = s.updateSettings(ctx, caller, func(settings *models.Settings) error {
		if settings.Paused == paused {
			return dErrors.New(dErrors.CodeInvalidState, "engine already "+string(action))
		}
		settings.Paused = paused
		return nil
	})
	if err != nil {
		return err
	}
	s.emitAll(ctx, []audit.Event{{
		Action:     action,
		EntityType: audit.EntityPlatform,
		EntityID:   "settings",
		Actor:      caller,
		Old:        strconv.FormatBool(!paused),
		New:        strconv.FormatBool(paused),
	}})
	return nil
}

// EmergencyWithdraw moves amount of the named asset from custody to the
// caller. It ignores pool accounting and is meant for recovery only.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller domain.Address, symbol string, amount domain.Amount) (err error) {
	ctx, span := s.startSpan(ctx, "pool.emergency_withdraw", settingsKey)
	defer func(start time.Time) { s.finish(span, "emergency_withdraw", start, err) }(time.Now())

	if err := s.auth.Require(ctx, caller, access.RoleAdmin); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return dErrors.Wrap(ErrInvalidAmount, dErrors.CodeValidation, "withdraw")
	}
	ledger, ok := s.assets[symbol]
	if !ok {
		return dErrors.Wrap(ErrUnknownAsset, dErrors.CodeNotFound, symbol)
	}
	err = s.locks.Run(ctx, settingsKey, func(ctx context.Context) error {
		if err := ledger.Transfer(ctx, s.cfg.Address, caller, amount); err != nil {
			return transferErr(err, "emergency withdrawal failed")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "emergency withdrawal executed",
			"asset", symbol,
			"amount", amount.String(),
			"to", caller.String(),
		)
	}
	s.emitAll(ctx, []audit.Event{{
		Action:       audit.EventEmergencyWithdrawal,
		EntityType:   audit.EntityPlatform,
		EntityID:     symbol,
		Actor:        caller,
		Counterparty: caller,
		Amount:       amount,
	}})
	return nil
}

// updateSettings applies mutate to the stored settings under the admin lock
// and persists the result before the cached copy and breaker change.
func (s *Service) updateSettings(ctx context.Context, caller domain.Address, mutate func(*models.Settings) error) error {
	if err := s.auth.Require(ctx, caller, access.RoleAdmin); err != nil {
		return err
	}
	return s.locks.Run(ctx, settingsKey, func(ctx context.Context) error {
		next, err := s.refreshSettings(ctx)
		if err != nil {
			return err
		}
		if err := mutate(&next); err != nil {
			return err
		}
		if err := s.store.SaveSettings(ctx, next); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist settings")
		}
		s.apply(next)
		return nil
	})
}
