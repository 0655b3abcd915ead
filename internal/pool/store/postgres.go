package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"receiv3/internal/pool/models"
	"receiv3/pkg/domain"
	"receiv3/pkg/platform/sentinel"
	txcontext "receiv3/pkg/platform/tx"
)

// PostgresPoolStore persists pools in the pools, pool_investments,
// pool_repayments and pool_settings tables.
type PostgresPoolStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresPoolStore {
	return &PostgresPoolStore{db: db}
}

const poolColumns = `id, exporter, target_amount, funded_amount, interest_rate_bps, investor_count,
	status, created_at, filled_at, disbursed_at, closed_at, version`

func (s *PostgresPoolStore) Create(ctx context.Context, p *models.Pool) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (`+poolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, poolArgs(p)...)
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pool %s: %w", p.ID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresPoolStore) FindByID(ctx context.Context, id domain.PoolID) (*models.Pool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, int64(id))
	p, err := scanPool(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pool: %w", err)
	}
	return p, nil
}

// Update writes p if p.Version matches the stored row, then bumps it.
func (s *PostgresPoolStore) Update(ctx context.Context, p *models.Pool) error {
	if err := updatePool(ctx, s.db, p); err != nil {
		return err
	}
	p.Version++
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// updatePool is a compare-and-set on the version column, so writers in other
// processes working from the same read cannot both succeed. The caller bumps
// p.Version once the surrounding transaction commits.
func updatePool(ctx context.Context, db querier, p *models.Pool) error {
	res, err := db.ExecContext(ctx, `
		UPDATE pools
		SET funded_amount = $2, investor_count = $3, status = $4,
		    filled_at = $5, disbursed_at = $6, closed_at = $7, version = version + 1
		WHERE id = $1 AND version = $8
	`, int64(p.ID), int64(p.FundedAmount), p.InvestorCount, int16(p.Status),
		nullTime(p.FilledAt), nullTime(p.DisbursedAt), nullTime(p.ClosedAt), int64(p.Version))
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pools WHERE id = $1)`, int64(p.ID)).Scan(&exists); err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("pool %s changed since version %d: %w", p.ID, p.Version, sentinel.ErrInvalidState)
}

func (s *PostgresPoolStore) AppendInvestment(ctx context.Context, p *models.Pool, inv *models.Investment) error {
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := updatePool(ctx, tx, p); err != nil {
			return err
		}
		var seq int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO pool_investments (pool_id, investor, amount, expected_return, invested_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING seq
		`, int64(p.ID), inv.Investor.String(), int64(inv.Amount), int64(inv.ExpectedReturn), inv.InvestedAt).Scan(&seq)
		if err != nil {
			return fmt.Errorf("insert investment: %w", err)
		}
		inv.Seq = uint64(seq)
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *PostgresPoolStore) HasInvested(ctx context.Context, id domain.PoolID, investor domain.Address) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM pool_investments WHERE pool_id = $1 AND investor = $2)
	`, int64(id), investor.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query investor: %w", err)
	}
	return ok, nil
}

func (s *PostgresPoolStore) ListInvestments(ctx context.Context, id domain.PoolID) ([]models.Investment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, investor, amount, expected_return, invested_at
		FROM pool_investments WHERE pool_id = $1 ORDER BY seq
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}
	defer rows.Close()
	out := []models.Investment{}
	for rows.Next() {
		var (
			inv              models.Investment
			seq, amt, expect int64
			investor         string
		)
		if err := rows.Scan(&seq, &investor, &amt, &expect, &inv.InvestedAt); err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		inv.Seq = uint64(seq)
		inv.PoolID = id
		inv.Investor = domain.Address(investor)
		inv.Amount = domain.Amount(amt)
		inv.ExpectedReturn = domain.Amount(expect)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStore) ListPoolsByInvestor(ctx context.Context, investor domain.Address) ([]domain.PoolID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pool_id FROM pool_investments WHERE investor = $1
		GROUP BY pool_id ORDER BY MIN(seq)
	`, investor.String())
	if err != nil {
		return nil, fmt.Errorf("list investor pools: %w", err)
	}
	defer rows.Close()
	out := []domain.PoolID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pool id: %w", err)
		}
		out = append(out, domain.PoolID(id))
	}
	return out, rows.Err()
}

func (s *PostgresPoolStore) SaveRepayment(ctx context.Context, p *models.Pool, rep *models.Repayment) error {
	returns, err := json.Marshal(rep.Returns)
	if err != nil {
		return fmt.Errorf("marshal returns: %w", err)
	}
	err = txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := updatePool(ctx, tx, p); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pool_repayments (pool_id, payer, total_amount, fee_bps, fee, net, distributed,
				residual, fee_wallet, processed_at, returns)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (pool_id) DO NOTHING
		`, int64(rep.PoolID), rep.Payer.String(), int64(rep.Total), int64(rep.FeeBps), int64(rep.Fee),
			int64(rep.Net), int64(rep.Distributed), int64(rep.Residual), rep.FeeWallet.String(),
			rep.ProcessedAt, returns)
		if err != nil {
			return fmt.Errorf("insert repayment: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("insert repayment: %w", err)
		} else if n == 0 {
			return fmt.Errorf("repayment for pool %s: %w", p.ID, sentinel.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *PostgresPoolStore) DeleteRepayment(ctx context.Context, p *models.Pool) error {
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := updatePool(ctx, tx, p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pool_repayments WHERE pool_id = $1`, int64(p.ID)); err != nil {
			return fmt.Errorf("delete repayment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (s *PostgresPoolStore) FindRepayment(ctx context.Context, id domain.PoolID) (*models.Repayment, error) {
	var (
		rep                                  models.Repayment
		total, bps, fee, net, dist, residual int64
		payer, wallet                        string
		returns                              []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT payer, total_amount, fee_bps, fee, net, distributed, residual, fee_wallet, processed_at, returns
		FROM pool_repayments WHERE pool_id = $1
	`, int64(id)).Scan(&payer, &total, &bps, &fee, &net, &dist, &residual, &wallet, &rep.ProcessedAt, &returns)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find repayment: %w", err)
	}
	if err := json.Unmarshal(returns, &rep.Returns); err != nil {
		return nil, fmt.Errorf("unmarshal returns: %w", err)
	}
	rep.PoolID = id
	rep.Payer = domain.Address(payer)
	rep.Total = domain.Amount(total)
	rep.FeeBps = domain.BasisPoints(bps)
	rep.Fee = domain.Amount(fee)
	rep.Net = domain.Amount(net)
	rep.Distributed = domain.Amount(dist)
	rep.Residual = domain.Amount(residual)
	rep.FeeWallet = domain.Address(wallet)
	return &rep, nil
}

func (s *PostgresPoolStore) LoadSettings(ctx context.Context) (*models.Settings, error) {
	var (
		bps    int64
		wallet string
		out    models.Settings
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT platform_fee_bps, platform_wallet, paused FROM pool_settings
	`).Scan(&bps, &wallet, &out.Paused)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	out.PlatformFeeBps = domain.BasisPoints(bps)
	out.PlatformWallet = domain.Address(wallet)
	return &out, nil
}

func (s *PostgresPoolStore) SaveSettings(ctx context.Context, settings models.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_settings (singleton, platform_fee_bps, platform_wallet, paused)
		VALUES (TRUE, $1, $2, $3)
		ON CONFLICT (singleton) DO UPDATE
		SET platform_fee_bps = EXCLUDED.platform_fee_bps,
		    platform_wallet = EXCLUDED.platform_wallet,
		    paused = EXCLUDED.paused
	`, int64(settings.PlatformFeeBps), settings.PlatformWallet.String(), settings.Paused)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func poolArgs(p *models.Pool) []any {
	return []any{
		int64(p.ID), p.Exporter.String(), int64(p.TargetAmount), int64(p.FundedAmount),
		int64(p.InterestRateBps), p.InvestorCount, int16(p.Status), p.CreatedAt,
		nullTime(p.FilledAt), nullTime(p.DisbursedAt), nullTime(p.ClosedAt), int64(p.Version),
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func scanPool(row interface{ Scan(dest ...any) error }) (*models.Pool, error) {
	var (
		p                         models.Pool
		id, target, funded, rate  int64
		version                   int64
		status                    int16
		exporter                  string
		filled, disbursed, closed sql.NullTime
	)
	if err := row.Scan(&id, &exporter, &target, &funded, &rate, &p.InvestorCount, &status,
		&p.CreatedAt, &filled, &disbursed, &closed, &version); err != nil {
		return nil, err
	}
	p.ID = domain.PoolID(id)
	p.Exporter = domain.Address(exporter)
	p.TargetAmount = domain.Amount(target)
	p.FundedAmount = domain.Amount(funded)
	p.InterestRateBps = domain.BasisPoints(rate)
	p.Status = models.Status(status)
	p.FilledAt = filled.Time
	p.DisbursedAt = disbursed.Time
	p.ClosedAt = closed.Time
	p.Version = uint64(version)
	return &p, nil
}
