package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"receiv3/internal/invoice/models"
	"receiv3/pkg/domain"
	"receiv3/pkg/platform/sentinel"
	txcontext "receiv3/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

// PostgresInvoiceStore persists invoices in the invoices table. Ids come from
// the invoice_counter row, bumped in the same transaction as the insert so a
// rejected duplicate does not consume an id.
type PostgresInvoiceStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresInvoiceStore {
	return &PostgresInvoiceStore{db: db}
}

const invoiceColumns = `id, invoice_number, exporter, owner, buyer_country, amount, advance_amount,
	interest_rate_bps, issue_date, due_date, document_hash, uri, status, shipment_verified,
	minted_at, updated_at, burned_at`

func (s *PostgresInvoiceStore) Create(ctx context.Context, inv *models.Invoice) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM invoices WHERE invoice_number = $1 AND burned_at IS NULL)
		`, inv.Number).Scan(&exists); err != nil {
			return fmt.Errorf("check invoice number: %w", err)
		}
		if exists {
			return fmt.Errorf("invoice number %q: %w", inv.Number, sentinel.ErrConflict)
		}

		var id int64
		if err := tx.QueryRowContext(ctx, `
			UPDATE invoice_counter SET last_id = last_id + 1 RETURNING last_id
		`).Scan(&id); err != nil {
			return fmt.Errorf("allocate invoice id: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULL)
		`, id, inv.Number, inv.Exporter.String(), inv.Owner.String(), inv.BuyerCountry,
			int64(inv.Amount), int64(inv.AdvanceAmount), int64(inv.InterestRateBps),
			inv.IssueDate.Unix(), inv.DueDate.Unix(), inv.DocumentHash, inv.URI,
			int16(inv.Status), inv.ShipmentVerified, inv.MintedAt, inv.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return fmt.Errorf("invoice number %q: %w", inv.Number, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert invoice: %w", err)
		}
		inv.ID = domain.InvoiceID(id)
		return nil
	})
}

func (s *PostgresInvoiceStore) FindByID(ctx context.Context, id domain.InvoiceID) (*models.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, int64(id))
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find invoice: %w", err)
	}
	return inv, nil
}

func (s *PostgresInvoiceStore) FindIDByNumber(ctx context.Context, number string) (domain.InvoiceID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM invoices WHERE invoice_number = $1 AND burned_at IS NULL
	`, number).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("find invoice by number: %w", err)
	}
	return domain.InvoiceID(id), nil
}

func (s *PostgresInvoiceStore) ListByExporter(ctx context.Context, exporter domain.Address) ([]domain.InvoiceID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM invoices WHERE exporter = $1 AND burned_at IS NULL ORDER BY id
	`, exporter.String())
	if err != nil {
		return nil, fmt.Errorf("list exporter invoices: %w", err)
	}
	defer rows.Close()
	out := []domain.InvoiceID{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan invoice id: %w", err)
		}
		out = append(out, domain.InvoiceID(id))
	}
	return out, rows.Err()
}

func (s *PostgresInvoiceStore) Update(ctx context.Context, inv *models.Invoice) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET owner = $2, status = $3, shipment_verified = $4, updated_at = $5
		WHERE id = $1 AND burned_at IS NULL
	`, int64(inv.ID), inv.Owner.String(), int16(inv.Status), inv.ShipmentVerified, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresInvoiceStore) Burn(ctx context.Context, id domain.InvoiceID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET burned_at = $2, updated_at = $2
		WHERE id = $1 AND burned_at IS NULL
	`, int64(id), at)
	if err != nil {
		return fmt.Errorf("burn invoice: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresInvoiceStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT last_id FROM invoice_counter`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return uint64(n), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*models.Invoice, error) {
	var (
		inv                       models.Invoice
		id, amount, advance, rate int64
		issue, due                int64
		status                    int16
		exporter, owner           string
		burnedAt                  sql.NullTime
	)
	if err := row.Scan(&id, &inv.Number, &exporter, &owner, &inv.BuyerCountry, &amount, &advance,
		&rate, &issue, &due, &inv.DocumentHash, &inv.URI, &status, &inv.ShipmentVerified,
		&inv.MintedAt, &inv.UpdatedAt, &burnedAt); err != nil {
		return nil, err
	}
	inv.ID = domain.InvoiceID(id)
	inv.Exporter = domain.Address(exporter)
	inv.Owner = domain.Address(owner)
	inv.Amount = domain.Amount(amount)
	inv.AdvanceAmount = domain.Amount(advance)
	inv.InterestRateBps = domain.BasisPoints(rate)
	inv.IssueDate = time.Unix(issue, 0).UTC()
	inv.DueDate = time.Unix(due, 0).UTC()
	inv.Status = models.Status(status)
	if burnedAt.Valid {
		t := burnedAt.Time
		inv.BurnedAt = &t
	}
	return &inv, nil
}
