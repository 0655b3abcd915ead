package store

import (
	"context"
	"database/sql"
	"fmt"

	"receiv3/internal/access"
	"receiv3/pkg/domain"
)

// PostgresStore persists grants in role_grants.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Add(ctx context.Context, component access.Component, role access.Role, account, grantedBy domain.Address) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO role_grants (component, role, account, granted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, string(component), string(role), account.String(), grantedBy.String())
	if err != nil {
		return false, fmt.Errorf("insert role grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert role grant: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Remove(ctx context.Context, component access.Component, role access.Role, account domain.Address) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM role_grants WHERE component = $1 AND role = $2 AND account = $3
	`, string(component), string(role), account.String())
	if err != nil {
		return false, fmt.Errorf("delete role grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete role grant: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Has(ctx context.Context, component access.Component, role access.Role, account domain.Address) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM role_grants WHERE component = $1 AND role = $2 AND account = $3)
	`, string(component), string(role), account.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query role grant: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) Members(ctx context.Context, component access.Component, role access.Role) ([]domain.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account FROM role_grants WHERE component = $1 AND role = $2 ORDER BY account
	`, string(component), string(role))
	if err != nil {
		return nil, fmt.Errorf("query role members: %w", err)
	}
	defer rows.Close()
	var out []domain.Address
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan role member: %w", err)
		}
		out = append(out, domain.Address(a))
	}
	return out, rows.Err()
}
