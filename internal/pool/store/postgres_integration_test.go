//go:build integration

package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"receiv3/internal/platform/postgres"
	"receiv3/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	StoreContract
	pg *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	_, err := postgres.Migrate(context.Background(), s.pg.DB, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.ctx = context.Background()
	_, err := s.pg.DB.ExecContext(s.ctx, `TRUNCATE pool_repayments, pool_investments, pools, pool_settings`)
	s.Require().NoError(err)
	s.store = NewPostgres(s.pg.DB)
}
