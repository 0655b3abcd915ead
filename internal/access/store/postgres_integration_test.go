//go:build integration

package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"receiv3/internal/access"
	"receiv3/internal/platform/postgres"
	"receiv3/pkg/domain"
	"receiv3/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.ctx = context.Background()
	_, err := postgres.Migrate(s.ctx, s.pg.DB, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
	s.store = NewPostgres(s.pg.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pg.DB.ExecContext(s.ctx, `TRUNCATE role_grants`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestAddRemoveHas() {
	a := domain.MustAddress("0x00000000000000000000000000000000000000a1")
	admin := domain.MustAddress("0x00000000000000000000000000000000000000d0")

	added, err := s.store.Add(s.ctx, access.ComponentEngine, access.RoleOperator, a, admin)
	s.Require().NoError(err)
	s.True(added)

	added, err = s.store.Add(s.ctx, access.ComponentEngine, access.RoleOperator, a, admin)
	s.Require().NoError(err)
	s.False(added)

	ok, err := s.store.Has(s.ctx, access.ComponentEngine, access.RoleOperator, a)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.Has(s.ctx, access.ComponentRegistry, access.RoleOperator, a)
	s.Require().NoError(err)
	s.False(ok)

	members, err := s.store.Members(s.ctx, access.ComponentEngine, access.RoleOperator)
	s.Require().NoError(err)
	s.Equal([]domain.Address{a}, members)

	removed, err := s.store.Remove(s.ctx, access.ComponentEngine, access.RoleOperator, a)
	s.Require().NoError(err)
	s.True(removed)
}
