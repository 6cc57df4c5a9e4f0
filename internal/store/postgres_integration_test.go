//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresSuite runs the store contract against a real database. It uses
// DATABASE_URL when set and a throwaway container otherwise.
type PostgresSuite struct {
	suite.Suite
	container *postgres.PostgresContainer
	store     *Postgres
}

func (s *PostgresSuite) SetupSuite() {
	ctx := context.Background()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		container, err := postgres.Run(ctx,
			"postgres:15-alpine",
			postgres.WithDatabase("orderflow"),
			postgres.WithUsername("orderflow"),
			postgres.WithPassword("orderflow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		s.Require().NoError(err)
		s.container = container
		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		s.Require().NoError(err)
	}
	p, err := NewPostgres(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(p.Migrate(ctx))
	s.Require().NoError(p.Migrate(ctx), "migrate must be idempotent")
	s.store = p
}

func (s *PostgresSuite) TearDownSuite() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

func (s *PostgresSuite) truncate(t *testing.T) Store {
	_, err := s.store.db.ExecContext(context.Background(), `TRUNCATE orders, delivery_agents RESTART IDENTITY`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s.store
}

func (s *PostgresSuite) TestContract() {
	runContract(s.T(), s.truncate)
}

func (s *PostgresSuite) TestAgentStatusConstraint() {
	o := seedOrder(s.T(), s.truncate(s.T()))
	_, err := s.store.db.ExecContext(context.Background(), `UPDATE orders SET status='OUT_FOR_DELIVERY' WHERE id=$1`, o.ID)
	s.Error(err, "an assigned status without an agent must violate the check constraint")
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}
