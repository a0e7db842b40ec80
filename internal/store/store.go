package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool

	Sessions SessionRepository
	Events   EventRepository
	Settings SettingsRepository
}

// New wires concrete repository implementations with a shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		Sessions: &sessionRepo{pool: pool},
		Events:   &eventRepo{pool: pool},
		Settings: &settingsRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
