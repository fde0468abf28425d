package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// schema is idempotent. Times are stored without zone: appointments use
// naive clinic wall-clock values.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		mobile     TEXT,
		email      TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id             UUID PRIMARY KEY,
		patient_id     TEXT NOT NULL,
		patient_name   TEXT NOT NULL,
		clinic_name    TEXT NOT NULL,
		date           DATE NOT NULL,
		start_time     TIMESTAMP NOT NULL,
		end_time       TIMESTAMP NOT NULL,
		status         TEXT NOT NULL CHECK (status IN ('scheduled', 'completed', 'cancelled')),
		treatment_type TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (start_time < end_time)
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_date_clinic ON appointments (date, clinic_name)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS appointments_patient_day_scheduled
		ON appointments (patient_id, date) WHERE status = 'scheduled'`,
	`CREATE TABLE IF NOT EXISTS event_logs (
		id             BIGSERIAL PRIMARY KEY,
		event_type     TEXT NOT NULL,
		appointment_id UUID,
		payload        JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS event_logs_appointment ON event_logs (appointment_id)`,
}

// EnsureSchema creates the tables and indexes the scheduling engine needs.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
