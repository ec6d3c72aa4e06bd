package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaStatements 建表语句（幂等）
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id  VARCHAR(128) PRIMARY KEY,
		run_id      UUID NOT NULL,
		user_phone  VARCHAR(32),
		language    VARCHAR(8) NOT NULL DEFAULT 'en',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		ended_at    TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS biometric_readings (
		id               BIGSERIAL PRIMARY KEY,
		session_id       VARCHAR(128) NOT NULL,
		run_id           UUID NOT NULL,
		heart_rate       DOUBLE PRECISION,
		hrv              DOUBLE PRECISION,
		spo2             DOUBLE PRECISION,
		temperature      DOUBLE PRECISION,
		reading_ts       BIGINT,
		status           VARCHAR(32) NOT NULL,
		composite_score  DOUBLE PRECISION,
		zone             VARCHAR(16),
		alert            BOOLEAN NOT NULL DEFAULT FALSE,
		reason           TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_biometric_readings_session_run_ts
		ON biometric_readings (session_id, run_id, reading_ts)`,
	`CREATE TABLE IF NOT EXISTS session_baselines (
		session_id          VARCHAR(128) NOT NULL,
		run_id              UUID NOT NULL,
		resting_heart_rate  DOUBLE PRECISION NOT NULL,
		resting_hrv         DOUBLE PRECISION NOT NULL,
		normal_spo2         DOUBLE PRECISION NOT NULL,
		normal_temperature  DOUBLE PRECISION NOT NULL,
		sample_count        INTEGER NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (session_id, run_id)
	)`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		event_id       UUID PRIMARY KEY,
		session_id     VARCHAR(128) NOT NULL,
		run_id         UUID NOT NULL,
		alert_code     VARCHAR(32) NOT NULL,
		severity       VARCHAR(16) NOT NULL,
		score          DOUBLE PRECISION NOT NULL,
		zone           VARCHAR(16) NOT NULL,
		reason         TEXT NOT NULL,
		nudge_message  TEXT NOT NULL DEFAULT '',
		channel        VARCHAR(16) NOT NULL DEFAULT 'none',
		delivered      BOOLEAN NOT NULL DEFAULT FALSE,
		triggered_at   TIMESTAMPTZ NOT NULL,
		trigger_data   JSONB NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alert_events_session
		ON alert_events (session_id, run_id, triggered_at DESC)`,
}

// EnsureSchema 创建缺失的表和索引
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
