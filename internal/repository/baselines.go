package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// BaselinesRepository 会话基线仓库（每个会话生命周期只写一次）
type BaselinesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBaselinesRepository 创建基线仓库
func NewBaselinesRepository(db *sql.DB, logger *zap.Logger) *BaselinesRepository {
	return &BaselinesRepository{
		db:     db,
		logger: logger,
	}
}

// SaveBaseline 保存基线；已存在则保持原值并返回 false
func (r *BaselinesRepository) SaveBaseline(ctx context.Context, sessionID, runID string, b models.Baseline) (bool, error) {
	query := `
		INSERT INTO session_baselines (
			session_id,
			run_id,
			resting_heart_rate,
			resting_hrv,
			normal_spo2,
			normal_temperature,
			sample_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, run_id) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		sessionID,
		runID,
		b.RestingHeartRate,
		b.RestingHRV,
		b.NormalSpO2,
		b.NormalTemperature,
		b.SampleCount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save baseline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		r.logger.Warn("Baseline already stored, keeping original",
			zap.String("session_id", sessionID),
			zap.String("run_id", runID),
		)
	}
	return n > 0, nil
}

// GetBaseline 查询指定生命周期的基线；不存在时返回 nil, nil
func (r *BaselinesRepository) GetBaseline(ctx context.Context, sessionID, runID string) (*models.Baseline, error) {
	query := `
		SELECT resting_heart_rate, resting_hrv, normal_spo2, normal_temperature, sample_count
		FROM session_baselines
		WHERE session_id = $1 AND run_id = $2
	`
	var b models.Baseline
	err := r.db.QueryRowContext(ctx, query, sessionID, runID).Scan(
		&b.RestingHeartRate,
		&b.RestingHRV,
		&b.NormalSpO2,
		&b.NormalTemperature,
		&b.SampleCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	b.Complete = true
	return &b, nil
}
