package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// ReadingsRepository 读数及评分结果仓库（biometric_readings 表，只追加）
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// ReadingRecord biometric_readings 表的一行
type ReadingRecord struct {
	SessionID      string
	RunID          string
	HeartRate      *float64
	HRV            *float64
	SpO2           *float64
	Temperature    *float64
	ReadingTS      *int64
	Status         models.ProcessStatus
	CompositeScore *float64
	Zone           *string
	Alert          bool
	Reason         string
}

// NewReadingRecord 由原始读数和处理结果构造记录（拒绝的读数同样记录，便于排查传感器问题）
func NewReadingRecord(raw models.RawReading, res *models.ProcessResult) ReadingRecord {
	rec := ReadingRecord{
		SessionID:   res.SessionID,
		RunID:       res.RunID,
		HeartRate:   raw.HeartRate,
		HRV:         raw.HRV,
		SpO2:        raw.SpO2,
		Temperature: raw.Temperature,
		ReadingTS:   raw.Timestamp,
		Status:      res.Status,
		Reason:      res.Reason,
	}
	if res.Result != nil {
		score := res.Result.CompositeScore
		zone := string(res.Result.Zone)
		rec.CompositeScore = &score
		rec.Zone = &zone
		rec.Alert = res.Result.Alert
		if res.Result.AlertReason != "" {
			rec.Reason = res.Result.AlertReason
		}
	}
	return rec
}

// InsertReading 写入一条读数记录
func (r *ReadingsRepository) InsertReading(ctx context.Context, rec ReadingRecord) error {
	if rec.SessionID == "" || rec.RunID == "" {
		return fmt.Errorf("session_id and run_id are required")
	}

	query := `
		INSERT INTO biometric_readings (
			session_id,
			run_id,
			heart_rate,
			hrv,
			spo2,
			temperature,
			reading_ts,
			status,
			composite_score,
			zone,
			alert,
			reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		rec.SessionID,
		rec.RunID,
		rec.HeartRate,
		rec.HRV,
		rec.SpO2,
		rec.Temperature,
		rec.ReadingTS,
		string(rec.Status),
		rec.CompositeScore,
		rec.Zone,
		rec.Alert,
		rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// ListScoredHistory 查询会话某个生命周期已评分读数的得分历史（按时间升序，limit<=0 表示不限）
func (r *ReadingsRepository) ListScoredHistory(ctx context.Context, sessionID, runID string, limit int) ([]models.ScorePoint, error) {
	query := `
		SELECT composite_score, zone, reading_ts
		FROM biometric_readings
		WHERE session_id = $1 AND run_id = $2 AND status = $3
		ORDER BY reading_ts ASC
	`
	args := []interface{}{sessionID, runID, string(models.StatusScored)}
	if limit > 0 {
		// 取最近 limit 条，再按升序返回
		query = `
			SELECT composite_score, zone, reading_ts FROM (
				SELECT composite_score, zone, reading_ts
				FROM biometric_readings
				WHERE session_id = $1 AND run_id = $2 AND status = $3
				ORDER BY reading_ts DESC
				LIMIT $4
			) recent
			ORDER BY reading_ts ASC
		`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query score history: %w", err)
	}
	defer rows.Close()

	var points []models.ScorePoint
	for rows.Next() {
		var p models.ScorePoint
		var zone string
		if err := rows.Scan(&p.Score, &zone, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan score history: %w", err)
		}
		p.Zone = models.Zone(zone)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate score history: %w", err)
	}
	return points, nil
}
