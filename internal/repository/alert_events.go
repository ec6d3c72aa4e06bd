package repository

import (
	"context"
	"database/sql"
	"fmt"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// AlertEventsRepository 报警事件仓库
type AlertEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventsRepository 创建报警事件仓库
func NewAlertEventsRepository(db *sql.DB, logger *zap.Logger) *AlertEventsRepository {
	return &AlertEventsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlertEvent 创建报警事件
func (r *AlertEventsRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil || event.EventID == "" {
		return fmt.Errorf("event_id is required")
	}

	query := `
		INSERT INTO alert_events (
			event_id,
			session_id,
			run_id,
			alert_code,
			severity,
			score,
			zone,
			reason,
			nudge_message,
			channel,
			delivered,
			triggered_at,
			trigger_data,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		event.SessionID,
		event.RunID,
		event.AlertCode,
		string(event.Severity),
		event.Score,
		string(event.Zone),
		event.Reason,
		event.NudgeMessage,
		event.Channel,
		event.Delivered,
		event.TriggeredAt,
		event.TriggerData,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}

	r.logger.Debug("Alert event created",
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
		zap.String("alert_code", event.AlertCode),
	)
	return nil
}

// ListBySession 查询会话某个生命周期的报警事件（最新在前）
func (r *AlertEventsRepository) ListBySession(ctx context.Context, sessionID, runID string, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT
			event_id,
			session_id,
			run_id,
			alert_code,
			severity,
			score,
			zone,
			reason,
			nudge_message,
			channel,
			delivered,
			triggered_at,
			trigger_data,
			created_at
		FROM alert_events
		WHERE session_id = $1 AND run_id = $2
		ORDER BY triggered_at DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert events: %w", err)
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		var e models.AlertEvent
		var severity, zone string
		if err := rows.Scan(
			&e.EventID,
			&e.SessionID,
			&e.RunID,
			&e.AlertCode,
			&severity,
			&e.Score,
			&zone,
			&e.Reason,
			&e.NudgeMessage,
			&e.Channel,
			&e.Delivered,
			&e.TriggeredAt,
			&e.TriggerData,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		e.Severity = models.AlertSeverity(severity)
		e.Zone = models.Zone(zone)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}
	return events, nil
}
