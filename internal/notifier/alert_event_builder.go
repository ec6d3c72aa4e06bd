package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"cardiotwin/internal/models"

	"github.com/google/uuid"
)

// AlertEventBuilder 报警事件构建器
type AlertEventBuilder struct {
	sessionID   string
	runID       string
	triggeredAt time.Time
}

// NewAlertEventBuilder 创建报警事件构建器；triggeredAt 为零值时使用构建时间
func NewAlertEventBuilder(sessionID, runID string, triggeredAt time.Time) *AlertEventBuilder {
	return &AlertEventBuilder{sessionID: sessionID, runID: runID, triggeredAt: triggeredAt}
}

// BuildAlertEvent 构建报警事件
func (b *AlertEventBuilder) BuildAlertEvent(
	result *models.ScoredResult,
	triggerData *models.TriggerData,
	nudgeMessage string,
	channel string,
	delivered bool,
) (*models.AlertEvent, error) {
	now := time.Now()
	triggeredAt := b.triggeredAt
	if triggeredAt.IsZero() {
		triggeredAt = now
	}

	// 序列化 trigger_data
	triggerDataJSON, err := json.Marshal(triggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	event := &models.AlertEvent{
		EventID:      uuid.New().String(),
		SessionID:    b.sessionID,
		RunID:        b.runID,
		AlertCode:    result.AlertCode,
		Severity:     result.AlertSeverity,
		Score:        result.CompositeScore,
		Zone:         result.Zone,
		Reason:       result.AlertReason,
		NudgeMessage: nudgeMessage,
		Channel:      channel,
		Delivered:    delivered,
		TriggeredAt:  triggeredAt,
		TriggerData:  string(triggerDataJSON),
		CreatedAt:    now,
	}

	return event, nil
}

// BuildTriggerData 构建触发数据（reading 可为空）
func BuildTriggerData(result *models.ScoredResult, reading *models.Reading) *models.TriggerData {
	td := &models.TriggerData{
		Timestamp:      result.Timestamp,
		CompositeScore: result.CompositeScore,
		Components:     result.Components,
	}
	if reading != nil {
		td.HeartRate = reading.HeartRate
		td.HRV = reading.HRV
		td.SpO2 = reading.SpO2
		td.Temperature = reading.Temperature
	} else {
		td.HeartRate = result.Components.HeartRate.RawValue
		td.HRV = result.Components.HRV.RawValue
		td.SpO2 = result.Components.SpO2.RawValue
		td.Temperature = result.Components.Temperature.RawValue
	}
	return td
}
