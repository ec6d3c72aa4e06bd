package notifier

import (
	"encoding/json"
	"fmt"
	"time"

	"cardiotwin/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布接口（*mqttcommon.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// DeviceCommand 下发给可穿戴设备的指令
type DeviceCommand struct {
	Command   string               `json:"command"` // vibrate
	Pattern   string               `json:"pattern"` // short, long
	Zone      models.Zone          `json:"zone"`
	Severity  models.AlertSeverity `json:"severity"`
	Timestamp int64                `json:"timestamp"`
}

// DeviceCommander 通过 MQTT 向设备下发震动提醒
type DeviceCommander struct {
	publisher     Publisher
	topicTemplate string // 如 "cardiotwin/%s/command"
	qos           byte
	logger        *zap.Logger
}

// NewDeviceCommander 创建设备指令下发器
func NewDeviceCommander(publisher Publisher, topicTemplate string, qos byte, logger *zap.Logger) *DeviceCommander {
	return &DeviceCommander{
		publisher:     publisher,
		topicTemplate: topicTemplate,
		qos:           qos,
		logger:        logger,
	}
}

// Vibrate 下发震动指令：high 为长震，其余短震
func (d *DeviceCommander) Vibrate(sessionID string, zone models.Zone, severity models.AlertSeverity) error {
	pattern := "short"
	if severity == models.SeverityHigh {
		pattern = "long"
	}
	cmd := DeviceCommand{
		Command:   "vibrate",
		Pattern:   pattern,
		Zone:      zone,
		Severity:  severity,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal device command: %w", err)
	}

	topic := fmt.Sprintf(d.topicTemplate, sessionID)
	if err := d.publisher.Publish(topic, d.qos, false, payload); err != nil {
		return fmt.Errorf("failed to publish device command: %w", err)
	}

	d.logger.Debug("Device command published",
		zap.String("topic", topic),
		zap.String("pattern", pattern),
	)
	return nil
}
