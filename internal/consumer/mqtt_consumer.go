package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttcommon "cardiotwin/common/mqtt"
	rediscommon "cardiotwin/common/redis"
	"cardiotwin/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 可穿戴设备读数接入：MQTT -> Redis Stream
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  Subscriber
	redisClient *redis.Client
	logger      *zap.Logger
	metrics     *Metrics
	now         func() time.Time
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient Subscriber,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
		metrics:     NewMetrics(),
		now:         time.Now,
	}
}

// Start 启动消费者
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topic := c.config.Ingest.ReadingTopic
	if err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to reading topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", topic))

	<-ctx.Done()
	return nil
}

// Stop 停止消费者
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	if err := c.mqttClient.Unsubscribe(c.config.Ingest.ReadingTopic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}

	c.logger.Info("MQTT consumer stopped")
	return nil
}

// handleMessage 处理MQTT消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.metrics.IncrementProcessed()
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	// 主题格式: cardiotwin/{session_id}/reading
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("invalid topic format: %s", topic)
	}
	sessionID := parts[1]

	// 仅确认是 JSON 对象，字段校验交给引擎
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		c.metrics.IncrementFailed("parse")
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := rediscommon.PublishToStream(ctx, c.redisClient, c.config.Ingest.InputStream, map[string]interface{}{
		"data":        payload,
		"session_id":  sessionID,
		"received_at": c.now().UnixMilli(),
		"topic":       topic,
	})
	if err != nil {
		c.metrics.IncrementFailed("publish")
		return fmt.Errorf("failed to publish to stream: %w", err)
	}
	c.metrics.IncrementSucceeded(0)

	c.logger.Debug("Reading forwarded to stream",
		zap.String("session_id", sessionID),
		zap.String("stream_id", id),
	)
	return nil
}
