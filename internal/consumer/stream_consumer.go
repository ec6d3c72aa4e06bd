package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	rediscommon "cardiotwin/common/redis"
	"cardiotwin/internal/config"
	"cardiotwin/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ReadingHandler 读数处理器（由 service 层实现）
type ReadingHandler interface {
	HandleReading(ctx context.Context, raw models.RawReading) (*models.ProcessResult, error)
}

// StreamConsumer Redis Streams 消费者：按顺序把读数交给评分引擎
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	handler     ReadingHandler
	logger      *zap.Logger
	metrics     *Metrics

	reportInterval time.Duration
	readBlock      time.Duration
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	handler ReadingHandler,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:         cfg,
		redisClient:    redisClient,
		handler:        handler,
		logger:         logger,
		metrics:        NewMetrics(),
		reportInterval: 60 * time.Second,
		readBlock:      time.Second,
	}
}

// Metrics 返回指标
func (c *StreamConsumer) Metrics() *Metrics {
	return c.metrics
}

// Start 启动消费者（阻塞直到 ctx 取消）
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Ingest.InputStream
	if err := rediscommon.CreateConsumerGroup(ctx, c.redisClient, stream, c.config.Ingest.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("consumer_group", c.config.Ingest.ConsumerGroup),
		zap.String("consumer_name", c.config.Ingest.ConsumerName),
		zap.String("stream", stream),
	)

	// 启动指标报告协程
	metricsCtx, metricsCancel := context.WithCancel(ctx)
	defer metricsCancel()
	go c.reportMetrics(metricsCtx)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeStream(ctx, stream); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避：等待后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeStream 读取一批消息并逐条处理
func (c *StreamConsumer) consumeStream(ctx context.Context, stream string) error {
	messages, err := rediscommon.ReadFromStream(
		ctx,
		c.redisClient,
		stream,
		c.config.Ingest.ConsumerGroup,
		c.config.Ingest.ConsumerName,
		c.config.Ingest.BatchSize,
		c.readBlock,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	// 同一 Stream 内顺序处理，保证同一会话的读数按到达顺序进入引擎
	for _, msg := range messages {
		c.metrics.IncrementProcessed()
		if err := c.processMessage(ctx, msg); err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := rediscommon.Ack(ctx, c.redisClient, stream, c.config.Ingest.ConsumerGroup, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message", zap.String("stream_id", msg.ID), zap.Error(err))
		}
	}

	return nil
}

// processMessage 处理单条消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	startTime := time.Now()

	raw, err := ParseReadingMessage(msg)
	if err != nil {
		c.metrics.IncrementFailed("parse")
		return err
	}

	result, err := c.handler.HandleReading(ctx, raw)
	if err != nil {
		c.metrics.IncrementFailed("engine")
		return fmt.Errorf("failed to handle reading for session %s: %w", raw.SessionID, err)
	}

	switch result.Status {
	case models.StatusRejected, models.StatusCalibrationFailed:
		c.metrics.IncrementRejected()
		c.logger.Info("Reading not accepted",
			zap.String("session_id", raw.SessionID),
			zap.String("status", string(result.Status)),
			zap.String("reason", result.Reason),
		)
	default:
		processingDuration := time.Since(startTime)
		c.metrics.IncrementSucceeded(processingDuration)
		c.logger.Debug("Reading processed",
			zap.String("session_id", raw.SessionID),
			zap.String("status", string(result.Status)),
			zap.Duration("processing_time", processingDuration),
		)
	}
	return nil
}

// ParseReadingMessage 解析 Stream 消息为原始读数。
// data 为设备上报的 JSON；session_id / received_at 字段由 MQTT 接入层补充。
func ParseReadingMessage(msg rediscommon.StreamMessage) (models.RawReading, error) {
	var raw models.RawReading

	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return raw, fmt.Errorf("missing data field in message %s", msg.ID)
	}
	if err := json.Unmarshal([]byte(dataStr), &raw); err != nil {
		return raw, fmt.Errorf("failed to unmarshal message data: %w", err)
	}

	if raw.SessionID == "" {
		if id, ok := msg.Values["session_id"].(string); ok {
			raw.SessionID = id
		}
	}
	if raw.SessionID == "" {
		return raw, fmt.Errorf("message %s has no session_id", msg.ID)
	}

	if raw.Timestamp == nil {
		if s, ok := msg.Values["received_at"].(string); ok {
			if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
				raw.Timestamp = &ts
			}
		}
	}
	return raw, nil
}

// reportMetrics 定期报告指标
func (c *StreamConsumer) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(c.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := c.metrics.GetSnapshot()
			c.logger.Info("Metrics report",
				zap.Int64("messages_processed", snapshot.MessagesProcessed),
				zap.Int64("messages_succeeded", snapshot.MessagesSucceeded),
				zap.Int64("messages_failed", snapshot.MessagesFailed),
				zap.Int64("messages_rejected", snapshot.MessagesRejected),
				zap.Float64("success_rate", snapshot.SuccessRate()),
				zap.Int64("errors_parse", snapshot.ErrorsParse),
				zap.Int64("errors_engine", snapshot.ErrorsEngine),
				zap.Duration("avg_processing_time", snapshot.AvgProcessingTime()),
				zap.Duration("uptime", time.Since(snapshot.StartTime)),
			)
		}
	}
}
