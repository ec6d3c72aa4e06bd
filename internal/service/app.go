package service

import (
	"context"
	"database/sql"
	"fmt"

	"cardiotwin/common/database"
	"cardiotwin/common/mqtt"
	commonredis "cardiotwin/common/redis"
	"cardiotwin/internal/config"
	"cardiotwin/internal/consumer"
	"cardiotwin/internal/notifier"
	"cardiotwin/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CardioTwinService 整合各层：Redis / PostgreSQL / MQTT 接入、Streams 消费、空闲会话清理
type CardioTwinService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	monitor        *MonitorService
	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer
	sweeper        *SessionSweeper
}

// NewCardioTwinService 创建服务。数据库、MQTT 连接失败时降级运行（仅 Redis 为必需）
func NewCardioTwinService(cfg *config.Config, logger *zap.Logger) (*CardioTwinService, error) {
	ctx := context.Background()

	// 1. 连接 Redis
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	s := &CardioTwinService{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}

	// 2. 可选：数据库
	var repos Repositories
	if cfg.DBEnabled {
		if db, err := database.NewPostgresDB(&cfg.Database); err != nil {
			logger.Warn("DB enabled but connection failed, running without persistence", zap.Error(err))
		} else if err := repository.EnsureSchema(ctx, db); err != nil {
			logger.Warn("Failed to ensure schema, running without persistence", zap.Error(err))
			_ = database.Close(db)
		} else {
			s.db = db
			repos = Repositories{
				Sessions:    repository.NewSessionsRepository(db, logger),
				Readings:    repository.NewReadingsRepository(db, logger),
				Baselines:   repository.NewBaselinesRepository(db, logger),
				AlertEvents: repository.NewAlertEventsRepository(db, logger),
			}
			logger.Info("DB enabled for cardiotwin")
		}
	}

	// 3. 监测服务（引擎 + 缓存 + 报警分发）
	s.monitor = NewMonitorService(cfg, redisClient, repos, logger)

	// 4. 可选：MQTT 接入与设备指令
	if cfg.MQTTEnabled {
		if client, err := mqtt.NewClient(&cfg.MQTT, logger); err != nil {
			logger.Warn("MQTT enabled but connection failed, HTTP ingest only", zap.Error(err))
		} else {
			s.mqttClient = client
			s.mqttConsumer = consumer.NewMQTTConsumer(cfg, client, redisClient, logger)
			s.monitor.WithDevice(notifier.NewDeviceCommander(client, cfg.Ingest.CommandTopic, cfg.MQTT.QoS, logger))
		}
	}

	// 5. Streams 消费者与空闲清理
	s.streamConsumer = consumer.NewStreamConsumer(cfg, redisClient, s.monitor, logger)
	s.sweeper = NewSessionSweeper(cfg.Session.SweepSchedule, s.monitor, logger)

	return s, nil
}

// Monitor 监测服务（供 HTTP 层使用）
func (s *CardioTwinService) Monitor() *MonitorService {
	return s.monitor
}

// Start 恢复会话并启动后台任务（阻塞直到 ctx 取消或消费者出错）
func (s *CardioTwinService) Start(ctx context.Context) error {
	s.logger.Info("Starting cardiotwin service",
		zap.Bool("db_enabled", s.db != nil),
		zap.Bool("mqtt_enabled", s.mqttClient != nil),
	)

	if _, err := s.monitor.RestoreSessions(ctx); err != nil {
		s.logger.Warn("Failed to restore sessions", zap.Error(err))
	}

	if err := s.sweeper.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	if s.mqttConsumer != nil {
		go func() {
			if err := s.mqttConsumer.Start(ctx); err != nil {
				errCh <- fmt.Errorf("mqtt consumer: %w", err)
			}
		}()
	}
	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("stream consumer: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop 停止服务，释放连接
func (s *CardioTwinService) Stop() error {
	s.logger.Info("Stopping cardiotwin service")

	// 先停止投递 worker，等待进行中的推送写完缓存和数据库
	s.monitor.Close()

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Stop(context.Background()); err != nil {
			s.logger.Warn("Failed to stop MQTT consumer", zap.Error(err))
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}

	if err := commonredis.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}
