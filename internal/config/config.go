package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"cardiotwin/common/config"
	"cardiotwin/internal/engine"
)

// Config CardioTwin 服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	HTTP struct {
		Addr string // 监听地址，如 ":8080"
	}

	// 持久化开关（未启用时仅使用 Redis 和内存）
	DBEnabled   bool
	MQTTEnabled bool

	// 评分引擎配置
	Engine struct {
		CalibrationThreshold         int   // 第一阶段校准读数数量，默认 15
		CalibrationExtendedThreshold int   // 扩展校准读数数量，默认 20
		CalibrationMinClean          int   // 离群过滤后最少保留数量，默认 12
		HistoryLimit                 int   // 得分历史上限，默认 1000
		ReadingIntervalMs            int64 // 默认采样间隔（毫秒），默认 2000
	}

	// 会话管理
	Session struct {
		IdleTimeoutSec int    // 会话空闲超时（秒），默认 1800
		SweepSchedule  string // 空闲会话清理计划（cron 表达式），默认 "@every 1m"
	}

	// Redis Streams / MQTT 接入
	Ingest struct {
		ReadingTopic  string // ESP32 读数主题，如 "cardiotwin/+/reading"
		CommandTopic  string // 设备指令主题模板，如 "cardiotwin/%s/command"
		InputStream   string // 读数流，如 "cardiotwin:readings:stream"
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64
	}

	// Redis 缓存配置
	Cache struct {
		KeyPrefix     string // 缓存键前缀，如 "cardiotwin:session:"
		ResultTTL     int    // 最新结果 TTL（秒），默认 3600
		SnapshotTTL   int    // 会话快照 TTL（秒），默认 86400
		NudgeLatchTTL int    // 推送锁存 TTL（秒），默认 3600
	}

	Nudge struct {
		APIURL  string
		APIKey  string
		Model   string
		Timeout int // 秒

		// 后台投递
		Workers         int // 并发投递数，默认 2
		QueueSize       int // 待投递队列长度，默认 64
		DeliveryTimeout int // 单次投递超时（秒），默认 30
	}

	Twilio struct {
		AccountSID     string
		AuthToken      string
		SMSNumber      string
		WhatsAppNumber string
		BaseURL        string
	}

	// OTLP 指标导出
	Metrics struct {
		OTLPEndpoint string // 为空时不导出
		Insecure     bool
		IntervalSec  int // 推送间隔（秒），默认 10
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 默认值 + 环境变量覆盖
	cfg.Database = config.DefaultDatabaseConfig("cardiotwin")
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis = config.DefaultRedisConfig()
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT = config.DefaultMQTTConfig("cardiotwin-engine")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")
	cfg.DBEnabled = getEnvBool("DB_ENABLED", false)
	cfg.MQTTEnabled = getEnvBool("MQTT_ENABLED", false)

	defaults := engine.DefaultConfig()
	cfg.Engine.CalibrationThreshold = getEnvInt("CALIBRATION_THRESHOLD", defaults.CalibrationThreshold)
	cfg.Engine.CalibrationExtendedThreshold = getEnvInt("CALIBRATION_EXTENDED_THRESHOLD", defaults.ExtendedThreshold)
	cfg.Engine.CalibrationMinClean = getEnvInt("CALIBRATION_MIN_CLEAN", defaults.MinCleanReadings)
	cfg.Engine.HistoryLimit = getEnvInt("HISTORY_LIMIT", defaults.HistoryLimit)
	cfg.Engine.ReadingIntervalMs = int64(getEnvInt("READING_INTERVAL_MS", int(defaults.ReadingIntervalMs)))

	cfg.Session.IdleTimeoutSec = getEnvInt("SESSION_IDLE_TIMEOUT_SEC", 1800)
	cfg.Session.SweepSchedule = getEnv("SESSION_SWEEP_SCHEDULE", "@every 1m")

	cfg.Ingest.ReadingTopic = getEnv("MQTT_READING_TOPIC", "cardiotwin/+/reading")
	cfg.Ingest.CommandTopic = getEnv("MQTT_COMMAND_TOPIC", "cardiotwin/%s/command")
	cfg.Ingest.InputStream = getEnv("STREAM_INPUT", "cardiotwin:readings:stream")
	cfg.Ingest.ConsumerGroup = getEnv("CONSUMER_GROUP", "cardiotwin-engine-group")
	cfg.Ingest.ConsumerName = getEnv("CONSUMER_NAME", "cardiotwin-engine-1")
	cfg.Ingest.BatchSize = 10

	cfg.Cache.KeyPrefix = getEnv("CACHE_PREFIX", "cardiotwin:session:")
	cfg.Cache.ResultTTL = 3600
	cfg.Cache.SnapshotTTL = 86400
	cfg.Cache.NudgeLatchTTL = 3600

	cfg.Nudge.APIURL = getEnv("NUDGE_API_URL", "")
	cfg.Nudge.APIKey = getEnv("NUDGE_API_KEY", "")
	cfg.Nudge.Model = getEnv("NUDGE_MODEL", "grok-3-mini")
	cfg.Nudge.Timeout = 10
	cfg.Nudge.Workers = getEnvInt("NUDGE_WORKERS", 2)
	cfg.Nudge.QueueSize = getEnvInt("NUDGE_QUEUE_SIZE", 64)
	cfg.Nudge.DeliveryTimeout = getEnvInt("NUDGE_DELIVERY_TIMEOUT_SEC", 30)

	cfg.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", "")
	cfg.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", "")
	cfg.Twilio.SMSNumber = getEnv("TWILIO_SMS_NUMBER", "")
	cfg.Twilio.WhatsAppNumber = getEnv("TWILIO_WHATSAPP_NUMBER", "")
	cfg.Twilio.BaseURL = getEnv("TWILIO_BASE_URL", "https://api.twilio.com")

	// 与 OpenTelemetry SDK 的环境变量保持一致
	cfg.Metrics.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""))
	cfg.Metrics.Insecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.Metrics.IntervalSec = getEnvInt("METRICS_EXPORT_INTERVAL_SEC", 10)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 只校验已启用的外部依赖
func (c *Config) validate() error {
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	if c.DBEnabled {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}
	if c.MQTTEnabled {
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	}
	return nil
}

// EngineConfig 转换为评分引擎参数
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.CalibrationThreshold = c.Engine.CalibrationThreshold
	cfg.ExtendedThreshold = c.Engine.CalibrationExtendedThreshold
	cfg.MinCleanReadings = c.Engine.CalibrationMinClean
	cfg.HistoryLimit = c.Engine.HistoryLimit
	cfg.ReadingIntervalMs = c.Engine.ReadingIntervalMs
	return cfg
}

// IdleTimeout 会话空闲超时
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
