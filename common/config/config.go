package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig PostgreSQL 连接配置
type DatabaseConfig struct {
	// URL 非空时优先于下面的分项字段
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 连接配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// DefaultDatabaseConfig 本地开发用的数据库默认值
func DefaultDatabaseConfig(name string) DatabaseConfig {
	return DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        name,
		SSLMode:         "disable",
		MaxConns:        10,
		MaxIdle:         5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultRedisConfig 本地 Redis
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Addr: "localhost:6379"}
}

// DefaultMQTTConfig 本地 broker，QoS 1
func DefaultMQTTConfig(clientID string) MQTTConfig {
	return MQTTConfig{Broker: "tcp://localhost:1883", ClientID: clientID, QoS: 1}
}

// GetDSN 返回 lib/pq 可用的 URL 形式连接串，用户名和密码会被转义
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Validate 检查连接所需的最小字段
func (c *DatabaseConfig) Validate() error {
	if c.URL != "" {
		if _, err := url.Parse(c.URL); err != nil {
			return fmt.Errorf("invalid database url: %w", err)
		}
		return nil
	}
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("database host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("database port %d out of range", c.Port))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.MaxIdle > c.MaxConns && c.MaxConns > 0 {
		errs = append(errs, fmt.Errorf("database max idle %d exceeds max conns %d", c.MaxIdle, c.MaxConns))
	}
	return errors.Join(errs...)
}

// LoadFromEnv 用 <prefix>_* 环境变量覆盖当前值，未设置或非法的变量保持原值
func (c *DatabaseConfig) LoadFromEnv(prefix string) {
	env := envPrefix(prefix)
	env.str("URL", &c.URL)
	env.str("HOST", &c.Host)
	env.int("PORT", &c.Port)
	env.str("USER", &c.User)
	env.str("PASSWORD", &c.Password)
	env.str("NAME", &c.Database)
	env.str("SSLMODE", &c.SSLMode)
	env.int("MAX_CONNS", &c.MaxConns)
	env.int("MAX_IDLE", &c.MaxIdle)
	env.seconds("CONN_MAX_LIFETIME_SEC", &c.ConnMaxLifetime)
}

// Validate Redis 地址必须是 host:port
func (c *RedisConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid redis addr %q: %w", c.Addr, err)
	}
	if c.DB < 0 {
		return fmt.Errorf("invalid redis db %d", c.DB)
	}
	return nil
}

// LoadFromEnv 用 <prefix>_ADDR / _PASSWORD / _DB 覆盖
func (c *RedisConfig) LoadFromEnv(prefix string) {
	env := envPrefix(prefix)
	env.str("ADDR", &c.Addr)
	env.str("PASSWORD", &c.Password)
	env.int("DB", &c.DB)
}

// Validate MQTT broker 需带 scheme
func (c *MQTTConfig) Validate() error {
	if !strings.Contains(c.Broker, "://") {
		return fmt.Errorf("mqtt broker %q must include a scheme such as tcp://", c.Broker)
	}
	if c.ClientID == "" {
		return errors.New("mqtt client id is required")
	}
	return nil
}

// LoadFromEnv 用 <prefix>_* 覆盖，QoS 只接受 0-2
func (c *MQTTConfig) LoadFromEnv(prefix string) {
	env := envPrefix(prefix)
	env.str("BROKER", &c.Broker)
	env.str("CLIENT_ID", &c.ClientID)
	env.str("USERNAME", &c.Username)
	env.str("PASSWORD", &c.Password)

	qos := int(c.QoS)
	env.int("QOS", &qos)
	if qos >= 0 && qos <= 2 {
		c.QoS = byte(qos)
	}
}

// envPrefix 带前缀的环境变量读取
type envPrefix string

func (p envPrefix) lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(string(p) + "_" + key))
	return v, v != ""
}

func (p envPrefix) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p envPrefix) int(key string, dst *int) {
	if v, ok := p.lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (p envPrefix) seconds(key string, dst *time.Duration) {
	n := -1
	p.int(key, &n)
	if n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}
